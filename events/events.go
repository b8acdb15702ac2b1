// Package events publishes sign-in lifecycle notifications so other
// services can react to account creation and session activity.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	TopicSignIn  = "walletauth.signin"
	TopicSignOut = "walletauth.signout"
)

// SignIn is emitted after every successful verification.
type SignIn struct {
	AccountID string    `json:"account_id"`
	Wallet    string    `json:"wallet"`
	Chain     string    `json:"chain"`
	Created   bool      `json:"created"`
	At        time.Time `json:"at"`
}

// SignOut is emitted when a session is revoked.
type SignOut struct {
	AccountID string    `json:"account_id"`
	At        time.Time `json:"at"`
}

// Publisher is what the service layer depends on.
type Publisher interface {
	SignIn(ctx context.Context, ev SignIn) error
	SignOut(ctx context.Context, ev SignOut) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) SignIn(context.Context, SignIn) error   { return nil }
func (Nop) SignOut(context.Context, SignOut) error { return nil }

// WatermillPublisher bridges to any watermill message.Publisher, such
// as the Redis Streams one wired up in the daemon.
type WatermillPublisher struct {
	pub message.Publisher
}

func NewWatermillPublisher(pub message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{pub: pub}
}

func (p *WatermillPublisher) SignIn(_ context.Context, ev SignIn) error {
	return p.publish(TopicSignIn, ev)
}

func (p *WatermillPublisher) SignOut(_ context.Context, ev SignOut) error {
	return p.publish(TopicSignOut, ev)
}

func (p *WatermillPublisher) publish(topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := p.pub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// Close releases the underlying publisher.
func (p *WatermillPublisher) Close() error { return p.pub.Close() }
