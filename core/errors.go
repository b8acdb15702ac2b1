package core

import "errors"

// Rejection reasons. They are logged server-side for operators; clients
// only ever see a generic authentication failure so the reasons cannot
// be used as an oracle.
const (
	ReasonMalformedMessage   = "malformed_message"
	ReasonDomainMismatch     = "domain_mismatch"
	ReasonChainNotAllowed    = "chain_not_allowed"
	ReasonMessageExpired     = "message_expired"
	ReasonNonceNotFound      = "nonce_not_found"
	ReasonNonceExpired       = "nonce_expired"
	ReasonNonceConsumed      = "nonce_consumed"
	ReasonMalformedSignature = "malformed_signature"
	ReasonSignatureMismatch  = "signature_mismatch"
	ReasonInvalidToken       = "invalid_token"
	ReasonTokenRevoked       = "token_revoked"
	ReasonWalletLinked       = "wallet_already_linked"
)

// RejectError marks an authentication attempt as denied for a specific
// internal reason, as opposed to an infrastructure failure.
type RejectError struct {
	Reason string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *RejectError) Unwrap() error { return e.Err }

func reject(reason string, err error) *RejectError {
	return &RejectError{Reason: reason, Err: err}
}

// AsReject extracts a RejectError from an error chain.
func AsReject(err error) (*RejectError, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
