package httpapi

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/coinwatch/walletauth/challenge"
	"github.com/coinwatch/walletauth/core"
	"github.com/coinwatch/walletauth/policy"
	"github.com/coinwatch/walletauth/signin"
	"github.com/coinwatch/walletauth/storage/memory"
	"github.com/coinwatch/walletauth/token"
	"github.com/coinwatch/walletauth/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tokens, err := token.NewIssuer(key, "app.example", 15*time.Minute, 24*time.Hour, memorystore.NewRevocationStore())
	require.NoError(t, err)

	chains, err := policy.ParseChainList("eip155:1,solana:mainnet")
	require.NoError(t, err)

	svc, err := core.New(core.Options{
		Policy:     policy.New("app.example", chains),
		Challenges: challenge.NewIssuer(memorystore.NewChallengeStore(), 5*time.Minute),
		Accounts:   memorystore.NewAccountStore(),
		Tokens:     tokens,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Router()
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequestWithContext(context.Background(), method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func fetchNonce(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodGet, "/auth/challenge", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Nonce string `json:"nonce"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body.Nonce)
	return body.Nonce
}

type testWallet struct {
	key *ecdsa.PrivateKey
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return &testWallet{key: key}
}

func (wlt *testWallet) signedMessage(t *testing.T, nonce string) (message, signature string) {
	t.Helper()
	m, err := signin.Build(signin.Fields{
		Domain:   "app.example",
		Family:   wallet.FamilyEVM,
		Address:  ethcrypto.PubkeyToAddress(wlt.key.PublicKey).Hex(),
		URI:      "https://app.example",
		ChainID:  "1",
		Nonce:    nonce,
		IssuedAt: time.Now(),
	})
	require.NoError(t, err)
	text := m.String()
	digest := ethcrypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(text), text)))
	sig, err := ethcrypto.Sign(digest, wlt.key)
	require.NoError(t, err)
	sig[64] += 27
	return text, hexutil.Encode(sig)
}

func signIn(t *testing.T, r *gin.Engine, wlt *testWallet) (accessToken, refreshToken string) {
	t.Helper()
	msg, sig := wlt.signedMessage(t, fetchNonce(t, r))
	w := doJSON(t, r, http.MethodPost, "/auth/verify", gin.H{"message": msg, "signature": sig}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Credential struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"credential"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Credential.AccessToken, body.Credential.RefreshToken
}

func TestChallengeEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/auth/challenge", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"nonce"`)

	w = doJSON(t, r, http.MethodGet, "/auth/challenge", nil, map[string]string{"X-Wallet-Hint": "garbage"})
	require.Equal(t, http.StatusOK, w.Code, "hints never gate issuance")
	require.Contains(t, w.Body.String(), `"nonce"`)
}

func TestVerifyEndpoint(t *testing.T) {
	r := newTestRouter(t)
	wlt := newTestWallet(t)

	msg, sig := wlt.signedMessage(t, fetchNonce(t, r))
	w := doJSON(t, r, http.MethodPost, "/auth/verify", gin.H{"message": msg, "signature": sig}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Created bool `json:"created"`
		Account struct {
			ID             string `json:"id"`
			PrimaryContact string `json:"primary_contact"`
		} `json:"account"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Created)
	require.Contains(t, body.Account.PrimaryContact, "@wallet.local")
	require.NotContains(t, w.Body.String(), "password_hash")

	t.Run("replay rejected generically", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/auth/verify", gin.H{"message": msg, "signature": sig}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.JSONEq(t, `{"error":"authentication_failed"}`, w.Body.String())
	})

	t.Run("missing fields", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/auth/verify", gin.H{"message": msg}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("garbage message", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/auth/verify", gin.H{"message": "nope", "signature": sig}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.JSONEq(t, `{"error":"authentication_failed"}`, w.Body.String())
	})
}

func TestSessionEndpoints(t *testing.T) {
	r := newTestRouter(t)
	wlt := newTestWallet(t)
	access, refresh := signIn(t, r, wlt)

	t.Run("me requires token", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/me", nil, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("me", func(t *testing.T) {
		w := doJSON(t, r, http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + access})
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"identities"`)
	})

	t.Run("refresh rotates", func(t *testing.T) {
		w := doJSON(t, r, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": refresh}, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, r, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": refresh}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("logout", func(t *testing.T) {
		access2, refresh2 := signIn(t, r, wlt)
		w := doJSON(t, r, http.MethodPost, "/auth/logout", gin.H{"refresh_token": refresh2}, nil)
		require.Equal(t, http.StatusNoContent, w.Code)

		w = doJSON(t, r, http.MethodPost, "/auth/refresh", gin.H{"refresh_token": refresh2}, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)

		// Access tokens are stateless and live until expiry.
		w = doJSON(t, r, http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + access2})
		require.Equal(t, http.StatusOK, w.Code)
	})
}

func TestLinkEndpoints(t *testing.T) {
	r := newTestRouter(t)
	first := newTestWallet(t)
	second := newTestWallet(t)
	access, _ := signIn(t, r, first)
	auth := map[string]string{"Authorization": "Bearer " + access}

	msg, sig := second.signedMessage(t, fetchNonce(t, r))
	w := doJSON(t, r, http.MethodPost, "/api/wallets/link", gin.H{"message": msg, "signature": sig}, auth)
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("conflicting link reports 409", func(t *testing.T) {
		otherAccess, _ := signIn(t, r, newTestWallet(t))
		msg, sig := second.signedMessage(t, fetchNonce(t, r))
		w := doJSON(t, r, http.MethodPost, "/api/wallets/link",
			gin.H{"message": msg, "signature": sig},
			map[string]string{"Authorization": "Bearer " + otherAccess})
		require.Equal(t, http.StatusConflict, w.Code)
		require.JSONEq(t, `{"error":"wallet_already_linked"}`, w.Body.String())
	})

	t.Run("unlink", func(t *testing.T) {
		address := ethcrypto.PubkeyToAddress(second.key.PublicKey).Hex()
		w := doJSON(t, r, http.MethodPost, "/api/wallets/unlink",
			gin.H{"chain": "eip155:1", "address": address}, auth)
		require.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("unlink last identity refused", func(t *testing.T) {
		address := ethcrypto.PubkeyToAddress(first.key.PublicKey).Hex()
		w := doJSON(t, r, http.MethodPost, "/api/wallets/unlink",
			gin.H{"chain": "eip155:1", "address": address}, auth)
		require.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestJWKSEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/.well-known/jwks.json", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.Len(t, doc.Keys, 1)
	require.Equal(t, "ES256", doc.Keys[0]["alg"])
}
