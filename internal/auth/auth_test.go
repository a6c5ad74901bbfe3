package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".c2lnbmF0dXJl"
}

func TestDecodeIDToken_UnpaddedPayload(t *testing.T) {
	// "a" makes the raw payload length not a multiple of 4.
	token := fakeIDToken(t, map[string]any{"email": "ada@example.com", "name": "Ada", "x": "a"})

	claims, err := DecodeIDToken(token)
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", claims["email"])
	assert.Equal(t, Identity{Email: "ada@example.com", Name: "Ada"}, IdentityFromClaims(claims))
}

func TestDecodeIDToken_Errors(t *testing.T) {
	cases := map[string]string{
		"no segments":  "justonepart",
		"bad base64":   "header.!!!not-base64!!!.sig",
		"not json":     "header." + base64.RawURLEncoding.EncodeToString([]byte("hello")) + ".sig",
		"empty claims": "header." + base64.RawURLEncoding.EncodeToString([]byte("{}")) + ".sig",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeIDToken(token)
			assert.ErrorIs(t, err, ErrInvalidIDToken)
		})
	}
}

func TestIdentityFromClaims_Defaults(t *testing.T) {
	assert.Equal(t, Identity{Email: "unknown_user", Name: "unknown_user"}, IdentityFromClaims(map[string]any{"sub": "1"}))
	assert.Equal(t, Identity{Email: "bo@example.com", Name: "bo@example.com"}, IdentityFromClaims(map[string]any{"email": "bo@example.com"}))
}

func TestNewGoogleResolver_NotConfigured(t *testing.T) {
	_, err := NewGoogleResolver("id", "", "http://localhost/callback")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAuthCodeURL(t *testing.T) {
	r, err := NewGoogleResolver("client-id", "secret", "http://localhost:8080/auth/callback")
	require.NoError(t, err)

	u, err := url.Parse(r.AuthCodeURL("state-123"))
	require.NoError(t, err)

	assert.Equal(t, "accounts.google.com", u.Host)
	assert.Equal(t, "/o/oauth2/v2/auth", u.Path)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "http://localhost:8080/auth/callback", q.Get("redirect_uri"))
}

func TestExchange(t *testing.T) {
	idToken := fakeIDToken(t, map[string]any{"email": "ada@example.com", "name": "Ada Lovelace"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "good-code", r.PostForm.Get("code"))
		assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	}))
	defer server.Close()

	r, err := NewGoogleResolver("client-id", "secret", "http://localhost/cb", WithEndpoint(server.URL+"/auth", server.URL+"/token"))
	require.NoError(t, err)

	identity, err := r.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, Identity{Email: "ada@example.com", Name: "Ada Lovelace"}, identity)
}

func TestExchange_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("code") == "no-id-token" {
			json.NewEncoder(w).Encode(map[string]any{"access_token": "at", "token_type": "Bearer"})
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	r, err := NewGoogleResolver("client-id", "secret", "http://localhost/cb", WithEndpoint(server.URL+"/auth", server.URL+"/token"))
	require.NoError(t, err)

	_, err = r.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)

	_, err = r.Exchange(context.Background(), "no-id-token")
	assert.ErrorIs(t, err, ErrInvalidIDToken)

	_, err = r.Exchange(context.Background(), "")
	assert.Error(t, err)
}

func TestSessionIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewSessionIssuer("secret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.Issue("sess-1", Identity{Email: "ada@example.com", Name: "Ada"})
	require.NoError(t, err)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "Ada", claims.Name)
}

func TestSessionIssuer_Rejects(t *testing.T) {
	issuer, err := NewSessionIssuer("secret", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Issue("sess-1", Identity{Email: "ada@example.com"})
	require.NoError(t, err)

	other, err := NewSessionIssuer("other-secret", time.Hour)
	require.NoError(t, err)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	issuer.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = issuer.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSession)

	_, err = issuer.Validate(strings.Repeat("x", 20))
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewSessionIssuer_RandomKey(t *testing.T) {
	a, err := NewSessionIssuer("", 0)
	require.NoError(t, err)
	b, err := NewSessionIssuer("", 0)
	require.NoError(t, err)

	token, err := a.Issue("s", Identity{Email: "e"})
	require.NoError(t, err)

	_, err = b.Validate(token)
	assert.Error(t, err)
	assert.Equal(t, 12*time.Hour, a.TTL())
}

func TestExchange_UsesConfiguredHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	r, err := NewGoogleResolver("client-id", "secret", "http://localhost/cb",
		WithEndpoint(server.URL+"/auth", server.URL+"/token"),
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Exchange(context.Background(), "good-code")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}
