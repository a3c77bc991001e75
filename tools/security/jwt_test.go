package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"MeetChat/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	opts.Issuer = "meetchat"
	tok, exp, err := Generate(opts, "user-1", []string{"chat"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, time.Minute)

	v, err := NewVerifier(opts, nil)
	require.NoError(t, err)
	claims, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, []string{"chat"}, claims.Scope)
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions([]byte("s3cret"))
	v, err := NewVerifier(opts, nil)
	require.NoError(t, err)

	other, _, err := Generate(DefaultOptions([]byte("other")), "u", nil)
	require.NoError(t, err)

	expired := mustSign(t, jwtlib.SigningMethodHS256, Claims{RegisteredClaims: jwtlib.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(-time.Hour)),
	}}, opts.Secret)
	noSub := mustSign(t, jwtlib.SigningMethodHS256, Claims{RegisteredClaims: jwtlib.RegisteredClaims{
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	}}, opts.Secret)

	for name, tok := range map[string]string{
		"empty":      "",
		"garbage":    "abc.def.ghi",
		"wrongKey":   other,
		"expired":    expired,
		"no subject": noSub,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tok)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errs.ErrUnauthorized))
		})
	}
}

func TestNewVerifierNeedsKeyMaterial(t *testing.T) {
	_, err := NewVerifier(Options{}, nil)
	assert.Error(t, err)
	_, err = NewVerifier(Options{Secret: []byte("x"), Alg: "RS1"}, nil)
	assert.Error(t, err)
}

func TestJWKSVerification(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kid": "k1",
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	keys, err := NewKeySet(ctx, srv.URL)
	require.NoError(t, err)
	v, err := NewVerifier(Options{Issuer: "idp"}, keys)
	require.NoError(t, err)

	claims := Claims{RegisteredClaims: jwtlib.RegisteredClaims{
		Subject:   "user-9",
		Issuer:    "idp",
		ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(priv)
	require.NoError(t, err)

	got, err := v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "user-9", got.Subject)

	fetched := hits.Load()
	require.Positive(t, fetched)
	_, err = v.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, fetched, hits.Load(), "keys are cached")

	tok.Header["kid"] = "unknown"
	signed, err = tok.SignedString(priv)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signed)
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))

	// an HMAC token is refused when only the key set is configured
	hs, _, err := Generate(DefaultOptions([]byte("s3cret")), "user-9", nil)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), hs)
	assert.True(t, errors.Is(err, errs.ErrUnauthorized))
}

func TestNewKeySetNeedsURL(t *testing.T) {
	_, err := NewKeySet(context.Background(), "")
	assert.Error(t, err)
}

func mustSign(t *testing.T, m jwtlib.SigningMethod, c Claims, key any) string {
	t.Helper()
	s, err := jwtlib.NewWithClaims(m, c).SignedString(key)
	require.NoError(t, err)
	return s
}
