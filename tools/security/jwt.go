package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"MeetChat/tools/errs"

	"github.com/MicahParks/keyfunc/v3"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Options controls how bearer tokens are verified. With JWKSURL set, RS* tokens signed by
// the identity provider are accepted; otherwise HS* tokens signed with Secret.
type Options struct {
	Secret   []byte
	Alg      string        // HS256/HS384/HS512, default HS256
	TTL      time.Duration // lifetime of tokens issued by Generate, default 2h
	Issuer   string
	Audience string
	JWKSURL  string
	Leeway   time.Duration
}

type Claims struct {
	jwtlib.RegisteredClaims
	Scope    []string `json:"scope,omitempty"`
	TokenUse string   `json:"token_use,omitempty"`
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour, Leeway: 30 * time.Second}
}

// Generate issues an HMAC token for userID; used by tooling and tests.
func Generate(opts Options, userID string, scopes []string) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := Claims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			Issuer:    opts.Issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(exp),
		},
		Scope: scopes,
	}
	if opts.Audience != "" {
		claims.Audience = jwtlib.ClaimStrings{opts.Audience}
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

// TokenVerifier resolves a bearer credential to its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type Verifier struct {
	opts Options
	keys keyfunc.Keyfunc
}

// NewVerifier builds a verifier; keys may be nil when only HMAC tokens are accepted.
func NewVerifier(opts Options, keys keyfunc.Keyfunc) (*Verifier, error) {
	if keys == nil && len(opts.Secret) == 0 {
		return nil, errors.New("jwt verifier needs a secret or a JWKS key set")
	}
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	return &Verifier{opts: opts, keys: keys}, nil
}

// Verify checks signature, expiry, issuer and audience. Every failure is ErrUnauthorized.
func (v *Verifier) Verify(_ context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errs.ErrUnauthorized.WrapMsg("missing token")
	}

	parserOpts := []jwtlib.ParserOption{
		jwtlib.WithExpirationRequired(),
		jwtlib.WithLeeway(v.opts.Leeway),
	}
	if v.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(v.opts.Issuer))
	}
	if v.opts.Audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(v.opts.Audience))
	}

	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		switch t.Method.(type) {
		case *jwtlib.SigningMethodHMAC:
			if len(v.opts.Secret) == 0 {
				return nil, fmt.Errorf("hmac tokens not accepted")
			}
			return v.opts.Secret, nil
		case *jwtlib.SigningMethodRSA:
			if v.keys == nil {
				return nil, fmt.Errorf("rsa tokens not accepted")
			}
			return v.keys.Keyfunc(t)
		default:
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
	}, parserOpts...)
	if err != nil {
		return nil, errs.ErrUnauthorized.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return nil, errs.ErrUnauthorized.WrapMsg("invalid token")
	}
	if claims.Subject == "" {
		return nil, errs.ErrUnauthorized.WrapMsg("token has no subject")
	}
	return claims, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
