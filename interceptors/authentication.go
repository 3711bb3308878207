package interceptors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// ErrUnauthenticated is returned when an exchange fails authentication
var ErrUnauthenticated = errors.New("exchange not authenticated")

// Exchange property keys set by Authentication
const (
	PropertyAuthSubject = "auth.subject"
	PropertyAuthClaims  = "auth.claims"
)

// AuthenticationConfig configures token minting and verification
type AuthenticationConfig struct {
	// Method defaults to HS256
	Method jwt.SigningMethod
	// SignKey mints outbound tokens: []byte for HMAC, *rsa.PrivateKey for RSA.
	// Without it outbound exchanges must already carry a token.
	SignKey interface{}
	// VerifyKey verifies inbound tokens: []byte for HMAC, *rsa.PublicKey for RSA
	VerifyKey interface{}
	Issuer    string
	Audience  string
	// TTL of minted tokens, defaults to five minutes
	TTL    time.Duration
	Leeway time.Duration
}

// Authentication mints bearer tokens on outbound exchanges and verifies them
// on inbound exchanges
type Authentication struct {
	base
	cfg AuthenticationConfig
	now func() time.Time
}

// NewAuthentication creates an authentication interceptor
func NewAuthentication(cfg AuthenticationConfig, opts ...Option) (*Authentication, error) {
	if cfg.Method == nil {
		cfg.Method = jwt.SigningMethodHS256
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.SignKey == nil && cfg.VerifyKey == nil {
		return nil, fmt.Errorf("authentication needs a sign key or a verify key")
	}

	return &Authentication{
		base: newBase(Descriptor{
			RoleID: RoleAuthentication,
			Name:   "jwt-" + strings.ToLower(cfg.Method.Alg()),
			Kind:   KindAuthentication,
		}, opts),
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Process implements Interceptor
func (a *Authentication) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	if ex.Direction == contracts.Outbound {
		return a.mint(ex, params)
	}
	return a.verify(ex, params)
}

func (a *Authentication) mint(ex *contracts.Exchange, params policy.Params) error {
	if a.cfg.SignKey == nil {
		if v, ok := ex.Header(contracts.HeaderAuthorization); ok && v != "" {
			return nil
		}
		return fmt.Errorf("%w: outbound exchange carries no token", ErrUnauthenticated)
	}

	subject := params.GetStringOr("subject", "")
	if subject == "" {
		subject, _ = ex.Props().GetString(PropertyAuthSubject)
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.cfg.Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.cfg.TTL)),
		ID:        ex.ID,
	}
	if audience := params.GetStringOr("audience", a.cfg.Audience); audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	token, err := jwt.NewWithClaims(a.cfg.Method, claims).SignedString(a.cfg.SignKey)
	if err != nil {
		return fmt.Errorf("failed to sign token: %w", err)
	}
	ex.SetHeader(contracts.HeaderAuthorization, "Bearer "+token)
	return nil
}

func (a *Authentication) verify(ex *contracts.Exchange, params policy.Params) error {
	if a.cfg.VerifyKey == nil {
		return fmt.Errorf("%w: no verify key configured", ErrUnauthenticated)
	}

	header, ok := ex.Header(contracts.HeaderAuthorization)
	if !ok || header == "" {
		return fmt.Errorf("%w: missing %s header", ErrUnauthenticated, contracts.HeaderAuthorization)
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{a.cfg.Method.Alg()}),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if audience := params.GetStringOr("audience", a.cfg.Audience); audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.cfg.VerifyKey, nil
	}, parserOpts...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	ex.Props().Set(PropertyAuthSubject, claims.Subject)
	ex.Props().Set(PropertyAuthClaims, claims)
	return nil
}
