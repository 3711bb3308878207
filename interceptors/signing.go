package interceptors

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/policy"
)

// SigningKeySize is the required length of a signing key
const SigningKeySize = 32

var (
	// ErrSignatureMissing is returned when an inbound exchange carries no signature
	ErrSignatureMissing = errors.New("message signature missing")
	// ErrSignatureMismatch is returned when an inbound signature does not verify
	ErrSignatureMismatch = errors.New("message signature mismatch")
)

// Signing attaches and verifies BLAKE3 keyed MACs over the body and a set
// of headers. Outbound exchanges are signed, inbound exchanges verified.
type Signing struct {
	base
	key     []byte
	headers []string
}

// NewSigning creates a signing interceptor for a 32 byte key. Signed headers
// default to the correlation header and may be overridden per assertion with
// a "headers" parameter.
func NewSigning(key []byte, opts ...Option) (*Signing, error) {
	if len(key) != SigningKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", SigningKeySize, len(key))
	}
	return &Signing{
		base: newBase(Descriptor{
			RoleID: RoleSigning,
			Name:   "blake3-signing",
			Kind:   KindSigning,
		}, opts),
		key:     append([]byte(nil), key...),
		headers: []string{contracts.HeaderCorrelationID},
	}, nil
}

// Process implements Interceptor
func (s *Signing) Process(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
	headers := s.headers
	if h, ok := params.GetStrings("headers"); ok {
		headers = h
	}

	mac, err := s.sign(ex, headers)
	if err != nil {
		return err
	}

	if ex.Direction == contracts.Outbound {
		ex.SetHeader(contracts.HeaderSignature, hex.EncodeToString(mac))
		return nil
	}

	got, ok := ex.Header(contracts.HeaderSignature)
	if !ok || got == "" {
		return ErrSignatureMissing
	}
	decoded, err := hex.DecodeString(got)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrSignatureMismatch)
	}
	if subtle.ConstantTimeCompare(decoded, mac) != 1 {
		return ErrSignatureMismatch
	}
	ex.Props().Set("signing.verified", true)
	return nil
}

func (s *Signing) sign(ex *contracts.Exchange, headers []string) ([]byte, error) {
	hasher, err := blake3.NewKeyed(s.key)
	if err != nil {
		return nil, fmt.Errorf("blake3 keyed hash initialization failed: %w", err)
	}
	for _, name := range headers {
		value, _ := ex.Header(name)
		fmt.Fprintf(hasher, "%s:%d:%s\n", name, len(value), value)
	}
	hasher.Write(ex.Body)
	return hasher.Sum(nil), nil
}
