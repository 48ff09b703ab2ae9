package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method (RFC 7636 §4.2). It is the
	// only method supported.
	S256 ChallengeMethod = "S256"
)

// DefaultSecretBytes is the number of random bytes used for both the state
// token and the code verifier. 64 bytes encode to an 86 character verifier,
// inside the 43-128 range allowed by RFC 7636.
const DefaultSecretBytes = 64

const (
	minVerifierLen = 43
	maxVerifierLen = 128
)

// CodeVerifier is the PKCE verifier/challenge pair for one authorization
// attempt.
type CodeVerifier interface {
	// Verifier returns the code verifier, which is only ever sent to the
	// token endpoint.
	Verifier() string

	// Challenge returns the code challenge sent in the authorization
	// redirect.
	Challenge() string

	// Method returns the challenge method.
	Method() ChallengeMethod
}

// S256Verifier is a CodeVerifier using the S256 challenge method.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier generates a new S256 CodeVerifier from a CSPRNG.
// Supported options: WithSecretBytes
func NewCodeVerifier(opt ...Option) (*S256Verifier, error) {
	const op = "NewCodeVerifier"
	opts := getSecretOpts(opt...)
	v, err := randomURLSafe(opts.withSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate code verifier: %w", op, err)
	}
	if len(v) < minVerifierLen || len(v) > maxVerifierLen {
		return nil, fmt.Errorf("%s: verifier length %d is not between %d and %d: %w", op, len(v), minVerifierLen, maxVerifierLen, ErrInvalidParameter)
	}
	return &S256Verifier{
		verifier:  v,
		challenge: CodeChallenge(v),
		method:    S256,
	}, nil
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier
func (v *S256Verifier) Copy() *S256Verifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CodeChallenge computes the S256 code challenge for a verifier:
// base64url(sha256(verifier)) without padding.
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// CreateCodeChallenge creates a code challenge from the verifier using the
// given method. Only S256 is supported.
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	if method != S256 {
		return "", fmt.Errorf("%s: %q: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	return CodeChallenge(v.Verifier()), nil
}

// NewStateToken generates an opaque, URL-safe state token from a CSPRNG.
// Supported options: WithSecretBytes
func NewStateToken(opt ...Option) (string, error) {
	const op = "NewStateToken"
	opts := getSecretOpts(opt...)
	s, err := randomURLSafe(opts.withSecretBytes)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	return s, nil
}

func randomURLSafe(nbytes int) (string, error) {
	if nbytes <= 0 {
		return "", fmt.Errorf("number of bytes must be greater than zero: %w", ErrInvalidParameter)
	}
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("unable to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// secretOptions is the set of available options for secret generation
type secretOptions struct {
	withSecretBytes int
}

func secretDefaults() secretOptions {
	return secretOptions{
		withSecretBytes: DefaultSecretBytes,
	}
}

func getSecretOpts(opt ...Option) secretOptions {
	opts := secretDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithSecretBytes overrides the number of random bytes used when generating
// a state token or code verifier.
func WithSecretBytes(n int) Option {
	return func(o interface{}) {
		if o, ok := o.(*secretOptions); ok {
			o.withSecretBytes = n
		}
	}
}
