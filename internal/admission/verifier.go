// Package admission decides whether an inbound source-control event may
// trigger a scan.
package admission

import (
	"fmt"

	"github.com/google/go-github/v41/github"

	"github.com/danielolaszy/scanglue/pkg/models"
)

// Signature headers sent by GitHub. The sha256 header is preferred.
const (
	SignatureHeaderSHA256 = "X-Hub-Signature-256"
	SignatureHeaderSHA1   = "X-Hub-Signature"
)

// Verifier checks that a payload was signed with the shared secret.
type Verifier interface {
	Verify(payload []byte, signature string, secret []byte) error
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(payload []byte, signature string, secret []byte) error

// Verify calls f.
func (f VerifierFunc) Verify(payload []byte, signature string, secret []byte) error {
	return f(payload, signature, secret)
}

// HMACVerifier validates "sha256=<hex>" or "sha1=<hex>" signatures using a
// constant-time comparison.
type HMACVerifier struct{}

// Verify implements Verifier.
func (HMACVerifier) Verify(payload []byte, signature string, secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", models.ErrInvalidSignature)
	}
	if signature == "" {
		return fmt.Errorf("%w: missing signature header", models.ErrInvalidSignature)
	}
	if err := github.ValidateSignature(signature, payload, secret); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
	}
	return nil
}

// NoopVerifier accepts every payload. It is meant for tests and for
// deployments where signatures are verified upstream.
type NoopVerifier struct{}

// Verify implements Verifier.
func (NoopVerifier) Verify([]byte, string, []byte) error {
	return nil
}

// RejectingVerifier rejects every payload.
type RejectingVerifier struct{}

// Verify implements Verifier.
func (RejectingVerifier) Verify([]byte, string, []byte) error {
	return fmt.Errorf("%w: rejected", models.ErrInvalidSignature)
}
