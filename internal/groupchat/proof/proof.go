// Package proof implements the credential verifier the Coordinator
// delegates to. The core never inspects a Proof's bytes directly; it only
// asks whether a credential admits a subject to a given operation.
package proof

import (
	"errors"

	"golang.org/x/crypto/ed25519"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// ErrInvalidProof is returned when a proof fails verification.
var ErrInvalidProof = errors.New("proof: invalid")

// Verifier checks that a Proof admits subject from addr. The context string
// disambiguates the action being authorised (the Coordinator's invite join
// uses "invite") so the same credential cannot be replayed across unrelated
// operations.
type Verifier interface {
	Verify(subject groupchat.GroupID, addr groupchat.PeerAddr, context string, p groupchat.Proof) error
}

// Ed25519Verifier verifies proofs that are raw ed25519 signatures over
// subject||addr||context, keyed by the subject's own GroupID bytes
// interpreted as its public key. The transport derives an ed25519 peer's
// GroupID from its raw public key, so the identity doubles as the
// verification key.
type Ed25519Verifier struct{}

// NewEd25519Verifier returns the default Verifier.
func NewEd25519Verifier() Ed25519Verifier { return Ed25519Verifier{} }

// Verify checks p as an ed25519 signature of len 64 over the message
// subject||addr||context, under the public key subject[:].
func (Ed25519Verifier) Verify(subject groupchat.GroupID, addr groupchat.PeerAddr, context string, p groupchat.Proof) error {
	if len(p) != ed25519.SignatureSize {
		return ErrInvalidProof
	}
	pub := ed25519.PublicKey(subject[:])
	msg := make([]byte, 0, len(subject)+len(addr)+len(context))
	msg = append(msg, subject[:]...)
	msg = append(msg, []byte(addr)...)
	msg = append(msg, []byte(context)...)
	if !ed25519.Verify(pub, msg, p) {
		return ErrInvalidProof
	}
	return nil
}

// Sign is a test/client helper producing a proof an Ed25519Verifier accepts.
func Sign(priv ed25519.PrivateKey, subject groupchat.GroupID, addr groupchat.PeerAddr, context string) groupchat.Proof {
	msg := make([]byte, 0, len(subject)+len(addr)+len(context))
	msg = append(msg, subject[:]...)
	msg = append(msg, []byte(addr)...)
	msg = append(msg, []byte(context)...)
	return groupchat.Proof(ed25519.Sign(priv, msg))
}
