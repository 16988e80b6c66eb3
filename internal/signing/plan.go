package signing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/quantumlife/lifeops/internal/core"
)

// Digest is the hex sha256 of the plan's canonical JSON form.
func Digest(plan core.ImpactPlan) (string, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize plan: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Signer signs impact plans.
type Signer struct {
	keys *KeyPair
	now  func() time.Time
}

// NewSigner creates a signer for kp.
func NewSigner(kp *KeyPair) *Signer {
	return &Signer{keys: kp, now: time.Now}
}

// KeyID identifies the signing key
func (s *Signer) KeyID() string { return s.keys.ID() }

// Verifier returns a verifier for this signer's signatures.
func (s *Signer) Verifier() *Verifier { return NewVerifier(s.keys.Public()) }

// Sign binds plan to the signer's key.
func (s *Signer) Sign(plan core.ImpactPlan) (*core.SignedPlan, error) {
	digest, err := Digest(plan)
	if err != nil {
		return nil, err
	}
	edSig, mlSig, err := s.keys.sign([]byte(digest))
	if err != nil {
		return nil, err
	}
	return &core.SignedPlan{
		Plan:       plan,
		Digest:     digest,
		Ed25519Sig: edSig,
		MLDSASig:   mlSig,
		KeyID:      s.keys.ID(),
		SignedAt:   s.now().UTC(),
	}, nil
}

// Verifier checks signed plans against one public key.
type Verifier struct {
	keys *PublicKeys
	id   string
}

// NewVerifier creates a verifier for pk.
func NewVerifier(pk *PublicKeys) *Verifier {
	return &Verifier{keys: pk, id: pk.ID()}
}

// Verify recomputes the digest and checks both signatures. Every failure
// wraps core.ErrInvalidSignature.
func (v *Verifier) Verify(sp *core.SignedPlan) error {
	if sp == nil {
		return fmt.Errorf("%w: missing", core.ErrInvalidSignature)
	}
	if sp.KeyID != v.id {
		return fmt.Errorf("%w: unknown key %q", core.ErrInvalidSignature, sp.KeyID)
	}
	digest, err := Digest(sp.Plan)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if digest != sp.Digest {
		return fmt.Errorf("%w: digest mismatch", core.ErrInvalidSignature)
	}
	if !v.keys.verify([]byte(digest), sp.Ed25519Sig, sp.MLDSASig) {
		return fmt.Errorf("%w: signature check failed", core.ErrInvalidSignature)
	}
	return nil
}
