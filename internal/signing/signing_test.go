package signing

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantumlife/lifeops/internal/core"
)

func testPlan() core.ImpactPlan {
	return core.ImpactPlan{
		Intent:                "bill.pay",
		EntityID:              "bill-electric",
		Warnings:              []string{},
		DerivedWrites:         []string{"bills/bill-electric.status=paid"},
		Automations:           []string{"reconcile bank feed"},
		AggregatesToRecompute: []string{core.KeyOverview},
		KPIDelta:              map[string]float64{"cashOnHand": -182, "runwayDays": -182.0 / 60},
	}
}

func newKeys(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return kp
}

func TestSignVerify(t *testing.T) {
	signer := NewSigner(newKeys(t))

	signed, err := signer.Sign(testPlan())
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if signed.KeyID != signer.KeyID() {
		t.Errorf("expected key id %s, got %s", signer.KeyID(), signed.KeyID)
	}
	if err := signer.Verifier().Verify(signed); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	signer := NewSigner(newKeys(t))
	other := NewSigner(newKeys(t))
	v := signer.Verifier()

	tests := []struct {
		name   string
		mutate func(sp *core.SignedPlan)
	}{
		{"tampered plan", func(sp *core.SignedPlan) { sp.Plan.KPIDelta["cashOnHand"] = -1 }},
		{"tampered digest", func(sp *core.SignedPlan) { sp.Digest = strings.Repeat("0", 64) }},
		{"flipped ed25519", func(sp *core.SignedPlan) { sp.Ed25519Sig[0] ^= 0xff }},
		{"flipped ML-DSA", func(sp *core.SignedPlan) { sp.MLDSASig[10] ^= 0xff }},
		{"truncated ML-DSA", func(sp *core.SignedPlan) { sp.MLDSASig = sp.MLDSASig[:32] }},
		{"unknown key", func(sp *core.SignedPlan) { sp.KeyID = other.KeyID() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signed, err := signer.Sign(testPlan())
			if err != nil {
				t.Fatalf("Sign failed: %v", err)
			}
			tt.mutate(signed)
			if err := v.Verify(signed); !errors.Is(err, core.ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}

	if err := v.Verify(nil); !errors.Is(err, core.ErrInvalidSignature) {
		t.Errorf("nil plan: expected ErrInvalidSignature, got %v", err)
	}

	foreign, _ := other.Sign(testPlan())
	foreign.KeyID = signer.KeyID()
	if err := v.Verify(foreign); !errors.Is(err, core.ErrInvalidSignature) {
		t.Errorf("foreign signature accepted: %v", err)
	}
}

func TestDigest_KeyOrderIndependent(t *testing.T) {
	a := testPlan()
	b := testPlan()
	b.KPIDelta = map[string]float64{"runwayDays": -182.0 / 60, "cashOnHand": -182}

	da, err := Digest(a)
	if err != nil {
		t.Fatal(err)
	}
	db, _ := Digest(b)
	if da != db {
		t.Errorf("digests differ: %s vs %s", da, db)
	}
	if len(da) != 64 {
		t.Errorf("expected hex sha256, got %q", da)
	}
}

func TestBundle_SealOpen(t *testing.T) {
	kp := newKeys(t)
	path := filepath.Join(t.TempDir(), "keys", "signing.json")

	bundle, err := kp.Seal("correct horse")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if err := bundle.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadBundle(path)
	if err != nil {
		t.Fatalf("LoadBundle failed: %v", err)
	}
	if loaded.KeyID != kp.ID() {
		t.Errorf("key id changed: %s vs %s", loaded.KeyID, kp.ID())
	}

	if _, err := loaded.Open("wrong"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("expected ErrWrongPassphrase, got %v", err)
	}

	opened, err := loaded.Open("correct horse")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	signed, err := NewSigner(opened).Sign(testPlan())
	if err != nil {
		t.Fatalf("Sign with reopened key failed: %v", err)
	}

	pub, err := loaded.PublicKeys()
	if err != nil {
		t.Fatalf("PublicKeys failed: %v", err)
	}
	if err := NewVerifier(pub).Verify(signed); err != nil {
		t.Errorf("public half from bundle rejected signature: %v", err)
	}
	if err := NewVerifier(kp.Public()).Verify(signed); err != nil {
		t.Errorf("original key rejected reopened signature: %v", err)
	}
}

func TestBundle_SwappedPublicKeyRejected(t *testing.T) {
	a, _ := newKeys(t).Seal("pw")
	b, _ := newKeys(t).Seal("pw")

	a.Ed25519Public = b.Ed25519Public
	if _, err := a.Open("pw"); !errors.Is(err, ErrBadBundle) {
		t.Errorf("expected ErrBadBundle, got %v", err)
	}

	a2, _ := newKeys(t).Seal("pw")
	a2.Ed25519Public, a2.MLDSAPublic, a2.KeyID = b.Ed25519Public, b.MLDSAPublic, b.KeyID
	if _, err := a2.Open("pw"); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("expected sealed keys to reject a foreign public half, got %v", err)
	}
}

func TestChunks(t *testing.T) {
	packed := packChunks([]byte("abc"), []byte{}, []byte("z"))
	chunks, err := unpackChunks(packed, 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(chunks[0]) != "abc" || len(chunks[1]) != 0 || string(chunks[2]) != "z" {
		t.Errorf("unexpected chunks %q", chunks)
	}
	if _, err := unpackChunks(packed[:5], 2); !errors.Is(err, ErrBadBundle) {
		t.Errorf("expected ErrBadBundle for truncated data, got %v", err)
	}
}
