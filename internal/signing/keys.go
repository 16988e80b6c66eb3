// Package signing binds impact plans to a hybrid ed25519 + ML-DSA-65
// signature so a command can prove it was previewed by this household's
// key. Keys live on disk encrypted under a passphrase.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Errors
var (
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key bundle")
	ErrBadBundle       = errors.New("malformed key bundle")
)

// argon2id parameters
const (
	kdfTime    = 3
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
	saltLen    = 32

	bundleVersion = 1
)

// KeyPair holds both halves of the hybrid signing key.
type KeyPair struct {
	ed25519Public  ed25519.PublicKey
	ed25519Private ed25519.PrivateKey
	mldsaPublic    *mldsa65.PublicKey
	mldsaPrivate   *mldsa65.PrivateKey
}

// Generate creates a fresh key pair.
func Generate() (*KeyPair, error) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	mlPub, mlPriv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ML-DSA key: %w", err)
	}
	return &KeyPair{
		ed25519Public:  edPub,
		ed25519Private: edPriv,
		mldsaPublic:    mlPub,
		mldsaPrivate:   mlPriv,
	}, nil
}

// ID is a short fingerprint of the public keys.
func (kp *KeyPair) ID() string {
	return keyID(kp.ed25519Public, kp.mldsaPublic)
}

// Public returns the verifying half.
func (kp *KeyPair) Public() *PublicKeys {
	return &PublicKeys{ed25519: kp.ed25519Public, mldsa: kp.mldsaPublic}
}

func keyID(ed ed25519.PublicKey, ml *mldsa65.PublicKey) string {
	mlBytes, _ := ml.MarshalBinary()
	h := sha256.New()
	h.Write(ed)
	h.Write(mlBytes)
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// PublicKeys verifies hybrid signatures.
type PublicKeys struct {
	ed25519 ed25519.PublicKey
	mldsa   *mldsa65.PublicKey
}

// ID is the fingerprint matching KeyPair.ID.
func (pk *PublicKeys) ID() string {
	return keyID(pk.ed25519, pk.mldsa)
}

func (kp *KeyPair) sign(data []byte) (edSig, mlSig []byte, err error) {
	edSig = ed25519.Sign(kp.ed25519Private, data)
	mlSig = make([]byte, mldsa65.SignatureSize)
	if err := mldsa65.SignTo(kp.mldsaPrivate, data, nil, false, mlSig); err != nil {
		return nil, nil, fmt.Errorf("ML-DSA sign: %w", err)
	}
	return edSig, mlSig, nil
}

// verify requires both signatures to hold.
func (pk *PublicKeys) verify(data, edSig, mlSig []byte) bool {
	if len(edSig) != ed25519.SignatureSize || len(mlSig) != mldsa65.SignatureSize {
		return false
	}
	return ed25519.Verify(pk.ed25519, data, edSig) && mldsa65.Verify(pk.mldsa, data, nil, mlSig)
}

// Bundle is the on-disk form of a key pair. Public keys are in the clear,
// private keys are sealed with XChaCha20-Poly1305 under an argon2id key.
type Bundle struct {
	Version       int       `json:"version"`
	KeyID         string    `json:"keyId"`
	Ed25519Public []byte    `json:"ed25519Public"`
	MLDSAPublic   []byte    `json:"mldsaPublic"`
	KDF           string    `json:"kdf"`
	Salt          []byte    `json:"salt"`
	Sealed        []byte    `json:"sealed"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Seal encrypts the key pair under passphrase.
func (kp *KeyPair) Seal(passphrase string) (*Bundle, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	mlPriv, err := kp.mldsaPrivate.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ML-DSA key: %w", err)
	}
	mlPub, err := kp.mldsaPublic.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal ML-DSA public key: %w", err)
	}
	plain := packChunks(kp.ed25519Private, mlPriv)

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	id := kp.ID()
	return &Bundle{
		Version:       bundleVersion,
		KeyID:         id,
		Ed25519Public: append([]byte(nil), kp.ed25519Public...),
		MLDSAPublic:   mlPub,
		KDF:           "argon2id",
		Salt:          salt,
		// the key id is the associated data
		Sealed:    aead.Seal(nonce, nonce, plain, []byte(id)),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Open decrypts the bundle.
func (b *Bundle) Open(passphrase string) (*KeyPair, error) {
	pub, err := b.PublicKeys()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, b.Salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(b.Sealed) < aead.NonceSize() {
		return nil, ErrBadBundle
	}
	nonce, ciphertext := b.Sealed[:aead.NonceSize()], b.Sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(b.KeyID))
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	chunks, err := unpackChunks(plain, 2)
	if err != nil {
		return nil, err
	}
	if len(chunks[0]) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 key size %d", ErrBadBundle, len(chunks[0]))
	}
	mlPriv := new(mldsa65.PrivateKey)
	if err := mlPriv.UnmarshalBinary(chunks[1]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBundle, err)
	}

	return &KeyPair{
		ed25519Public:  pub.ed25519,
		ed25519Private: ed25519.PrivateKey(chunks[0]),
		mldsaPublic:    pub.mldsa,
		mldsaPrivate:   mlPriv,
	}, nil
}

// PublicKeys decodes the public half without a passphrase.
func (b *Bundle) PublicKeys() (*PublicKeys, error) {
	if b.Version != bundleVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadBundle, b.Version)
	}
	if len(b.Ed25519Public) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key size %d", ErrBadBundle, len(b.Ed25519Public))
	}
	ml := new(mldsa65.PublicKey)
	if err := ml.UnmarshalBinary(b.MLDSAPublic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBundle, err)
	}
	pk := &PublicKeys{ed25519: ed25519.PublicKey(b.Ed25519Public), mldsa: ml}
	if pk.ID() != b.KeyID {
		return nil, fmt.Errorf("%w: key id does not match public keys", ErrBadBundle)
	}
	return pk, nil
}

// Save writes the bundle with owner-only permissions.
func (b *Bundle) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadBundle reads a bundle written by Save.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBundle, err)
	}
	return &b, nil
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
}

// packChunks length-prefixes each chunk with a big-endian uint32.
func packChunks(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = binary.BigEndian.AppendUint32(out, uint32(len(c)))
		out = append(out, c...)
	}
	return out
}

func unpackChunks(data []byte, n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated length %d", ErrBadBundle, i)
		}
		size := int(binary.BigEndian.Uint32(data))
		data = data[4:]
		if size > len(data) {
			return nil, fmt.Errorf("%w: truncated chunk %d", ErrBadBundle, i)
		}
		out = append(out, append([]byte(nil), data[:size]...))
		data = data[size:]
	}
	return out, nil
}
