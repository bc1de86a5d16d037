// Package identity derives the user's signing keypair and decentralized
// identifier from a passphrase, and signs and verifies published documents.
//
// Derivation is deterministic: the same passphrase always yields the same
// Ed25519 keypair and therefore the same DID, so there is no enrollment
// step and no key material ever leaves the machine.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/scrypt"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
)

// scrypt parameters. N is the work factor (2^15), r the block size, p the
// parallelism. The two salts domain-separate the signing seed from the
// content-encryption key so one derived key never serves both purposes.
const (
	scryptN     = 32768
	scryptR     = 8
	scryptP     = 1
	keyLen      = 32
	signingSalt = "tagmesh-did-v1"
	encryptSalt = "tagmesh-encrypt-v1"

	// MinPassphraseLen is the minimum accepted passphrase length.
	MinPassphraseLen = 16
)

// ed25519Multicodec is the multicodec prefix for Ed25519 public keys used
// in did:key identifiers.
var ed25519Multicodec = []byte{0xed, 0x01}

// Keypair is a derived signing identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// DID returns the did:key identifier for the public key.
func (k *Keypair) DID() string {
	return "did:key:" + multibaseKey(k.Public)
}

// PublicKeyMultibase returns the multibase (base58btc) encoding of the
// public key, as used in DID document verification methods.
func (k *Keypair) PublicKeyMultibase() string {
	return multibaseKey(k.Public)
}

// NameKey returns the mutable-name key the user publishes under: a
// base58btc-encoded hash of the public key, stable for the identity's
// lifetime.
func (k *Keypair) NameKey() string {
	sum := sha256.Sum256(k.Public)
	return "k" + base58.Encode(sum[:])
}

// Sign returns the base58btc-encoded detached signature of message.
func (k *Keypair) Sign(message []byte) string {
	return "z" + base58.Encode(ed25519.Sign(k.Private, message))
}

func multibaseKey(pub ed25519.PublicKey) string {
	prefixed := append(append([]byte{}, ed25519Multicodec...), pub...)
	return "z" + base58.Encode(prefixed)
}

// DeriveKeypair derives the signing keypair from a passphrase using scrypt
// with the signing salt. Returns common.ErrInvalidPassphrase for empty or
// too-short input.
func DeriveKeypair(passphrase string) (*Keypair, error) {
	if len(passphrase) < MinPassphraseLen {
		return nil, fmt.Errorf("%w: need at least %d characters", common.ErrInvalidPassphrase, MinPassphraseLen)
	}

	seed, err := scrypt.Key([]byte(passphrase), []byte(signingSalt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer common.WipeByteArray(seed)

	return keypairFromSeed(seed), nil
}

func keypairFromSeed(seed []byte) *Keypair {
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{Public: priv.Public().(ed25519.PublicKey), Private: priv}
}

// DeriveEncryptionKey derives the content-encryption key from the same
// passphrase under the encryption salt.
func DeriveEncryptionKey(passphrase string) ([]byte, error) {
	if len(passphrase) < MinPassphraseLen {
		return nil, fmt.Errorf("%w: need at least %d characters", common.ErrInvalidPassphrase, MinPassphraseLen)
	}
	key, err := scrypt.Key([]byte(passphrase), []byte(encryptSalt), scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}

// Verify checks a detached signature created by Sign against a multibase
// public key. Returns common.ErrSignatureInvalid on any mismatch.
func Verify(publicKeyMultibase string, message []byte, signature string) error {
	pub, err := DecodePublicKey(publicKeyMultibase)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(signature, "z") {
		return fmt.Errorf("%w: unsupported signature encoding", common.ErrSignatureInvalid)
	}
	sig, err := base58.Decode(signature[1:])
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrSignatureInvalid, err)
	}
	if !ed25519.Verify(pub, message, sig) {
		return common.ErrSignatureInvalid
	}
	return nil
}

// DecodePublicKey parses a multibase-encoded Ed25519 public key, accepting
// both the bare form and a full did:key identifier.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	s = strings.TrimPrefix(s, "did:key:")
	if !strings.HasPrefix(s, "z") {
		return nil, fmt.Errorf("%w: unsupported multibase prefix", common.ErrSignatureInvalid)
	}
	raw, err := base58.Decode(s[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSignatureInvalid, err)
	}
	if len(raw) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		raw[0] != ed25519Multicodec[0] || raw[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("%w: not an ed25519 did:key", common.ErrSignatureInvalid)
	}
	return ed25519.PublicKey(raw[2:]), nil
}

// LookupKey returns the discovery lookup key for a handle: the hex SHA-256
// of the normalized handle.
func LookupKey(handle string) string {
	sum := sha256.Sum256([]byte(models.NormalizeHandle(handle)))
	return hex.EncodeToString(sum[:])
}

// BuildDIDDocument constructs the identity document published for a
// keypair: one verification method plus service endpoints for the current
// manifest and the external handle proof.
func BuildDIDDocument(kp *Keypair, manifestCID, proofURL string) *models.DIDDocument {
	did := kp.DID()
	doc := &models.DIDDocument{
		Context: []string{
			"https://www.w3.org/ns/did/v1",
			"https://w3id.org/security/suites/ed25519-2018/v1",
		},
		ID: did,
		VerificationMethod: []models.VerificationMethod{{
			ID:                 did + "#key-1",
			Type:               "Ed25519VerificationKey2018",
			Controller:         did,
			PublicKeyMultibase: kp.PublicKeyMultibase(),
		}},
		AssertionMethod: []string{did + "#key-1"},
	}
	if manifestCID != "" {
		doc.Service = append(doc.Service, models.ServiceEndpoint{
			ID:              did + "#manifest",
			Type:            models.ServiceUserManifest,
			ServiceEndpoint: manifestCID,
		})
	}
	if proofURL != "" {
		doc.Service = append(doc.Service, models.ServiceEndpoint{
			ID:              did + "#proof",
			Type:            models.ServiceHandleProof,
			ServiceEndpoint: proofURL,
		})
	}
	return doc
}
