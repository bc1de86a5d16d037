package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tagmesh/tagmesh/internal/common"
	"github.com/tagmesh/tagmesh/internal/models"
)

// Keystore is the on-disk record of a created identity. The secret seed is
// stored AES-GCM encrypted under the passphrase-derived encryption key, so
// the file alone reveals only public material.
type Keystore struct {
	DID             string `json:"did"`
	Handle          string `json:"handle"`
	PublicKey       string `json:"public_key"`
	NameKey         string `json:"name_key"`
	EncryptedSeed   []byte `json:"encrypted_seed"`
	Nonce           []byte `json:"nonce"`
	CreatedAtMillis int64  `json:"created_at"`
}

// Encrypt seals plaintext with AES-GCM under key, returning the ciphertext
// and the random 12-byte nonce.
func Encrypt(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens an AES-GCM ciphertext produced by Encrypt.
func Decrypt(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPassphrase, err)
	}
	return plaintext, nil
}

// SaveKeystore writes an encrypted keystore file for the keypair. The seed
// is encrypted under the passphrase-derived content key so the identity can
// later be checked or reloaded without re-running the full derivation.
func SaveKeystore(path string, kp *Keypair, handle, passphrase string) error {
	encKey, err := DeriveEncryptionKey(passphrase)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(encKey)

	seed := kp.Private.Seed()
	defer common.WipeByteArray(seed)

	ciphertext, nonce, err := Encrypt(seed, encKey)
	if err != nil {
		return fmt.Errorf("sealing seed: %w", err)
	}

	ks := &Keystore{
		DID:             kp.DID(),
		Handle:          models.NormalizeHandle(handle),
		PublicKey:       kp.PublicKeyMultibase(),
		NameKey:         kp.NameKey(),
		EncryptedSeed:   ciphertext,
		Nonce:           nonce,
		CreatedAtMillis: models.NowMillis(),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating keystore dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing keystore: %w", err)
	}
	return nil
}

// LoadKeystore reads the keystore file. Returns common.ErrNotFound when no
// identity has been created yet.
func LoadKeystore(path string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("reading keystore: %w", err)
	}
	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parsing keystore: %w", err)
	}
	return &ks, nil
}

// UnlockKeystore decrypts the stored seed with the passphrase and rebuilds
// the keypair. Returns common.ErrInvalidPassphrase when the passphrase does
// not match the stored identity.
func UnlockKeystore(ks *Keystore, passphrase string) (*Keypair, error) {
	encKey, err := DeriveEncryptionKey(passphrase)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(encKey)

	seed, err := Decrypt(ks.EncryptedSeed, ks.Nonce, encKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(seed)

	kp := keypairFromSeed(seed)
	if kp.DID() != ks.DID {
		return nil, fmt.Errorf("%w: keystore DID mismatch", common.ErrInvalidPassphrase)
	}
	return kp, nil
}
