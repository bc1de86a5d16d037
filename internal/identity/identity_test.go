package identity

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tagmesh/tagmesh/internal/common"
)

const testPassphrase = "correct horse battery staple"

func TestDeriveKeypairDeterministic(t *testing.T) {
	kp1, err := DeriveKeypair(testPassphrase)
	require.NoError(t, err)
	kp2, err := DeriveKeypair(testPassphrase)
	require.NoError(t, err)

	require.Equal(t, kp1.DID(), kp2.DID())
	require.Equal(t, kp1.Public, kp2.Public)
	require.Equal(t, kp1.NameKey(), kp2.NameKey())

	kp3, err := DeriveKeypair("a different passphrase entirely")
	require.NoError(t, err)
	require.NotEqual(t, kp1.DID(), kp3.DID())
}

func TestDeriveKeypairShortPassphrase(t *testing.T) {
	tests := []string{"", "short", "fifteen chars!!"}
	for _, p := range tests {
		_, err := DeriveKeypair(p)
		require.ErrorIs(t, err, common.ErrInvalidPassphrase)
	}
}

func TestDIDFormat(t *testing.T) {
	kp, err := DeriveKeypair(testPassphrase)
	require.NoError(t, err)

	did := kp.DID()
	require.True(t, strings.HasPrefix(did, "did:key:z"))

	pub, err := DecodePublicKey(did)
	require.NoError(t, err)
	require.Equal(t, []byte(kp.Public), []byte(pub))

	pub2, err := DecodePublicKey(kp.PublicKeyMultibase())
	require.NoError(t, err)
	require.Equal(t, []byte(kp.Public), []byte(pub2))
}

func TestDecodePublicKeyRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-multibase", "zzzzz0OIl", "did:key:abc"} {
		_, err := DecodePublicKey(s)
		require.Error(t, err, "input %q", s)
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := DeriveKeypair(testPassphrase)
	require.NoError(t, err)

	msg := []byte(`{"version":1,"handle":"alice"}`)
	sig := kp.Sign(msg)
	require.True(t, strings.HasPrefix(sig, "z"))

	require.NoError(t, Verify(kp.PublicKeyMultibase(), msg, sig))
	require.NoError(t, Verify(kp.DID(), msg, sig))

	err = Verify(kp.PublicKeyMultibase(), []byte("tampered"), sig)
	require.ErrorIs(t, err, common.ErrSignatureInvalid)

	other, err := DeriveKeypair("another passphrase over here")
	require.NoError(t, err)
	err = Verify(other.PublicKeyMultibase(), msg, sig)
	require.ErrorIs(t, err, common.ErrSignatureInvalid)
}

func TestDeriveEncryptionKeyIndependentOfSigningSeed(t *testing.T) {
	kp, err := DeriveKeypair(testPassphrase)
	require.NoError(t, err)
	encKey, err := DeriveEncryptionKey(testPassphrase)
	require.NoError(t, err)

	require.Len(t, encKey, 32)
	require.NotEqual(t, []byte(kp.Private.Seed()), encKey)
}

func TestLookupKey(t *testing.T) {
	// Case and @-prefix variants of the same handle map to one key.
	k := LookupKey("alice")
	require.Len(t, k, 64)
	require.Equal(t, k, LookupKey("@Alice"))
	require.Equal(t, k, LookupKey("ALICE"))
	require.NotEqual(t, k, LookupKey("bob"))
}

func TestBuildDIDDocument(t *testing.T) {
	kp, err := DeriveKeypair(testPassphrase)
	require.NoError(t, err)

	doc := BuildDIDDocument(kp, "zManifestCID", "https://example.com/proof")
	require.Equal(t, kp.DID(), doc.ID)
	require.Len(t, doc.VerificationMethod, 1)
	require.Equal(t, kp.PublicKeyMultibase(), doc.VerificationMethod[0].PublicKeyMultibase)

	require.Equal(t, "zManifestCID", doc.ManifestService())
	require.Len(t, doc.Service, 2)

	bare := BuildDIDDocument(kp, "", "")
	require.Empty(t, bare.Service)
	require.Empty(t, bare.ManifestService())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := DeriveEncryptionKey(testPassphrase)
	require.NoError(t, err)

	plaintext := []byte("attack at dawn")
	ciphertext, nonce, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := Decrypt(ciphertext, nonce, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	wrongKey, err := DeriveEncryptionKey("a totally wrong passphrase")
	require.NoError(t, err)
	_, err = Decrypt(ciphertext, nonce, wrongKey)
	require.ErrorIs(t, err, common.ErrInvalidPassphrase)
}

func TestKeystoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keystore.json")

	_, err := LoadKeystore(path)
	require.ErrorIs(t, err, common.ErrNotFound)

	kp, err := DeriveKeypair(testPassphrase)
	require.NoError(t, err)
	require.NoError(t, SaveKeystore(path, kp, "@Alice", testPassphrase))

	ks, err := LoadKeystore(path)
	require.NoError(t, err)
	require.Equal(t, kp.DID(), ks.DID)
	require.Equal(t, "alice", ks.Handle)
	require.Equal(t, kp.NameKey(), ks.NameKey)

	unlocked, err := UnlockKeystore(ks, testPassphrase)
	require.NoError(t, err)
	require.Equal(t, kp.DID(), unlocked.DID())

	_, err = UnlockKeystore(ks, "wrong but long enough pass")
	require.ErrorIs(t, err, common.ErrInvalidPassphrase)
}
