package keys

import (
	"errors"
	"fmt"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
)

// ErrNoSigner is returned when a blob must be sealed for a name the
// keyring has no private key for.
var ErrNoSigner = errors.New("keys: no signing key for name")

// GenerateKey creates a new secp256k1 private key and returns its
// multibase-encoded string for storage.
func GenerateKey() (string, error) {
	priv, err := atcrypto.GeneratePrivateKeyK256()
	if err != nil {
		return "", fmt.Errorf("keys: generate key: %w", err)
	}
	return priv.Multibase(), nil
}

// ParseKey loads a private key from its multibase-encoded string.
func ParseKey(multibase string) (atcrypto.PrivateKeyExportable, error) {
	priv, err := atcrypto.ParsePrivateMultibase(multibase)
	if err != nil {
		return nil, fmt.Errorf("keys: parse key: %w", err)
	}
	return priv, nil
}

// Verify checks a seal signature against a multibase-encoded public key.
func Verify(pubMultibase string, sealedHash, sig []byte) error {
	pub, err := atcrypto.ParsePublicMultibase(pubMultibase)
	if err != nil {
		return fmt.Errorf("keys: parse public key: %w", err)
	}
	if err := pub.HashAndVerify(sealedHash, sig); err != nil {
		return fmt.Errorf("keys: verify seal: %w", err)
	}
	return nil
}

// Keyring holds the private keys for the names this node writes to.
// It is populated at startup and read-only afterwards.
type Keyring struct {
	signers map[string]atcrypto.PrivateKeyExportable
}

// NewKeyring builds a keyring from a map of tld to multibase-encoded
// private key.
func NewKeyring(private map[string]string) (*Keyring, error) {
	kr := &Keyring{signers: make(map[string]atcrypto.PrivateKeyExportable, len(private))}
	for tld, mb := range private {
		priv, err := ParseKey(mb)
		if err != nil {
			return nil, fmt.Errorf("keys: keyring entry %s: %w", tld, err)
		}
		kr.signers[tld] = priv
	}
	return kr, nil
}

// Add registers a private key for a name, replacing any previous one.
func (k *Keyring) Add(tld, privMultibase string) error {
	priv, err := ParseKey(privMultibase)
	if err != nil {
		return err
	}
	k.signers[tld] = priv
	return nil
}

// Has reports whether the keyring can sign for the given name.
func (k *Keyring) Has(tld string) bool {
	_, ok := k.signers[tld]
	return ok
}

// PublicKey returns the multibase-encoded public key for a name.
func (k *Keyring) PublicKey(tld string) (string, error) {
	priv, ok := k.signers[tld]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoSigner, tld)
	}
	pub, err := priv.PublicKey()
	if err != nil {
		return "", fmt.Errorf("keys: derive public key: %w", err)
	}
	return pub.Multibase(), nil
}

// Sign produces the seal signature for a name's sealed hash.
func (k *Keyring) Sign(tld string, sealedHash []byte) ([]byte, error) {
	priv, ok := k.signers[tld]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSigner, tld)
	}
	sig, err := priv.HashAndSign(sealedHash)
	if err != nil {
		return nil, fmt.Errorf("keys: sign seal: %w", err)
	}
	return sig, nil
}
