package wire

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// KeyRing holds a node's long-lived signing key pair. Peers know each other
// by the compressed public key travelling inside protocol messages.
type KeyRing struct {
	priv *btcec.PrivateKey
}

// NewKeyRing generates a fresh key pair.
func NewKeyRing() (*KeyRing, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return &KeyRing{priv: priv}, nil
}

// KeyRingFromBytes restores a key ring from a serialized private key.
func KeyRingFromBytes(buf []byte) *KeyRing {
	priv, _ := btcec.PrivKeyFromBytes(buf)
	return &KeyRing{priv: priv}
}

// Serialize returns the private key bytes for persistence.
func (k *KeyRing) Serialize() []byte {
	return k.priv.Serialize()
}

// PubKey returns the compressed public key.
func (k *KeyRing) PubKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// Sign signs the sha256 digest of msg, returning a DER-encoded signature.
func (k *KeyRing) Sign(msg []byte) ([]byte, error) {
	hash := sha256.Sum256(msg)
	return ecdsa.Sign(k.priv, hash[:]).Serialize(), nil
}

// Verify checks a DER-encoded signature over msg against a compressed public
// key.
func Verify(pubKey, msg, sig []byte) bool {
	pub, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	hash := sha256.Sum256(msg)
	return parsedSig.Verify(hash[:], pub)
}
