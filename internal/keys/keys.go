// Package keys signs and verifies governance events with BIP-340 Schnorr
// signatures over secp256k1.
package keys

import (
	"agora/backend/internal/models"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	ErrIDMismatch       = errors.New("event id does not match content")
	ErrInvalidSignature = errors.New("invalid event signature")
)

// Signer completes outgoing events with the local identity.
type Signer interface {
	// PublicKey returns the hex x-only public key used as the event author.
	PublicKey() string
	// Sign sets PubKey, ID and Sig on evt.
	Sign(evt *models.Event) error
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	priv *btcec.PrivateKey
	pub  string
}

// Generate creates a signer with a fresh random key.
func Generate() (*KeySigner, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return newKeySigner(priv), nil
}

// FromHex loads a signer from a hex encoded 32-byte private key.
func FromHex(secret string) (*KeySigner, error) {
	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 hex encoded bytes")
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return newKeySigner(priv), nil
}

func newKeySigner(priv *btcec.PrivateKey) *KeySigner {
	return &KeySigner{
		priv: priv,
		pub:  hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
	}
}

func (s *KeySigner) PublicKey() string { return s.pub }

// PrivateKeyHex returns the hex encoded secret, for key export only.
func (s *KeySigner) PrivateKeyHex() string {
	return hex.EncodeToString(s.priv.Serialize())
}

func (s *KeySigner) Sign(evt *models.Event) error {
	evt.PubKey = s.pub
	evt.ID = evt.ComputeID()
	hash, err := hex.DecodeString(evt.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(s.priv, hash)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks that the event id commits to its content and that Sig is a
// valid signature of that id by PubKey.
func Verify(evt models.Event) error {
	if evt.ComputeID() != evt.ID {
		return ErrIDMismatch
	}
	hash, err := hex.DecodeString(evt.ID)
	if err != nil {
		return ErrIDMismatch
	}
	pubBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return fmt.Errorf("%w: bad pubkey", ErrInvalidSignature)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: bad pubkey", ErrInvalidSignature)
	}
	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrInvalidSignature)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: bad encoding", ErrInvalidSignature)
	}
	if !sig.Verify(hash, pub) {
		return ErrInvalidSignature
	}
	return nil
}
