package state

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// saltLen is the length of the random per-database salt.
	saltLen = 16
)

// sealer encrypts stored values with XChaCha20-Poly1305. The bolt key is
// bound as additional data so a sealed value cannot be moved to another key.
type sealer struct {
	key []byte
}

// newSealer derives the sealing key from passphrase and salt using scrypt.
// The passphrase is normalized to NFKC first.
func newSealer(passphrase string, salt []byte) (*sealer, error) {
	if len(salt) == 0 {
		return nil, errors.New("missing seal salt")
	}

	key, err := scrypt.Key([]byte(norm.NFKC.String(passphrase)), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving seal key: %w", err)
	}

	return &sealer{key: key}, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating seal salt: %w", err)
	}

	return salt, nil
}

// seal returns base64(nonce || ciphertext).
func (s *sealer) seal(ad []byte, plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), ad)

	return base64.StdEncoding.EncodeToString(out), nil
}

func (s *sealer) open(ad []byte, sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("decoding sealed value: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("creating cipher: %w", err)
	}

	if len(data) < aead.NonceSize() {
		return "", errors.New("sealed value too short")
	}

	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return "", fmt.Errorf("opening sealed value: %w", err)
	}

	return string(plaintext), nil
}
