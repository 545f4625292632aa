// Package sealer encrypts secret shares at rest. Each fragment gets its own key, derived with
// HKDF-SHA256 from the master key and a random salt, and is sealed with XChaCha20-Poly1305.
// The vault, guardian and index are bound in as associated data, so a ciphertext moved to
// another row fails to open.
package sealer

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strconv"

	"heirloom/internal/domain"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	saltSize = 32
	info     = "heirloom-fragment-v1"
)

var ErrOpen = errors.New("fragment open failed")

type Sealer struct {
	master []byte
}

func New(masterKey []byte) (*Sealer, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	return &Sealer{master: append([]byte(nil), masterKey...)}, nil
}

func (s *Sealer) Seal(vaultID, guardianID string, index int, share []byte) ([]byte, []byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, err
	}
	aead, err := s.aead(salt)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(share)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ciphertext := aead.Seal(nonce, nonce, share, binding(vaultID, guardianID, index))
	return ciphertext, salt, nil
}

func (s *Sealer) Open(f domain.Fragment) ([]byte, error) {
	aead, err := s.aead(f.Salt)
	if err != nil {
		return nil, err
	}
	if len(f.Ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrOpen
	}
	nonce, body := f.Ciphertext[:aead.NonceSize()], f.Ciphertext[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, binding(f.VaultID, f.GuardianID, f.Index))
	if err != nil {
		return nil, ErrOpen
	}
	return plain, nil
}

func (s *Sealer) aead(salt []byte) (cipher.AEAD, error) {
	if s == nil || len(s.master) == 0 {
		return nil, errors.New("sealer master key required")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("fragment salt must be %d bytes", saltSize)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, salt, []byte(info)), key); err != nil {
		return nil, err
	}
	return chacha20poly1305.NewX(key)
}

func binding(vaultID, guardianID string, index int) []byte {
	return []byte(info + "|" + vaultID + "|" + guardianID + "|" + strconv.Itoa(index))
}
