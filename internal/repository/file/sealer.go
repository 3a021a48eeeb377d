package file

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Header in front of encrypted content, lets us read files written before encryption was enabled
var sealedHeader = []byte("credentialmanager:xchacha20poly1305:v1\n")

const keyInfo = "credentialmanager file storage"

var errSealedWithoutKey = errors.New("storage file is encrypted but no secret key provided")

// sealer encrypts storage file content with key derived from the secret
type sealer struct {
	key []byte
}

func newSealer(secret string) (*sealer, error) {
	if secret == "" {
		return nil, errors.New("secret key must not be empty")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("error while deriving key. Err: %w", err)
	}

	return &sealer{key: key}, nil
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("error while generating nonce. Err: %w", err)
	}

	out := append([]byte{}, sealedHeader...)
	return append(out, aead.Seal(nonce, nonce, plaintext, sealedHeader)...), nil
}

func (s *sealer) open(content []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	sealed := content[len(sealedHeader):]
	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("storage file is truncated")
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, sealedHeader)
	if err != nil {
		return nil, fmt.Errorf("can't decrypt storage file, wrong secret key? Err: %w", err)
	}

	return plaintext, nil
}

func isSealed(content []byte) bool {
	return bytes.HasPrefix(content, sealedHeader)
}
