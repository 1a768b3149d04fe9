// Package secret defines the secret port: the narrow contract the MCP
// session registry uses to turn a stored, encrypted API key into plaintext
// just before handing it to a transport.
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/pocketomega/chatrelay/internal/errs"
)

// Decrypter turns ciphertext produced by an operator-side encryption step
// into the plaintext API key an MCP transport authenticates with.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Encrypter is the inverse operation, used by the MCP server CRUD handlers
// when an operator submits a new plaintext API key to store.
type Encrypter interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
}

// AESGCM implements Decrypter and Encrypter with AES-256-GCM, the key
// supplied once at startup from SECRET_ENCRYPTION_KEY. Ciphertext layout is
// nonce || sealed, matching the conventional stdlib cipher.AEAD usage.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM builds an AESGCM adapter from a raw 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, "secret: bad key", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, "secret: gcm init", err)
	}
	return &AESGCM{aead: aead}, nil
}

func (a *AESGCM) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, a.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.TransportError, "secret: nonce generation", err)
	}
	return a.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (a *AESGCM) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	nonceSize := a.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errs.Wrap(errs.ProtocolError, "secret: ciphertext too short", nil)
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := a.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errs.Wrap(errs.ProtocolError, fmt.Sprintf("secret: decrypt failed (%d bytes)", len(ciphertext)), err)
	}
	return plaintext, nil
}
