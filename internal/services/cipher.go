package services

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/pkg/utils"
)

// Cipher turns strings into opaque printable strings and back.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// XORCipher XORs UTF-8 bytes against a persisted UUID key and base64-encodes
// the result. It hides values from casual inspection only: it has no
// integrity check and the key sits in the same store as the data.
type XORCipher struct {
	keys *KeyProvider
}

func NewXORCipher(keys *KeyProvider) *XORCipher {
	return &XORCipher{keys: keys}
}

func (c *XORCipher) Encrypt(ctx context.Context, plaintext string) (string, error) {
	key, err := c.keys.GetOrCreate(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: load key: %v", ErrCipherFailure, err)
	}
	return base64.StdEncoding.EncodeToString(utils.XORBytes([]byte(plaintext), []byte(key))), nil
}

// Decrypt never fails on a wrong key; it returns garbage instead. Only
// malformed base64 is an error.
func (c *XORCipher) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	key, err := c.keys.GetOrCreate(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: load key: %v", ErrCipherFailure, err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrCipherFailure, err)
	}
	return string(utils.XORBytes(raw, []byte(key))), nil
}

// AESGCMCipher is authenticated encryption with a key supplied from
// configuration rather than the store.
type AESGCMCipher struct {
	key []byte
}

func NewAESGCMCipher(keyBase64 string) (*AESGCMCipher, error) {
	key, err := utils.ParseEncryptionKey(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}
	return &AESGCMCipher{key: key}, nil
}

func (c *AESGCMCipher) Encrypt(_ context.Context, plaintext string) (string, error) {
	out, err := utils.EncryptAESGCM(c.key, plaintext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}
	return out, nil
}

func (c *AESGCMCipher) Decrypt(_ context.Context, ciphertext string) (string, error) {
	out, err := utils.DecryptAESGCM(c.key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipherFailure, err)
	}
	return out, nil
}

// NewCipher selects the cipher for mode.
func NewCipher(mode, encryptionKey string, store *database.Guarded) (Cipher, error) {
	switch mode {
	case "", config.CipherXOR:
		return NewXORCipher(NewKeyProvider(store)), nil
	case config.CipherAESGCM:
		return NewAESGCMCipher(encryptionKey)
	}
	return nil, fmt.Errorf("unknown cipher mode %q", mode)
}
