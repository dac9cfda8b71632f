package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AnshRaj112/techphono-security/internal/database"
)

// SecureKeyPrefix namespaces encrypted values.
const SecureKeyPrefix = "secure_"

// SecureStore keeps JSON values encrypted with the engine cipher under
// secure_<name>.
type SecureStore struct {
	store  *database.Guarded
	cipher Cipher
	opts   options
}

func NewSecureStore(store *database.Guarded, cipher Cipher, opts ...Option) *SecureStore {
	return &SecureStore{store: store, cipher: cipher, opts: buildOptions(opts)}
}

// Set encrypts and stores value under name.
func (s *SecureStore) Set(ctx context.Context, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("secure store %s: %w", name, err)
	}
	enc, err := s.cipher.Encrypt(ctx, string(data))
	if err != nil {
		return err
	}
	return s.store.Update(ctx, SecureKeyPrefix+name, func(string, bool) (string, bool, error) {
		return enc, true, nil
	})
}

// Get decrypts the value stored under name into dest. A missing value
// reports false. A value that does not decrypt to valid JSON (for example
// after the key changed) is a cipher failure.
func (s *SecureStore) Get(ctx context.Context, name string, dest any) (bool, error) {
	enc, ok, err := s.store.Get(ctx, SecureKeyPrefix+name)
	if err != nil || !ok {
		return false, err
	}
	plain, err := s.cipher.Decrypt(ctx, enc)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(plain), dest); err != nil {
		return false, fmt.Errorf("%w: %s unreadable", ErrCipherFailure, name)
	}
	return true, nil
}

// Remove deletes one value.
func (s *SecureStore) Remove(ctx context.Context, name string) error {
	return s.store.Delete(ctx, SecureKeyPrefix+name)
}

// ClearAll deletes every secure value and reports how many were removed.
func (s *SecureStore) ClearAll(ctx context.Context) (int, error) {
	keys, err := s.store.KeysWithPrefix(ctx, SecureKeyPrefix)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.store.MultiRemove(ctx, keys); err != nil {
		return 0, err
	}
	s.opts.logger.Info("secure storage cleared", "count", len(keys))
	return len(keys), nil
}
