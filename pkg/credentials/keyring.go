package credentials

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keychain service and item names.
const (
	KeyringService = "owl"
	KeyringItem    = "openrouter-api-key"
)

// Keychain stores the key in the OS keychain.
type Keychain struct {
	Service string
	Item    string
}

// NewKeychain returns a Keychain with the default names.
func NewKeychain() *Keychain {
	return &Keychain{Service: KeyringService, Item: KeyringItem}
}

// Get returns "" without error when no key is stored.
func (k *Keychain) Get() (string, error) {
	key, err := keyring.Get(k.Service, k.Item)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read OS keychain: %w", err)
	}
	return key, nil
}

// Set stores key.
func (k *Keychain) Set(key string) error {
	if key == "" {
		return errors.New("api key cannot be empty")
	}
	if err := keyring.Set(k.Service, k.Item, key); err != nil {
		return fmt.Errorf("save to OS keychain: %w", err)
	}
	return nil
}

// Delete removes the stored key. A missing key is not an error.
func (k *Keychain) Delete() error {
	err := keyring.Delete(k.Service, k.Item)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("delete from OS keychain: %w", err)
	}
	return nil
}
