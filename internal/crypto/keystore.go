package crypto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keystoreService = "inventorybot"
	keystoreUser    = "bot-token"
)

// ErrNoToken means neither the environment nor the keychain holds a bot token
var ErrNoToken = errors.New("bot token not configured")

// SaveToken stores the bot token in the system keychain
func SaveToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrNoToken
	}
	if err := keyring.Set(keystoreService, keystoreUser, token); err != nil {
		return fmt.Errorf("failed to store token in keychain: %w", err)
	}
	return nil
}

// LoadToken returns the stored bot token
func LoadToken() (string, error) {
	token, err := keyring.Get(keystoreService, keystoreUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token from keychain: %w", err)
	}
	return token, nil
}

// ResolveToken prefers the configured token and falls back to the keychain
func ResolveToken(configured string) (string, error) {
	if token := strings.TrimSpace(configured); token != "" {
		return token, nil
	}
	return LoadToken()
}

// DeleteToken removes the bot token from the keychain
func DeleteToken() error {
	err := keyring.Delete(keystoreService, keystoreUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// IsTokenStored checks if a bot token exists in the keychain
func IsTokenStored() bool {
	_, err := keyring.Get(keystoreService, keystoreUser)
	return err == nil
}
