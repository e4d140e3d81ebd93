package config

import (
	"fmt"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "DevLens"

	// KeyringOpenAIItem is the key for the OpenAI API key
	KeyringOpenAIItem = "openai-api-key"

	// KeyringGeminiItem is the key for the Gemini API key
	KeyringGeminiItem = "gemini-api-key"
)

// KeyringManager handles secure credential storage in the OS keychain.
// macOS: Keychain Access; Windows: Credential Manager; Linux: Secret Service.
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// SaveKey stores an API key securely in the OS keychain
func (km *KeyringManager) SaveKey(item, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("api key cannot be empty")
	}
	if err := keyring.Set(KeyringService, item, apiKey); err != nil {
		km.logger.Error("failed to save key to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}
	km.logger.Info("api key saved to keychain", "service", KeyringService, "item", item)
	return nil
}

// GetKey retrieves an API key from the OS keychain. An unset key returns ""
// without error.
func (km *KeyringManager) GetKey(item string) (string, error) {
	apiKey, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}
	return apiKey, nil
}

// DeleteKey removes an API key from the OS keychain
func (km *KeyringManager) DeleteKey(item string) error {
	err := keyring.Delete(KeyringService, item)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}
	km.logger.Info("api key removed from keychain", "item", item)
	return nil
}

// ResolveOracleKeys fills in oracle API keys from the keychain when the
// config and environment left them empty.
func (c *Config) ResolveOracleKeys() {
	if !c.Oracle.UseKeychain {
		return
	}
	km := NewKeyringManager()
	if c.Oracle.OpenAIKey == "" {
		if key, err := km.GetKey(KeyringOpenAIItem); err == nil && key != "" {
			c.Oracle.OpenAIKey = key
		}
	}
	if c.Oracle.GeminiKey == "" {
		if key, err := km.GetKey(KeyringGeminiItem); err == nil && key != "" {
			c.Oracle.GeminiKey = key
		}
	}
}
