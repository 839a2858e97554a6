package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"hybrid-regime-engine/config"

	"github.com/hashicorp/vault/api"
)

// APIKeyData is the exchange credential this engine trades with.
// Spec §6 runs a single account, so there is no per-user keying — the
// teacher's Vault client (StoreAPIKey/GetAPIKey keyed by userID) is
// generalized here to one credential set per (exchange, network).
type APIKeyData struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Exchange  string `json:"exchange"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client wraps the HashiCorp Vault client.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*APIKeyData
	cacheEnabled bool
}

// NewClient creates a new Vault client. If cfg.Enabled is false, the
// client operates entirely from its in-memory cache — used in local
// development against the mock exchange client.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg, cache: make(map[string]*APIKeyData), cacheEnabled: true}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg, cache: make(map[string]*APIKeyData), cacheEnabled: true}, nil
}

// StoreAPIKey stores the engine's exchange credential in Vault.
func (c *Client) StoreAPIKey(ctx context.Context, data APIKeyData) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[c.cacheKey(data.Exchange, data.IsTestnet)] = &data
		c.mu.Unlock()
		return nil
	}

	path := c.secretPath(data.Exchange, data.IsTestnet)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    data.APIKey,
			"secret_key": data.SecretKey,
			"exchange":   data.Exchange,
			"is_testnet": data.IsTestnet,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store API key in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[c.cacheKey(data.Exchange, data.IsTestnet)] = &data
		c.mu.Unlock()
	}
	return nil
}

// GetAPIKey retrieves the engine's exchange credential from Vault.
func (c *Client) GetAPIKey(ctx context.Context, exchange string, isTestnet bool) (*APIKeyData, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[c.cacheKey(exchange, isTestnet)]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("API key not found and vault is disabled")
	}

	path := c.secretPath(exchange, isTestnet)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API key from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("API key not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	apiKeyData := &APIKeyData{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Exchange:  getString(data, "exchange"),
		IsTestnet: getBool(data, "is_testnet"),
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[c.cacheKey(exchange, isTestnet)] = apiKeyData
		c.mu.Unlock()
	}
	return apiKeyData, nil
}

// DeleteAPIKey removes the engine's exchange credential.
func (c *Client) DeleteAPIKey(ctx context.Context, exchange string, isTestnet bool) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(exchange, isTestnet))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	path := c.metadataPath(exchange, isTestnet)
	if _, err := c.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete API key from vault: %w", err)
	}
	return nil
}

// RotateAPIKey replaces the stored credential, e.g. after a scheduled
// key rotation.
func (c *Client) RotateAPIKey(ctx context.Context, newData APIKeyData) error {
	return c.StoreAPIKey(ctx, newData)
}

// ClearCache clears the in-memory cache.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*APIKeyData)
	c.mu.Unlock()
}

// SetCacheEnabled enables or disables caching.
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	health, err := c.client.Sys().Health()
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(exchange string, isTestnet bool) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, c.cacheKey(exchange, isTestnet))
}

func (c *Client) metadataPath(exchange string, isTestnet bool) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, c.cacheKey(exchange, isTestnet))
}

func (c *Client) cacheKey(exchange string, isTestnet bool) string {
	network := "mainnet"
	if isTestnet {
		network = "testnet"
	}
	return fmt.Sprintf("%s_%s", exchange, network)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			return v == "true"
		case json.Number:
			n, _ := v.Int64()
			return n != 0
		}
	}
	return false
}

// NewMockClient creates a disabled, cache-only client for tests and
// local development against the mock exchange client.
func NewMockClient() *Client {
	return &Client{config: config.VaultConfig{Enabled: false}, cache: make(map[string]*APIKeyData), cacheEnabled: true}
}
