package config

import (
	"fmt"
	"os"
	"strings"
)

// Credentials holds every secret the engine needs, read once at startup
// from process environment variables. These never appear in the YAML
// config and are never logged.
type Credentials struct {
	PrivateKey          string
	ContractAddress     string
	ProviderAPIKeys     map[string]string
	WalletAddressOverride string
	SimulatorAPIKey     string
	AlertWebhookURL     string
}

// LoadCredentials reads the engine's secret inputs from the environment.
// providers names the aggregator/API identifiers that may have a
// per-provider key, e.g. "ONEINCH", "PARASWAP".
func LoadCredentials(providers []string) (*Credentials, error) {
	privateKey := os.Getenv("ARB_PRIVATE_KEY")
	if privateKey == "" {
		return nil, fmt.Errorf("ARB_PRIVATE_KEY is required")
	}
	contractAddress := os.Getenv("ARB_CONTRACT_ADDRESS")
	if contractAddress == "" {
		return nil, fmt.Errorf("ARB_CONTRACT_ADDRESS is required")
	}

	keys := make(map[string]string, len(providers))
	for _, p := range providers {
		envKey := fmt.Sprintf("ARB_%s_API_KEY", strings.ToUpper(p))
		if v := os.Getenv(envKey); v != "" {
			keys[strings.ToUpper(p)] = v
		}
	}

	return &Credentials{
		PrivateKey:            privateKey,
		ContractAddress:       contractAddress,
		ProviderAPIKeys:       keys,
		WalletAddressOverride: os.Getenv("ARB_WALLET_ADDRESS_OVERRIDE"),
		SimulatorAPIKey:       os.Getenv("ARB_SIMULATOR_API_KEY"),
		AlertWebhookURL:       os.Getenv("ARB_ALERT_WEBHOOK_URL"),
	}, nil
}
