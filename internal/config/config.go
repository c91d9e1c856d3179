// Package config loads process configuration from the environment (and
// optionally a local .env file) using viper, plus the per-chain settings
// document viper's flat key/value model cannot represent cleanly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// HTTPPortKey is the port the chi HTTP server listens on.
	HTTPPortKey = "HTTP_PORT"
	// LogLevelKey selects the logrus level by name (debug, info, warn, error).
	LogLevelKey = "LOG_LEVEL"
	// SelectiveDelayMSKey is the default anti-front-running delay, in
	// milliseconds, applied between VALIDATED₁ and VALIDATED₂ when a
	// chain's own settings entry does not override it.
	SelectiveDelayMSKey = "SELECTIVE_DELAY_MS"
	// ExpirationDurationSecondsKey is the default lifetime of a
	// CoordinatorApproval signature, in seconds from issuance.
	ExpirationDurationSecondsKey = "EXPIRATION_DURATION_SECONDS"
	// PersistTimeoutSecondsKey bounds the re-validation/ledger-reservation/
	// signing/persistence tail that runs after the selective delay, once
	// that tail is detached from the inbound request's own cancellation.
	PersistTimeoutSecondsKey = "PERSIST_TIMEOUT_SECONDS"
	// ConfigFileKey names the JSON file holding the chain-id-to-settings
	// map; viper's own map decoding does not preserve the nested
	// list-of-structs shape this document needs.
	ConfigFileKey = "COORDINATOR_CONFIG"
	// DatabaseURLKey is the Postgres DSN, required when RepositoryBackendKey
	// is "postgres" and ignored otherwise.
	DatabaseURLKey = "DATABASE_URL"
	// RepositoryBackendKey selects "inmemory" (default) or "postgres".
	RepositoryBackendKey = "REPOSITORY_BACKEND"
)

var vip *viper.Viper

// ChainSettings is one entry of the CHAIN_ID_TO_SETTINGS document: the
// wiring a single chain's Chain context is built from, plus the RPC
// endpoint its on-chain oracle reads through.
type ChainSettings struct {
	ChainID                    int64    `json:"chainId"`
	RPCURL                     string   `json:"rpcUrl"`
	ExchangeAddress            string   `json:"exchangeAddress"`
	ERC20ProxyAddress          string   `json:"erc20ProxyAddress"`
	ProtocolFeeTokenAddress    string   `json:"protocolFeeTokenAddress,omitempty"`
	CoordinatorContractAddress string   `json:"coordinatorContractAddress"`
	CoordinatorDomainVersion   string   `json:"coordinatorDomainVersion"`
	FeeRecipientPrivateKeys    []string `json:"feeRecipientPrivateKeys"`
	SelectiveDelayMS           *int64   `json:"selectiveDelayMs,omitempty"`
	ExpirationDurationSeconds  *int64   `json:"expirationDurationSeconds,omitempty"`
	PersistTimeoutSeconds      *int64   `json:"persistTimeoutSeconds,omitempty"`
}

// Init loads a local .env file (if present, following the corpus's dev
// convenience convention), then populates viper from the environment
// under the COORDINATOR_ prefix.
func Init() error {
	_ = godotenv.Load()

	vip = viper.New()
	vip.SetEnvPrefix("COORDINATOR")
	vip.AutomaticEnv()
	// Bound by its full name: under the prefix alone it would be read from
	// COORDINATOR_COORDINATOR_CONFIG.
	_ = vip.BindEnv(ConfigFileKey, ConfigFileKey)

	vip.SetDefault(HTTPPortKey, "8080")
	vip.SetDefault(LogLevelKey, "info")
	vip.SetDefault(SelectiveDelayMSKey, 0)
	vip.SetDefault(ExpirationDurationSecondsKey, 3600)
	vip.SetDefault(PersistTimeoutSecondsKey, 30)
	vip.SetDefault(RepositoryBackendKey, "inmemory")

	if !vip.IsSet(ConfigFileKey) {
		return fmt.Errorf("missing %s: path to the chain-id-to-settings document", ConfigFileKey)
	}
	return nil
}

func GetString(key string) string          { return vip.GetString(key) }
func GetInt(key string) int                { return vip.GetInt(key) }
func GetInt64(key string) int64            { return vip.GetInt64(key) }
func GetDuration(key string) time.Duration { return vip.GetDuration(key) }
func GetBool(key string) bool              { return vip.GetBool(key) }

// LoadChainSettings reads and decodes the document named by
// COORDINATOR_CONFIG into one ChainSettings entry per served chain.
func LoadChainSettings() ([]ChainSettings, error) {
	path := GetString(ConfigFileKey)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var settings []ChainSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if len(settings) == 0 {
		return nil, fmt.Errorf("config: %s lists no chains", path)
	}
	return settings, nil
}
