package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	StorageSQLite   = "sqlite"
	StorageMemory   = "memory"
	StorageDynamoDB = "dynamodb"
)

type Config struct {
	Server  ServerConfig
	Engine  EngineConfig
	Storage StorageConfig
	Query   QueryConfig
	MCP     MCPConfig
	Log     LogConfig

	// APIToken guards the HTTP API. It is a secret: never read from or
	// written to the config backend.
	APIToken string
}

type ServerConfig struct {
	Port           int
	AllowedOrigins string // comma-separated; "*" allows any origin
	RateLimitRPS   float64
	RateLimitBurst int
}

type EngineConfig struct {
	Command       string
	Script        string
	WorkDir       string
	AskTimeout    time.Duration
	ReportTimeout time.Duration
	MaxConcurrent int
	StderrLimit   int
}

type StorageConfig struct {
	Backend           string
	DataDir           string
	DynamoDBTable     string
	DynamoDBUserIndex string
	DynamoDBRegion    string
	DynamoDBEndpoint  string
}

type QueryConfig struct {
	MaxQuestionLength int
}

type MCPConfig struct {
	UserID string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           3000,
			AllowedOrigins: "*",
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Engine: EngineConfig{
			Command:       "python3",
			Script:        "backend/python/ai_astrology.py",
			AskTimeout:    60 * time.Second,
			ReportTimeout: 120 * time.Second,
			MaxConcurrent: 4,
			StderrLimit:   64 << 10,
		},
		Storage: StorageConfig{
			Backend:           StorageSQLite,
			DataDir:           defaultDataDir(),
			DynamoDBTable:     "karmgyan",
			DynamoDBUserIndex: "userId-createdAt",
		},
		Query: QueryConfig{
			MaxQuestionLength: 2000,
		},
		MCP: MCPConfig{
			UserID: "local",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Origins splits AllowedOrigins into a list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("server rate limits must not be negative")
	}
	if strings.TrimSpace(c.Engine.Command) == "" {
		return fmt.Errorf("engine.command must be set")
	}
	if c.Engine.AskTimeout <= 0 || c.Engine.ReportTimeout <= 0 {
		return fmt.Errorf("engine timeouts must be positive")
	}
	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf("engine.max_concurrent must be at least 1")
	}
	switch c.Storage.Backend {
	case StorageSQLite, StorageMemory:
	case StorageDynamoDB:
		if c.Storage.DynamoDBTable == "" || c.Storage.DynamoDBUserIndex == "" {
			return fmt.Errorf("storage.dynamodb_table and storage.dynamodb_user_index must be set for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (want %s, %s or %s)", c.Storage.Backend, StorageSQLite, StorageMemory, StorageDynamoDB)
	}
	if c.Query.MaxQuestionLength < 1 {
		return fmt.Errorf("query.max_question_length must be at least 1")
	}
	return nil
}

// Load reads configuration from the platform-native backend, then applies
// KARMGYAN_* environment overrides, then resolves the API token from
// KARMGYAN_API_TOKEN or the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.kalambet.karmgyan) and
// secrets live in the Keychain. Elsewhere the backend is a JSON file at
// $XDG_CONFIG_HOME/karmgyan/config.json and secrets a 0600 JSON file under
// $XDG_DATA_HOME/karmgyan.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), platformSecrets{})
}

// secretStore abstracts the keychain for testing.
type secretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.APIToken == "" {
		if tok, err := secrets.Get(secretService, apiTokenAccount); err == nil && tok != "" {
			cfg.APIToken = tok
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// platformSecrets reads and writes the OS secret store.
type platformSecrets struct{}

func (platformSecrets) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformSecrets) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}
