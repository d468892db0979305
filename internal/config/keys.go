package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "KARMGYAN_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.allowed_origins", typ: kString, env: "KARMGYAN_ALLOWED_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.AllowedOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AllowedOrigins },
	},
	{
		key: "server.rate_limit_rps", typ: kFloat, env: "KARMGYAN_RATE_LIMIT_RPS",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitRPS = v.(float64) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitRPS },
	},
	{
		key: "server.rate_limit_burst", typ: kInt, env: "KARMGYAN_RATE_LIMIT_BURST",
		apply:   func(cfg *Config, v any) { cfg.Server.RateLimitBurst = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.RateLimitBurst },
	},
	{
		key: "engine.command", typ: kString, env: "KARMGYAN_ENGINE_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Engine.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Command },
	},
	{
		key: "engine.script", typ: kString, env: "KARMGYAN_ENGINE_SCRIPT",
		apply:   func(cfg *Config, v any) { cfg.Engine.Script = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.Script },
	},
	{
		key: "engine.work_dir", typ: kString, env: "KARMGYAN_ENGINE_WORK_DIR",
		apply:   func(cfg *Config, v any) { cfg.Engine.WorkDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.WorkDir },
	},
	{
		key: "engine.ask_timeout", typ: kDuration, env: "KARMGYAN_ASK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engine.AskTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Engine.AskTimeout },
	},
	{
		key: "engine.report_timeout", typ: kDuration, env: "KARMGYAN_REPORT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Engine.ReportTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Engine.ReportTimeout },
	},
	{
		key: "engine.max_concurrent", typ: kInt, env: "KARMGYAN_ENGINE_MAX_CONCURRENT",
		apply:   func(cfg *Config, v any) { cfg.Engine.MaxConcurrent = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.MaxConcurrent },
	},
	{
		key: "engine.stderr_limit", typ: kInt, env: "KARMGYAN_ENGINE_STDERR_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Engine.StderrLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Engine.StderrLimit },
	},
	{
		key: "storage.backend", typ: kString, env: "KARMGYAN_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "KARMGYAN_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.dynamodb_table", typ: kString, env: "KARMGYAN_DYNAMODB_TABLE",
		apply:   func(cfg *Config, v any) { cfg.Storage.DynamoDBTable = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DynamoDBTable },
	},
	{
		key: "storage.dynamodb_user_index", typ: kString, env: "KARMGYAN_DYNAMODB_USER_INDEX",
		apply:   func(cfg *Config, v any) { cfg.Storage.DynamoDBUserIndex = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DynamoDBUserIndex },
	},
	{
		key: "storage.dynamodb_region", typ: kString, env: "KARMGYAN_DYNAMODB_REGION",
		apply:   func(cfg *Config, v any) { cfg.Storage.DynamoDBRegion = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DynamoDBRegion },
	},
	{
		key: "storage.dynamodb_endpoint", typ: kString, env: "KARMGYAN_DYNAMODB_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Storage.DynamoDBEndpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DynamoDBEndpoint },
	},
	{
		key: "query.max_question_length", typ: kInt, env: "KARMGYAN_MAX_QUESTION_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Query.MaxQuestionLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Query.MaxQuestionLength },
	},
	{
		key: "mcp.user_id", typ: kString, env: "KARMGYAN_MCP_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.MCP.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.UserID },
	},
	{
		key: "log.level", typ: kString, env: "KARMGYAN_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "api.token", typ: kString, env: "KARMGYAN_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.APIToken },
	},
}

// parseValue converts raw text to the Go type of typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (s.typ != kString && raw == "") {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable config value, using default", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment override, using default", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
