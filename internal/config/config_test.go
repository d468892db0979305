package config

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend.
type memBackend struct {
	data map[string]string
}

func newMemBackend(kv map[string]string) *memBackend {
	if kv == nil {
		kv = make(map[string]string)
	}
	return &memBackend{data: kv}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return 0, false, nil
	}
	i, err := strconv.Atoi(v)
	return i, true, err
}

func (m *memBackend) SetString(key, val string) error {
	m.data[key] = val
	return nil
}

func (m *memBackend) SetInt(key string, val int) error {
	m.data[key] = strconv.Itoa(val)
	return nil
}

func (m *memBackend) Delete(key string) error {
	delete(m.data, key)
	return nil
}

// mockKeychain is a test double for the secret store.
type mockKeychain struct {
	value  string
	err    error
	stored map[string]string
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	return m.value, m.err
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.stored == nil {
		m.stored = make(map[string]string)
	}
	m.stored[service+"/"+account] = value
	return nil
}

// clearEnv blanks every KARMGYAN_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(nil), &mockKeychain{err: errors.New("none")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Server.AllowedOrigins != "*" {
		t.Errorf("Server.AllowedOrigins = %q, want *", cfg.Server.AllowedOrigins)
	}
	if cfg.Engine.Command != "python3" {
		t.Errorf("Engine.Command = %q, want python3", cfg.Engine.Command)
	}
	if cfg.Engine.AskTimeout != 60*time.Second || cfg.Engine.ReportTimeout != 120*time.Second {
		t.Errorf("timeouts = %v/%v, want 60s/120s", cfg.Engine.AskTimeout, cfg.Engine.ReportTimeout)
	}
	if cfg.Storage.Backend != StorageSQLite {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Query.MaxQuestionLength != 2000 {
		t.Errorf("Query.MaxQuestionLength = %d, want 2000", cfg.Query.MaxQuestionLength)
	}
	if cfg.MCP.UserID != "local" {
		t.Errorf("MCP.UserID = %q, want local", cfg.MCP.UserID)
	}
	if cfg.APIToken != "" {
		t.Errorf("APIToken = %q, want empty", cfg.APIToken)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)
	b := newMemBackend(map[string]string{
		"server.port":           "8080",
		"server.rate_limit_rps": "2.5",
		"engine.ask_timeout":    "15s",
		"storage.backend":       "memory",
	})

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.RateLimitRPS != 2.5 {
		t.Errorf("RateLimitRPS = %v, want 2.5", cfg.Server.RateLimitRPS)
	}
	if cfg.Engine.AskTimeout != 15*time.Second {
		t.Errorf("AskTimeout = %v, want 15s", cfg.Engine.AskTimeout)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Errorf("Storage.Backend = %q, want memory", cfg.Storage.Backend)
	}
}

func TestUnparsableBackendValueKeepsDefault(t *testing.T) {
	clearEnv(t)
	b := newMemBackend(map[string]string{"engine.report_timeout": "soon"})

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.ReportTimeout != 120*time.Second {
		t.Errorf("ReportTimeout = %v, want default 120s", cfg.Engine.ReportTimeout)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("KARMGYAN_PORT", "9000")
	t.Setenv("KARMGYAN_STORAGE_BACKEND", "dynamodb")
	t.Setenv("KARMGYAN_DYNAMODB_TABLE", "astro")
	t.Setenv("KARMGYAN_API_TOKEN", "env-token")
	b := newMemBackend(map[string]string{"server.port": "8080"})

	cfg, err := loadWith(b, &mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != StorageDynamoDB || cfg.Storage.DynamoDBTable != "astro" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.APIToken != "env-token" {
		t.Errorf("APIToken = %q, want env-token", cfg.APIToken)
	}
}

func TestEnvOverride_BadValueIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("KARMGYAN_PORT", "not-a-port")

	cfg, err := loadWith(newMemBackend(nil), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
}

func TestAPITokenFromKeychain(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend(nil), &mockKeychain{value: "keychain-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.APIToken != "keychain-token" {
		t.Errorf("APIToken = %q, want keychain-token", cfg.APIToken)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"port":            {"server.port": "70000"},
		"backend":         {"storage.backend": "postgres"},
		"max concurrency": {"engine.max_concurrent": "0"},
		"question length": {"query.max_question_length": "0"},
		"dynamo table":    {"storage.backend": "dynamodb", "storage.dynamodb_table": ""},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			if _, err := loadWith(newMemBackend(kv), &mockKeychain{}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	s := ServerConfig{AllowedOrigins: " https://a.example, ,https://b.example "}
	got := s.Origins()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("Origins() = %v", got)
	}
}

func TestSetKey(t *testing.T) {
	b := newMemBackend(nil)

	if err := setKey(b, "server.port", "4100"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if b.data["server.port"] != "4100" {
		t.Errorf("server.port = %q, want 4100", b.data["server.port"])
	}
	if err := setKey(b, "engine.ask_timeout", "90s"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "engine.ask_timeout", "forever"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, "api.token", "x"); err == nil {
		t.Error("expected error setting a secret")
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.APIToken = "hunter2"
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "api.token" || ki.Value == "hunter2" {
			t.Fatalf("ShowAll leaked secret: %+v", ki)
		}
	}
	for _, k := range ValidKeys() {
		if k == "api.token" {
			t.Fatal("ValidKeys lists a secret")
		}
	}
}

func TestEnsureAPIToken(t *testing.T) {
	kc := &mockKeychain{}
	cfg := defaults()

	tok, err := ensureAPIToken(&cfg, kc)
	if err != nil {
		t.Fatalf("ensureAPIToken: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64", len(tok))
	}
	if kc.stored[secretService+"/"+apiTokenAccount] != tok {
		t.Error("token was not persisted")
	}

	again, err := ensureAPIToken(&cfg, kc)
	if err != nil {
		t.Fatalf("ensureAPIToken: %v", err)
	}
	if again != tok {
		t.Error("existing token was replaced")
	}
}
