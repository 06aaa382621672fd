package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server     ServerConfig              `json:"server"`
	Generation GenerationConfig          `json:"generation"`
	Embedding  EmbeddingConfig           `json:"embedding"`
	Retrieval  RetrievalConfig           `json:"retrieval"`
	History    HistoryConfig             `json:"history"`
	Relay      RelayConfig               `json:"relay"`
	Redis      RedisConfig               `json:"redis"`
	Databases  map[string]DatabaseConfig `json:"databases"`
	Providers  map[string]ProviderConfig `json:"providers"`
}

type ServerConfig struct {
	Address              string   `json:"address" env:"SERVER_ADDRESS"`
	Debug                bool     `json:"debug" env:"KINECHAT_DEBUG"`
	DebugEnv             bool     `json:"debug_env" env:"KINECHAT_DEBUG_ENV"`
	AllowOrigins         []string `json:"allow_origins" env:"CORS_ALLOW_ORIGINS"`
	KeepAliveSeconds     int      `json:"keepalive_seconds" env:"SSE_KEEPALIVE_SECONDS"`
	ShutdownGraceSeconds int      `json:"shutdown_grace_seconds" env:"SHUTDOWN_GRACE_SECONDS"`
}

// GenerationConfig selects the answer model. Provider "gemini" uses the
// Gemini fields; any other provider is looked up in Config.Providers.
type GenerationConfig struct {
	Provider        string  `json:"provider" env:"GENERATION_PROVIDER"`
	APIKey          string  `json:"api_key" env:"GOOGLE_GEMINI_API_KEY"`
	BaseURL         string  `json:"base_url" env:"GEMINI_BASE_URL"`
	APIVersion      string  `json:"api_version" env:"GEMINI_API_VERSION"`
	Model           string  `json:"model" env:"GEMINI_MODEL"`
	TimeoutSeconds  int     `json:"timeout_seconds" env:"GENERATION_TIMEOUT_SECONDS"`
	Temperature     float32 `json:"temperature" env:"GENERATION_TEMPERATURE"`
	TopK            float32 `json:"top_k" env:"GENERATION_TOP_K"`
	TopP            float32 `json:"top_p" env:"GENERATION_TOP_P"`
	MaxOutputTokens int32   `json:"max_output_tokens" env:"GENERATION_MAX_OUTPUT_TOKENS"`
}

type EmbeddingConfig struct {
	APIKey         string `json:"api_key" env:"GEMINI_EMBEDDING_API_KEY"`
	BaseURL        string `json:"base_url" env:"GEMINI_BASE_URL"`
	APIVersion     string `json:"api_version" env:"GEMINI_EMBEDDING_API_VERSION"`
	Model          string `json:"model" env:"GEMINI_EMBEDDING_MODEL"`
	Dimension      int    `json:"dimension" env:"EMBEDDING_DIMENSION"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"EMBEDDING_TIMEOUT_SECONDS"`
}

// RetrievalConfig picks the vector store: supabase, pgvector, memory or none.
type RetrievalConfig struct {
	Backend        string  `json:"backend" env:"RETRIEVAL_BACKEND"`
	SupabaseURL    string  `json:"supabase_url" env:"SUPABASE_URL"`
	SupabaseKey    string  `json:"supabase_key" env:"SUPABASE_KEY"`
	RPCName        string  `json:"rpc_name" env:"SUPABASE_MATCH_RPC"`
	PostgresDSN    string  `json:"postgres_dsn" env:"DATABASE_URL"`
	Table          string  `json:"table" env:"PGVECTOR_TABLE"`
	SeedFile       string  `json:"seed_file" env:"RETRIEVAL_SEED_FILE"`
	Threshold      float64 `json:"threshold" env:"RETRIEVAL_THRESHOLD"`
	TopK           int     `json:"top_k" env:"RETRIEVAL_TOP_K"`
	TimeoutSeconds int     `json:"timeout_seconds" env:"RETRIEVAL_TIMEOUT_SECONDS"`
}

// HistoryConfig picks the turn store: memory, sqlite, mysql or redis.
type HistoryConfig struct {
	Backend         string `json:"backend" env:"HISTORY_BACKEND"`
	Window          int    `json:"window" env:"HISTORY_WINDOW"`
	MaxTurns        int    `json:"max_turns" env:"HISTORY_MAX_TURNS"`
	TTLMinutes      int    `json:"ttl_minutes" env:"HISTORY_TTL_MINUTES"`
	PersistFailures *bool  `json:"persist_failures"`
	Preamble        string `json:"preamble" env:"ASSISTANT_PREAMBLE"`
}

type RelayConfig struct {
	Bridge  bool   `json:"bridge" env:"RELAY_BRIDGE"`
	Channel string `json:"channel" env:"RELAY_CHANNEL"`
}

type RedisConfig struct {
	Host     string `json:"host" env:"REDIS_HOST"`
	Port     int    `json:"port" env:"REDIS_PORT"`
	Username string `json:"username" env:"REDIS_USERNAME"`
	Password string `json:"password" env:"REDIS_PASSWORD"`
	DB       int    `json:"db" env:"REDIS_DB"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

const defaultPath = "config.json"

// Load reads configuration from the provided path (defaults to config.json),
// then overlays environment variables. A missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	cfg.resolvePaths(filepath.Dir(absPath))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		if port := os.Getenv("PORT"); port != "" {
			c.Server.Address = ":" + port
		} else {
			c.Server.Address = ":8090"
		}
	}
	if len(c.Server.AllowOrigins) == 0 {
		c.Server.AllowOrigins = []string{"*"}
	}
	if c.Server.KeepAliveSeconds <= 0 {
		c.Server.KeepAliveSeconds = 25
	}
	if c.Server.ShutdownGraceSeconds <= 0 {
		c.Server.ShutdownGraceSeconds = 10
	}

	g := &c.Generation
	if g.Provider == "" {
		g.Provider = "gemini"
	}
	if g.APIVersion == "" {
		g.APIVersion = "v1"
	}
	if g.Model == "" {
		g.Model = "gemini-2.0-flash-exp"
	}
	if g.TimeoutSeconds <= 0 {
		g.TimeoutSeconds = 30
	}
	if g.Temperature == 0 {
		g.Temperature = 0.7
	}
	if g.TopK == 0 {
		g.TopK = 40
	}
	if g.TopP == 0 {
		g.TopP = 0.95
	}
	if g.MaxOutputTokens == 0 {
		g.MaxOutputTokens = 1024
	}

	e := &c.Embedding
	if e.APIKey == "" {
		e.APIKey = g.APIKey
	}
	if e.APIVersion == "" {
		e.APIVersion = "v1beta"
	}
	if e.Model == "" {
		e.Model = "text-embedding-004"
	}
	if e.Dimension <= 0 {
		e.Dimension = 768
	}
	if e.TimeoutSeconds <= 0 {
		e.TimeoutSeconds = 30
	}

	r := &c.Retrieval
	if r.Backend == "" {
		switch {
		case r.SupabaseURL != "" || r.SupabaseKey != "":
			r.Backend = "supabase"
		case r.PostgresDSN != "":
			r.Backend = "pgvector"
		case r.SeedFile != "":
			r.Backend = "memory"
		default:
			r.Backend = "none"
		}
	}
	if r.RPCName == "" {
		r.RPCName = "match_documents"
	}
	if r.Table == "" {
		r.Table = "documents"
	}
	if r.Threshold == 0 {
		r.Threshold = 0.5
	}
	if r.TopK <= 0 {
		r.TopK = 10
	}
	if r.TimeoutSeconds <= 0 {
		r.TimeoutSeconds = 10
	}

	h := &c.History
	if h.Backend == "" {
		h.Backend = "memory"
	}
	if h.Window <= 0 {
		h.Window = 5
	}
	if h.MaxTurns <= 0 {
		h.MaxTurns = 200
	}
	if h.TTLMinutes <= 0 {
		h.TTLMinutes = 24 * 60
	}
	if h.PersistFailures == nil {
		persist := true
		h.PersistFailures = &persist
	}

	if c.Relay.Channel == "" {
		c.Relay.Channel = "kinechat:relay"
	}
}

func (c *Config) resolvePaths(base string) {
	if c.Retrieval.SeedFile != "" && !filepath.IsAbs(c.Retrieval.SeedFile) {
		c.Retrieval.SeedFile = filepath.Join(base, c.Retrieval.SeedFile)
	}
	for name, db := range c.Databases {
		if isSQLite(name) && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(base, db.DSN)
			c.Databases[name] = db
		}
	}
}

// Validate rejects settings the server cannot start with. Missing
// credentials are not rejected: those dependencies degrade at runtime.
func (c *Config) Validate() error {
	switch c.Retrieval.Backend {
	case "supabase", "pgvector", "memory", "none":
	default:
		return fmt.Errorf("unsupported retrieval backend: %s", c.Retrieval.Backend)
	}
	switch strings.ToLower(c.History.Backend) {
	case "memory", "redis", "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported history backend: %s", c.History.Backend)
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval threshold must be within [0,1], got %v", c.Retrieval.Threshold)
	}
	if c.Generation.Provider != "gemini" {
		if _, ok := c.Providers[c.Generation.Provider]; !ok {
			return fmt.Errorf("provider %s not configured", c.Generation.Provider)
		}
	}
	return nil
}

// PersistFailedTurns reports whether apologies are written to history.
func (h HistoryConfig) PersistFailedTurns() bool {
	return h.PersistFailures == nil || *h.PersistFailures
}

// UsesRedis reports whether any configured component needs a redis connection.
func (c *Config) UsesRedis() bool {
	return c.History.Backend == "redis" || c.Relay.Bridge
}

func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

func (e EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (r RetrievalConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (h HistoryConfig) TTL() time.Duration {
	return time.Duration(h.TTLMinutes) * time.Minute
}

func (s ServerConfig) KeepAlive() time.Duration {
	return time.Duration(s.KeepAliveSeconds) * time.Second
}

func (s ServerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

func isSQLite(name string) bool {
	name = strings.ToLower(name)
	return name == "sqlite" || name == "sqlite3"
}
