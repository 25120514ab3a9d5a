package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full application configuration. It is built once by Load
// and handed to constructors; nothing reads it globally.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Index     IndexConfig     `mapstructure:"index"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	DataDir   string          `mapstructure:"data_dir"`
	LogDir    string          `mapstructure:"log_dir"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the relational store used for full records,
// ingest jobs and the embedded vector backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite, postgres
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxIdleConns    int `mapstructure:"max_idle_conns"`
	MaxOpenConns    int `mapstructure:"max_open_conns"`
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"` // minutes
}

// DSN returns the postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	Backend         string `mapstructure:"backend"` // qdrant, sql
	Collection      string `mapstructure:"collection"`
	StatsSampleSize int    `mapstructure:"stats_sample_size"`
}

// StorageConfig configures the optional raw payload archive.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"` // local, r2, s3, s3compatible
	LocalPath string `mapstructure:"local_path"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type IngestConfig struct {
	Workers            int     `mapstructure:"workers"`
	BatchSize          int     `mapstructure:"batch_size"`
	DuplicateThreshold float64 `mapstructure:"duplicate_threshold"`
	ArchiveRaw         bool    `mapstructure:"archive_raw"`
}

type SourcesConfig struct {
	Staging StagingConfig `mapstructure:"staging"`
}

type StagingConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// Load reads .env, the YAML config file (if any) and the environment.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// secrets and common deployment knobs
	_ = v.BindEnv("qdrant.host", "QDRANT_HOST")
	_ = v.BindEnv("qdrant.port", "QDRANT_PORT")
	_ = v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	_ = v.BindEnv("database.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	_ = v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = v.BindEnv("index.backend", "INDEX_BACKEND")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Embedding.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_dir", "./data/logs")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/newsagent.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 60)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)

	v.SetDefault("index.backend", "sql")
	v.SetDefault("index.collection", "news_content")
	v.SetDefault("index.stats_sample_size", 100)

	v.SetDefault("embedding.name", "default")
	v.SetDefault("embedding.provider", "hash")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimensions", 384)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "newsagent-raw")
	v.SetDefault("storage.local_path", "./data/archive")

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.batch_size", 20)
	v.SetDefault("ingest.duplicate_threshold", 0.85)
	v.SetDefault("ingest.archive_raw", false)

	v.SetDefault("sources.staging.base_path", "./data/staging")
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Index.Backend {
	case "qdrant", "sql":
	default:
		return fmt.Errorf("index: unknown backend %q", c.Index.Backend)
	}
	if c.Index.Collection == "" {
		return fmt.Errorf("index: collection is required")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Ingest.DuplicateThreshold < 0 || c.Ingest.DuplicateThreshold > 1 {
		return fmt.Errorf("ingest: duplicate_threshold must be within [0, 1]")
	}
	return c.Embedding.Validate()
}

// EnsureDirectories creates the data and log directories. It is safe to
// call repeatedly.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.LogDir, c.Sources.Staging.BasePath}
	if c.Database.Driver == "sqlite" && c.Database.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
