// Package config loads the service configuration from a JSON file layered
// with environment variable overrides, the way the teacher's config
// package does for the crawler.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the top-level application configuration.
type Config struct {
	Index     IndexConfig     `json:"index"`
	Registry  RegistryConfig  `json:"registry"`
	Cache     CacheConfig     `json:"cache"`
	Crawl     CrawlConfig     `json:"crawl"`
	Scheduler SchedulerConfig `json:"scheduler"`
	GitHost   GitHostConfig   `json:"git_host"`
	API       APIConfig       `json:"api"`
	Log       LogConfig       `json:"log"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// IndexConfig configures the Elasticsearch-backed search index service.
type IndexConfig struct {
	Addresses       []string      `json:"addresses"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	IndexName       string        `json:"index_name"`
	CommitBatchSize int           `json:"commit_batch_size"`
	RequestTimeout  time.Duration `json:"request_timeout_seconds"`
}

// RegistryConfig configures the Postgres-backed repository registry.
type RegistryConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Database          string `json:"database"`
	User              string `json:"user"`
	Password          string `json:"password"`
	MaxConnections    int    `json:"max_connections"`
	MinConnections    int    `json:"min_connections"`
	ConnectionTimeout int    `json:"connection_timeout_seconds"`
	MigrationsPath    string `json:"migrations_path"`
}

// CacheConfig configures the Redis facet/search cache.
type CacheConfig struct {
	Addr string        `json:"addr"`
	DB   int           `json:"db"`
	TTL  time.Duration `json:"ttl_seconds"`
}

// CrawlConfig tunes the shared crawl pipeline: the batching/size knobs
// plus the §4.3 inclusion/exclusion rule chain's configurable lists.
type CrawlConfig struct {
	WorkerCount         int      `json:"worker_count"`
	BatchSize           int      `json:"batch_size"`
	MinFileSizeBytes    int64    `json:"min_file_size_bytes"`
	MaxFileSizeBytes    int64    `json:"max_file_size_bytes"`
	WorkspaceDir        string   `json:"workspace_dir"`
	DirsToExclude       []string `json:"dirs_to_exclude"`
	FilesToExclude      []string `json:"files_to_exclude"`
	ExtensionsToExclude []string `json:"extensions_to_exclude"`
	MimesToExclude      []string `json:"mimes_to_exclude"`
	ReadableExtensions  []string `json:"readable_extensions"`
}

// SchedulerConfig tunes the cron-driven crawl scheduler.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
}

// GitHostConfig carries credentials and throttling for host-level
// GitHub/GitLab project discovery.
type GitHostConfig struct {
	GitHubToken          string `json:"github_token"`
	GitLabToken          string `json:"gitlab_token"`
	GitLabBaseURL        string `json:"gitlab_base_url"`
	MaxRequestsPerSecond int    `json:"max_requests_per_second"`
}

// APIConfig configures the REST surface.
type APIConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled        bool   `json:"enabled"`
	OTLPEndpoint   string `json:"otlp_endpoint"`
	ServiceName    string `json:"service_name"`
}

// Load reads configuration from the JSON file at path (if it exists),
// then applies environment variable overrides, loading a .env file first
// when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Absence of a .env file is not an error; ambient environment
		// variables still apply.
		_ = err
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Index: IndexConfig{
			IndexName:       "codesearch-documents",
			CommitBatchSize: 200,
			RequestTimeout:  30 * time.Second,
		},
		Registry: RegistryConfig{
			Host:              "localhost",
			Port:              5432,
			MaxConnections:    10,
			MinConnections:    1,
			ConnectionTimeout: 10,
			MigrationsPath:    "internal/registry/migrations",
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  30 * time.Second,
		},
		Crawl: CrawlConfig{
			WorkerCount:         4,
			BatchSize:           50,
			MinFileSizeBytes:    1,
			MaxFileSizeBytes:    1024 * 1024,
			WorkspaceDir:        "/tmp/codesearch-crawl",
			DirsToExclude:       []string{".git", ".svn", ".hg", "node_modules", "vendor", "dist", "build", "target"},
			FilesToExclude:      []string{"package-lock.json", "yarn.lock", "go.sum"},
			ExtensionsToExclude: []string{"lock", "min.js", "map"},
			MimesToExclude:      nil, // falls back to pipeline's default binary/archive/media set
			ReadableExtensions:  []string{"go", "py", "js", "ts", "java", "c", "h", "cpp", "rb", "rs", "md", "txt", "json", "yaml", "yml"},
		},
		Scheduler: SchedulerConfig{Enabled: true},
		GitHost: GitHostConfig{
			GitLabBaseURL:        "https://gitlab.com",
			MaxRequestsPerSecond: 5,
		},
		API: APIConfig{ListenAddr: ":8080"},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			ServiceName: "codesearch",
		},
	}
}

func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("ELASTICSEARCH_ADDR"); v != "" {
		c.Index.Addresses = parseCommaSeparated(v)
	}
	if v := os.Getenv("ELASTICSEARCH_USERNAME"); v != "" {
		c.Index.Username = v
	}
	if v := os.Getenv("ELASTICSEARCH_PASSWORD"); v != "" {
		c.Index.Password = v
	}

	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Registry.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Registry.Port = p
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Registry.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Registry.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Registry.Database = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Addr = v
	}

	if v := os.Getenv("CRAWL_WORKSPACE_DIR"); v != "" {
		c.Crawl.WorkspaceDir = v
	}
	if v := os.Getenv("CRAWL_DIRS_TO_EXCLUDE"); v != "" {
		c.Crawl.DirsToExclude = parseCommaSeparated(v)
	}
	if v := os.Getenv("CRAWL_FILES_TO_EXCLUDE"); v != "" {
		c.Crawl.FilesToExclude = parseCommaSeparated(v)
	}
	if v := os.Getenv("CRAWL_EXTENSIONS_TO_EXCLUDE"); v != "" {
		c.Crawl.ExtensionsToExclude = parseCommaSeparated(v)
	}
	if v := os.Getenv("CRAWL_MIMES_TO_EXCLUDE"); v != "" {
		c.Crawl.MimesToExclude = parseCommaSeparated(v)
	}
	if v := os.Getenv("CRAWL_READABLE_EXTENSIONS"); v != "" {
		c.Crawl.ReadableExtensions = parseCommaSeparated(v)
	}

	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.GitHost.GitHubToken = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		c.GitHost.GitLabToken = v
	}
	if v := os.Getenv("GITLAB_BASE_URL"); v != "" {
		c.GitHost.GitLabBaseURL = v
	}

	if v := os.Getenv("API_LISTEN_ADDR"); v != "" {
		c.API.ListenAddr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		c.Log.Pretty = v == "true"
	}

	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.Enabled = true
	}
}

// Validate checks required fields and fills in defaults for zero values
// that must not be zero.
func (c *Config) Validate() error {
	if len(c.Index.Addresses) == 0 {
		return fmt.Errorf("at least one elasticsearch address is required")
	}
	if c.Registry.Host == "" {
		c.Registry.Host = "localhost"
	}
	if c.Registry.Port == 0 {
		c.Registry.Port = 5432
	}
	if c.Crawl.WorkerCount < 1 {
		c.Crawl.WorkerCount = 4
	}
	if c.Crawl.BatchSize < 1 {
		c.Crawl.BatchSize = 50
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string for lib/pq.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Registry.User,
		c.Registry.Password,
		c.Registry.Host,
		c.Registry.Port,
		c.Registry.Database,
	)
}

func parseCommaSeparated(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
