// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Startup rebuild modes.
const (
	RebuildNone  = "none"
	RebuildEmpty = "empty"
	RebuildAll   = "all"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig
	Logger  LoggerConfig
	Server  ServerConfig
	Backend BackendConfig
	Search  SearchConfig
	Rebuild RebuildConfig
	Content ContentConfig

	// Definitions declares the logical indices and their populator sources.
	Definitions *Definitions
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
	DataPath    string // Root for index, descriptor and lock files
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        // Server port (default: 8080)
	ReadTimeout  time.Duration // HTTP read timeout (default: 15s)
	WriteTimeout time.Duration // HTTP write timeout (default: 30s)
	IdleTimeout  time.Duration // HTTP idle timeout (default: 60s)

	// ShutdownTimeout bounds the graceful drain of in-flight requests (default: 30s)
	ShutdownTimeout time.Duration

	// AllowedOrigins lists CORS origins for the admin API (default: all)
	AllowedOrigins []string
}

// BackendConfig holds search backend configuration.
type BackendConfig struct {
	// InMemory keeps physical indices and descriptors in memory only (default: false)
	InMemory bool
	// BatchSize is the maximum number of operations per bulk request (default: 500)
	BatchSize int
}

// SearchConfig holds query translation configuration.
type SearchConfig struct {
	// DefaultOperator joins adjacent clauses without an explicit connector (AND or OR)
	DefaultOperator string
	// PhraseSlop is the slop used by free-text search (default: 2)
	PhraseSlop int
	// InventoryCacheSize bounds the number of cached field inventories (default: 128)
	InventoryCacheSize int
	// Analyzer is the analyzer for analyzed text fields (default: text)
	Analyzer string
}

// RebuildConfig holds rebuild orchestration configuration.
type RebuildConfig struct {
	// OnStartup selects which indices are rebuilt after boot: none, empty or all (default: empty)
	OnStartup string
	// Delay before a background rebuild starts (default: 0s)
	Delay time.Duration
	// Workers is the number of background rebuild workers (default: 1)
	Workers int
	// QueueSize bounds pending background work (default: 16)
	QueueSize int
	// TriggersPerMinute limits rebuild requests per client over HTTP (default: 6)
	TriggersPerMinute int
}

// ContentConfig holds the content source configuration.
type ContentConfig struct {
	// DatabasePath is the SQLite content database (default: {data}/content.db)
	DatabasePath string
}

// LoadConfig loads configuration from the process command line.
func LoadConfig() (*Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	env := fs.String("env", "", "Environment (development, staging, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	dataPath := fs.String("data-path", "", "Base path for index data")
	envFile := fs.String("env-file", ".env", "Path to .env file")
	indexesFile := fs.String("indexes-file", "", "Path to the index definitions file (yaml or toml)")

	// Server flags
	serverPort := fs.String("port", "", "Server port (default: 8080)")
	readTimeout := fs.String("read-timeout", "", "HTTP read timeout (default: 15s)")
	writeTimeout := fs.String("write-timeout", "", "HTTP write timeout (default: 30s)")
	idleTimeout := fs.String("idle-timeout", "", "HTTP idle timeout (default: 60s)")
	shutdownTimeout := fs.String("shutdown-timeout", "", "Graceful shutdown timeout (default: 30s)")
	allowedOrigins := fs.String("cors-origins", "", "Comma-separated CORS origins (default: *)")

	// Backend flags
	inMemory := fs.String("in-memory", "", "Keep indices in memory only (default: false)")
	batchSize := fs.String("batch-size", "", "Bulk request size (default: 500)")

	// Search flags
	defaultOperator := fs.String("default-operator", "", "Implicit query connector, AND or OR (default: AND)")
	phraseSlop := fs.String("phrase-slop", "", "Free-text phrase slop (default: 2)")
	inventoryCache := fs.String("inventory-cache-size", "", "Cached field inventories (default: 128)")
	analyzer := fs.String("analyzer", "", "Analyzer for text fields (default: text)")

	// Rebuild flags
	rebuildOnStartup := fs.String("rebuild-on-startup", "", "Startup rebuild: none, empty or all (default: empty)")
	rebuildDelay := fs.String("rebuild-delay", "", "Delay before background rebuilds (default: 0s)")
	rebuildWorkers := fs.String("rebuild-workers", "", "Background rebuild workers (default: 1)")
	rebuildRate := fs.String("rebuild-triggers-per-minute", "", "Rebuild requests per client per minute (default: 6)")

	contentDB := fs.String("content-db", "", "Path to the SQLite content database")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
			DataPath:    getConfigValue(*dataPath, "DATA_PATH", ""),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Port:           getConfigValue(*serverPort, "SERVER_PORT", "8080"),
			AllowedOrigins: splitList(getConfigValue(*allowedOrigins, "CORS_ALLOWED_ORIGINS", "")),
		},
		Backend: BackendConfig{
			InMemory:  getBoolConfigValue(*inMemory, "BACKEND_IN_MEMORY", false),
			BatchSize: getIntConfigValue(*batchSize, "BACKEND_BATCH_SIZE", 500),
		},
		Search: SearchConfig{
			DefaultOperator:    strings.ToUpper(getConfigValue(*defaultOperator, "SEARCH_DEFAULT_OPERATOR", "AND")),
			PhraseSlop:         getIntConfigValue(*phraseSlop, "SEARCH_PHRASE_SLOP", 2),
			InventoryCacheSize: getIntConfigValue(*inventoryCache, "SEARCH_INVENTORY_CACHE_SIZE", 128),
			Analyzer:           getConfigValue(*analyzer, "SEARCH_ANALYZER", "text"),
		},
		Rebuild: RebuildConfig{
			OnStartup:         strings.ToLower(getConfigValue(*rebuildOnStartup, "REBUILD_ON_STARTUP", RebuildEmpty)),
			Workers:           getIntConfigValue(*rebuildWorkers, "REBUILD_WORKERS", 1),
			QueueSize:         getIntConfigValue("", "REBUILD_QUEUE_SIZE", 16),
			TriggersPerMinute: getIntConfigValue(*rebuildRate, "REBUILD_TRIGGERS_PER_MINUTE", 6),
		},
		Content: ContentConfig{
			DatabasePath: getConfigValue(*contentDB, "CONTENT_DB", ""),
		},
	}

	var err error
	if cfg.Server.ReadTimeout, err = getDurationConfigValue(*readTimeout, "SERVER_READ_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = getDurationConfigValue(*writeTimeout, "SERVER_WRITE_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = getDurationConfigValue(*idleTimeout, "SERVER_IDLE_TIMEOUT", "60s"); err != nil {
		return nil, err
	}
	if cfg.Server.ShutdownTimeout, err = getDurationConfigValue(*shutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.Rebuild.Delay, err = getDurationConfigValue(*rebuildDelay, "REBUILD_DELAY", "0s"); err != nil {
		return nil, err
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	defs, err := LoadDefinitions(getConfigValue(*indexesFile, "INDEXES_FILE", ""))
	if err != nil {
		return nil, fmt.Errorf("load index definitions: %w", err)
	}
	cfg.Definitions = defs

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.App.DataPath == "" && !c.Backend.InMemory {
		return errors.New("data path cannot be empty unless the backend runs in memory")
	}

	if c.Backend.BatchSize <= 0 {
		return fmt.Errorf("invalid batch size: %d (must be positive)", c.Backend.BatchSize)
	}

	if c.Search.DefaultOperator != "AND" && c.Search.DefaultOperator != "OR" {
		return fmt.Errorf("invalid default operator: %s (must be AND or OR)", c.Search.DefaultOperator)
	}

	if c.Search.PhraseSlop < 0 {
		return fmt.Errorf("invalid phrase slop: %d", c.Search.PhraseSlop)
	}

	switch c.Rebuild.OnStartup {
	case RebuildNone, RebuildEmpty, RebuildAll:
	default:
		return fmt.Errorf("invalid startup rebuild mode: %s (must be none, empty, or all)", c.Rebuild.OnStartup)
	}

	if c.Rebuild.Workers < 1 {
		return fmt.Errorf("invalid rebuild workers: %d (must be at least 1)", c.Rebuild.Workers)
	}

	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty and defaultPath is provided, uses the default.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// expandPaths resolves the data path (default ~/IndexBridge/data) and the
// content database inside it.
func (c *Config) expandPaths() error {
	if c.App.DataPath == "" && c.Backend.InMemory {
		return nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	dataPath, err := expandPath(c.App.DataPath, filepath.Join(homeDir, "IndexBridge", "data"))
	if err != nil {
		return fmt.Errorf("invalid data path: %w", err)
	}
	c.App.DataPath = dataPath

	contentPath, err := expandPath(c.Content.DatabasePath, filepath.Join(dataPath, "content.db"))
	if err != nil {
		return fmt.Errorf("invalid content database path: %w", err)
	}
	c.Content.DatabasePath = contentPath

	return nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// getIntConfigValue returns an int from flag, env var, or default.
func getIntConfigValue(flagValue, envKey string, defaultValue int) int {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(strValue, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// getDurationConfigValue parses a duration from flag, env var, or default.
func getDurationConfigValue(flagValue, envKey, defaultValue string) (time.Duration, error) {
	strValue := getConfigValue(flagValue, envKey, defaultValue)
	d, err := time.ParseDuration(strValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", strings.ToLower(envKey), strValue, err)
	}
	return d, nil
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		// Env vars take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
