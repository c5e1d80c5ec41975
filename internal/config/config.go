package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all configuration
type Config struct {
	HTTPAddr      string
	WorkspaceRoot string
	Debug         bool
	Paths         PathsConfig
	Archive       ArchiveConfig
	Heartbeat     HeartbeatConfig
	Tracking      TrackingConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Admin         AdminConfig
	Log           LogConfig
}

// PathsConfig holds the JSON document locations, resolved against WorkspaceRoot
type PathsConfig struct {
	Profiles    string
	Queue       string
	MemoryDir   string
	ActivityLog string
	Preferences string
	Archive     string
}

// ArchiveConfig holds task archive configuration
type ArchiveConfig struct {
	MySQLDSN       string
	RetentionHours int
	IntervalSec    int
}

// HeartbeatConfig holds heartbeat trigger configuration. Command is the argv
// of the trigger, split with shell quoting rules.
type HeartbeatConfig struct {
	Command        []string
	Workers        int
	TimeoutSec     int
	MinIntervalSec int
}

// TrackingConfig holds staleness and log limits
type TrackingConfig struct {
	StaleAfterSec      int
	StarvedAfterSec    int
	SweepIntervalSec   int
	ActivityMaxEntries int
}

// RedisConfig holds Redis configuration. An empty Addr disables the publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration. An empty Secret leaves routes open.
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// AdminConfig holds the login account
type AdminConfig struct {
	User         string
	PasswordHash string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// lookup reads one key from the configured source, "" when unset
type lookup func(envKey, iniSection, iniKey string) string

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	return build(func(envKey, _, _ string) string {
		return os.Getenv(envKey)
	})
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}

	// ENV > INI > default
	return build(func(envKey, iniSection, iniKey string) string {
		if value := os.Getenv(envKey); value != "" {
			return value
		}
		return cfgFile.Section(iniSection).Key(iniKey).String()
	})
}

func build(get lookup) (*Config, error) {
	str := func(envKey, section, key, def string) string {
		if v := get(envKey, section, key); v != "" {
			return v
		}
		return def
	}
	num := func(envKey, section, key string, def int) int {
		if v := get(envKey, section, key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	flag := func(envKey, section, key string, def bool) bool {
		if v := get(envKey, section, key); v != "" {
			return v == "1" || v == "true"
		}
		return def
	}

	root := str("WORKSPACE_ROOT", "app", "workspace_root", "")
	if root == "" {
		return nil, fmt.Errorf("WORKSPACE_ROOT is required")
	}

	command := []string{"node", filepath.Join(root, "subagent-heartbeat.js")}
	if line := get("HEARTBEAT_COMMAND", "heartbeat", "command"); line != "" {
		argv, err := shlex.Split(line)
		if err != nil {
			return nil, fmt.Errorf("invalid HEARTBEAT_COMMAND: %w", err)
		}
		command = argv
	}

	cfg := &Config{
		HTTPAddr:      str("HTTP_ADDR", "http", "addr", ":8080"),
		WorkspaceRoot: root,
		Debug:         flag("DEBUG", "app", "debug", false),
		Paths: PathsConfig{
			Profiles:    str("PROFILES_PATH", "paths", "profiles", "subagent-profiles.json"),
			Queue:       str("QUEUE_PATH", "paths", "queue", filepath.Join("skills", "subagent-system", "task-queue.json")),
			MemoryDir:   str("MEMORY_DIR", "paths", "memory_dir", filepath.Join("memory", "subagents")),
			ActivityLog: str("ACTIVITY_LOG_PATH", "paths", "activity_log", filepath.Join("memory", "subagents", "activity-log.json")),
			Preferences: str("PREFERENCES_PATH", "paths", "preferences", filepath.Join("memory", "dashboard-preferences.json")),
			Archive:     str("ARCHIVE_PATH", "paths", "archive", filepath.Join("memory", "subagents", "task-archive.db")),
		},
		Archive: ArchiveConfig{
			MySQLDSN:       str("ARCHIVE_MYSQL_DSN", "archive", "mysql_dsn", ""),
			RetentionHours: num("ARCHIVE_RETENTION_HOURS", "archive", "retention_hours", 24),
			IntervalSec:    num("ARCHIVE_INTERVAL_SEC", "archive", "interval_sec", 600),
		},
		Heartbeat: HeartbeatConfig{
			Command:        command,
			Workers:        num("HEARTBEAT_WORKERS", "heartbeat", "workers", 2),
			TimeoutSec:     num("HEARTBEAT_TIMEOUT_SEC", "heartbeat", "timeout_sec", 60),
			MinIntervalSec: num("HEARTBEAT_MIN_INTERVAL_SEC", "heartbeat", "min_interval_sec", 5),
		},
		Tracking: TrackingConfig{
			StaleAfterSec:      num("STALE_AFTER_SEC", "tracking", "stale_after_sec", 120),
			StarvedAfterSec:    num("STARVED_AFTER_SEC", "tracking", "starved_after_sec", 120),
			SweepIntervalSec:   num("STALE_SWEEP_INTERVAL_SEC", "tracking", "sweep_interval_sec", 30),
			ActivityMaxEntries: num("ACTIVITY_MAX_ENTRIES", "tracking", "activity_max_entries", 100),
		},
		Redis: RedisConfig{
			Addr:     str("REDIS_ADDR", "redis", "addr", ""),
			Password: str("REDIS_PASS", "redis", "pass", ""),
			DB:       num("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        str("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: num("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        str("JWT_ISSUER", "jwt", "issuer", "agentdash"),
		},
		Admin: AdminConfig{
			User:         str("ADMIN_USER", "admin", "user", ""),
			PasswordHash: str("ADMIN_PASSWORD_HASH", "admin", "password_hash", ""),
		},
		Log: LogConfig{
			Level:  str("LOG_LEVEL", "log", "level", "info"),
			Format: str("LOG_FORMAT", "log", "format", "text"),
		},
	}

	cfg.Paths.Profiles = cfg.resolve(cfg.Paths.Profiles)
	cfg.Paths.Queue = cfg.resolve(cfg.Paths.Queue)
	cfg.Paths.MemoryDir = cfg.resolve(cfg.Paths.MemoryDir)
	cfg.Paths.ActivityLog = cfg.resolve(cfg.Paths.ActivityLog)
	cfg.Paths.Preferences = cfg.resolve(cfg.Paths.Preferences)
	cfg.Paths.Archive = cfg.resolve(cfg.Paths.Archive)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolve makes relative paths relative to the workspace root
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.WorkspaceRoot, p)
}

func (c *Config) validate() error {
	if c.Tracking.StaleAfterSec <= 0 {
		return fmt.Errorf("STALE_AFTER_SEC must be positive")
	}
	if c.Tracking.StarvedAfterSec <= 0 {
		return fmt.Errorf("STARVED_AFTER_SEC must be positive")
	}
	if c.Tracking.ActivityMaxEntries <= 0 {
		return fmt.Errorf("ACTIVITY_MAX_ENTRIES must be positive")
	}
	if c.JWT.Secret != "" && (c.Admin.User == "" || c.Admin.PasswordHash == "") {
		return fmt.Errorf("ADMIN_USER and ADMIN_PASSWORD_HASH are required when JWT_SECRET is set")
	}
	return nil
}
