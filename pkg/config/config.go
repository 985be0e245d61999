// Package config provides configuration loading and management for GoSQLKeeper
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig controls the tick, the worker pool and the dispatch guards
type SchedulerConfig struct {
	TickSchedule       string        `yaml:"tickSchedule"`
	Workers            int           `yaml:"workers"`
	DedupWindow        time.Duration `yaml:"dedupWindow"`
	ClaimJobs          bool          `yaml:"claimJobs"`
	ClaimExpiry        time.Duration `yaml:"claimExpiry"`
	DispatchRetries    int           `yaml:"dispatchRetries"`
	DispatchRetryDelay time.Duration `yaml:"dispatchRetryDelay"`
	MonthlySearchLimit int           `yaml:"monthlySearchLimit"`
}

// ToolsConfig names the native client binaries
type ToolsConfig struct {
	MySQLDump string `yaml:"mysqldump"`
	MySQL     string `yaml:"mysql"`
	PgDump    string `yaml:"pgDump"`
	PgDumpAll string `yaml:"pgDumpAll"`
	Psql      string `yaml:"psql"`
}

// TimeoutsConfig holds sub-operation timeouts
type TimeoutsConfig struct {
	Probe    time.Duration `yaml:"probe"`
	SSH      time.Duration `yaml:"ssh"`
	FTP      time.Duration `yaml:"ftp"`
	Transfer time.Duration `yaml:"transfer"`
}

// MetadataDBConfig defines MySQL connection settings for the metadata database
type MetadataDBConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime string `yaml:"connMaxLifetime"`
	AutoMigrate     bool   `yaml:"autoMigrate"`
}

// SMTPConfig defines the outgoing mail server used for notifications
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	StartTLS bool   `yaml:"startTLS"`
}

// MetricsConfig defines metrics server settings
type MetricsConfig struct {
	Port string `yaml:"port"`
}

// AdminConfig defines admin API server settings
type AdminConfig struct {
	Port string `yaml:"port"`
}

// AppConfig contains the complete application configuration
type AppConfig struct {
	Debug           bool             `yaml:"debug"`
	BackupDirectory string           `yaml:"backupDirectory"`
	Timezone        string           `yaml:"timezone"`
	Scheduler       SchedulerConfig  `yaml:"scheduler"`
	Tools           ToolsConfig      `yaml:"tools"`
	Timeouts        TimeoutsConfig   `yaml:"timeouts"`
	MetadataDB      MetadataDBConfig `yaml:"metadata_database"`
	SMTP            SMTPConfig       `yaml:"smtp"`
	Metrics         MetricsConfig    `yaml:"metrics"`
	Admin           AdminConfig      `yaml:"admin"`
	ConfigFile      string           `yaml:"-"`
}

// Default returns a configuration with every default applied
func Default() *AppConfig {
	cfg := &AppConfig{}
	setDefaults(cfg)
	return cfg
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variables, in that order.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	setDefaults(cfg)

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		log.Printf("Loading configuration file %s...", path)
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}

	log.Println("Loading configuration from environment variables...")
	loadFromEnvironment(cfg)
	return cfg, nil
}

func loadFromFile(cfg *AppConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnvironment overlays environment variables on cfg
func loadFromEnvironment(cfg *AppConfig) {
	cfg.Debug = parseEnvBool("DEBUG", cfg.Debug)
	cfg.BackupDirectory = getEnvOrDefault("BACKUP_DIR", cfg.BackupDirectory)
	cfg.Timezone = getEnvOrDefault("TIMEZONE", cfg.Timezone)

	// Scheduler
	cfg.Scheduler.TickSchedule = getEnvOrDefault("SCHEDULER_TICK", cfg.Scheduler.TickSchedule)
	cfg.Scheduler.Workers = parseEnvInt("SCHEDULER_WORKERS", cfg.Scheduler.Workers)
	cfg.Scheduler.DedupWindow = parseEnvDuration("SCHEDULER_DEDUP_WINDOW", cfg.Scheduler.DedupWindow)
	cfg.Scheduler.ClaimJobs = parseEnvBool("SCHEDULER_CLAIM_JOBS", cfg.Scheduler.ClaimJobs)
	cfg.Scheduler.ClaimExpiry = parseEnvDuration("SCHEDULER_CLAIM_EXPIRY", cfg.Scheduler.ClaimExpiry)
	cfg.Scheduler.DispatchRetries = parseEnvInt("SCHEDULER_DISPATCH_RETRIES", cfg.Scheduler.DispatchRetries)
	cfg.Scheduler.DispatchRetryDelay = parseEnvDuration("SCHEDULER_DISPATCH_RETRY_DELAY", cfg.Scheduler.DispatchRetryDelay)
	cfg.Scheduler.MonthlySearchLimit = parseEnvInt("SCHEDULER_MONTHLY_SEARCH_LIMIT", cfg.Scheduler.MonthlySearchLimit)

	// Native tools
	cfg.Tools.MySQLDump = getEnvOrDefault("MYSQLDUMP_BIN", cfg.Tools.MySQLDump)
	cfg.Tools.MySQL = getEnvOrDefault("MYSQL_BIN", cfg.Tools.MySQL)
	cfg.Tools.PgDump = getEnvOrDefault("PG_DUMP_BIN", cfg.Tools.PgDump)
	cfg.Tools.PgDumpAll = getEnvOrDefault("PG_DUMPALL_BIN", cfg.Tools.PgDumpAll)
	cfg.Tools.Psql = getEnvOrDefault("PSQL_BIN", cfg.Tools.Psql)

	// Timeouts
	cfg.Timeouts.Probe = parseEnvDuration("PROBE_TIMEOUT", cfg.Timeouts.Probe)
	cfg.Timeouts.SSH = parseEnvDuration("SSH_TIMEOUT", cfg.Timeouts.SSH)
	cfg.Timeouts.FTP = parseEnvDuration("FTP_TIMEOUT", cfg.Timeouts.FTP)
	cfg.Timeouts.Transfer = parseEnvDuration("TRANSFER_TIMEOUT", cfg.Timeouts.Transfer)

	// Metadata database
	cfg.MetadataDB.Host = getEnvOrDefault("METADATA_DB_HOST", cfg.MetadataDB.Host)
	cfg.MetadataDB.Port = parseEnvInt("METADATA_DB_PORT", cfg.MetadataDB.Port)
	cfg.MetadataDB.Username = getEnvOrDefault("METADATA_DB_USERNAME", cfg.MetadataDB.Username)
	cfg.MetadataDB.Password = getEnvOrDefault("METADATA_DB_PASSWORD", cfg.MetadataDB.Password)
	cfg.MetadataDB.Database = getEnvOrDefault("METADATA_DB_DATABASE", cfg.MetadataDB.Database)
	cfg.MetadataDB.MaxOpenConns = parseEnvInt("METADATA_DB_MAX_OPEN_CONNS", cfg.MetadataDB.MaxOpenConns)
	cfg.MetadataDB.MaxIdleConns = parseEnvInt("METADATA_DB_MAX_IDLE_CONNS", cfg.MetadataDB.MaxIdleConns)
	cfg.MetadataDB.ConnMaxLifetime = getEnvOrDefault("METADATA_DB_CONN_MAX_LIFETIME", cfg.MetadataDB.ConnMaxLifetime)
	cfg.MetadataDB.AutoMigrate = parseEnvBool("METADATA_DB_AUTO_MIGRATE", cfg.MetadataDB.AutoMigrate)

	// SMTP
	cfg.SMTP.Host = getEnvOrDefault("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = parseEnvInt("SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.Username = getEnvOrDefault("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = getEnvOrDefault("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = getEnvOrDefault("SMTP_FROM", cfg.SMTP.From)
	cfg.SMTP.StartTLS = parseEnvBool("SMTP_STARTTLS", cfg.SMTP.StartTLS)

	cfg.Metrics.Port = getEnvOrDefault("METRICS_PORT", cfg.Metrics.Port)
	cfg.Admin.Port = getEnvOrDefault("ADMIN_PORT", cfg.Admin.Port)
}

// setDefaults ensures all config fields have reasonable default values
func setDefaults(cfg *AppConfig) {
	if cfg.BackupDirectory == "" {
		cfg.BackupDirectory = "/backups"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	s := &cfg.Scheduler
	if s.TickSchedule == "" {
		s.TickSchedule = "@every 1m"
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.DedupWindow == 0 {
		s.DedupWindow = 30 * time.Second
	}
	if s.ClaimExpiry == 0 {
		s.ClaimExpiry = 6 * time.Hour
		s.ClaimJobs = true
	}
	if s.DispatchRetries == 0 {
		s.DispatchRetries = 2
	}
	if s.DispatchRetryDelay == 0 {
		s.DispatchRetryDelay = 30 * time.Second
	}
	if s.MonthlySearchLimit == 0 {
		s.MonthlySearchLimit = 24
	}

	t := &cfg.Tools
	if t.MySQLDump == "" {
		t.MySQLDump = "mysqldump"
	}
	if t.MySQL == "" {
		t.MySQL = "mysql"
	}
	if t.PgDump == "" {
		t.PgDump = "pg_dump"
	}
	if t.PgDumpAll == "" {
		t.PgDumpAll = "pg_dumpall"
	}
	if t.Psql == "" {
		t.Psql = "psql"
	}

	if cfg.Timeouts.Probe == 0 {
		cfg.Timeouts.Probe = 5 * time.Second
	}
	if cfg.Timeouts.SSH == 0 {
		cfg.Timeouts.SSH = 10 * time.Second
	}
	if cfg.Timeouts.FTP == 0 {
		cfg.Timeouts.FTP = 30 * time.Second
	}
	if cfg.Timeouts.Transfer == 0 {
		cfg.Timeouts.Transfer = 5 * time.Minute
	}

	m := &cfg.MetadataDB
	if m.Host == "" {
		m.Host = "localhost"
	}
	if m.Port == 0 {
		m.Port = 3306
	}
	if m.Database == "" {
		m.Database = "gosqlkeeper"
	}
	if m.MaxOpenConns == 0 {
		m.MaxOpenConns = 10
	}
	if m.MaxIdleConns == 0 {
		m.MaxIdleConns = 5
	}
	if m.ConnMaxLifetime == "" {
		m.ConnMaxLifetime = "5m"
	}

	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.Metrics.Port == "" {
		cfg.Metrics.Port = "9090"
	}
	if cfg.Admin.Port == "" {
		cfg.Admin.Port = "8080"
	}
}

// Location resolves the configured time zone
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Helper functions for environment variables

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseEnvBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "1", "t", "true", "yes", "on", "enabled":
		return true
	case "0", "f", "false", "no", "off", "disabled":
		return false
	default:
		log.Printf("Error parsing %s as bool: %q. Using default value: %t", key, value, defaultValue)
		return defaultValue
	}
}

func parseEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Error parsing %s as int: %v. Using default value: %d", key, err, defaultValue)
		return defaultValue
	}
	return n
}

func parseEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Error parsing %s as duration: %v. Using default value: %s", key, err, defaultValue)
		return defaultValue
	}
	return d
}

// Display outputs the current configuration in a readable format
// while masking sensitive information
func (c *AppConfig) Display() {
	log.Println("----- General -----")
	log.Printf("Debug: %t", c.Debug)
	log.Printf("Backup Directory: %s", c.BackupDirectory)
	log.Printf("Timezone: %s", c.Timezone)
	if c.ConfigFile != "" {
		log.Printf("Config File: %s", c.ConfigFile)
	}

	log.Println("\n----- Scheduler -----")
	log.Printf("Tick: %s", c.Scheduler.TickSchedule)
	log.Printf("Workers: %d", c.Scheduler.Workers)
	log.Printf("Dedup Window: %s", c.Scheduler.DedupWindow)
	log.Printf("Claim Jobs: %t (expiry %s)", c.Scheduler.ClaimJobs, c.Scheduler.ClaimExpiry)
	log.Printf("Dispatch Retries: %d every %s", c.Scheduler.DispatchRetries, c.Scheduler.DispatchRetryDelay)
	log.Printf("Monthly Search Limit: %d months", c.Scheduler.MonthlySearchLimit)

	log.Println("\n----- Metadata Database -----")
	log.Printf("Host: %s:%d", c.MetadataDB.Host, c.MetadataDB.Port)
	log.Printf("Database: %s", c.MetadataDB.Database)
	log.Printf("Username: %s", c.MetadataDB.Username)
	log.Printf("Password: %s", maskSensitiveInfo(c.MetadataDB.Password))
	log.Printf("Auto Migrate: %t", c.MetadataDB.AutoMigrate)

	log.Println("\n----- Notifications -----")
	if c.SMTP.Host == "" {
		log.Println("SMTP not configured, notifications disabled")
	} else {
		log.Printf("SMTP: %s:%d (STARTTLS %t)", c.SMTP.Host, c.SMTP.Port, c.SMTP.StartTLS)
		log.Printf("From: %s", c.SMTP.From)
		log.Printf("Password: %s", maskSensitiveInfo(c.SMTP.Password))
	}

	log.Println("\n----- Servers -----")
	log.Printf("Admin Port: %s", c.Admin.Port)
	log.Printf("Metrics Port: %s", c.Metrics.Port)
}

// maskSensitiveInfo masks sensitive information for logging
func maskSensitiveInfo(info string) string {
	if info == "" {
		return "[not set]"
	}

	if len(info) <= 4 {
		return "****"
	}

	return info[:2] + "****" + info[len(info)-2:]
}

// Validate validates the configuration
func (c *AppConfig) Validate() error {
	if c.BackupDirectory == "" {
		return fmt.Errorf("backup directory must be specified")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler workers must be positive, got %d", c.Scheduler.Workers)
	}
	if c.Scheduler.DispatchRetries < 0 {
		return fmt.Errorf("dispatch retries cannot be negative")
	}
	if c.Scheduler.MonthlySearchLimit < 12 {
		return fmt.Errorf("monthly search limit must cover at least 12 months, got %d", c.Scheduler.MonthlySearchLimit)
	}
	if c.MetadataDB.Host == "" {
		return fmt.Errorf("metadata database host is required")
	}
	if c.MetadataDB.Username == "" {
		return fmt.Errorf("metadata database username is required")
	}
	if c.MetadataDB.Database == "" {
		return fmt.Errorf("metadata database name is required")
	}
	if c.MetadataDB.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(c.MetadataDB.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid metadata database connection max lifetime: %v", err)
		}
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		return fmt.Errorf("smtp from address is required when smtp host is set")
	}
	return nil
}
