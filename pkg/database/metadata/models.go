// Package metadata provides database models and operations for servers, jobs,
// storage profiles and backup history
package metadata

import (
	"fmt"
	"strings"
	"time"
)

// Engine is the database engine of a server profile
type Engine string

// Mode is how a server profile is reached
type Mode string

const (
	EngineMySQL      Engine = "mysql"
	EnginePostgreSQL Engine = "postgresql"

	ModeDirect Mode = "direct"
	ModeSSH    Mode = "ssh"
)

// Frequency values for jobs
const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// History status and kind values
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"

	KindBackup  = "backup"
	KindRestore = "restore"
)

// Storage kinds
const (
	StorageLocal  = "local"
	StorageFTP    = "ftp"
	StorageSFTP   = "sftp"
	StorageGDrive = "gdrive"
	StorageS3     = "s3"
)

// ParseConnectionType splits a combined connection type such as "ssh_postgresql".
// The legacy values "direct" and "ssh" mean MySQL.
func ParseConnectionType(s string) (Engine, Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "direct_mysql":
		return EngineMySQL, ModeDirect, nil
	case "ssh", "ssh_mysql":
		return EngineMySQL, ModeSSH, nil
	case "direct_postgresql":
		return EnginePostgreSQL, ModeDirect, nil
	case "ssh_postgresql":
		return EnginePostgreSQL, ModeSSH, nil
	}
	return "", "", fmt.Errorf("unsupported connection type: %s", s)
}

// ServerProfile represents a registered database endpoint
type ServerProfile struct {
	ID       string `gorm:"primaryKey;type:varchar(255)"`
	Name     string `gorm:"type:varchar(255);not null;uniqueIndex"`
	Engine   Engine `gorm:"type:varchar(20);not null"`
	Mode     Mode   `gorm:"type:varchar(20);not null;default:direct"`
	Host     string `gorm:"type:varchar(255);not null"`
	Port     int    `gorm:"not null"`
	Username string `gorm:"type:varchar(255);not null"`
	Password string `gorm:"type:varchar(255)"`
	Database string `gorm:"type:varchar(255)"` // empty means all databases

	SSHHost     string `gorm:"type:varchar(255)"`
	SSHPort     int
	SSHUsername string `gorm:"type:varchar(255)"`
	SSHPassword string `gorm:"type:varchar(255)"`
	SSHKeyFile  string `gorm:"type:varchar(1024)"`

	LastStatus        *bool
	LastStatusCheck   *time.Time
	LastStatusMessage string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for the ServerProfile model
func (ServerProfile) TableName() string {
	return "server_profiles"
}

// ConnectionType renders the combined connection type, e.g. "ssh_mysql"
func (s *ServerProfile) ConnectionType() string {
	return fmt.Sprintf("%s_%s", s.Mode, s.Engine)
}

// DefaultPort returns the engine's standard port
func (e Engine) DefaultPort() int {
	if e == EnginePostgreSQL {
		return 5432
	}
	return 3306
}

// StorageSettings is the transport configuration shared by storage profiles
// and the inline destination of a job
type StorageSettings struct {
	Kind            string `gorm:"type:varchar(20);not null;default:local"`
	Host            string `gorm:"type:varchar(255)"`
	Port            int
	Username        string `gorm:"type:varchar(255)"`
	Password        string `gorm:"type:varchar(255)"`
	Path            string `gorm:"type:varchar(1024)"`
	KeyFile         string `gorm:"type:varchar(1024)"`
	CredentialsFile string `gorm:"type:varchar(1024)"`
	FolderID        string `gorm:"type:varchar(255)"`
	Bucket          string `gorm:"type:varchar(255)"`
	Region          string `gorm:"type:varchar(100)"`
	Endpoint        string `gorm:"type:varchar(255)"`
	PathStyle       bool
}

// StorageProfile is a reusable named backup destination
type StorageProfile struct {
	ID        string          `gorm:"primaryKey;type:varchar(255)"`
	Name      string          `gorm:"type:varchar(255);not null;uniqueIndex"`
	IsDefault bool            `gorm:"not null;default:false;index"`
	Settings  StorageSettings `gorm:"embedded"`
	CreatedAt time.Time       `gorm:"not null"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName specifies the table name for the StorageProfile model
func (StorageProfile) TableName() string {
	return "storage_profiles"
}

// Job is a scheduled backup definition bound to one server
type Job struct {
	ID         string         `gorm:"primaryKey;type:varchar(255)"`
	Name       string         `gorm:"type:varchar(255);not null"`
	ServerID   string         `gorm:"type:varchar(255);not null;index"`
	Server     *ServerProfile `gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
	Frequency  string         `gorm:"type:varchar(20);not null"`
	TimeOfDay  string         `gorm:"type:varchar(5);not null;default:'01:00'"` // HH:MM
	DayOfWeek  *int           // time.Weekday, 0 = Sunday
	DayOfMonth *int
	Enabled    bool `gorm:"not null;index"`

	// RetainCount <= 0 keeps every artifact
	RetainCount   int    `gorm:"not null"`
	NotifyEnabled bool   `gorm:"not null;default:false"`
	NotifyEmail   string `gorm:"type:varchar(255)"`

	StorageProfileID *string         `gorm:"type:varchar(255);index"`
	StorageProfile   *StorageProfile `gorm:"foreignKey:StorageProfileID;constraint:OnDelete:SET NULL"`
	// Storage holds the inline destination. When a storage profile is set it
	// is a cache of the merged profile settings, refreshed before each run.
	Storage StorageSettings `gorm:"embedded;embeddedPrefix:storage_"`

	LastRun   *time.Time
	NextRun   time.Time `gorm:"not null;index"`
	ClaimedAt *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for the Job model
func (Job) TableName() string {
	return "jobs"
}

// HistoryRecord is one backup or restore attempt
type HistoryRecord struct {
	ID           string         `gorm:"primaryKey;type:varchar(255)"`
	ServerID     string         `gorm:"type:varchar(255);not null;index"`
	Server       *ServerProfile `gorm:"foreignKey:ServerID;constraint:OnDelete:CASCADE"`
	JobID        *string        `gorm:"type:varchar(255);index"` // nil for manual runs
	Kind         string         `gorm:"type:varchar(20);not null;default:backup"`
	Status       string         `gorm:"type:varchar(20);not null;index"`
	StartedAt    time.Time      `gorm:"not null;index"`
	CompletedAt  *time.Time     `gorm:"index"`
	FilePath     string         `gorm:"type:varchar(1024)"`
	FileSize     int64
	Description  string `gorm:"type:text"`
	ErrorMessage string `gorm:"type:text"`
}

// TableName specifies the table name for the HistoryRecord model
func (HistoryRecord) TableName() string {
	return "backup_history"
}

// Terminal reports whether the record has been closed
func (h *HistoryRecord) Terminal() bool {
	return h.Status == StatusSuccess || h.Status == StatusError
}
