// Package connection resolves a server profile into a host/port a native client
// can reach, opening an SSH tunnel when the profile requires one.
package connection

import (
	"strings"

	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// Params is everything needed to reach a database server
type Params struct {
	Engine   metadata.Engine
	Mode     metadata.Mode
	Host     string
	Port     int
	Username string
	Password string
	Database string

	SSHHost     string
	SSHPort     int
	SSHUsername string
	SSHPassword string
	SSHKeyFile  string
}

// FromProfile copies the connection fields of a stored profile
func FromProfile(p *metadata.ServerProfile) Params {
	return Params{
		Engine:      p.Engine,
		Mode:        p.Mode,
		Host:        p.Host,
		Port:        p.Port,
		Username:    p.Username,
		Password:    p.Password,
		Database:    p.Database,
		SSHHost:     p.SSHHost,
		SSHPort:     p.SSHPort,
		SSHUsername: p.SSHUsername,
		SSHPassword: p.SSHPassword,
		SSHKeyFile:  p.SSHKeyFile,
	}
}

// Tunneled reports whether the server is reached through SSH
func (p Params) Tunneled() bool {
	return p.Mode == metadata.ModeSSH
}

// Validate checks the parameters without touching the network
func (p Params) Validate() error {
	switch p.Engine {
	case metadata.EngineMySQL, metadata.EnginePostgreSQL:
	default:
		return outcome.Fail(outcome.Configuration, "Unsupported database engine: %q", p.Engine)
	}

	switch p.Mode {
	case metadata.ModeDirect, metadata.ModeSSH:
	default:
		return outcome.Fail(outcome.Configuration, "Unsupported connection mode: %q", p.Mode)
	}

	if strings.TrimSpace(p.Host) == "" || p.Username == "" {
		return outcome.Fail(outcome.Configuration, "Missing database data: hostname or username")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return outcome.Fail(outcome.Configuration, "Invalid database port: %d", p.Port)
	}

	if p.Tunneled() {
		if p.SSHHost == "" || p.SSHPort <= 0 || p.SSHUsername == "" {
			return outcome.Fail(outcome.Configuration, "Missing SSH data: hostname, port or username")
		}
		if p.SSHPassword == "" && p.SSHKeyFile == "" {
			return outcome.Fail(outcome.Configuration, "No SSH authentication method (password or key)")
		}
	}
	return nil
}
