// Package mysql provides MySQL database provider implementation
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/common"
	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
)

// Provider implements the common.Provider interface for MySQL
type Provider struct {
	DumpBin   string
	ClientBin string
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "mysql"
}

func dsn(ep *connection.Endpoint) string {
	cfg := mysqldrv.NewConfig()
	cfg.User = ep.Username
	cfg.Passwd = ep.Password
	cfg.Net = "tcp"
	cfg.Addr = ep.Address()
	cfg.DBName = ep.Database
	cfg.Timeout = 10 * time.Second
	return cfg.FormatDSN()
}

// Connect opens a handle and pings the server
func (p *Provider) Connect(ctx context.Context, ep *connection.Endpoint) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn(ep))
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL server: %w", err)
	}
	return db, nil
}

// ServerVersion returns the result of SELECT VERSION()
func (p *Provider) ServerVersion(ctx context.Context, db *sql.DB) (string, error) {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query MySQL version: %w", err)
	}
	return version, nil
}

// DumpCommand builds the mysqldump invocation. Tunneled endpoints get the
// consistent, low-memory options used for remote production servers.
func (p *Provider) DumpCommand(ep *connection.Endpoint, database, target string) common.Command {
	args := []string{
		"--host=" + ep.Host,
		"--port=" + strconv.Itoa(ep.Port),
		"--user=" + ep.Username,
		"--password=" + ep.Password,
	}

	if ep.Tunneled {
		args = append(args,
			"--single-transaction",
			"--quick",
			"--compress",
			"--routines",
			"--triggers",
			"--events",
		)
	}

	if database != "" {
		args = append(args, database)
	} else {
		args = append(args, "--all-databases")
	}
	args = append(args, "--result-file="+target)

	return common.Command{Name: p.DumpBin, Args: args}
}

// RestoreCommand builds the mysql client invocation fed from the artifact
func (p *Provider) RestoreCommand(ep *connection.Endpoint, database, artifact string) common.Command {
	args := []string{
		"--host=" + ep.Host,
		"--port=" + strconv.Itoa(ep.Port),
		"--user=" + ep.Username,
		"--password=" + ep.Password,
	}
	if database != "" {
		args = append(args, database)
	}
	return common.Command{Name: p.ClientBin, Args: args, Stdin: artifact}
}

// RestoreTool names the mysql client binary
func (p *Provider) RestoreTool() string {
	return p.ClientBin
}

// Factory creates MySQL providers
type Factory struct{}

// Create returns a new Provider instance
func (f *Factory) Create(tools config.ToolsConfig) (common.Provider, error) {
	if tools.MySQLDump == "" || tools.MySQL == "" {
		return nil, fmt.Errorf("mysqldump and mysql binaries must be configured")
	}
	return &Provider{DumpBin: tools.MySQLDump, ClientBin: tools.MySQL}, nil
}

func init() {
	common.RegisterProvider("mysql", &Factory{})
}
