// Package postgresql provides PostgreSQL database provider implementation
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/common"
	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
)

// Provider implements the common.Provider interface for PostgreSQL
type Provider struct {
	DumpBin    string
	DumpAllBin string
	ClientBin  string
}

// Name returns the provider name
func (p *Provider) Name() string {
	return "postgresql"
}

// maintenanceDB is used when the profile is not scoped to one database
func maintenanceDB(ep *connection.Endpoint) string {
	if ep.Database != "" {
		return ep.Database
	}
	return "postgres"
}

// dsn renders a postgres:// URL so credentials need no key=value quoting
func dsn(ep *connection.Endpoint) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(ep.Username, ep.Password),
		Host:     net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)),
		Path:     "/" + maintenanceDB(ep),
		RawQuery: url.Values{"sslmode": {"disable"}, "connect_timeout": {"10"}}.Encode(),
	}
	return u.String()
}

// Connect opens a handle and pings the server
func (p *Provider) Connect(ctx context.Context, ep *connection.Endpoint) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn(ep))
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL server: %w", err)
	}
	return db, nil
}

// ServerVersion returns the result of SELECT version()
func (p *Provider) ServerVersion(ctx context.Context, db *sql.DB) (string, error) {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query PostgreSQL version: %w", err)
	}
	return version, nil
}

func passwordEnv(ep *connection.Endpoint) []string {
	return []string{"PGPASSWORD=" + ep.Password}
}

// DumpCommand uses pg_dump for a single database and pg_dumpall for the whole cluster
func (p *Provider) DumpCommand(ep *connection.Endpoint, database, target string) common.Command {
	port := strconv.Itoa(ep.Port)

	if database == "" {
		return common.Command{
			Name: p.DumpAllBin,
			Args: []string{"-h", ep.Host, "-p", port, "-U", ep.Username, "-f", target},
			Env:  passwordEnv(ep),
		}
	}

	return common.Command{
		Name: p.DumpBin,
		Args: []string{
			"-h", ep.Host,
			"-p", port,
			"-U", ep.Username,
			"-F", "p", // plain SQL
			"-b",
			"-v",
			"-f", target,
			database,
		},
		Env: passwordEnv(ep),
	}
}

// RestoreCommand feeds the plain SQL artifact to psql
func (p *Provider) RestoreCommand(ep *connection.Endpoint, database, artifact string) common.Command {
	db := database
	if db == "" {
		db = "postgres"
	}
	return common.Command{
		Name: p.ClientBin,
		Args: []string{
			"-h", ep.Host,
			"-p", strconv.Itoa(ep.Port),
			"-U", ep.Username,
			"-d", db,
			"-v", "ON_ERROR_STOP=1",
			"-f", artifact,
		},
		Env: passwordEnv(ep),
	}
}

// RestoreTool names the psql binary
func (p *Provider) RestoreTool() string {
	return p.ClientBin
}

// Factory creates PostgreSQL providers
type Factory struct{}

// Create returns a new Provider instance
func (f *Factory) Create(tools config.ToolsConfig) (common.Provider, error) {
	if tools.PgDump == "" || tools.PgDumpAll == "" || tools.Psql == "" {
		return nil, fmt.Errorf("pg_dump, pg_dumpall and psql binaries must be configured")
	}
	return &Provider{DumpBin: tools.PgDump, DumpAllBin: tools.PgDumpAll, ClientBin: tools.Psql}, nil
}

func init() {
	common.RegisterProvider("postgresql", &Factory{})
}
