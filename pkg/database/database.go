// Package database runs dumps, restores and connectivity probes against
// MySQL and PostgreSQL servers, directly or through an SSH tunnel
package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/common"
	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

// Engine dispatches operations to the provider registered for a server's engine
type Engine struct {
	resolver     *connection.Resolver
	providers    map[string]common.Provider
	runner       common.Runner
	probeTimeout time.Duration
}

// NewEngine builds an engine over every registered provider. Providers register
// themselves when their package is imported.
func NewEngine(cfg *config.AppConfig, runner common.Runner) (*Engine, error) {
	providers, err := common.CreateAll(cfg.Tools)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no database providers were registered")
	}
	if runner == nil {
		runner = common.ExecRunner{}
	}
	log.Printf("database: providers %s", strings.Join(common.Registered(), ", "))

	return &Engine{
		resolver:     connection.NewResolver(cfg.Timeouts.SSH),
		providers:    providers,
		runner:       runner,
		probeTimeout: cfg.Timeouts.Probe,
	}, nil
}

func (e *Engine) provider(engine metadata.Engine) (common.Provider, error) {
	p, ok := e.providers[string(engine)]
	if !ok {
		return nil, outcome.Fail(outcome.Configuration, "Unsupported database engine: %q", engine)
	}
	return p, nil
}

// ArtifactPath names a new dump file <UTC timestamp>_<server>[_<job>].sql in dir,
// adding a numeric suffix if the name is already taken
func ArtifactPath(dir string, now time.Time, serverName, jobName string) string {
	base := now.UTC().Format("20060102_150405") + "_" + SanitizeName(serverName)
	if jobName != "" {
		base += "_" + SanitizeName(jobName)
	}

	path := filepath.Join(dir, base+".sql")
	for i := 2; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.sql", base, i))
	}
}

// SanitizeName replaces path separators, spaces and colons in a server or job
// name as it appears in artifact names
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', ':':
			return '_'
		}
		return r
	}, name)
}

// toolFailure classifies an error returned by the runner
func toolFailure(cmd common.Command, err error) *outcome.Failure {
	if errors.Is(err, exec.ErrNotFound) {
		return outcome.Fail(outcome.MissingDependency,
			"%s is not installed. Install the database client tools on the server.", cmd.Name)
	}
	var exitErr *common.ExitError
	if errors.As(err, &exitErr) {
		return &outcome.Failure{Kind: outcome.ToolExecution, Message: exitErr.Error(), Err: err}
	}
	return outcome.Wrap(outcome.ToolExecution, err, cmd.Name+" failed")
}

// Dump writes the server (or its configured database) to target
func (e *Engine) Dump(ctx context.Context, p connection.Params, target string) outcome.Outcome {
	prov, err := e.provider(p.Engine)
	if err != nil {
		return outcome.FromError(err)
	}

	var result outcome.Outcome
	err = e.resolver.With(ctx, p, func(ep *connection.Endpoint) error {
		db, err := prov.Connect(ctx, ep)
		if err != nil {
			return outcome.Wrap(outcome.Connectivity, err, "")
		}
		db.Close()

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return outcome.Wrap(outcome.Internal, err, "Cannot create backup directory")
		}

		cmd := prov.DumpCommand(ep, p.Database, target)
		log.Printf("database: running %s", cmd)
		if _, err := e.runner.Run(ctx, cmd); err != nil {
			os.Remove(target)
			return toolFailure(cmd, err)
		}

		info, err := os.Stat(target)
		if err != nil {
			return outcome.Fail(outcome.ToolExecution, "%s finished but produced no artifact at %s", cmd.Name, target)
		}

		scope := p.Database
		if scope == "" {
			scope = "all databases"
		}
		result = outcome.Success{
			Path:    target,
			Size:    info.Size(),
			Message: fmt.Sprintf("Dump of %s completed: %s", scope, filepath.Base(target)),
		}
		return nil
	})
	if err != nil {
		return outcome.FromError(err)
	}
	return result
}

// Restore streams artifact back into the server
func (e *Engine) Restore(ctx context.Context, p connection.Params, artifact string) outcome.Outcome {
	if artifact == "" {
		return outcome.Fail(outcome.Precondition, "No backup file specified")
	}
	if _, err := os.Stat(artifact); err != nil {
		return outcome.Fail(outcome.Precondition, "Backup file does not exist: %s", artifact)
	}
	if err := p.Validate(); err != nil {
		return outcome.FromError(err)
	}

	prov, err := e.provider(p.Engine)
	if err != nil {
		return outcome.FromError(err)
	}
	if _, err := e.runner.LookPath(prov.RestoreTool()); err != nil {
		return outcome.Fail(outcome.MissingDependency,
			"Error: %s is not installed. Install the %s client on the server.", prov.RestoreTool(), prov.Name())
	}

	var result outcome.Outcome
	err = e.resolver.With(ctx, p, func(ep *connection.Endpoint) error {
		db, err := prov.Connect(ctx, ep)
		if err != nil {
			return outcome.Wrap(outcome.Connectivity, err, "")
		}
		db.Close()

		cmd := prov.RestoreCommand(ep, p.Database, artifact)
		log.Printf("database: running %s < %s", cmd, artifact)
		if _, err := e.runner.Run(ctx, cmd); err != nil {
			return toolFailure(cmd, err)
		}

		result = outcome.Success{
			Path:    artifact,
			Message: fmt.Sprintf("Restore completed from %s", filepath.Base(artifact)),
		}
		return nil
	})
	if err != nil {
		return outcome.FromError(err)
	}
	return result
}

// TestConnection validates p, probes the port and reports the server version
func (e *Engine) TestConnection(ctx context.Context, p connection.Params) outcome.Outcome {
	if err := p.Validate(); err != nil {
		return outcome.FromError(err)
	}
	prov, err := e.provider(p.Engine)
	if err != nil {
		return outcome.FromError(err)
	}

	var result outcome.Outcome
	err = e.resolver.With(ctx, p, func(ep *connection.Endpoint) error {
		conn, err := net.DialTimeout("tcp", net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)), e.probeTimeout)
		if err != nil {
			return outcome.Fail(outcome.Connectivity, "Port %d is closed on server %s", p.Port, p.Host)
		}
		conn.Close()

		probeCtx, cancel := context.WithTimeout(ctx, 2*e.probeTimeout)
		defer cancel()

		db, err := prov.Connect(probeCtx, ep)
		if err != nil {
			return outcome.Wrap(outcome.Connectivity, err, "Connection failed")
		}
		defer db.Close()

		version, err := prov.ServerVersion(probeCtx, db)
		if err != nil {
			return outcome.Wrap(outcome.Connectivity, err, "Connection failed")
		}

		via := ""
		if ep.Tunneled {
			via = " via SSH tunnel"
		}
		result = outcome.Success{Message: fmt.Sprintf("Connection successful%s. Server version: %s", via, version)}
		return nil
	})
	if err != nil {
		return outcome.FromError(err)
	}
	return result
}
