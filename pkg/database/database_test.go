package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/database/common"
	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
	"github.com/supporttools/GoSQLKeeper/pkg/database/metadata"
	"github.com/supporttools/GoSQLKeeper/pkg/outcome"
)

type fakeProvider struct {
	connectErr error
}

func (f *fakeProvider) Name() string { return "mysql" }

func (f *fakeProvider) Connect(ctx context.Context, ep *connection.Endpoint) (*sql.DB, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	db, _, err := sqlmock.New()
	return db, err
}

func (f *fakeProvider) ServerVersion(ctx context.Context, db *sql.DB) (string, error) {
	return "8.0.36", nil
}

func (f *fakeProvider) DumpCommand(ep *connection.Endpoint, database, target string) common.Command {
	return common.Command{Name: "mysqldump", Args: []string{database, "--result-file=" + target}}
}

func (f *fakeProvider) RestoreCommand(ep *connection.Endpoint, database, artifact string) common.Command {
	return common.Command{Name: "mysql", Args: []string{database}, Stdin: artifact}
}

func (f *fakeProvider) RestoreTool() string { return "mysql" }

// fakeRunner writes the dump target named by --result-file
type fakeRunner struct {
	err      error
	missing  bool
	commands []common.Command
}

func (f *fakeRunner) Run(ctx context.Context, c common.Command) (common.Result, error) {
	f.commands = append(f.commands, c)
	for _, a := range c.Args {
		if len(a) > len("--result-file=") && a[:len("--result-file=")] == "--result-file=" {
			if werr := os.WriteFile(a[len("--result-file="):], []byte("-- dump\n"), 0o644); werr != nil {
				return common.Result{}, werr
			}
		}
	}
	return common.Result{}, f.err
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	if f.missing {
		return "", exec.ErrNotFound
	}
	return "/usr/bin/" + name, nil
}

func newTestEngine(prov common.Provider, runner common.Runner) *Engine {
	return &Engine{
		resolver:     connection.NewResolver(time.Second),
		providers:    map[string]common.Provider{"mysql": prov},
		runner:       runner,
		probeTimeout: time.Second,
	}
}

func params() connection.Params {
	return connection.Params{
		Engine:   metadata.EngineMySQL,
		Mode:     metadata.ModeDirect,
		Host:     "db",
		Port:     3306,
		Username: "root",
		Password: "pw",
		Database: "shop",
	}
}

func TestDump_Success(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	e := newTestEngine(&fakeProvider{}, runner)

	target := filepath.Join(dir, "nested", "a.sql")
	res := e.Dump(context.Background(), params(), target)

	s, ok := res.(outcome.Success)
	require.True(t, ok, "expected success, got %v", res.Text())
	assert.Equal(t, target, s.Path)
	assert.Equal(t, int64(len("-- dump\n")), s.Size)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, "shop", runner.commands[0].Args[0])
}

func TestDump_PreCheckFailureSkipsTool(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestEngine(&fakeProvider{connectErr: errors.New("access denied")}, runner)

	res := e.Dump(context.Background(), params(), filepath.Join(t.TempDir(), "a.sql"))
	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.Connectivity, f.Kind)
	assert.Empty(t, runner.commands)
}

func TestDump_ToolFailureCarriesStderrAndRemovesPartial(t *testing.T) {
	runner := &fakeRunner{err: &common.ExitError{Command: "mysqldump", Code: 2, Stderr: "Got error: 1045"}}
	e := newTestEngine(&fakeProvider{}, runner)
	target := filepath.Join(t.TempDir(), "a.sql")

	res := e.Dump(context.Background(), params(), target)
	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.ToolExecution, f.Kind)
	assert.Equal(t, "Got error: 1045", f.Message)
	assert.NoFileExists(t, target)
}

func TestDump_UnsupportedEngine(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, &fakeRunner{})
	p := params()
	p.Engine = metadata.EnginePostgreSQL

	res := e.Dump(context.Background(), p, filepath.Join(t.TempDir(), "a.sql"))
	assert.False(t, res.OK())
	assert.Equal(t, outcome.Configuration, outcome.KindOf(res.(*outcome.Failure)))
}

func TestRestore_MissingFileIsPrecondition(t *testing.T) {
	runner := &fakeRunner{}
	e := newTestEngine(&fakeProvider{}, runner)

	res := e.Restore(context.Background(), params(), "/nonexistent/a.sql")
	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.Precondition, f.Kind)
	assert.Empty(t, runner.commands)
}

func TestRestore_MissingClientIsDistinct(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "a.sql")
	require.NoError(t, os.WriteFile(artifact, []byte("select 1;"), 0o644))

	e := newTestEngine(&fakeProvider{}, &fakeRunner{missing: true})
	res := e.Restore(context.Background(), params(), artifact)

	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.MissingDependency, f.Kind)
	assert.Contains(t, f.Message, "mysql is not installed")
}

func TestRestore_StreamsArtifact(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "a.sql")
	require.NoError(t, os.WriteFile(artifact, []byte("select 1;"), 0o644))

	runner := &fakeRunner{}
	e := newTestEngine(&fakeProvider{}, runner)
	res := e.Restore(context.Background(), params(), artifact)

	require.True(t, res.OK(), res.Text())
	require.Len(t, runner.commands, 1)
	assert.Equal(t, artifact, runner.commands[0].Stdin)
}

func TestTestConnection_MissingSSHAuthNoSocket(t *testing.T) {
	e := newTestEngine(&fakeProvider{}, &fakeRunner{})
	p := params()
	p.Mode = metadata.ModeSSH
	p.SSHHost = "bastion"
	p.SSHPort = 22
	p.SSHUsername = "tunnel"

	res := e.TestConnection(context.Background(), p)
	f, ok := res.(*outcome.Failure)
	require.True(t, ok)
	assert.Equal(t, outcome.Configuration, f.Kind)
	assert.Equal(t, "No SSH authentication method (password or key)", f.Message)
}

func TestArtifactPath(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	first := ArtifactPath(dir, now, "prod db", "nightly")
	assert.Equal(t, filepath.Join(dir, "20240506_070809_prod_db_nightly.sql"), first)

	require.NoError(t, os.WriteFile(first, nil, 0o644))
	second := ArtifactPath(dir, now, "prod db", "nightly")
	assert.Equal(t, filepath.Join(dir, "20240506_070809_prod_db_nightly_2.sql"), second)

	assert.Equal(t, filepath.Join(dir, "20240506_070809_srv.sql"), ArtifactPath(dir, now, "srv", ""))
}
