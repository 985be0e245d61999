package mysql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/GoSQLKeeper/pkg/config"
	"github.com/supporttools/GoSQLKeeper/pkg/database/common"
	"github.com/supporttools/GoSQLKeeper/pkg/database/connection"
)

func newProvider(t *testing.T) *Provider {
	factory, ok := common.GetProvider("mysql")
	require.True(t, ok, "mysql provider should register itself")
	p, err := factory.Create(config.Default().Tools)
	require.NoError(t, err)
	return p.(*Provider)
}

func TestDumpCommand_DirectSingleDatabase(t *testing.T) {
	p := newProvider(t)
	ep := &connection.Endpoint{Host: "db", Port: 3306, Username: "root", Password: "pw"}

	cmd := p.DumpCommand(ep, "shop", "/backups/out.sql")
	assert.Equal(t, "mysqldump", cmd.Name)
	assert.Equal(t, []string{
		"--host=db", "--port=3306", "--user=root", "--password=pw",
		"shop", "--result-file=/backups/out.sql",
	}, cmd.Args)
	assert.NotContains(t, cmd.Args, "--single-transaction")
}

func TestDumpCommand_TunneledAllDatabases(t *testing.T) {
	p := newProvider(t)
	ep := &connection.Endpoint{Host: "127.0.0.1", Port: 40123, Username: "root", Password: "pw", Tunneled: true}

	cmd := p.DumpCommand(ep, "", "/backups/out.sql")
	assert.Contains(t, cmd.Args, "--host=127.0.0.1")
	assert.Contains(t, cmd.Args, "--port=40123")
	for _, opt := range []string{"--single-transaction", "--quick", "--compress", "--routines", "--triggers", "--events", "--all-databases"} {
		assert.Contains(t, cmd.Args, opt)
	}
	assert.Equal(t, "--result-file=/backups/out.sql", cmd.Args[len(cmd.Args)-1])
	assert.Contains(t, cmd.String(), "--password=****")
}

func TestRestoreCommand_StreamsArtifact(t *testing.T) {
	p := newProvider(t)
	ep := &connection.Endpoint{Host: "db", Port: 3306, Username: "root", Password: "pw"}

	cmd := p.RestoreCommand(ep, "shop", "/backups/a.sql")
	assert.Equal(t, "mysql", cmd.Name)
	assert.Equal(t, "/backups/a.sql", cmd.Stdin)
	assert.Equal(t, "shop", cmd.Args[len(cmd.Args)-1])
	assert.Equal(t, "mysql", p.RestoreTool())
}

func TestServerVersion(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT VERSION\\(\\)").
		WillReturnRows(sqlmock.NewRows([]string{"VERSION()"}).AddRow("8.0.36"))

	version, err := newProvider(t).ServerVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "8.0.36", version)
	assert.NoError(t, mock.ExpectationsWereMet())
}
