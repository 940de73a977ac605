package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	frameworkmigrations "github.com/akriventsev/ordering/framework/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(FS, Dir+"/*.sql")
	require.NoError(t, err)
	assert.Len(t, files, 5)

	m, err := frameworkmigrations.NewMigrator(nil, FS, Dir, "postgres", nil)
	require.NoError(t, err)

	migrations, err := m.Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 5)
	for i, migration := range migrations {
		assert.Equal(t, int64(i+1), migration.Version)
	}
}

func TestEmbeddedMigrations_CreateServiceTables(t *testing.T) {
	for file, table := range map[string]string{
		"00001_create_orders.sql":              "orders",
		"00002_create_saga_instances.sql":      "saga_instances",
		"00003_create_idempotency_records.sql": "idempotency_records",
		"00004_create_scheduled_messages.sql":  "scheduled_messages",
		"00005_create_buyers.sql":              "buyers",
	} {
		data, err := FS.ReadFile(Dir + "/" + file)
		require.NoError(t, err, file)
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
		assert.Contains(t, string(data), "-- +goose Down")
	}
}
