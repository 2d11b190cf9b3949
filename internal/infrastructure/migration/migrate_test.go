package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	names, err := List()

	require.NoError(t, err)
	assert.Equal(t, []string{"000001_valuation_schema", "000002_valuation_journal"}, names)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	names, err := List()
	require.NoError(t, err)

	for _, name := range names {
		_, err := fs.Stat(migrationFiles, "sql/"+name+".down.sql")
		assert.NoError(t, err, "missing down migration for %s", name)
	}
}

func TestValuationLayerRemaindersStayNullable(t *testing.T) {
	up, err := fs.ReadFile(migrationFiles, "sql/000001_valuation_schema.up.sql")
	require.NoError(t, err)
	schema := string(up)

	for _, line := range strings.Split(schema, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "remaining_qty") || strings.HasPrefix(line, "remaining_value") {
			assert.NotContains(t, line, "NOT NULL", line)
		}
	}
	assert.Contains(t, schema, "idx_layer_queue")
}
