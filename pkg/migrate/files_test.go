package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

const validBody = `-- +goose Up
-- +goose StatementBegin
CREATE TABLE t (id int);
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
DROP TABLE t;
-- +goose StatementEnd
`

func TestValidateEmbeddedMigrations(t *testing.T) {
	require.NoError(t, ValidateDir(DefaultDir))
}

func TestValidateFSRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {
			"create_t.sql": {Data: []byte(validBody)},
		},
		"duplicate version": {
			"20260301090000_a.sql": {Data: []byte(validBody)},
			"20260301090000_b.sql": {Data: []byte(validBody)},
		},
		"missing down": {
			"20260301090000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"down first": {
			"20260301090000_a.sql": {Data: []byte("-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n")},
		},
		"unbalanced": {
			"20260301090000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, validateFS(fsys))
		})
	}
}

func TestValidateFSIgnoresNonSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"README.md":            {Data: []byte("notes")},
		"20260301090000_a.sql": {Data: []byte(validBody)},
	}
	require.NoError(t, validateFS(fsys))
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, CreateSQLMigration(dir, "add_terminal_notes"))
	require.NoError(t, ValidateDir(dir))
}

func TestCreateSQLMigrationRequiresName(t *testing.T) {
	require.Error(t, CreateSQLMigration(t.TempDir(), "  "))
}
