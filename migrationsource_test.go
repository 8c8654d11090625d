package migrator

import (
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParseFilename(t *testing.T) {
	tests := []struct {
		file   string
		id     string
		name   string
		wantOK bool
	}{
		{"0001_create_users.sql", "0001", "create_users", true},
		{"001_init_up.sql", "001", "init", true},
		{"001_init_down.sql", "", "", false},
		{"README.sql", "", "", false},
		{"_nameless.sql", "", "", false},
		{"0004_seed_DOWN.sql", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			id, name, ok := defaultParseFilename(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.name, name)
		})
	}
}

func TestFSMigrationSource_LoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/010_users.sql": {Data: []byte("CREATE TABLE users (id INT);\nCREATE INDEX i ON users(id);")},
		"sql/9_init.sql":    {Data: []byte("CREATE TABLE t1 (x INT);")},
		"sql/notes.txt":     {Data: []byte("ignored")},
		"sql/sub/1_x.sql":   {Data: []byte("ignored")},
	}

	migs, err := NewFSMigrationSource(fsys, "sql").LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, "9", migs[0].ID, "numeric ids sort numerically")
	assert.Equal(t, "010", migs[1].ID)
	assert.Equal(t, []string{"CREATE TABLE users (id INT)", "CREATE INDEX i ON users(id)"}, migs[1].Statements)
}

func TestFSMigrationSource_DuplicateIDs(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql":    {Data: []byte("SELECT 1;")},
		"001_b_up.sql": {Data: []byte("SELECT 2;")},
	}
	_, err := NewFSMigrationSource(fsys, ".").LoadMigrations()
	require.ErrorIs(t, err, ErrInvalidMigrations)
}

func TestFSMigrationSource_SplitError(t *testing.T) {
	fsys := fstest.MapFS{"001_a.sql": {Data: []byte("SELECT 'open")}}
	_, err := NewFSMigrationSource(fsys, ".").LoadMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_a.sql")
}

func TestDirMigrationSource_AllowedExtsAndParser(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "002_accept.sqlite"), "CREATE TABLE ok(x);")
	mustWrite(t, filepath.Join(dir, "weird.ext"), "SELECT 1;")

	src := NewDirMigrationSource(dir)
	migs, err := src.LoadMigrations()
	require.NoError(t, err)
	assert.Empty(t, migs, ".sql only by default")

	migs, err = NewDirMigrationSource(dir).
		WithAllowedExts([]string{".sqlite"}).
		LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, "002", migs[0].ID)

	custom := NewDirMigrationSource(dir).
		WithAllowedExts([]string{".ext"}).
		WithFilenameParser(func(string) (string, string, bool) { return "100", "custom", true })
	migs, err = custom.LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, "100", migs[0].ID)
	assert.Equal(t, "custom", migs[0].Name)
}

func TestDirMigrationSource_MySQLDialect(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "0001_notes.sql"),
		"CREATE TABLE `order;notes` (body TEXT COMMENT 'it\\'s; fine');\n"+
			"# seed\nINSERT INTO `order;notes` VALUES ('a');\n")

	_, err := NewDirMigrationSource(dir).LoadMigrations()
	require.Error(t, err, "standard rules do not treat backslash as an escape")

	src := NewDirMigrationSource(dir).WithDialect(DialectMySQL)
	assert.Equal(t, dir, src.Path)
	migs, err := src.LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, []string{
		"CREATE TABLE `order;notes` (body TEXT COMMENT 'it\\'s; fine')",
		"INSERT INTO `order;notes` VALUES ('a')",
	}, migs[0].Statements)
}

func TestFileMigrationSource_MySQLDialect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations.yaml")
	mustWrite(t, path, `
migrations:
  - id: "0001"
    name: quoted
    sql: |
      INSERT INTO t VALUES ('a\';b');
      SELECT 1;
`)

	migs, err := NewFileMigrationSource(path).WithDialect(DialectMySQL).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, []string{`INSERT INTO t VALUES ('a\';b')`, "SELECT 1"}, migs[0].Statements)
}

func TestFileMigrationSource_LoadMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrations.yaml")
	mustWrite(t, path, `
migrations:
  - id: "0002"
    name: add_role
    sql: |
      ALTER TABLE users ADD COLUMN role TEXT;
      CREATE INDEX idx_users_role ON users(role);
  - id: "0001"
    name: create_users
    statements:
      - CREATE TABLE users (id INTEGER PRIMARY KEY)
`)

	migs, err := NewFileMigrationSource(path).LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, "0001", migs[0].ID)
	assert.Equal(t, []string{"CREATE TABLE users (id INTEGER PRIMARY KEY)"}, migs[0].Statements)
	assert.Equal(t, []string{
		"ALTER TABLE users ADD COLUMN role TEXT",
		"CREATE INDEX idx_users_role ON users(role)",
	}, migs[1].Statements)
}

func TestFileMigrationSource_Rejects(t *testing.T) {
	tests := map[string]string{
		"both forms": `
migrations:
  - id: "1"
    statements: [SELECT 1]
    sql: SELECT 2;
`,
		"missing id": `
migrations:
  - name: nameless
    statements: [SELECT 1]
`,
		"unknown field": `
migrations:
  - id: "1"
    down: DROP TABLE x
    statements: [SELECT 1]
`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "m.yaml")
			mustWrite(t, path, content)
			_, err := NewFileMigrationSource(path).LoadMigrations()
			require.Error(t, err)
		})
	}
}

func TestVarMigrationSource_LoadMigrations(t *testing.T) {
	migs, err := NewVarMigrationSource("005", "vsrc", "CREATE TABLE v (id INT)").LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migs, 1)
	assert.Equal(t, "005", migs[0].ID)
	assert.Equal(t, []string{"CREATE TABLE v (id INT)"}, migs[0].Statements)
}

func TestLoadAll_MergesSources(t *testing.T) {
	all, err := LoadAll(
		NewVarMigrationSource("3", "c", "SELECT 3"),
		&staticSource{migs: []Migration{*NewMigration("1", "a", "SELECT 1")}},
		NewVarMigrationSource("2", "b", "SELECT 2"),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, migrationIDs(all))

	_, err = LoadAll(
		NewVarMigrationSource("1", "a", "SELECT 1"),
		NewVarMigrationSource("1", "again", "SELECT 1"),
	)
	require.ErrorIs(t, err, ErrInvalidMigrations)
}
