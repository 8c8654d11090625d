package migrator

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gearguard/migrator/internal/sqlsplit"
)

// MigrationSource defines the interface to load migrations.
type MigrationSource interface {
	LoadMigrations() ([]Migration, error)
}

// ParseFilenameFn extracts a migration id and name from a file name. ok is
// false for files that are not migrations.
type ParseFilenameFn func(filename string) (id string, name string, ok bool)

// defaultParseFilename expects file names like "0001_create_users.sql".
// A trailing "_up" is accepted and dropped; "_down" files are not
// migrations, since applied migrations are never reverted.
func defaultParseFilename(filename string) (string, string, bool) {
	base := strings.TrimSuffix(filename, path.Ext(filename))
	id, name, found := strings.Cut(base, "_")
	if !found || id == "" || name == "" {
		return "", "", false
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, "_down"):
		return "", "", false
	case strings.HasSuffix(lower, "_up"):
		name = name[:len(name)-len("_up")]
	}
	if name == "" {
		return "", "", false
	}
	return id, name, true
}

// FSMigrationSource loads one migration per SQL file from a directory of an
// fs.FS, such as an embed.FS. Each file is split into statements.
type FSMigrationSource struct {
	FS  fs.FS
	Dir string
	// Optional filename parser, defaults to defaultParseFilename.
	FilenameParser ParseFilenameFn
	// Optional allowed extensions, defaults to .sql.
	AllowedExts []string
	// Dialect selects the lexical rules used to split files. Empty means
	// PostgreSQL/standard SQL rules.
	Dialect Dialect
}

// NewFSMigrationSource returns a source reading dir inside fsys.
//
// Parameters:
//   - fsys: The file system to read from.
//   - dir: The directory inside fsys, "." for the root.
//
// Returns:
//   - *FSMigrationSource: A new FSMigrationSource instance.
func NewFSMigrationSource(fsys fs.FS, dir string) *FSMigrationSource {
	return &FSMigrationSource{
		FS:             fsys,
		Dir:            dir,
		FilenameParser: defaultParseFilename,
		AllowedExts:    []string{".sql"},
	}
}

// WithFilenameParser returns a new FSMigrationSource with the given parser.
func (s *FSMigrationSource) WithFilenameParser(
	parser ParseFilenameFn,
) *FSMigrationSource {
	new := *s
	new.FilenameParser = parser
	return &new
}

// WithAllowedExts returns a new FSMigrationSource with the given allowed
// extensions.
func (s *FSMigrationSource) WithAllowedExts(exts []string) *FSMigrationSource {
	new := *s
	new.AllowedExts = exts
	return &new
}

// WithDialect returns a new FSMigrationSource that splits files with the
// lexical rules of d.
func (s *FSMigrationSource) WithDialect(d Dialect) *FSMigrationSource {
	new := *s
	new.Dialect = d
	return &new
}

// LoadMigrations loads the migrations in the directory, sorted by id.
//
// Returns:
//   - []Migration: The loaded migrations.
//   - error: An error if reading, parsing or splitting fails.
func (s *FSMigrationSource) LoadMigrations() ([]Migration, error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	entries, err := fs.ReadDir(s.FS, dir)
	if err != nil {
		return nil, err
	}

	parser := s.FilenameParser
	if parser == nil {
		parser = defaultParseFilename
	}
	allowed := s.AllowedExts
	if allowed == nil {
		allowed = []string{".sql"}
	}

	seen := make(map[string]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(path.Ext(name))
		if !slices.Contains(allowed, ext) {
			slog.Debug("skipping file with unsupported extension", "file", name)
			continue
		}
		id, migName, ok := parser(name)
		if !ok {
			slog.Debug("skipping file that is not a migration", "file", name)
			continue
		}
		if other, dup := seen[id]; dup {
			return nil, fmt.Errorf(
				"%w: files %s and %s share id %s", ErrInvalidMigrations, other, name, id,
			)
		}
		seen[id] = name

		content, err := fs.ReadFile(s.FS, path.Join(dir, name))
		if err != nil {
			return nil, err
		}
		stmts, err := splitScript(string(content), s.Dialect)
		if err != nil {
			return nil, fmt.Errorf("split %s: %w", name, err)
		}
		migrations = append(migrations, *NewMigration(id, migName, stmts...))
	}

	sortMigrations(migrations)
	return migrations, nil
}

// DirMigrationSource loads migrations from a directory on disk.
type DirMigrationSource struct {
	*FSMigrationSource
	Path string
}

// NewDirMigrationSource creates a source for the given directory using the
// default parser and allowed extensions.
func NewDirMigrationSource(dir string) *DirMigrationSource {
	return &DirMigrationSource{
		FSMigrationSource: NewFSMigrationSource(os.DirFS(dir), "."),
		Path:              dir,
	}
}

// WithDialect returns a new DirMigrationSource that splits files with the
// lexical rules of dialect.
func (d *DirMigrationSource) WithDialect(dialect Dialect) *DirMigrationSource {
	return &DirMigrationSource{
		FSMigrationSource: d.FSMigrationSource.WithDialect(dialect),
		Path:              d.Path,
	}
}

// LoadMigrations loads the migrations in the directory.
func (d *DirMigrationSource) LoadMigrations() ([]Migration, error) {
	migs, err := d.FSMigrationSource.LoadMigrations()
	if err != nil {
		return nil, fmt.Errorf("load migrations from %s: %w", d.Path, err)
	}
	slog.Debug("loaded migrations from directory", "dir", d.Path, "count", len(migs))
	return migs, nil
}

// FileMigrationSource loads migrations from a YAML manifest:
//
//	migrations:
//	  - id: "0001"
//	    name: create_users
//	    statements:
//	      - CREATE TABLE users (id SERIAL PRIMARY KEY)
//	  - id: "0002"
//	    name: add_role
//	    sql: |
//	      ALTER TABLE users ADD COLUMN role TEXT;
//	      CREATE INDEX idx_users_role ON users(role);
//
// A migration lists its statements explicitly or gives a SQL script that is
// split into statements, not both.
type FileMigrationSource struct {
	FilePath string
	// Dialect selects the lexical rules used to split sql scripts.
	Dialect Dialect
}

// NewFileMigrationSource returns a new FileMigrationSource.
func NewFileMigrationSource(filePath string) *FileMigrationSource {
	return &FileMigrationSource{FilePath: filePath}
}

// WithDialect returns a new FileMigrationSource that splits scripts with
// the lexical rules of d.
func (f *FileMigrationSource) WithDialect(d Dialect) *FileMigrationSource {
	new := *f
	new.Dialect = d
	return &new
}

type manifest struct {
	Migrations []manifestEntry `yaml:"migrations"`
}

type manifestEntry struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Statements []string `yaml:"statements"`
	SQL        string   `yaml:"sql"`
}

// LoadMigrations parses the manifest.
func (f *FileMigrationSource) LoadMigrations() ([]Migration, error) {
	content, err := os.ReadFile(f.FilePath)
	if err != nil {
		return nil, err
	}
	migs, err := parseManifest(content, f.Dialect)
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", f.FilePath, err)
	}
	slog.Debug("loaded migrations from manifest", "file", f.FilePath, "count", len(migs))
	return migs, nil
}

func parseManifest(content []byte, d Dialect) ([]Migration, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	var doc manifest
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}

	migs := make([]Migration, 0, len(doc.Migrations))
	for i, entry := range doc.Migrations {
		if entry.ID == "" {
			return nil, fmt.Errorf("migration %d: missing id", i+1)
		}
		stmts := entry.Statements
		switch {
		case len(stmts) > 0 && entry.SQL != "":
			return nil, fmt.Errorf("migration %s: both statements and sql given", entry.ID)
		case entry.SQL != "":
			split, err := splitScript(entry.SQL, d)
			if err != nil {
				return nil, fmt.Errorf("migration %s: %w", entry.ID, err)
			}
			stmts = split
		}
		migs = append(migs, *NewMigration(entry.ID, entry.Name, stmts...))
	}
	sortMigrations(migs)
	return migs, nil
}

// VarMigrationSource uses statements defined in variables.
type VarMigrationSource struct {
	ID         string
	Name       string
	Statements []string
}

// NewVarMigrationSource creates a new VarMigrationSource.
//
// Parameters:
//   - id: The id of the migration.
//   - name: The name of the migration.
//   - statements: The statements to execute when applying the migration.
//
// Returns:
//   - *VarMigrationSource: A new VarMigrationSource.
func NewVarMigrationSource(
	id string, name string, statements ...string,
) *VarMigrationSource {
	return &VarMigrationSource{
		ID:         id,
		Name:       name,
		Statements: statements,
	}
}

// LoadMigrations returns the variable-defined migration.
func (v *VarMigrationSource) LoadMigrations() ([]Migration, error) {
	mig := NewMigration(v.ID, v.Name).WithStatements(v.Statements...)
	return []Migration{*mig}, nil
}

// LoadAll loads and merges migrations from all sources, sorts them by id,
// and validates the result.
func LoadAll(sources ...MigrationSource) ([]Migration, error) {
	var all []Migration
	for _, src := range sources {
		migs, err := src.LoadMigrations()
		if err != nil {
			return nil, err
		}
		all = append(all, migs...)
	}
	sortMigrations(all)
	if err := ValidateMigrations(all); err != nil {
		return nil, err
	}
	return all, nil
}

func splitScript(script string, d Dialect) ([]string, error) {
	if d == DialectMySQL {
		return sqlsplit.Split(script, sqlsplit.MySQL())
	}
	return sqlsplit.Split(script)
}

func sortMigrations(migs []Migration) {
	slices.SortStableFunc(migs, func(a, b Migration) int {
		return CompareIDs(a.ID, b.ID)
	})
}
