package application

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// NewMigrationManager returns a manager that applies module schema files
// with goose. Modules embed versioned .sql files and register them at load
// time; version prefixes must be unique across modules because all files are
// flattened into a single migration stream.
func NewMigrationManager(pool *pgxpool.Pool) MigrationManager {
	return &migrationManager{pool: pool}
}

type migrationManager struct {
	pool      *pgxpool.Pool
	schemaFSs []*embed.FS
}

func (m *migrationManager) RegisterSchema(fsys ...*embed.FS) {
	m.schemaFSs = append(m.schemaFSs, fsys...)
}

func (m *migrationManager) Run(ctx context.Context) error {
	provider, err := m.provider()
	if err != nil || provider == nil {
		return err
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrations up: %w", err)
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (m *migrationManager) Rollback(ctx context.Context) error {
	provider, err := m.provider()
	if err != nil || provider == nil {
		return err
	}
	if _, err := provider.Down(ctx); err != nil {
		return fmt.Errorf("migrations down: %w", err)
	}
	return nil
}

func (m *migrationManager) provider() (*goose.Provider, error) {
	flat, err := flatten(m.schemaFSs)
	if err != nil {
		return nil, err
	}
	if len(flat.entries) == 0 {
		return nil, nil
	}
	db := stdlib.OpenDBFromPool(m.pool)
	provider, err := goose.NewProvider(goose.DialectPostgres, db, flat)
	if err != nil {
		return nil, fmt.Errorf("migrations provider: %w", err)
	}
	return provider, nil
}

// flatten walks the registered filesystems and gathers every .sql file into
// a single flat directory view keyed by base name.
func flatten(fss []*embed.FS) (*flatFS, error) {
	flat := &flatFS{entries: map[string][]byte{}}
	for _, fsys := range fss {
		err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(p, ".sql") {
				return nil
			}
			name := path.Base(p)
			if _, exists := flat.entries[name]; exists {
				return fmt.Errorf("duplicate schema file %q", name)
			}
			content, err := fs.ReadFile(fsys, p)
			if err != nil {
				return err
			}
			flat.entries[name] = content
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return flat, nil
}

// flatFS serves collected schema files as a single-directory filesystem.
type flatFS struct {
	entries map[string][]byte
}

func (f *flatFS) Open(name string) (fs.File, error) {
	if name == "." {
		return &flatDir{fs: f}, nil
	}
	content, ok := f.entries[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &flatFile{name: name, content: content}, nil
}

func (f *flatFS) ReadFile(name string) ([]byte, error) {
	content, ok := f.entries[name]
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (f *flatFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	names := make([]string, 0, len(f.entries))
	for n := range f.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, &flatInfo{name: n, size: int64(len(f.entries[n]))})
	}
	return entries, nil
}

type flatFile struct {
	name    string
	content []byte
	offset  int
}

func (f *flatFile) Stat() (fs.FileInfo, error) {
	return &flatInfo{name: f.name, size: int64(len(f.content))}, nil
}

func (f *flatFile) Read(p []byte) (int, error) {
	if f.offset >= len(f.content) {
		return 0, io.EOF
	}
	n := copy(p, f.content[f.offset:])
	f.offset += n
	return n, nil
}

func (f *flatFile) Close() error { return nil }

type flatDir struct {
	fs     *flatFS
	cursor int
}

func (d *flatDir) Stat() (fs.FileInfo, error) {
	return &flatInfo{name: ".", dir: true}, nil
}

func (d *flatDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: fs.ErrInvalid}
}

func (d *flatDir) Close() error { return nil }

func (d *flatDir) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := d.fs.ReadDir(".")
	if err != nil {
		return nil, err
	}
	if d.cursor >= len(entries) {
		if n <= 0 {
			return nil, nil
		}
		return nil, io.EOF
	}
	if n <= 0 {
		out := entries[d.cursor:]
		d.cursor = len(entries)
		return out, nil
	}
	end := d.cursor + n
	if end > len(entries) {
		end = len(entries)
	}
	out := entries[d.cursor:end]
	d.cursor = end
	return out, nil
}

type flatInfo struct {
	name string
	size int64
	dir  bool
}

func (i *flatInfo) Name() string { return i.name }
func (i *flatInfo) Size() int64  { return i.size }
func (i *flatInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}
func (i *flatInfo) ModTime() time.Time         { return time.Time{} }
func (i *flatInfo) IsDir() bool                { return i.dir }
func (i *flatInfo) Sys() any                   { return nil }
func (i *flatInfo) Type() fs.FileMode          { return i.Mode().Type() }
func (i *flatInfo) Info() (fs.FileInfo, error) { return i, nil }
