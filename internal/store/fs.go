package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/kiesman99/mapstyle/pkg/tile"
)

// FS stores artifacts as flat files in one directory of an afero filesystem.
type FS struct {
	fs  afero.Fs
	dir string
}

// NewFS returns a store rooted at dir on fs, creating dir if needed.
func NewFS(fs afero.Fs, dir string) (*FS, error) {
	if dir == "" {
		dir = "."
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &FS{fs: fs, dir: dir}, nil
}

// NewOS returns a store on the local disk.
func NewOS(dir string) (*FS, error) {
	return NewFS(afero.NewOsFs(), dir)
}

// Dir returns the store's directory.
func (s *FS) Dir() string { return s.dir }

// Path returns the on-disk path of an entry.
func (s *FS) Path(e Entry) string { return filepath.Join(s.dir, e.Name) }

// Put writes data to a temp file and renames it into place, so readers never
// see a partial artifact. Artifacts of the same key with another extension are removed.
func (s *FS) Put(ctx context.Context, key tile.Key, ext string, data []byte) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	name := tile.Filename(key, ext)
	parsed, parsedExt, ok := tile.ParseFilename(name)
	if !ok || parsed != key {
		return Entry{}, fmt.Errorf("invalid artifact name %q for %s", name, key)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, "."+name+".tmp-*")
	if err != nil {
		return Entry{}, fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return Entry{}, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return Entry{}, fmt.Errorf("close %s: %w", name, err)
	}
	if err := s.fs.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = s.fs.Remove(tmpName)
		return Entry{}, fmt.Errorf("rename %s: %w", name, err)
	}

	siblings, err := s.find(key)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range siblings {
		if e.Name != name {
			if err := s.fs.Remove(s.Path(e)); err != nil && !os.IsNotExist(err) {
				return Entry{}, fmt.Errorf("remove stale %s: %w", e.Name, err)
			}
		}
	}
	return Entry{Key: key, Name: name, Ext: parsedExt}, nil
}

// Get returns the artifact for key.
func (s *FS) Get(ctx context.Context, key tile.Key) ([]byte, Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, Entry{}, err
	}
	found, err := s.find(key)
	if err != nil {
		return nil, Entry{}, err
	}
	if len(found) == 0 {
		return nil, Entry{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	data, err := s.Read(ctx, found[0])
	if err != nil {
		return nil, Entry{}, err
	}
	return data, found[0], nil
}

// Read returns the contents of e.
func (s *FS) Read(ctx context.Context, e Entry) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, s.Path(e))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", e.Name, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", e.Name, err)
	}
	return data, nil
}

// Exists reports whether key has an artifact.
func (s *FS) Exists(ctx context.Context, key tile.Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found, err := s.find(key)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// List returns entries of role (all roles when empty), column-major. Files
// that do not follow the naming protocol are ignored.
func (s *FS) List(ctx context.Context, role tile.Role) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", s.dir, err)
	}
	var entries []Entry
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		key, ext, ok := tile.ParseFilename(info.Name())
		if !ok || (role != "" && key.Role != role) {
			continue
		}
		entries = append(entries, Entry{Key: key, Name: info.Name(), Ext: ext})
	}
	sortEntries(entries)
	return entries, nil
}

// find stats the names key can be stored under instead of listing the
// directory, so lookups stay cheap in large output directories.
func (s *FS) find(key tile.Key) ([]Entry, error) {
	exts := []string{tile.ResultExt}
	if key.Role != tile.RoleResult {
		exts = tile.ImageExtensions
	}

	var out []Entry
	for _, ext := range exts {
		name := tile.Filename(key, ext)
		info, err := s.fs.Stat(filepath.Join(s.dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if info.IsDir() {
			continue
		}
		out = append(out, Entry{Key: key, Name: name, Ext: ext})
	}
	return out, nil
}
