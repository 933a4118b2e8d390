// Package store persists tile artifacts (original, styled and result) keyed
// by tile index and role, using the {col}_{row}[_map|_result].{ext} layout.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/kiesman99/mapstyle/pkg/tile"
)

// ErrNotFound is returned when no artifact exists for a key.
var ErrNotFound = errors.New("artifact not found")

// Entry describes one stored artifact.
type Entry struct {
	Key  tile.Key
	Name string
	Ext  string
}

// Store is keyed artifact storage.
type Store interface {
	// Put writes data for key, replacing any previous artifact of that key.
	Put(ctx context.Context, key tile.Key, ext string, data []byte) (Entry, error)
	// Get returns the artifact stored for key.
	Get(ctx context.Context, key tile.Key) ([]byte, Entry, error)
	// Read returns the contents of a listed entry.
	Read(ctx context.Context, e Entry) ([]byte, error)
	// Exists reports whether an artifact is stored for key.
	Exists(ctx context.Context, key tile.Key) (bool, error)
	// List returns the entries of role, or of all roles when role is empty,
	// in column-major order.
	List(ctx context.Context, role tile.Role) ([]Entry, error)
}

// TileSet maps each tile to the artifacts present for it.
type TileSet map[tile.Index]map[tile.Role]Entry

// Scan builds the TileSet of everything in s.
func Scan(ctx context.Context, s Store) (TileSet, error) {
	entries, err := s.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	set := make(TileSet)
	for _, e := range entries {
		roles, ok := set[e.Key.Index]
		if !ok {
			roles = make(map[tile.Role]Entry, 3)
			set[e.Key.Index] = roles
		}
		roles[e.Key.Role] = e
	}
	return set, nil
}

// Indices returns the tiles having role, column-major.
func (ts TileSet) Indices(role tile.Role) []tile.Index {
	var out []tile.Index
	for idx, roles := range ts {
		if _, ok := roles[role]; ok {
			out = append(out, idx)
		}
	}
	slices.SortFunc(out, compareIndex)
	return out
}

func compareIndex(a, b tile.Index) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := compareIndex(a.Key.Index, b.Key.Index); c != 0 {
			return c
		}
		if a.Key.Role != b.Key.Role {
			if a.Key.Role < b.Key.Role {
				return -1
			}
			return 1
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
}
