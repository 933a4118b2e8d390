package tile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Artifact file naming. This is the on-disk protocol between the pipeline,
// the stitcher and the comparison engine:
//
//	{col}_{row}.{ext}          original tile
//	{col}_{row}_map.{ext}      styled tile
//	{col}_{row}_result.json    generation result
const (
	StyledSuffix = "_map"
	ResultSuffix = "_result"
	ResultExt    = "json"
)

// ImageExtensions are the extensions accepted for original and styled tiles.
var ImageExtensions = []string{"jpeg", "jpg", "png", "webp", "tiff", "tif", "gif", "bmp"}

var filenamePattern = regexp.MustCompile(`^(-?\d+)_(-?\d+)(_map|_result)?\.([A-Za-z0-9]+)$`)

// Filename returns the artifact file name for key. ext is used for image roles.
func Filename(key Key, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	switch key.Role {
	case RoleStyled:
		return fmt.Sprintf("%d_%d%s.%s", key.Index.Col, key.Index.Row, StyledSuffix, ext)
	case RoleResult:
		return fmt.Sprintf("%d_%d%s.%s", key.Index.Col, key.Index.Row, ResultSuffix, ResultExt)
	default:
		return fmt.Sprintf("%d_%d.%s", key.Index.Col, key.Index.Row, ext)
	}
}

// ParseFilename extracts the key and extension from an artifact file name.
// ok is false for names that do not follow the protocol, e.g. "map_12_7.jpeg".
func ParseFilename(name string) (key Key, ext string, ok bool) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return Key{}, "", false
	}
	col, err := strconv.Atoi(m[1])
	if err != nil {
		return Key{}, "", false
	}
	row, err := strconv.Atoi(m[2])
	if err != nil {
		return Key{}, "", false
	}
	key.Index = Index{Col: col, Row: row}
	switch m[3] {
	case StyledSuffix:
		key.Role = RoleStyled
	case ResultSuffix:
		if m[4] != ResultExt {
			return Key{}, "", false
		}
		key.Role = RoleResult
	default:
		key.Role = RoleOriginal
	}
	if key.Role != RoleResult && !IsImageExtension(m[4]) {
		return Key{}, "", false
	}
	return key, m[4], true
}

// IsImageExtension reports whether ext, without the dot, is one of
// ImageExtensions. Artifacts are written lower case, so the match is exact.
func IsImageExtension(ext string) bool {
	for _, e := range ImageExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// ParseStyledFilename is the stitcher's view of ParseFilename: it only accepts styled tiles.
func ParseStyledFilename(name string) (Index, bool) {
	key, _, ok := ParseFilename(name)
	if !ok || key.Role != RoleStyled {
		return Index{}, false
	}
	return key.Index, true
}
