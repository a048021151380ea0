package config

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// EnvPrefix is the prefix for environment variables that override config.
const EnvPrefix = "CAP__"

// SearchForConfig looks for filename in startDir and then each of its parents,
// returning the first match or "".
func SearchForConfig(filename string, startDir string) string {
	d, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(d, filename)
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(d)
		if parent == d {
			return ""
		}
		d = parent
	}
}

// TransformEnv converts CAP__CAPS__DISALLOW_FILE_EDIT to caps.disallowFileEdit.
//   - The CAP__ prefix is removed
//   - Double underscores become dots
//   - Single underscores within a segment become camelCase
func TransformEnv(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	segments := strings.Split(s, "__")
	for i, segment := range segments {
		parts := strings.Split(segment, "_")
		for j := 1; j < len(parts); j++ {
			parts[j] = capitalize(parts[j])
		}
		segments[i] = strings.Join(parts, "")
	}
	return strings.Join(segments, ".")
}

func capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
