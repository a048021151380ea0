// Package config holds the registry of known configuration keys and helpers
// for locating and validating configuration sources.
package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
)

// KeyInfo contains metadata about a known configuration key.
type KeyInfo struct {
	Key         string // Full key path, e.g. "caps.multisite".
	Description string // Human readable description.
	Type        string // Type hint: "string", "bool", "int", "duration".
	Default     any    // Optional default value.
	Deprecated  bool
	ReplacedBy  string // If deprecated, the key to use instead.
}

var (
	registry   = make(map[string]KeyInfo)
	registryMu sync.RWMutex
)

// RegisterKeys records metadata for one or more configuration keys.
func RegisterKeys(infos ...KeyInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, info := range infos {
		registry[info.Key] = info
	}
}

// RegisterDeprecatedKey marks oldKey as deprecated in favor of newKey.
func RegisterDeprecatedKey(oldKey, newKey string) {
	RegisterKeys(KeyInfo{Key: oldKey, Deprecated: true, ReplacedBy: newKey})
}

// LookupKey returns metadata for a registered key.
func LookupKey(key string) (KeyInfo, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[key]
	return info, ok
}

// AllRegisteredKeys returns all registered keys sorted alphabetically.
func AllRegisteredKeys() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Defaults returns the registered keys that carry a default value.
func Defaults() map[string]any {
	registryMu.RLock()
	defer registryMu.RUnlock()
	defaults := make(map[string]any)
	for key, info := range registry {
		if info.Default != nil {
			defaults[key] = info.Default
		}
	}
	return defaults
}

// FindSimilarKeys returns up to maxResults registered keys that look like
// typos of key, most similar first.
func FindSimilarKeys(key string, maxResults int) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	type scored struct {
		key   string
		score int
	}
	var candidates []scored
	prefix := parentKey(key)
	for registered := range registry {
		if score := similarity(key, registered, prefix); score <= 3 {
			candidates = append(candidates, scored{registered, score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	result := make([]string, 0, maxResults)
	for i := 0; i < len(candidates) && i < maxResults; i++ {
		result = append(result, candidates[i].key)
	}
	return result
}

// similarity is the Levenshtein distance, reduced by one for keys in the same
// namespace.
func similarity(key, candidate, keyPrefix string) int {
	distance := levenshtein.ComputeDistance(key, candidate)
	if keyPrefix != "" && keyPrefix == parentKey(candidate) && distance > 0 {
		distance--
	}
	return distance
}

// parentKey returns "caps" for "caps.multisite".
func parentKey(key string) string {
	lastDot := strings.LastIndex(key, ".")
	if lastDot == -1 {
		return ""
	}
	return key[:lastDot]
}

// hasRegisteredPrefix reports whether any ancestor of key is registered, which
// lets applications register a namespace without listing every sub-key.
func hasRegisteredPrefix(key string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for p := parentKey(key); p != ""; p = parentKey(p) {
		if _, ok := registry[p]; ok {
			return true
		}
	}
	return false
}
