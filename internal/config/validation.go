package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/v2"
)

// ValidationWarning describes an unknown, misspelled or deprecated key.
type ValidationWarning struct {
	Key         string
	Suggestions []string
	Deprecated  bool
}

func (w ValidationWarning) String() string {
	if w.Deprecated {
		return fmt.Sprintf("'%s' is deprecated, use '%s'", w.Key, strings.Join(w.Suggestions, "', '"))
	}
	msg := fmt.Sprintf("'%s' is not a known config key", w.Key)
	switch len(w.Suggestions) {
	case 0:
	case 1:
		msg += fmt.Sprintf(". Did you mean '%s'?", w.Suggestions[0])
	default:
		msg += ". Did you mean one of: " + strings.Join(w.Suggestions, ", ") + "?"
	}
	return msg
}

// LoadDefaults sets registered defaults for keys that are not already set.
func LoadDefaults(k *koanf.Koanf) {
	for key, val := range Defaults() {
		if !k.Exists(key) {
			_ = k.Set(key, val)
		}
	}
}

// ValidateKeys checks every loaded key against the registry.
func ValidateKeys(k *koanf.Koanf) []ValidationWarning {
	var warnings []ValidationWarning
	for _, key := range k.Keys() {
		if info, ok := LookupKey(key); ok {
			if info.Deprecated {
				warnings = append(warnings, ValidationWarning{
					Key:         key,
					Suggestions: []string{info.ReplacedBy},
					Deprecated:  true,
				})
			}
			continue
		}
		if hasRegisteredPrefix(key) {
			continue
		}
		warnings = append(warnings, ValidationWarning{
			Key:         key,
			Suggestions: FindSimilarKeys(key, 3),
		})
	}
	return warnings
}
