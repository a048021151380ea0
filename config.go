package capable

import (
	"time"

	"github.com/dpup/capable/internal/config"
	"github.com/dpup/capable/plugins/caps"
	"github.com/dpup/capable/plugins/storage/lock"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Filename of the standard configuration file.
const ConfigFile = "capable.yaml"

// ConfigKeyInfo contains metadata about a known configuration key.
type ConfigKeyInfo = config.KeyInfo

// Config is a global koanf instance used to access configuration.
//
// Config is loaded in the following order (later sources override earlier):
// 1. Auto-discovered capable.yaml (in init())
// 2. Environment variables with CAP__ prefix (in init())
// 3. Additional sources loaded via LoadConfigFile() or LoadConfigDefaults()
// 4. Registered defaults, for keys that are still unset (in New())
//
// Environment variable transformation:
//   - CAP__CAPS__MULTISITE → caps.multisite
//   - CAP__CAPS__DISALLOW_FILE_EDIT → caps.disallowFileEdit
//   - CAP__STORAGE__LOCK__STALE_AFTER → storage.lock.staleAfter
var Config = koanf.New(".")

func init() {
	registerCoreConfigKeys()

	// Look for a capable.yaml file in the current directory or any parent.
	if cfg := config.SearchForConfig(ConfigFile, "."); cfg != "" {
		if err := Config.Load(file.Provider(cfg), yaml.Parser()); err != nil {
			panic("error loading config: " + err.Error())
		}
	}

	if err := Config.Load(env.Provider(config.EnvPrefix, ".", config.TransformEnv), nil); err != nil {
		panic("error loading env config: " + err.Error())
	}
}

// RegisterConfigKeys documents configuration keys so that they are validated
// and their defaults applied.
//
// Example:
//
//	capable.RegisterConfigKeys(capable.ConfigKeyInfo{
//	    Key:         "myapp.auditLog",
//	    Description: "Path of the capability audit log",
//	    Type:        "string",
//	})
func RegisterConfigKeys(infos ...ConfigKeyInfo) {
	config.RegisterKeys(infos...)
}

// RegisterDeprecatedKey registers a deprecated configuration key and its
// replacement.
func RegisterDeprecatedKey(oldKey, newKey string) {
	config.RegisterDeprecatedKey(oldKey, newKey)
}

// LoadConfigFile loads additional configuration from a YAML file into the
// global Config instance.
func LoadConfigFile(path string) {
	if err := Config.Load(file.Provider(path), yaml.Parser()); err != nil {
		panic("error loading config file '" + path + "': " + err.Error())
	}
}

// LoadConfigDefaults loads configuration values from a map, overriding any
// values that were loaded before.
//
// Example:
//
//	capable.LoadConfigDefaults(map[string]any{
//	    "caps.multisite": true,
//	    "storage.driver": "sqlite",
//	})
func LoadConfigDefaults(defaults map[string]any) {
	if err := Config.Load(confmap.Provider(defaults, "."), nil); err != nil {
		panic("error loading config defaults: " + err.Error())
	}
}

// ValidateConfig returns a warning for every loaded key that is unknown or
// deprecated, with suggestions for likely typos.
func ValidateConfig() []string {
	var out []string
	for _, w := range config.ValidateKeys(Config) {
		out = append(out, w.String())
	}
	return out
}

// ConfigString returns the string value for the given key.
func ConfigString(key string) string {
	return Config.String(key)
}

// ConfigInt returns the int value for the given key.
func ConfigInt(key string) int {
	return Config.Int(key)
}

// ConfigBool returns the bool value for the given key.
func ConfigBool(key string) bool {
	return Config.Bool(key)
}

// ConfigDuration returns the duration value for the given key. Duration
// strings like "5m" and "1h" are parsed automatically.
func ConfigDuration(key string) time.Duration {
	return Config.Duration(key)
}

// ConfigExists checks if the given key exists in the configuration.
func ConfigExists(key string) bool {
	return Config.Exists(key)
}

// SettingsFromConfig reads the capability settings from Config.
func SettingsFromConfig() caps.Settings {
	config.LoadDefaults(Config)
	return caps.Settings{
		Multisite:              Config.Bool("caps.multisite"),
		DisallowFileEdit:       Config.Bool("caps.disallowFileEdit"),
		DisallowFileMods:       Config.Bool("caps.disallowFileMods"),
		DisallowUnfilteredHTML: Config.Bool("caps.disallowUnfilteredHTML"),
		AllowUnfilteredUploads: Config.Bool("caps.allowUnfilteredUploads"),
		UnknownPolicy:          caps.UnknownPolicy(Config.String("caps.unknownPolicy")),
		MaxDepth:               Config.Int("caps.maxDepth"),
		FallbackRole:           Config.String("roles.fallbackDefault"),
		LockStaleAfter:         Config.Duration("storage.lock.staleAfter"),
	}
}

func registerCoreConfigKeys() {
	registerCapsConfigKeys()
	registerStorageConfigKeys()
}

func registerCapsConfigKeys() {
	config.RegisterKeys(
		ConfigKeyInfo{
			Key:         "caps.multisite",
			Description: "Run as a network of sites with super admins",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "caps.disallowFileEdit",
			Description: "Veto the plugin and theme file editors",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "caps.disallowFileMods",
			Description: "Veto every capability that changes code on disk",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "caps.disallowUnfilteredHTML",
			Description: "Veto unfiltered_html for everyone",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "caps.allowUnfilteredUploads",
			Description: "Allow unfiltered_upload to be granted",
			Type:        "bool",
			Default:     false,
		},
		ConfigKeyInfo{
			Key:         "caps.unknownPolicy",
			Description: "How unknown capabilities resolve: permissive or strict",
			Type:        "string",
			Default:     string(caps.Permissive),
		},
		ConfigKeyInfo{
			Key:         "caps.maxDepth",
			Description: "Maximum depth of recursive meta capability resolution",
			Type:        "int",
			Default:     8,
		},
		ConfigKeyInfo{
			Key:         "roles.fallbackDefault",
			Description: "Role that becomes the default when the default role is removed",
			Type:        "string",
			Default:     caps.RoleSubscriber,
		},
	)
}

func registerStorageConfigKeys() {
	config.RegisterKeys(
		ConfigKeyInfo{
			Key:         "storage.driver",
			Description: "Storage backend: memory, sqlite or postgres",
			Type:        "string",
			Default:     DriverMemory,
		},
		ConfigKeyInfo{
			Key:         "storage.dsn",
			Description: "Connection string for the sqlite or postgres backend",
			Type:        "string",
		},
		ConfigKeyInfo{
			Key:         "storage.prefix",
			Description: "Prefix for table names",
			Type:        "string",
			Default:     "cap_",
		},
		ConfigKeyInfo{
			Key:         "storage.lock.staleAfter",
			Description: "Age after which an advisory lock may be taken over",
			Type:        "duration",
			Default:     lock.DefaultStaleAfter.String(),
		},
		ConfigKeyInfo{
			Key:         "logging.mode",
			Description: "Logger configuration: dev or prod",
			Type:        "string",
			Default:     "dev",
		},
	)
}
