// Package storeconfig loads the store's flat key-value configuration file
// and applies environment-variable overrides, the way the grounding C
// implementation's nix.conf loader does, generalized into an immutable
// value constructed once at startup and threaded through every operation
// rather than read from process-global state.
package storeconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Shell holds isolation-shell tunables.
type Shell struct {
	AllowSystemBinaries bool
	AllowedSystemPaths  []string
	PreservedEnvVars    []string
	DebugWrappers       bool
}

// Store holds store-root tunables.
type Store struct {
	StorePath            string
	EnforceReadonly      bool
	StorePathPermissions os.FileMode
	MaxPathLength        int
}

// Deps holds dependency-scanning tunables.
type Deps struct {
	AutoScan      bool
	MaxDepth      int
	ExtraLibPaths []string
	Scanner       string
}

// Profiles holds profile-manager tunables.
type Profiles struct {
	DefaultProfile string
	MaxGenerations int
}

// Config is the fully-resolved, immutable configuration value passed into
// every operation that needs a tunable.
type Config struct {
	Shell    Shell
	Store    Store
	Deps     Deps
	Profiles Profiles
}

// Default returns the built-in defaults, mirroring config_init() in the
// grounding source: strict isolation by default, a conventional store
// root, ldd as the scanner, ten retained generations.
func Default() Config {
	return Config{
		Shell: Shell{
			AllowSystemBinaries: false,
			AllowedSystemPaths:  []string{"/system/bin", "/bin", "/sbin", "/proc/boot"},
			PreservedEnvVars:    []string{"HOME", "USER", "TERM", "DISPLAY", "PWD"},
			DebugWrappers:       false,
		},
		Store: Store{
			StorePath:            "/data/nix/store",
			EnforceReadonly:      true,
			StorePathPermissions: 0o555,
			MaxPathLength:        4096,
		},
		Deps: Deps{
			AutoScan:      true,
			MaxDepth:      10,
			ExtraLibPaths: []string{"/proc/boot", "/system/lib"},
			Scanner:       "ldd",
		},
		Profiles: Profiles{
			DefaultProfile: "default",
			MaxGenerations: 10,
		},
	}
}

const defaultConfigBody = `# nixstore configuration file

# Shell settings
shell.allow_system_binaries = false
shell.allowed_system_paths = /system/bin,/bin,/sbin,/proc/boot
shell.preserved_env_vars = HOME,USER,TERM,DISPLAY,PWD
shell.debug_wrappers = false

# Store settings
store.store_path = /data/nix/store
store.enforce_readonly = true
store.store_path_permissions = 0555
store.max_path_length = 4096

# Dependencies settings
dependencies.auto_scan = true
dependencies.max_depth = 10
dependencies.extra_lib_paths = /proc/boot,/system/lib
dependencies.scanner = ldd

# Profile settings
profiles.default_profile = default
profiles.max_generations = 10
`

// Load reads path, installing the default config file first if none exists
// (install_default_config in the grounding source), then parses
// section.key = value lines over the built-in defaults, and finally
// applies NIXSTORE_<SECTION>_<KEY> environment overrides.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if werr := installDefaultConfig(path); werr != nil {
			return Config{}, fmt.Errorf("installing default config: %w", werr)
		}
	}

	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
			continue
		}

		idx := strings.Index(trimmed, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:idx])
		value := strings.TrimSpace(trimmed[idx+1:])
		applyKey(&cfg, key, value)
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func installDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(defaultConfigBody)
	return err
}

var identRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
var profileNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

func validatePathList(v string) bool {
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" || strings.Contains(p, "..") || !strings.HasPrefix(p, "/") {
			return false
		}
	}
	return true
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyKey(cfg *Config, key, value string) {
	switch key {
	case "shell.allow_system_binaries":
		cfg.Shell.AllowSystemBinaries = parseBool(value)
	case "shell.allowed_system_paths":
		if validatePathList(value) {
			cfg.Shell.AllowedSystemPaths = splitList(value)
		}
	case "shell.preserved_env_vars":
		valid := true
		for _, v := range strings.Split(value, ",") {
			if !identRe.MatchString(strings.TrimSpace(v)) {
				valid = false
				break
			}
		}
		if valid {
			cfg.Shell.PreservedEnvVars = splitList(value)
		}
	case "shell.debug_wrappers":
		cfg.Shell.DebugWrappers = parseBool(value)
	case "store.enforce_readonly":
		cfg.Store.EnforceReadonly = parseBool(value)
	case "store.store_path":
		if strings.HasPrefix(value, "/") {
			cfg.Store.StorePath = value
		}
	case "store.store_path_permissions":
		if perms, err := strconv.ParseInt(value, 8, 32); err == nil && perms >= 0 && perms <= 0o777 {
			cfg.Store.StorePathPermissions = os.FileMode(perms)
		}
	case "store.max_path_length":
		if n, err := strconv.Atoi(value); err == nil && n > 0 && n <= 65536 {
			cfg.Store.MaxPathLength = n
		}
	case "dependencies.auto_scan":
		cfg.Deps.AutoScan = parseBool(value)
	case "dependencies.max_depth":
		if d, err := strconv.Atoi(value); err == nil && d > 0 && d <= 100 {
			cfg.Deps.MaxDepth = d
		}
	case "dependencies.extra_lib_paths":
		if validatePathList(value) {
			cfg.Deps.ExtraLibPaths = splitList(value)
		}
	case "dependencies.scanner":
		if !strings.Contains(value, "/") {
			cfg.Deps.Scanner = value
		}
	case "profiles.default_profile":
		if profileNameRe.MatchString(value) {
			cfg.Profiles.DefaultProfile = value
		}
	case "profiles.max_generations":
		if g, err := strconv.Atoi(value); err == nil && g >= 0 && g <= 1000 {
			cfg.Profiles.MaxGenerations = g
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	const prefix = "NIXSTORE_"
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := envKeyToConfigKey(strings.TrimPrefix(parts[0], prefix))
		if key != "" {
			applyKey(cfg, key, parts[1])
		}
	}
}

// envKeyToConfigKey converts NIXSTORE_STORE_STORE_PATH-style env names back
// into store.store_path-style config keys by matching against the known
// key set, since the flat env encoding can't otherwise tell where the
// section boundary falls.
func envKeyToConfigKey(envKey string) string {
	for _, known := range knownKeys {
		candidate := strings.ToUpper(strings.ReplaceAll(known, ".", "_"))
		if candidate == envKey {
			return known
		}
	}
	return ""
}

var knownKeys = []string{
	"shell.allow_system_binaries",
	"shell.allowed_system_paths",
	"shell.preserved_env_vars",
	"shell.debug_wrappers",
	"store.enforce_readonly",
	"store.store_path",
	"store.store_path_permissions",
	"store.max_path_length",
	"dependencies.auto_scan",
	"dependencies.max_depth",
	"dependencies.extra_lib_paths",
	"dependencies.scanner",
	"profiles.default_profile",
	"profiles.max_generations",
}
