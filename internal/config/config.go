// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Scene ordering choices for freshly generated storyboards
const (
	OrderingLabel  = "label"  // sort scenes by the number parsed from their label
	OrderingServer = "server" // trust the order the backend returned
)

// Style propagation choices for shot level requests
const (
	PropagationScene  = "scene"  // a scene_style override wins over the session style
	PropagationGlobal = "global" // always send the session style
)

// Staleness policies for async results
const (
	StalenessIdentity   = "identity"   // target resolved by id and revision
	StalenessGeneration = "generation" // any structural mutation invalidates pending results
)

// ConfigEnvVar points at an optional TOML config file
const ConfigEnvVar = "STORYBOARD_CONFIG"

// the process wide configuration used by the server
var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// Config holds all runtime settings
type Config struct {
	Port                  string `toml:"port"`
	BackendURL            string `toml:"backend_url"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	LogDir                string `toml:"log_dir"`
	LogLevel              string `toml:"log_level"`
	DebugMode             bool   `toml:"debug_mode"`

	SceneOrdering    string `toml:"scene_ordering"`
	StylePropagation string `toml:"style_propagation"`
	StalenessPolicy  string `toml:"staleness_policy"`

	SessionTTLMinutes int    `toml:"session_ttl_minutes"`
	SessionSecret     string `toml:"session_secret"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Port:                  "8080",
		BackendURL:            "http://127.0.0.1:5000",
		RequestTimeoutSeconds: 0,
		LogDir:                "logs",
		LogLevel:              "info",
		DebugMode:             true,
		SceneOrdering:         OrderingLabel,
		StylePropagation:      PropagationScene,
		StalenessPolicy:       StalenessIdentity,
		SessionTTLMinutes:     120,
	}
}

// RequestTimeout is the per-request timeout callers wrap backend calls with. Zero means none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// SessionTTL is how long an idle editor session is kept
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Load reads .env, the optional TOML file and environment overrides, in that order.
// It returns the config and the resolved config file path ("" when none was read).
func Load(path string) (*Config, string, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	resolved := ""
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, "", fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", fmt.Errorf("parse config: %w", err)
		}
		resolved, _ = filepath.Abs(path)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", err
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return &cfg, resolved, nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.LogDir = getEnv("LOG_DIR", c.LogDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DebugMode = getEnvBool("DEBUG_MODE", c.DebugMode)
	c.SceneOrdering = getEnv("SCENE_ORDERING", c.SceneOrdering)
	c.StylePropagation = getEnv("STYLE_PROPAGATION", c.StylePropagation)
	c.StalenessPolicy = getEnv("STALENESS_POLICY", c.StalenessPolicy)
	c.SessionSecret = getEnv("SESSION_SECRET", c.SessionSecret)

	var err error
	if c.RequestTimeoutSeconds, err = getEnvInt("REQUEST_TIMEOUT_SECONDS", c.RequestTimeoutSeconds); err != nil {
		return err
	}
	if c.SessionTTLMinutes, err = getEnvInt("SESSION_TTL_MINUTES", c.SessionTTLMinutes); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalize() {
	c.Port = strings.TrimSpace(c.Port)
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	c.LogDir = strings.TrimSpace(c.LogDir)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.SceneOrdering = strings.ToLower(strings.TrimSpace(c.SceneOrdering))
	c.StylePropagation = strings.ToLower(strings.TrimSpace(c.StylePropagation))
	c.StalenessPolicy = strings.ToLower(strings.TrimSpace(c.StalenessPolicy))
}

// Validate checks that every setting holds a supported value
func (c *Config) Validate() error {
	var problems []string

	if c.Port == "" {
		problems = append(problems, "port must not be empty")
	}
	if parsed, err := url.Parse(c.BackendURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		problems = append(problems, fmt.Sprintf("backend_url %q is not an absolute URL", c.BackendURL))
	}
	if c.RequestTimeoutSeconds < 0 {
		problems = append(problems, "request_timeout_seconds must not be negative")
	}
	if c.SessionTTLMinutes <= 0 {
		problems = append(problems, "session_ttl_minutes must be positive")
	}
	if !oneOf(c.SceneOrdering, OrderingLabel, OrderingServer) {
		problems = append(problems, fmt.Sprintf("scene_ordering %q must be %q or %q", c.SceneOrdering, OrderingLabel, OrderingServer))
	}
	if !oneOf(c.StylePropagation, PropagationScene, PropagationGlobal) {
		problems = append(problems, fmt.Sprintf("style_propagation %q must be %q or %q", c.StylePropagation, PropagationScene, PropagationGlobal))
	}
	if !oneOf(c.StalenessPolicy, StalenessIdentity, StalenessGeneration) {
		problems = append(problems, fmt.Sprintf("staleness_policy %q must be %q or %q", c.StalenessPolicy, StalenessIdentity, StalenessGeneration))
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitConfig loads the configuration and installs it as the process wide config
func InitConfig(path string) error {
	cfg, resolved, err := Load(path)
	if err != nil {
		return err
	}
	if cfg.SessionSecret == "" {
		log.Println("warning: SESSION_SECRET not set, session tokens will not survive a restart")
	}
	if resolved != "" {
		log.Printf("config loaded from %s", resolved)
	}
	SetCurrentConfig(cfg)
	return nil
}

// SetCurrentConfig replaces the process wide config
func SetCurrentConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	copied := *cfg
	currentConfig = &copied
}

// GetCurrentConfig returns a copy of the current config, or the defaults when
// InitConfig has not run
func GetCurrentConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		cfg := Default()
		return &cfg
	}
	copied := *currentConfig
	return &copied
}

// Save writes cfg as TOML to path
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func oneOf(value string, options ...string) bool {
	for _, option := range options {
		if value == option {
			return true
		}
	}
	return false
}

// getEnv returns the environment value or defaultValue when unset
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvBool parses a boolean environment variable
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}
