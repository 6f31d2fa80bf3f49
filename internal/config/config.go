// Package config loads parley client configuration.
//
// Sources, lowest to highest priority:
//  1. built-in defaults
//  2. global config (~/.config/parley/parley.json[c] or parley.yaml)
//  3. project config (./.parley/parley.json[c] or parley.yaml)
//  4. PARLEY_CONFIG file
//  5. .env file (godotenv), then environment variables
//
// JSON files may carry JSONC comments and {env:VAR} / {file:path}
// placeholders.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config is the resolved client configuration.
type Config struct {
	// ServerURL is the parley backend base URL.
	ServerURL string `json:"serverURL" yaml:"serverURL"`
	// APIKey is sent as a bearer token when set.
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`

	// LogLevel is DEBUG|INFO|WARN|ERROR.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`

	// ApprovalTimeoutSecs is the local approval countdown in seconds.
	ApprovalTimeoutSecs int `json:"approvalTimeoutSecs,omitempty" yaml:"approvalTimeoutSecs,omitempty"`

	// Debug enables debug-call instrumentation.
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty"`
	// DebugRetention caps the per-session debug trace (0 = default).
	DebugRetention int `json:"debugRetention,omitempty" yaml:"debugRetention,omitempty"`

	// TranscriptDir is where committed turns are archived. Empty means
	// the default data directory.
	TranscriptDir string `json:"transcriptDir,omitempty" yaml:"transcriptDir,omitempty"`

	// InspectAddr is the listen address for the debug inspector
	// ("127.0.0.1:7733" by default, empty disables it).
	InspectAddr string `json:"inspectAddr,omitempty" yaml:"inspectAddr,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ServerURL:           "http://127.0.0.1:7700",
		LogLevel:            "INFO",
		ApprovalTimeoutSecs: 60,
		InspectAddr:         "127.0.0.1:7733",
	}
}

// Load resolves configuration for a project directory.
func Load(directory string) (*Config, error) {
	cfg := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		abs, err := filepath.Abs(path)
		if err != nil || loaded[abs] {
			return
		}
		if loadFile(path, baseDir, cfg) == nil {
			loaded[abs] = true
		}
	}

	// Global config.
	globalDir := GetPaths().Config
	loadOnce(filepath.Join(globalDir, "parley.json"), globalDir)
	loadOnce(filepath.Join(globalDir, "parley.jsonc"), globalDir)
	loadOnce(filepath.Join(globalDir, "parley.yaml"), globalDir)

	// Project config.
	if directory != "" {
		projectDir := filepath.Join(directory, ".parley")
		loadOnce(filepath.Join(projectDir, "parley.json"), projectDir)
		loadOnce(filepath.Join(projectDir, "parley.jsonc"), projectDir)
		loadOnce(filepath.Join(projectDir, "parley.yaml"), projectDir)
	}

	// Explicit override file.
	if path := os.Getenv("PARLEY_CONFIG"); path != "" {
		loadOnce(path, filepath.Dir(path))
	}

	// .env, then environment (highest priority).
	if directory != "" {
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("serverURL must not be empty")
	}
	if c.ApprovalTimeoutSecs < 0 {
		return fmt.Errorf("approvalTimeoutSecs must not be negative")
	}
	if c.DebugRetention < 0 {
		return fmt.Errorf("debugRetention must not be negative")
	}
	return nil
}

// loadFile merges one config file into cfg. Missing files are skipped.
func loadFile(path, baseDir string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		var file Config
		if err := yaml.Unmarshal(data, &file); err != nil {
			return err
		}
		merge(cfg, &file)
		return nil
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	merge(cfg, &file)
	return nil
}

func merge(target, source *Config) {
	if source.ServerURL != "" {
		target.ServerURL = source.ServerURL
	}
	if source.APIKey != "" {
		target.APIKey = source.APIKey
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.ApprovalTimeoutSecs != 0 {
		target.ApprovalTimeoutSecs = source.ApprovalTimeoutSecs
	}
	if source.Debug {
		target.Debug = true
	}
	if source.DebugRetention != 0 {
		target.DebugRetention = source.DebugRetention
	}
	if source.TranscriptDir != "" {
		target.TranscriptDir = source.TranscriptDir
	}
	if source.InspectAddr != "" {
		target.InspectAddr = source.InspectAddr
	}
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(path, "~/") {
			path = filepath.Join(os.Getenv("HOME"), path[2:])
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return match
		}
		return jsonEscape(strings.TrimSpace(string(content)))
	})

	return []byte(str)
}

func jsonEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("PARLEY_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PARLEY_TRANSCRIPT_DIR"); v != "" {
		cfg.TranscriptDir = v
	}
	if v := os.Getenv("PARLEY_INSPECT_ADDR"); v != "" {
		cfg.InspectAddr = v
	}
	if os.Getenv("PARLEY_DEBUG") == "1" || strings.EqualFold(os.Getenv("PARLEY_DEBUG"), "true") {
		cfg.Debug = true
	}
}
