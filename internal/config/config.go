// Package config loads cnccored's configuration file: the user allowlist,
// IP allow/deny rules, known serial ports and baud rates, event-trigger
// bindings, and the macro index. Modeled on haivivi-giztoy's
// cmd/giztoy/internal/config, trimmed to a single file instead of a
// multi-context tree since cnccored has no notion of "contexts".
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/cncjs/cnc-core/internal/eventtrigger"
)

// appDir is the directory name under os.UserConfigDir().
const appDir = "cnccored"

// fileName is the single YAML config file within appDir.
const fileName = "cnc.yaml"

// User is one allowlisted client, matched against the JWT subject/name.
type User struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// Port is a user-declared serial port, merged into Engine.GetPorts with
// whatever the OS enumerates (spec.md 4.8).
type Port struct {
	Path         string `yaml:"path"`
	Manufacturer string `yaml:"manufacturer,omitempty"`
}

// Macro is one named G-code snippet, addressable by ID from
// "macro:run"/"macro:load" commands.
type Macro struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Content string `yaml:"content"`
}

// ActionConfig mirrors eventtrigger.Action in YAML form: exactly one of
// Shell or Gcode should be set.
type ActionConfig struct {
	Shell []string `yaml:"shell,omitempty"`
	Gcode []string `yaml:"gcode,omitempty"`
}

// Config is the root cnccored configuration schema.
type Config struct {
	// Dir is the root configuration directory this Config was loaded from.
	Dir string `yaml:"-"`

	ListenAddr string `yaml:"listen_addr"`
	JWTSecret  string `yaml:"jwt_secret"`

	AllowIPs []string `yaml:"allow_ips,omitempty"`
	DenyIPs  []string `yaml:"deny_ips,omitempty"`

	Users     []User            `yaml:"users,omitempty"`
	Ports     []Port            `yaml:"ports,omitempty"`
	BaudRates []int             `yaml:"baud_rates,omitempty"`
	Macros    []Macro           `yaml:"macros,omitempty"`
	Events    map[string][]ActionConfig `yaml:"events,omitempty"`

	WatchDir string `yaml:"watch_dir,omitempty"`
}

// DefaultBaudRates are merged with any user-configured rates (spec.md 4.8).
var DefaultBaudRates = []int{250000, 115200, 57600, 38400, 19200, 9600, 2400}

// defaults returns a Config with every required field populated so a
// missing cnc.yaml still yields a usable daemon.
func defaults() *Config {
	return &Config{
		ListenAddr: ":8000",
		BaudRates:  append([]int(nil), DefaultBaudRates...),
	}
}

// Load loads the configuration from the default OS config directory.
func Load() (*Config, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("config: cannot determine config directory: %w", err)
	}
	return LoadFrom(filepath.Join(base, appDir))
}

// LoadFrom loads the configuration from a specific root directory. A missing
// file is not an error: it yields defaults() so a fresh install still runs.
func LoadFrom(dir string) (*Config, error) {
	cfg := defaults()
	cfg.Dir = dir

	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Dir = dir
	return cfg, nil
}

// Save writes the configuration back to its file, creating Dir if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	path := filepath.Join(c.Dir, fileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// MergedBaudRates dedup-sorts-descending DefaultBaudRates against the
// configured list (spec.md 4.8).
func (c *Config) MergedBaudRates() []int {
	seen := make(map[int]bool, len(DefaultBaudRates)+len(c.BaudRates))
	var out []int
	add := func(rates []int) {
		for _, r := range rates {
			if !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	add(DefaultBaudRates)
	add(c.BaudRates)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] < out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// UserEnabled reports whether (id, name) is allowed to connect. An empty
// user list means open access (spec.md 6).
func (c *Config) UserEnabled(id, name string) bool {
	if len(c.Users) == 0 {
		return true
	}
	for _, u := range c.Users {
		if u.ID == id && u.Name == name {
			return u.Enabled
		}
	}
	return false
}

// LoadProgram reads a named program from WatchDir, satisfying
// controller.ProgramLoader.
func (c *Config) LoadProgram(name string) (string, error) {
	if c.WatchDir == "" {
		return "", fmt.Errorf("config: no watch_dir configured")
	}
	clean := filepath.Base(name)
	data, err := os.ReadFile(filepath.Join(c.WatchDir, clean))
	if err != nil {
		return "", fmt.Errorf("config: load program %q: %w", name, err)
	}
	return string(data), nil
}

// Macro looks up a macro by ID, satisfying controller.MacroProvider.
func (c *Config) Macro(id string) (name, content string, err error) {
	for _, m := range c.Macros {
		if m.ID == id {
			return m.Name, m.Content, nil
		}
	}
	return "", "", fmt.Errorf("config: macro %q not found", id)
}

// TriggerBindings converts the YAML event bindings into the map shape
// eventtrigger.New expects.
func (c *Config) TriggerBindings() map[string][]eventtrigger.Action {
	out := make(map[string][]eventtrigger.Action, len(c.Events))
	for event, actions := range c.Events {
		for _, a := range actions {
			out[event] = append(out[event], eventtrigger.Action{Shell: a.Shell, Gcode: a.Gcode})
		}
	}
	return out
}
