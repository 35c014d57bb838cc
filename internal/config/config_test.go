package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.ListenAddr != ":8000" {
		t.Fatalf("ListenAddr = %q, want :8000", cfg.ListenAddr)
	}
	if len(cfg.BaudRates) != len(DefaultBaudRates) {
		t.Fatalf("BaudRates = %v, want defaults", cfg.BaudRates)
	}
}

func TestLoadFromParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := "listen_addr: :9001\njwt_secret: s3cret\nusers:\n  - id: u1\n    name: alice\n    enabled: true\n"
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.ListenAddr != ":9001" || cfg.JWTSecret != "s3cret" {
		t.Fatalf("got %+v", cfg)
	}
	if len(cfg.Users) != 1 || cfg.Users[0].ID != "u1" {
		t.Fatalf("Users = %+v", cfg.Users)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg := defaults()
	cfg.Dir = dir
	cfg.ListenAddr = ":7777"
	cfg.Macros = []Macro{{ID: "home", Name: "Home", Content: "$H\n"}}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.ListenAddr != ":7777" {
		t.Fatalf("ListenAddr = %q, want :7777", loaded.ListenAddr)
	}
	if len(loaded.Macros) != 1 || loaded.Macros[0].ID != "home" {
		t.Fatalf("Macros = %+v", loaded.Macros)
	}
}

func TestMergedBaudRatesDedupsAndSortsDescending(t *testing.T) {
	cfg := &Config{BaudRates: []int{9600, 500000, 115200}}
	merged := cfg.MergedBaudRates()
	for i := 1; i < len(merged); i++ {
		if merged[i-1] < merged[i] {
			t.Fatalf("merged rates not descending: %v", merged)
		}
	}
	seen := map[int]int{}
	for _, r := range merged {
		seen[r]++
	}
	for r, n := range seen {
		if n != 1 {
			t.Fatalf("rate %d appeared %d times, want 1", r, n)
		}
	}
	if merged[0] != 500000 {
		t.Fatalf("largest rate = %d, want 500000", merged[0])
	}
}

func TestUserEnabledOpenAccessWhenNoUsersConfigured(t *testing.T) {
	cfg := &Config{}
	if !cfg.UserEnabled("anyone", "anyone") {
		t.Fatal("expected open access with an empty user list")
	}
}

func TestUserEnabledChecksAllowlist(t *testing.T) {
	cfg := &Config{Users: []User{{ID: "u1", Name: "alice", Enabled: true}, {ID: "u2", Name: "bob", Enabled: false}}}
	if !cfg.UserEnabled("u1", "alice") {
		t.Fatal("expected u1/alice to be enabled")
	}
	if cfg.UserEnabled("u2", "bob") {
		t.Fatal("expected u2/bob to be disabled")
	}
	if cfg.UserEnabled("u3", "carol") {
		t.Fatal("expected an unlisted user to be rejected")
	}
}

func TestLoadProgramSanitizesPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "job.nc"), []byte("G0 X1\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfg := &Config{WatchDir: dir}
	content, err := cfg.LoadProgram("../../../etc/passwd/job.nc")
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if content != "G0 X1\n" {
		t.Fatalf("expected path traversal to be collapsed to the base filename, got %q", content)
	}
}

func TestMacroLookup(t *testing.T) {
	cfg := &Config{Macros: []Macro{{ID: "home", Name: "Home", Content: "$H\n"}}}
	name, content, err := cfg.Macro("home")
	if err != nil || name != "Home" || content != "$H\n" {
		t.Fatalf("Macro(home) = (%q, %q, %v)", name, content, err)
	}
	if _, _, err := cfg.Macro("missing"); err == nil {
		t.Fatal("expected an error for an unknown macro id")
	}
}

func TestTriggerBindingsConvertsEvents(t *testing.T) {
	cfg := &Config{Events: map[string][]ActionConfig{
		"startup": {{Gcode: []string{"$$"}}, {Shell: []string{"echo", "hi"}}},
	}}
	bindings := cfg.TriggerBindings()
	actions, ok := bindings["startup"]
	if !ok || len(actions) != 2 {
		t.Fatalf("bindings[startup] = %+v", actions)
	}
	if len(actions[0].Gcode) != 1 || actions[0].Gcode[0] != "$$" {
		t.Fatalf("actions[0] = %+v", actions[0])
	}
	if len(actions[1].Shell) != 2 {
		t.Fatalf("actions[1] = %+v", actions[1])
	}
}
