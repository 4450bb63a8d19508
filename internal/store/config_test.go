package store

import (
	"path/filepath"
	"testing"
)

func openTestConfig(t *testing.T) *Config {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "config.sqlite")
	db, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg, err := NewConfig(db)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	return cfg
}

func TestConfigSetGetRoundTrip(t *testing.T) {
	cfg := openTestConfig(t)

	if err := cfg.SetString("/device/class", "SEGW"); err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetString("/device/class", ""); got != "SEGW" {
		t.Fatalf("got %q, want SEGW", got)
	}

	if err := cfg.SetUint64("/watchdog/interval", 30); err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetUint64("/watchdog/interval", 0); got != 30 {
		t.Fatalf("got %d, want 30", got)
	}

	if err := cfg.SetBool("/ipt/scrambled", true); err != nil {
		t.Fatal(err)
	}
	if got := cfg.GetBool("/ipt/scrambled", false); got != true {
		t.Fatal("expected scrambled flag to round trip true")
	}
}

func TestConfigMissingPathReturnsDefault(t *testing.T) {
	cfg := openTestConfig(t)
	if got := cfg.GetString("/not/set", "fallback"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}

func TestConfigPersistsAcrossReload(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.sqlite")
	db, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.SetString("/node/tag", "abc-123"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db2, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	cfg2, err := NewConfig(db2)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg2.GetString("/node/tag", ""); got != "abc-123" {
		t.Fatalf("got %q, want abc-123 after reload", got)
	}
}
