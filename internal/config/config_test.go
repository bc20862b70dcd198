package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IPCPort != 17400 {
		t.Fatalf("unexpected default IPC port: %d", cfg.IPCPort)
	}
	if cfg.GiveUpAfterN != 4 {
		t.Fatalf("unexpected default give-up threshold: %d", cfg.GiveUpAfterN)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("WAVER_IPC_PORT", "19000")
	t.Setenv("WAVER_ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.IPCPort != 19000 {
		t.Fatalf("unexpected IPC port: %d", cfg.IPCPort)
	}
	if cfg.Environment != "production" {
		t.Fatalf("unexpected environment: %q", cfg.Environment)
	}
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("WAVER_IPC_PORT", "99999")

	if _, err := Load(); err == nil {
		t.Fatal("expected invalid IPC port to fail validation")
	}
}

func TestLoadRejectsZeroGiveUpThreshold(t *testing.T) {
	t.Setenv("WAVER_GIVE_UP_AFTER_N", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected zero give-up threshold to fail validation")
	}
}
