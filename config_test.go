package smp

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", cfg.ConnectTimeout)
	}
	if cfg.UpgradeDeadline != 60*time.Second {
		t.Errorf("UpgradeDeadline = %v, want 60s", cfg.UpgradeDeadline)
	}
	if cfg.LineLength != 128 {
		t.Errorf("LineLength = %d, want 128", cfg.LineLength)
	}
}

func TestNewConfigAppliesOptions(t *testing.T) {
	cfg := NewConfig(
		WithConnectTimeout(5*time.Second),
		WithUpgradeDeadline(30*time.Second),
		WithLineLength(64),
		WithDefaultMTU(256),
	)

	if cfg.ConnectTimeout != 5*time.Second {
		t.Errorf("ConnectTimeout = %v, want 5s", cfg.ConnectTimeout)
	}
	if cfg.UpgradeDeadline != 30*time.Second {
		t.Errorf("UpgradeDeadline = %v, want 30s", cfg.UpgradeDeadline)
	}
	if cfg.LineLength != 64 {
		t.Errorf("LineLength = %d, want 64", cfg.LineLength)
	}
	if cfg.DefaultMTU != 256 {
		t.Errorf("DefaultMTU = %d, want 256", cfg.DefaultMTU)
	}
}
