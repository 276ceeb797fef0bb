package ble

import "testing"

func TestNewDefaults(t *testing.T) {
	tr := New(Config{Name: "my-device"})

	if got := tr.MTU(); got != DefaultATTMTU-attHeaderOverhead {
		t.Fatalf("MTU() = %d, want %d", got, DefaultATTMTU-attHeaderOverhead)
	}
	if got := tr.MaxUnencodedSize(); got != DefaultMaxUnencodedSize {
		t.Fatalf("MaxUnencodedSize() = %d, want %d", got, DefaultMaxUnencodedSize)
	}
}

func TestNoteLargerMTUAcceptedOnlyGrows(t *testing.T) {
	tr := New(Config{Name: "my-device"})

	tr.NoteLargerMTUAccepted(512)
	if got := tr.MaxUnencodedSize(); got != 512 {
		t.Fatalf("MaxUnencodedSize() = %d, want 512", got)
	}

	tr.NoteLargerMTUAccepted(100)
	if got := tr.MaxUnencodedSize(); got != 512 {
		t.Fatalf("MaxUnencodedSize() = %d, want 512 (a smaller observation must not shrink it)", got)
	}
}

func TestSetMaxUnencodedSizeFromInitialize(t *testing.T) {
	tr := New(Config{Name: "my-device"})

	tr.setMaxUnencodedSize(185)
	if got := tr.MaxUnencodedSize(); got != 185 {
		t.Fatalf("MaxUnencodedSize() = %d, want 185", got)
	}
}
