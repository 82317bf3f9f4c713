package config

import (
	"os"
	"testing"
	"time"
)

func clearBAPDEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"BAPD_ADAPTERS", "BAPD_BROADCAST_TICK_INTERVAL", "BAPD_ISO_SYNC_TIMEOUT",
		"BAPD_BIS_DEFER_TIMEOUT", "BAPD_BROADCAST_RETRY_MAX", "BAPD_BROADCAST_RETRY_BACKOFF",
		"BAPD_DEBUG_HTTP_ADDR", "BAPD_METRICS_ADDR", "BAPD_AUDIT_DB_PATH",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearBAPDEnv(t)
	c := Load()
	if len(c.AdapterIDs) != 1 || c.AdapterIDs[0] != "hci0" {
		t.Fatalf("expected default adapter hci0, got %+v", c.AdapterIDs)
	}
	if c.BroadcastTickInterval != 2*time.Second {
		t.Fatalf("expected default tick interval 2s, got %v", c.BroadcastTickInterval)
	}
	if c.BroadcastRetryMax != 3 {
		t.Fatalf("expected default retry max 3, got %d", c.BroadcastRetryMax)
	}
	if c.AuditDBPath != "" {
		t.Fatalf("expected audit disabled by default, got %q", c.AuditDBPath)
	}
}

func TestLoadParsesMultipleAdapters(t *testing.T) {
	clearBAPDEnv(t)
	os.Setenv("BAPD_ADAPTERS", "hci0, hci1,hci2")
	c := Load()
	if len(c.AdapterIDs) != 3 {
		t.Fatalf("expected 3 adapters, got %+v", c.AdapterIDs)
	}
}

func TestLoadInvalidDurationFallsBackToDefault(t *testing.T) {
	clearBAPDEnv(t)
	os.Setenv("BAPD_BROADCAST_TICK_INTERVAL", "not-a-duration")
	c := Load()
	if c.BroadcastTickInterval != 2*time.Second {
		t.Fatalf("expected fallback to default on invalid duration, got %v", c.BroadcastTickInterval)
	}
}

func TestLoadNegativeRetryMaxFallsBackToDefault(t *testing.T) {
	clearBAPDEnv(t)
	os.Setenv("BAPD_BROADCAST_RETRY_MAX", "-5")
	c := Load()
	if c.BroadcastRetryMax != 3 {
		t.Fatalf("expected fallback to default for negative retry max, got %d", c.BroadcastRetryMax)
	}
}
