package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the engine's ambient settings. Load from environment; call
// LoadEnvFile(".env") before Load() to source a .env file first.
type Config struct {
	// AdapterIDs is the set of Bluetooth adapters the engine drives, e.g.
	// "hci0" or "hci0,hci1". Empty means "hci0" only.
	AdapterIDs []string

	// BroadcastTickInterval is the Broadcast PA/BIG Pipeline's drain period
	// (spec.md §4.6 design value: 2 seconds).
	BroadcastTickInterval time.Duration
	// ISOSyncTimeout is the configured PA-sync/BIG-sync timeout
	// (BAPD_ISO_SYNC_TIMEOUT). The broadcast pipeline does not read it and
	// applies no timeout of its own to a pending request.
	ISOSyncTimeout time.Duration
	// BISListenerDeferTimeout is the configured defer timeout for a
	// deferred (defer=true) BIS socket (BAPD_BIS_DEFER_TIMEOUT). The group
	// scheduler does not read it.
	BISListenerDeferTimeout time.Duration

	// BroadcastRetryMax and BroadcastRetryBackoff are loaded from
	// BAPD_BROADCAST_RETRY_MAX and BAPD_BROADCAST_RETRY_BACKOFF. The
	// broadcast pipeline does not retry: a request whose dispatch fails is
	// dropped from the queue, and neither value is read.
	BroadcastRetryMax     int
	BroadcastRetryBackoff time.Duration

	// DebugHTTPAddr is the bind address for the introspection HTTP surface
	// (GET /endpoints, GET /endpoints/{id}). Empty disables it.
	DebugHTTPAddr string
	// MetricsAddr is the bind address for the Prometheus /metrics endpoint.
	// Empty disables it.
	MetricsAddr string

	// AuditDBPath is the SQLite file the diagnostic transition log writes
	// to. Empty disables audit logging entirely.
	AuditDBPath string
}

// Load reads Config from environment variables, applying the same
// getEnv-with-default idiom throughout.
func Load() *Config {
	c := &Config{
		AdapterIDs:              splitCSV(getEnv("BAPD_ADAPTERS", "hci0")),
		BroadcastTickInterval:   getEnvDuration("BAPD_BROADCAST_TICK_INTERVAL", 2*time.Second),
		ISOSyncTimeout:          getEnvDuration("BAPD_ISO_SYNC_TIMEOUT", 10*time.Second),
		BISListenerDeferTimeout: getEnvDuration("BAPD_BIS_DEFER_TIMEOUT", 5*time.Second),
		BroadcastRetryMax:       getEnvInt("BAPD_BROADCAST_RETRY_MAX", 3),
		BroadcastRetryBackoff:   getEnvDuration("BAPD_BROADCAST_RETRY_BACKOFF", 500*time.Millisecond),
		DebugHTTPAddr:           getEnv("BAPD_DEBUG_HTTP_ADDR", "127.0.0.1:8420"),
		MetricsAddr:             getEnv("BAPD_METRICS_ADDR", "127.0.0.1:9420"),
		AuditDBPath:             os.Getenv("BAPD_AUDIT_DB_PATH"),
	}
	if c.BroadcastTickInterval <= 0 {
		c.BroadcastTickInterval = 2 * time.Second
	}
	if c.ISOSyncTimeout <= 0 {
		c.ISOSyncTimeout = 10 * time.Second
	}
	if c.BroadcastRetryMax < 0 {
		c.BroadcastRetryMax = 3
	}
	if len(c.AdapterIDs) == 0 {
		c.AdapterIDs = []string{"hci0"}
	}
	return c
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
