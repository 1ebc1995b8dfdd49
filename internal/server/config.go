package server

import (
	"os"
	"strconv"
)

// Config holds the server runtime settings.
type Config struct {
	// Addr is the TCP listen address for the line-oriented protocol.
	Addr string
	// WSAddr is the HTTP listen address for the WebSocket transport.
	// Empty disables the WebSocket listener.
	WSAddr string
	// HistoryPath is the chat log file.
	HistoryPath string
	// HistoryTail is how many log lines are replayed to a fresh login.
	HistoryTail int
	// Workers is the number of goroutines appending to the chat log.
	// With more than one worker, log lines may land in a different order
	// than the broadcasts they record.
	Workers int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        ":9998",
		WSAddr:      "",
		HistoryPath: "history.log",
		HistoryTail: 50,
		Workers:     1,
	}
}

// ConfigFromEnv starts from the defaults and applies LINECHAT_* environment
// overrides.  Malformed numeric values fall back to the default.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("LINECHAT_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("LINECHAT_WS_ADDR"); v != "" {
		cfg.WSAddr = v
	}
	if v := os.Getenv("LINECHAT_HISTORY"); v != "" {
		cfg.HistoryPath = v
	}
	if v := os.Getenv("LINECHAT_HISTORY_TAIL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryTail = n
		}
	}
	if v := os.Getenv("LINECHAT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	return cfg.sanitized()
}

// sanitized replaces unusable values with defaults.
func (c Config) sanitized() Config {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.HistoryPath == "" {
		c.HistoryPath = def.HistoryPath
	}
	if c.HistoryTail < 0 {
		c.HistoryTail = def.HistoryTail
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	return c
}
