package config

import "strings"

// LogConfig controls structured logging.  When File is set, output is
// written there and rotated once it exceeds MaxSizeMB.
type LogConfig struct {
    Level      string // debug | info | warn | error
    Format     string // json | text
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
}

func LoadLogConfig() LogConfig {
    return LogConfig{
        Level:      strings.ToLower(envStr("LOG_LEVEL", "info")),
        Format:     strings.ToLower(envStr("LOG_FORMAT", "json")),
        File:       envStr("LOG_FILE", ""),
        MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
        MaxBackups: envInt("LOG_MAX_BACKUPS", 3),
        MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 28),
    }
}
