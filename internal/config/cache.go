package config

import (
    "strings"
    "time"
)

// CacheConfig selects where a session client persists its last known
// identity.  Backend is one of "memory", "redis" or "keyring".  Prefix
// namespaces Redis keys, TTL expires them (zero keeps them), and
// KeyringService names the OS keyring entry.
type CacheConfig struct {
    Backend        string
    Prefix         string
    TTL            time.Duration
    KeyringService string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.  Defaults
// are used when variables are not set.  The backend name is lower-cased.
func LoadCacheConfig() CacheConfig {
    return CacheConfig{
        Backend:        strings.ToLower(strings.TrimSpace(envStr("CACHE_BACKEND", "keyring"))),
        Prefix:         envStr("CACHE_PREFIX", "marketplace:session:"),
        TTL:            envDur("CACHE_TTL", 0),
        KeyringService: envStr("KEYRING_SERVICE", "marketplace-auth"),
    }
}

// ProfileCacheConfig tunes the gateway's Redis cache of profile reads.
// Entries are per user and dropped on every successful profile update;
// TTL bounds how long a change made outside the API stays invisible.
type ProfileCacheConfig struct {
    Enabled      bool
    TTL          time.Duration
    Prefix       string
    MaxBodyBytes int
}

func LoadProfileCacheConfig() ProfileCacheConfig {
    cfg := ProfileCacheConfig{
        Enabled:      envBool("PROFILE_CACHE_ENABLED", true),
        TTL:          envDur("PROFILE_CACHE_TTL", time.Minute),
        Prefix:       envStr("PROFILE_CACHE_PREFIX", "auth:profile"),
        MaxBodyBytes: envInt("PROFILE_CACHE_MAX_BODY", 64<<10),
    }
    if cfg.TTL <= 0 { cfg.TTL = time.Minute }
    return cfg
}
