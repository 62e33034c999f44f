package config

import "time"

// ClientConfig configures a session client (the authctl tool and any
// app embedding the auth contexts).  Nothing is required: every value
// has a local-development default.
type ClientConfig struct {
    GatewayURL    string        // base URL of the auth gateway service
    APIURL        string        // base URL of the data/storage API
    HTTPTimeout   time.Duration // per-request timeout of both HTTP clients
    AMQPURL       string        // broker carrying remote auth events
    EventsEnabled bool          // bridge remote sign-outs into the client
    Cache         CacheConfig
}

// LoadClient reads the client configuration.
func LoadClient() ClientConfig {
    LoadEnvFile()
    return ClientConfig{
        GatewayURL:    envStr("GATEWAY_URL", "http://localhost:8080"),
        APIURL:        envStr("API_URL", "http://localhost:8081"),
        HTTPTimeout:   envDur("HTTP_TIMEOUT", 10*time.Second),
        AMQPURL:       AMQPURL(),
        EventsEnabled: envBool("AUTH_EVENTS_ENABLED", false),
        Cache:         LoadCacheConfig(),
    }
}
