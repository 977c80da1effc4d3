package bridge

import (
	"os"
	"strconv"
	"time"
)

// Config configures the Redis transport. The topic passed to Connect is
// appended to TopicPrefix to form the pub/sub channel name.
type Config struct {
	Addr        string        `json:"addr"`
	Password    string        `json:"-"`
	DB          int           `json:"db"`
	TopicPrefix string        `json:"topic_prefix"`
	Echo        bool          `json:"echo"` // deliver frames this instance published
	DialTimeout time.Duration `json:"dial_timeout"`
}

// DefaultConfig targets a local Redis with the "realtime:" topic namespace.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		TopicPrefix: "realtime:",
		DialTimeout: 5 * time.Second,
	}
}

// ConfigFromEnv overlays REALTIME_REDIS_* variables on DefaultConfig.
// Unparsable values keep the default.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("REALTIME_REDIS_ADDR"); ok && v != "" {
		cfg.Addr = v
	}
	cfg.Password = os.Getenv("REALTIME_REDIS_PASSWORD")
	if v, err := strconv.Atoi(os.Getenv("REALTIME_REDIS_DB")); err == nil && v >= 0 {
		cfg.DB = v
	}
	if v, ok := os.LookupEnv("REALTIME_REDIS_TOPIC_PREFIX"); ok {
		cfg.TopicPrefix = v
	}
	if v, err := strconv.ParseBool(os.Getenv("REALTIME_REDIS_ECHO")); err == nil {
		cfg.Echo = v
	}
	if v, err := time.ParseDuration(os.Getenv("REALTIME_REDIS_DIAL_TIMEOUT")); err == nil && v > 0 {
		cfg.DialTimeout = v
	}
	return cfg
}
