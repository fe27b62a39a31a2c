package models

// RedisConfig is optional; without it webhook event dedup and the Redis
// health check are disabled.
type RedisConfig struct {
	URL string `yaml:"url" json:"url,omitzero"`
}
