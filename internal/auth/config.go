package auth

import "time"

// Config holds token authority configuration.
type Config struct {
	Secret    string
	Algorithm string
	TokenTTL  time.Duration
}

const (
	DefaultAlgorithm = "HS256"
	DefaultTokenTTL  = 60 * time.Minute
)

func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = DefaultAlgorithm
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	return c
}
