package server

import (
	"net"
	"strconv"
	"time"

	"github.com/agentstation/banrelay/pkg/constants"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// Subscriber settings
	QueueSize        int // Outbound frames buffered per subscriber
	ConnectRateLimit int // Upgrades per minute per IP (0 to disable)

	// HTTP timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Features
	MetricsEnabled bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:             constants.DefaultHost,
		Port:             constants.DefaultPort,
		QueueSize:        constants.SubscriberQueueSize,
		ConnectRateLimit: 60,
		ReadTimeout:      constants.ReadTimeout,
		WriteTimeout:     constants.WriteTimeout,
		IdleTimeout:      constants.IdleTimeout,
		MetricsEnabled:   true,
	}
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
