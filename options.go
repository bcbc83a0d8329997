package sbrick

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/SeamusWaldron/sbrick_ble_library/internal/protocol"
)

// Default timings.
const (
	DefaultKeepaliveInterval = 300 * time.Millisecond
	DefaultSensorInterval    = 200 * time.Millisecond
	DefaultConnectTimeout    = 10 * time.Second
)

// Option configures SBrick behavior.
type Option func(*config)

type config struct {
	logger            *logrus.Logger
	namePrefix        string
	address           string
	connectTimeout    time.Duration
	keepaliveInterval time.Duration
	sensorInterval    time.Duration
	registerer        prometheus.Registerer
}

func defaultConfig() *config {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	return &config{
		logger:            logger,
		namePrefix:        protocol.DefaultNamePrefix,
		connectTimeout:    DefaultConnectTimeout,
		keepaliveInterval: DefaultKeepaliveInterval,
		sensorInterval:    DefaultSensorInterval,
	}
}

// WithLogger sets the logger. The default logs warnings and errors to stderr.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNamePrefix sets the advertised name prefix used to select a device.
// An empty prefix accepts the first device found.
func WithNamePrefix(prefix string) Option {
	return func(c *config) {
		c.namePrefix = prefix
	}
}

// WithAddress connects to a specific device address instead of matching by name.
func WithAddress(address string) Option {
	return func(c *config) {
		c.address = address
	}
}

// WithConnectTimeout bounds device discovery and connection.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithKeepaliveInterval sets how often the link is polled.
func WithKeepaliveInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.keepaliveInterval = d
		}
	}
}

// WithSensorInterval sets the delay between sensor reads.
func WithSensorInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sensorInterval = d
		}
	}
}

// WithMetrics registers the driver's Prometheus collectors with reg.
// Without it the collectors are kept but not exported.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}
