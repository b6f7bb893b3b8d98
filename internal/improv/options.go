package improv

import "time"

// Logger is the leveled logging capability the client writes to.
// Key/value pairs follow the message, as in zap's SugaredLogger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Default timeouts
const (
	DefaultIdentifyTimeout  = 1 * time.Second
	DefaultStateTimeout     = 5 * time.Second
	DefaultScanTimeout      = 30 * time.Second
	DefaultProvisionTimeout = 30 * time.Second
	DefaultResultGrace      = 1 * time.Second
	DefaultReadBufferSize   = 512
)

// Config holds the client configuration.
type Config struct {
	// Logger receives protocol diagnostics (optional)
	Logger Logger

	// IdentifyTimeout bounds the identify handshake in Initialize
	IdentifyTimeout time.Duration

	// StateTimeout bounds RequestState
	StateTimeout time.Duration

	// ScanTimeout bounds a whole scan, across all result frames
	ScanTimeout time.Duration

	// ProvisionTimeout is used when Provision is called with a zero timeout
	ProvisionTimeout time.Duration

	// ResultGrace is how long Provision waits for the redirect URL once the
	// device reports PROVISIONED before the acknowledgement
	ResultGrace time.Duration

	// ReadBufferSize is the size of each transport read
	ReadBufferSize int

	// LineHandler receives device console output (optional)
	LineHandler func(line string)
}

func defaultConfig() Config {
	return Config{
		Logger:           nopLogger{},
		IdentifyTimeout:  DefaultIdentifyTimeout,
		StateTimeout:     DefaultStateTimeout,
		ScanTimeout:      DefaultScanTimeout,
		ProvisionTimeout: DefaultProvisionTimeout,
		ResultGrace:      DefaultResultGrace,
		ReadBufferSize:   DefaultReadBufferSize,
	}
}

// Option is a functional option for configuring the Client.
type Option func(*Config)

// WithLogger sets the logger for protocol diagnostics.
//
// Example:
//
//	client := improv.NewClient(port, improv.WithLogger(logging.ImprovLogger()))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithIdentifyTimeout sets how long Initialize waits for the device to answer.
func WithIdentifyTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.IdentifyTimeout = d
		}
	}
}

// WithStateTimeout sets how long RequestState waits for a state report.
func WithStateTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.StateTimeout = d
		}
	}
}

// WithScanTimeout sets the deadline for a complete network scan.
func WithScanTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ScanTimeout = d
		}
	}
}

// WithProvisionTimeout sets the default provisioning deadline.
func WithProvisionTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.ProvisionTimeout = d
		}
	}
}

// WithResultGrace sets how long to wait for a redirect URL after PROVISIONED.
func WithResultGrace(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.ResultGrace = d
		}
	}
}

// WithLineHandler receives every line of console output the device prints
// between frames.
func WithLineHandler(fn func(line string)) Option {
	return func(c *Config) {
		c.LineHandler = fn
	}
}
