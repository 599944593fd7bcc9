package clickhouse

import "time"

type ClientOption func(*ClientConfig)

// ClientConfig describes the bar store connection. Zero durations fall back
// to the defaults in NewClient.
type ClientConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string

	UseHTTP  bool
	Compress bool

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	DialTimeout time.Duration
	ReadTimeout time.Duration
	// MaxExecTime is sent as the max_execution_time setting, in whole seconds.
	MaxExecTime time.Duration
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		Port:            9000,
		User:            "default",
		Compress:        true,
		MaxOpenConns:    8,
		MaxIdleConns:    4,
		ConnMaxLifetime: 10 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     30 * time.Second,
	}
}

func WithHost(host string) ClientOption {
	return func(c *ClientConfig) { c.Host = host }
}

func WithPort(port int) ClientOption {
	return func(c *ClientConfig) {
		if port > 0 {
			c.Port = port
		}
	}
}

func WithDatabase(database string) ClientOption {
	return func(c *ClientConfig) { c.Database = database }
}

// WithCredentials keeps the default user when user is empty.
func WithCredentials(user, password string) ClientOption {
	return func(c *ClientConfig) {
		if user != "" {
			c.User = user
		}
		c.Password = password
	}
}

// WithHTTP switches from the native protocol to HTTP. Compression is only
// negotiated on the native protocol.
func WithHTTP(useHTTP bool) ClientOption {
	return func(c *ClientConfig) { c.UseHTTP = useHTTP }
}

// WithTimeouts sets dial and read timeouts; zero keeps the default.
func WithTimeouts(dial, read time.Duration) ClientOption {
	return func(c *ClientConfig) {
		if dial > 0 {
			c.DialTimeout = dial
		}
		if read > 0 {
			c.ReadTimeout = read
		}
	}
}

func WithMaxExecutionTime(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.MaxExecTime = d }
}
