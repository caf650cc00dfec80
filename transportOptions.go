package relog

import "time"

// TransportOptions are used to customize a TransportClient.
//
// # Invalid options are coerced
//
// Zero and out-of-range values are replaced with defaults, so a partially
// filled struct is always usable.
type TransportOptions struct {

	// Network protocol used to communicate with the collector. Fluent
	// protocol says "protocol [enum: tcp/udp/tls]". The default is "tcp".
	//   ref: https://docs.fluentd.org/configuration/transport-section
	Network string

	// Port of the collector. The default is 24224.
	Port int

	// DialTimeout sets the timeout for each connection attempt. The default
	// is 30s.
	DialTimeout time.Duration

	// WriteTimeout bounds each write to the collector, and the wait for its
	// ack when acks are requested. If WriteTimeout < 0, no deadline is set.
	// The default is 10s.
	WriteTimeout time.Duration

	// MaxRetry caps the delay between reconnection attempts. The first
	// delay is max(500ms, MaxRetry/32). The default is 30s.
	MaxRetry time.Duration

	// EagerDialTries, when > 0, makes Start dial synchronously, up to that
	// many attempts, before the background connection loop takes over. The
	// default is 0, so Start returns immediately.
	EagerDialTries int

	// InsecureSkipVerify controls whether the client verifies the server's
	// certificate chain and host name when using TLS.
	InsecureSkipVerify bool

	// Tag is the Fluent tag attached to every message. The default is
	// "relog".
	Tag string

	// Encoder customizes message encoding. RequestACKs is ignored for udp.
	Encoder *EncoderOptions

	// Logger receives diagnostics. The default is DefaultLogger().
	Logger Logger

	// Verbose controls whether debug logs are written to the Logger.
	Verbose bool
}

const (
	defaultPort         = 24224
	defaultNetwork      = "tcp"
	defaultDialTimeout  = time.Second * 30
	defaultWriteTimeout = time.Second * 10
	defaultMaxRetry     = time.Second * 30
	defaultTag          = "relog"
)

// DefaultTransportOptions returns *TransportOptions with all default values.
func DefaultTransportOptions() *TransportOptions {
	return &TransportOptions{
		Network:      defaultNetwork,
		Port:         defaultPort,
		DialTimeout:  defaultDialTimeout,
		WriteTimeout: defaultWriteTimeout,
		MaxRetry:     defaultMaxRetry,
		Tag:          defaultTag,
		Encoder:      DefaultEncoderOptions(),
		Logger:       DefaultLogger(),
	}
}

// resolve ensures that all options have valid values.
func (o *TransportOptions) resolve() {

	// constrain to valid range
	if o.Port < 1024 || o.Port > 65535 {
		o.Port = defaultPort
	}

	// only [tcp|tls|udp], per Fluent spec
	if o.Network != "tcp" && o.Network != "tls" && o.Network != "udp" {
		o.Network = defaultNetwork
	}

	// must be positive
	if o.DialTimeout < 1 {
		o.DialTimeout = defaultDialTimeout
	}

	// can be negative (no deadline) or positive, but not 0
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}

	// must be positive
	if o.MaxRetry < 1 {
		o.MaxRetry = defaultMaxRetry
	}

	if o.EagerDialTries < 0 {
		o.EagerDialTries = 0
	}

	if len(o.Tag) == 0 {
		o.Tag = defaultTag
	}

	if o.Encoder == nil {
		o.Encoder = DefaultEncoderOptions()
	} else {
		o.Encoder.resolve()
	}

	// datagrams carry no response
	if o.Network == "udp" {
		o.Encoder.RequestACKs = false
	}

	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
}
