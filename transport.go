package relog

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitdabbler/backoff"
	"github.com/vmihailenco/msgpack/v5"
)

// TransportState is the lifecycle state of a TransportClient.
type TransportState int32

const (
	TransportNotStarted TransportState = iota
	TransportConnecting
	TransportConnected
	TransportStopped
)

func (s TransportState) String() string {
	switch s {
	case TransportNotStarted:
		return "not-started"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// transportConn is a live connection, with the decoder used to read acks.
type transportConn struct {
	net.Conn
	dec *msgpack.Decoder
}

// TransportClient sends events to a remote Fluent collector over a single
// connection that a background goroutine keeps alive. It never queues:
// SendData fails fast while the connection is down, leaving retry policy
// to the caller, typically a Reliable wrapper.
type TransportClient struct {
	opts *TransportOptions
	addr string
	pool *EncoderPool

	state atomic.Int32
	conn  atomic.Pointer[transportConn]

	// mu serializes writes on the live connection
	mu sync.Mutex

	// lost wakes the connection loop after a write tore the connection down
	lost chan struct{}

	// lifeMu guards Start and Stop
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// compile-time check for Sink conformance
var _ Sink = (*TransportClient)(nil)

// NewTransportClient returns a client for the collector on host. It does
// not connect until Start is called.
func NewTransportClient(host string, opts *TransportOptions) (*TransportClient, error) {
	if len(host) == 0 {
		return nil, errors.New("relog: valid host required")
	}

	if opts == nil {
		opts = DefaultTransportOptions()
	} else {
		opts.resolve()
	}

	c := &TransportClient{
		opts: opts,
		addr: net.JoinHostPort(host, strconv.Itoa(opts.Port)),
		pool: NewEncoderPool(opts.Tag, opts.Encoder),
		lost: make(chan struct{}, 1),
	}
	c.debug("created", "network", opts.Network, "max_retry", opts.MaxRetry)
	return c, nil
}

// Start launches the connection loop. With EagerDialTries > 0, it first
// dials synchronously; if every attempt fails the loop is still started
// and the last dial error is returned.
func (c *TransportClient) Start() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	switch c.State() {
	case TransportNotStarted:
	case TransportStopped:
		return ErrClosed
	default:
		return ErrAlreadyStarted
	}
	c.state.Store(int32(TransportConnecting))

	var err error
	if c.opts.EagerDialTries > 0 {
		err = c.tryConnect(c.opts.EagerDialTries)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(ctx)

	return err
}

// tryConnect dials up to maxAttempts times, pausing between attempts.
func (c *TransportClient) tryConnect(maxAttempts int) error {
	b, err := backoff.New(
		backoff.WithInitialDelay(0),
		backoff.WithExponentialLimit(c.opts.MaxRetry),
	)
	if err != nil {
		return err
	}

	for i := 1; ; i++ {
		conn, err := c.dial(context.Background())
		if err == nil {
			c.swap(conn)
			c.debug("connected", "attempt", i)
			return nil
		}
		c.debug("eager dial failed", "attempt", i, "error", err)

		if i >= maxAttempts {
			return &CommunicationError{Op: "dial", Addr: c.addr, Err: err}
		}
		b.Sleep()
	}
}

// dial opens one connection, bounded by DialTimeout.
func (c *TransportClient) dial(ctx context.Context) (*transportConn, error) {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	switch c.opts.Network {
	case "tcp", "udp":
		conn, err = d.DialContext(ctx, c.opts.Network, c.addr)
	case "tls":
		tlsDialer := tls.Dialer{
			NetDialer: &d,
			Config:    &tls.Config{InsecureSkipVerify: c.opts.InsecureSkipVerify},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", c.addr)
	default:
		err = fmt.Errorf("unsupported transport protocol: %s", c.opts.Network)
	}
	if err != nil {
		return nil, err
	}
	return &transportConn{Conn: conn, dec: msgpack.NewDecoder(conn)}, nil
}

// swap installs conn as the live connection, closing any stale one.
func (c *TransportClient) swap(conn *transportConn) {
	if old := c.conn.Swap(conn); old != nil {
		old.Close()
	}
	c.state.CompareAndSwap(int32(TransportConnecting), int32(TransportConnected))
}

// teardown drops conn if it is still the live connection and wakes the
// connection loop.
func (c *TransportClient) teardown(conn *transportConn, cause error) {
	if !c.conn.CompareAndSwap(conn, nil) {
		return
	}
	conn.Close()
	c.state.CompareAndSwap(int32(TransportConnected), int32(TransportConnecting))
	c.opts.Logger.Warn("connection to collector lost", "addr", c.addr, "error", cause)

	select {
	case c.lost <- struct{}{}:
	default:
	}
}

func (c *TransportClient) run(ctx context.Context) {
	defer close(c.done)

	b := newRetryBackoff(c.opts.MaxRetry)
	failing := false

	for {
		if c.conn.Load() == nil {
			conn, err := c.dial(ctx)
			switch {
			case err == nil:
				c.swap(conn)
				b.success()
				if failing {
					c.opts.Logger.Info("reconnected to collector", "addr", c.addr)
				} else {
					c.debug("connected")
				}
				failing = false
			case ctx.Err() != nil:
				return
			default:
				b.failure()
				if !failing {
					c.opts.Logger.Warn("failed to connect to collector, retrying", "addr", c.addr, "error", err)
				}
				failing = true
				c.debug("dial failed", "retry_in", b.current(), "error", err)
			}
		}

		// while connected, there is nothing to do until a write fails
		var t *time.Timer
		var wait <-chan time.Time
		if c.conn.Load() == nil {
			t = time.NewTimer(b.current())
			wait = t.C
		}
		select {
		case <-ctx.Done():
		case <-c.lost:
		case <-wait:
		}
		if t != nil {
			t.Stop()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// HasConnection reports whether a connection is currently believed open.
// It is a hint; the connection can break before the next SendData.
func (c *TransportClient) HasConnection() bool {
	return c.conn.Load() != nil
}

// State returns the current lifecycle state.
func (c *TransportClient) State() TransportState {
	return TransportState(c.state.Load())
}

// Addr returns the collector address in host:port form.
func (c *TransportClient) Addr() string { return c.addr }

// SendData encodes e as a Fluent message and writes it to the collector.
// It returns ErrNotConnected when no connection is open. A failed write, or
// a missing ack when acks are requested, tears the connection down and is
// reported as a *CommunicationError.
func (c *TransportClient) SendData(e *Event) error {
	if c.State() == TransportStopped {
		return ErrClosed
	}
	if c.conn.Load() == nil {
		return ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// the connection may have dropped while waiting for the lock
	conn := c.conn.Load()
	if conn == nil {
		return ErrNotConnected
	}

	e.stamp()
	enc := c.pool.Get()
	defer enc.Free()
	if err := enc.EncodeEvent(e); err != nil {
		return fmt.Errorf("relog: failed to encode event %s: %w", e.ID, err)
	}

	if c.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	if _, err := conn.Write(enc.Bytes()); err != nil {
		c.teardown(conn, err)
		return &CommunicationError{Op: "write", Addr: c.addr, Err: err}
	}

	if c.pool.RequestACKs {
		if err := c.readAck(conn, e.ID); err != nil {
			c.teardown(conn, err)
			return &CommunicationError{Op: "ack", Addr: c.addr, Err: err}
		}
	}
	return nil
}

// Write is SendData, so a TransportClient can be used as a Sink.
func (c *TransportClient) Write(e *Event) error { return c.SendData(e) }

func (c *TransportClient) readAck(conn *transportConn, chunk string) error {
	if c.opts.WriteTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	var resp struct {
		Ack string `msgpack:"ack"`
	}
	if err := conn.dec.Decode(&resp); err != nil {
		return fmt.Errorf("failed to read ack: %w", err)
	}
	if resp.Ack != chunk {
		return fmt.Errorf("ack mismatch: expected %q, got %q", chunk, resp.Ack)
	}
	return nil
}

// Stop cancels the connection loop, waits for it to exit and closes the
// live connection. It is idempotent, and valid before Start.
func (c *TransportClient) Stop() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if TransportState(c.state.Swap(int32(TransportStopped))) == TransportStopped {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}

	// wait for an in-flight write before closing under it
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn := c.conn.Swap(nil); conn != nil {
		c.debug("closing connection")
		return conn.Close()
	}
	return nil
}

// Close is Stop.
func (c *TransportClient) Close() error { return c.Stop() }

func (c *TransportClient) debug(msg string, args ...any) {
	if !c.opts.Verbose {
		return
	}
	c.opts.Logger.Debug("transport: "+msg, append([]any{"addr", c.addr}, args...)...)
}
