package relog

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

const testHost = "127.0.0.1"
const testTag = "test-tag"

// discardLogger keeps expected failures out of the test output.
type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}

// TestMessage is a Fluent message as seen by a collector.
type TestMessage struct {
	Tag    string
	Time   time.Time
	Record map[string]any
	Option map[string]any
}

// DecodeMsgpack deserializes the payload, which is expected to conform to the
// Fluent Message event mode format.
// [
//
//	 	tag<string>,
//		time<EventTime | int>,
//		record<map[string]any>,
//		option<optional map[string]any>
//
// ]
func (m *TestMessage) DecodeMsgpack(dec *msgpack.Decoder) error {

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return fmt.Errorf("failed to decode outer message array length: %v", err)
	}

	err = dec.Decode(&m.Tag)
	if err != nil {
		return fmt.Errorf("failed to decode tag field: %v", err)
	}

	typeCode, err := dec.PeekCode()
	if err != nil {
		return fmt.Errorf("failed to read type code for the time field: %v", err)
	}
	switch typeCode {
	case msgpcode.FixExt8:
		et := EventTime{}
		err = dec.Decode(&et)
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Time(et)
	case msgpcode.Int64:
		unix, err := dec.DecodeInt64()
		if err != nil {
			return fmt.Errorf("failed to decode the time field: %v", err)
		}
		m.Time = time.Unix(unix, 0)
	default:
		return fmt.Errorf("unexpected type code for the time field: %x", typeCode)
	}

	err = dec.Decode(&m.Record)
	if err != nil {
		return fmt.Errorf("failed to decode the record field: %v", err)
	}

	if n == 4 {
		err = dec.Decode(&m.Option)
		if err != nil {
			return fmt.Errorf("failed to decode the option field: %v", err)
		}
	}
	return nil
}

// testServer is an in-process Fluent collector. It decodes Message mode
// payloads and, when acks are enabled, answers chunk options.
type testServer struct {
	listener  net.Listener
	messageCh chan *TestMessage
	host      string
	port      int
	*testServerOptions

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown bool
}

type testServerOptions struct {
	// port to listen on; 0 picks a free one
	port    int
	ack     bool
	verbose bool
}

func newTestServer(opts *testServerOptions) (*testServer, error) {
	if opts == nil {
		opts = &testServerOptions{}
	}

	s := &testServer{
		messageCh:         make(chan *TestMessage, 1024),
		host:              testHost,
		conns:             make(map[net.Conn]struct{}),
		testServerOptions: opts,
	}

	l, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(opts.port)))
	if err != nil {
		return nil, fmt.Errorf("failed to start test server listener: %v", err)
	}
	s.listener = l
	s.port = l.Addr().(*net.TCPAddr).Port

	go func() {
		s.debug("starting listener")
		for {
			conn, err := l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					s.debug("listener closed")
					return
				}
				s.debug("listener.Accept() error: %v", err)
				continue
			}
			s.mu.Lock()
			if s.shutdown {
				s.mu.Unlock()
				conn.Close()
				return
			}
			s.conns[conn] = struct{}{}
			s.mu.Unlock()

			s.debug("new client connected")
			go s.handle(conn)
		}
	}()

	return s, nil
}

// Shutdown stops accepting and drops every open connection.
func (s *testServer) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
	s.listener.Close()
	s.dropConnections()
}

// dropConnections closes the open connections but keeps listening.
func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
		delete(s.conns, c)
	}
}

func (s *testServer) handle(conn net.Conn) {
	d := msgpack.NewDecoder(conn)
	enc := msgpack.NewEncoder(conn)

	for {
		m := new(TestMessage)
		err := d.Decode(m)
		if err != nil {
			s.debug("failed to decode Fluent Message: %v", err)
			break
		}
		s.messageCh <- m

		if chunk, ok := m.Option["chunk"]; ok && s.ack {
			if err := enc.Encode(map[string]any{"ack": chunk}); err != nil {
				s.debug("failed to ack: %v", err)
				break
			}
		}
	}

	s.debug("closing connection")
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// next returns the next message received, failing the test after timeout.
func (s *testServer) next(t *testing.T, timeout time.Duration) *TestMessage {
	t.Helper()
	select {
	case m := <-s.messageCh:
		return m
	case <-time.After(timeout):
		t.Fatalf("no message received within %v", timeout)
		return nil
	}
}

func (s *testServer) debug(format string, args ...any) {
	if !s.verbose {
		return
	}
	DefaultLogger().Debug(fmt.Sprintf("testServer: "+format, args...))
}

var errSinkDown = errors.New("sink down")

// testSink records the events written to it. It can be told to fail, and
// can hold every Write until a gate is opened.
type testSink struct {
	mu     sync.Mutex
	fail   bool
	gate   chan struct{}
	events []*Event
	closed bool
}

func (s *testSink) Write(e *Event) error {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSinkDown
	}
	s.events = append(s.events, e)
	return nil
}

func (s *testSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSink) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *testSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eventIDs(s.events)
}

func (s *testSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// normalize maps every integer type onto int64, since msgpack decodes
// integers into the narrowest type that holds them.
func normalize(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Map:
		if m, ok := v.(map[string]any); ok {
			out := make(map[string]any, len(m))
			for k, e := range m {
				out[k] = normalize(e)
			}
			return out
		}
	}
	return v
}

func assertRecord(t *testing.T, want, got map[string]any) {
	t.Helper()
	w, g := normalize(want), normalize(got)
	if !reflect.DeepEqual(w, g) {
		t.Fatalf("\nexpected: %+v\nreceived: %+v", w, g)
	}
}
