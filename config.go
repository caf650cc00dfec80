package relog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill/message"
)

// SinkConfig describes a sink to construct with Build. The variants are
// TransportConfig, WriterConfig, PublisherConfig, MultiConfig and
// ReliableConfig; the set is closed.
type SinkConfig interface {
	sinkConfig()
}

// TransportConfig builds a started TransportClient.
type TransportConfig struct {
	Host    string
	Options *TransportOptions
}

// WriterConfig builds a WriterSink. Writer takes precedence over Path; a
// Path is opened for appending and closed with the sink. With neither set,
// events go to stdout.
type WriterConfig struct {
	Writer io.Writer
	Path   string
}

// PublisherConfig builds a PublisherSink.
type PublisherConfig struct {
	Publisher message.Publisher
	Topic     string
	Codec     Codec[*Event]
}

// MultiConfig builds a MultiSink over its children.
type MultiConfig struct {
	Sinks []SinkConfig
}

// ReliableConfig builds a Reliable wrapper around Inner.
type ReliableConfig struct {
	Inner   SinkConfig
	Options *ReliableOptions
}

func (*TransportConfig) sinkConfig() {}
func (*WriterConfig) sinkConfig()    {}
func (*PublisherConfig) sinkConfig() {}
func (*MultiConfig) sinkConfig()     {}
func (*ReliableConfig) sinkConfig()  {}

// Build constructs the sink cfg describes. On failure every sink already
// constructed for it is closed.
func Build(cfg SinkConfig) (Sink, error) {
	switch c := cfg.(type) {
	case *TransportConfig:
		tc, err := NewTransportClient(c.Host, c.Options)
		if err != nil {
			return nil, err
		}
		if err := tc.Start(); err != nil {
			tc.Stop()
			return nil, err
		}
		return tc, nil

	case *WriterConfig:
		switch {
		case c.Writer != nil:
			return NewWriterSink(c.Writer), nil
		case len(c.Path) > 0:
			f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("relog: failed to open log file: %w", err)
			}
			return newOwningWriterSink(f), nil
		default:
			return NewWriterSink(os.Stdout), nil
		}

	case *PublisherConfig:
		if c.Publisher == nil {
			return nil, errors.New("relog: PublisherConfig requires a publisher")
		}
		if len(c.Topic) == 0 {
			return nil, errors.New("relog: PublisherConfig requires a topic")
		}
		return NewPublisherSink(c.Publisher, c.Topic, c.Codec), nil

	case *MultiConfig:
		sinks := make([]Sink, 0, len(c.Sinks))
		for i, child := range c.Sinks {
			s, err := Build(child)
			if err != nil {
				NewMultiSink(sinks...).Close()
				return nil, fmt.Errorf("relog: multi sink child %d: %w", i, err)
			}
			sinks = append(sinks, s)
		}
		return NewMultiSink(sinks...), nil

	case *ReliableConfig:
		inner, err := Build(c.Inner)
		if err != nil {
			return nil, err
		}
		r, err := NewReliable(inner, c.Options)
		if err != nil {
			inner.Close()
			return nil, err
		}
		return r, nil

	case nil:
		return nil, errors.New("relog: nil sink config")
	default:
		return nil, fmt.Errorf("relog: unknown sink config %T", cfg)
	}
}

// CloneConfig returns a deep copy of cfg. Options are copied by value;
// writers, publishers and codecs are shared.
func CloneConfig(cfg SinkConfig) SinkConfig {
	switch c := cfg.(type) {
	case *TransportConfig:
		out := *c
		if c.Options != nil {
			opts := *c.Options
			if c.Options.Encoder != nil {
				enc := *c.Options.Encoder
				opts.Encoder = &enc
			}
			out.Options = &opts
		}
		return &out

	case *WriterConfig:
		out := *c
		return &out

	case *PublisherConfig:
		out := *c
		return &out

	case *MultiConfig:
		out := &MultiConfig{Sinks: make([]SinkConfig, len(c.Sinks))}
		for i, child := range c.Sinks {
			out.Sinks[i] = CloneConfig(child)
		}
		return out

	case *ReliableConfig:
		out := &ReliableConfig{Inner: CloneConfig(c.Inner)}
		if c.Options != nil {
			opts := *c.Options
			out.Options = &opts
		}
		return out

	default:
		return nil
	}
}
