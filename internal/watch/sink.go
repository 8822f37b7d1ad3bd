package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/elemecca/go-udev/devinfo"
)

// Sink receives every record udevwatch produces.
type Sink interface {
	Publish(rec devinfo.Record) error
	Close() error
}

// EncoderSink writes records to a stream.
type EncoderSink struct {
	enc *devinfo.Encoder
}

func NewEncoderSink(w io.Writer, format string) (*EncoderSink, error) {
	f, err := devinfo.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	enc, err := devinfo.NewEncoder(w, f)
	if err != nil {
		return nil, err
	}
	return &EncoderSink{enc: enc}, nil
}

func (s *EncoderSink) Publish(rec devinfo.Record) error {
	return s.enc.Encode(rec)
}

func (s *EncoderSink) Close() error {
	return s.enc.Close()
}

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// publisher is the part of pahomqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

// MQTTSink publishes each record as JSON or CBOR on
// <prefix>/<subsystem>/<action>.
type MQTTSink struct {
	client  publisher
	closer  func()
	encode  func(devinfo.Record) ([]byte, error)
	prefix  string
	qos     byte
	retain  bool
	timeout time.Duration
}

// DialMQTT connects to the broker in cfg.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, error) {
	timeout := cfg.WaitTimeout()

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("connecting to %s: timeout after %v", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}

	sink := newMQTTSink(client, cfg)
	sink.closer = func() { client.Disconnect(250) }
	return sink, nil
}

func newMQTTSink(client publisher, cfg MQTTConfig) *MQTTSink {
	encode := func(rec devinfo.Record) ([]byte, error) {
		return json.Marshal(rec)
	}
	if cfg.Payload == string(devinfo.FormatCBOR) {
		encode = devinfo.Marshal
	}
	return &MQTTSink{
		client:  client,
		encode:  encode,
		prefix:  strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:     byte(cfg.QoS),
		retain:  cfg.Retain,
		timeout: cfg.WaitTimeout(),
	}
}

// Topic returns the topic a record is published on. Enumerated devices
// use the action "present".
func Topic(prefix string, rec devinfo.Record) string {
	subsystem := rec.Device.Subsystem
	if subsystem == "" {
		subsystem = "unknown"
	}
	action := rec.Action
	if action == "" {
		action = "present"
	}
	return prefix + "/" + topicLevel(subsystem) + "/" + topicLevel(action)
}

// topicLevel strips the characters MQTT reserves inside a topic level.
func topicLevel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}

func (s *MQTTSink) Publish(rec devinfo.Record) error {
	payload, err := s.encode(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	topic := Topic(s.prefix, rec)
	token := s.client.Publish(topic, s.qos, s.retain, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}

func (s *MQTTSink) Close() error {
	if s.closer != nil {
		s.closer()
	}
	return nil
}

// MultiSink fans records out to several sinks. Every sink sees every
// record; the errors are joined.
type MultiSink []Sink

func (m MultiSink) Publish(rec devinfo.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
