package watch

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elemecca/go-udev/devinfo"
)

type fakeToken struct {
	done    bool
	err     error
	waitFor time.Duration
}

func (t *fakeToken) Wait() bool {
	return t.done
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	t.waitFor = d
	return t.done
}

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

func (t *fakeToken) Error() error {
	return t.err
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	token *fakeToken
	sent  []published
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	p.sent = append(p.sent, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return p.token
}

func testRecord(action, subsystem string) devinfo.Record {
	return devinfo.Record{
		Action: action,
		Seqnum: 11,
		Device: devinfo.Info{
			Syspath:   "/sys/devices/virtual/input/input3",
			Sysname:   "input3",
			Subsystem: subsystem,
		},
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "udev/input/add", Topic("udev", testRecord("add", "input")))
	assert.Equal(t, "udev/input/present", Topic("udev", testRecord("", "input")))
	assert.Equal(t, "udev/unknown/remove", Topic("udev", testRecord("remove", "")))
	assert.Equal(t, "home/udev/a_b_c_d/change", Topic("home/udev", testRecord("change", "a/b+c#d")))
}

func TestMQTTSinkPublish(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: true}}
	sink := newMQTTSink(pub, MQTTConfig{TopicPrefix: "udev/", QoS: 1, Retain: true, Timeout: 3})

	require.NoError(t, sink.Publish(testRecord("add", "input")))
	require.Len(t, pub.sent, 1)

	msg := pub.sent[0]
	assert.Equal(t, "udev/input/add", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)
	assert.Equal(t, 3*time.Second, pub.token.waitFor)

	var rec devinfo.Record
	require.NoError(t, json.Unmarshal(msg.payload, &rec))
	assert.Equal(t, "input3", rec.Device.Sysname)
	assert.Equal(t, uint64(11), rec.Seqnum)

	assert.NoError(t, sink.Close())
}

func TestMQTTSinkCBORPayload(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: true}}
	cfg := Default().MQTT
	cfg.Payload = "cbor"
	sink := newMQTTSink(pub, cfg)

	require.NoError(t, sink.Publish(testRecord("change", "input")))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, 10*time.Second, pub.token.waitFor)

	rec, err := devinfo.NewDecoder(bytes.NewReader(pub.sent[0].payload)).Decode()
	require.NoError(t, err)
	assert.Equal(t, "change", rec.Action)
	assert.Equal(t, "input3", rec.Device.Sysname)
}

func TestMQTTSinkPublishFailures(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{done: false}}
	sink := newMQTTSink(pub, MQTTConfig{TopicPrefix: "udev", Timeout: 1})

	err := sink.Publish(testRecord("add", "input"))
	assert.ErrorIs(t, err, ErrPublishTimeout)

	errBroker := errors.New("not authorized")
	pub.token = &fakeToken{done: true, err: errBroker}
	err = sink.Publish(testRecord("add", "input"))
	assert.ErrorIs(t, err, errBroker)
}

func TestEncoderSink(t *testing.T) {
	var buf bytes.Buffer
	sink, err := NewEncoderSink(&buf, "json")
	require.NoError(t, err)

	require.NoError(t, sink.Publish(testRecord("add", "input")))
	require.NoError(t, sink.Close())
	assert.Contains(t, buf.String(), `"sysname":"input3"`)

	_, err = NewEncoderSink(&buf, "xml")
	assert.Error(t, err)
}

type recordingSink struct {
	records []devinfo.Record
	err     error
	closed  bool
}

func (s *recordingSink) Publish(rec devinfo.Record) error {
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return s.err
}

func TestMultiSink(t *testing.T) {
	errFirst := errors.New("first failed")
	first := &recordingSink{err: errFirst}
	second := &recordingSink{}
	multi := MultiSink{first, second}

	err := multi.Publish(testRecord("add", "input"))
	assert.ErrorIs(t, err, errFirst)
	assert.Len(t, first.records, 1)
	assert.Len(t, second.records, 1)

	err = multi.Close()
	assert.ErrorIs(t, err, errFirst)
	assert.True(t, first.closed)
	assert.True(t, second.closed)

	assert.NoError(t, MultiSink{second}.Publish(testRecord("remove", "input")))
}
