package devinfo

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleRecord() Record {
	sysnum := uint64(0)
	return Record{
		Action: "add",
		Seqnum: 3162,
		Time:   time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Device: Info{
			Syspath:     "/sys/devices/virtual/net/veth0",
			Devpath:     "/devices/virtual/net/veth0",
			Sysname:     "veth0",
			Sysnum:      &sysnum,
			Subsystem:   "net",
			Initialized: true,
			Tags:        []string{"systemd"},
			Properties:  map[string]string{"INTERFACE": "veth0", "IFINDEX": "7"},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, name := range []string{"json", "yaml", "cbor", "text", "JSON"} {
		f, err := ParseFormat(name)
		require.NoError(t, err, name)
		assert.Equal(t, Format(strings.ToLower(name)), f)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestMarshalCBOR(t *testing.T) {
	rec := sampleRecord()

	data, err := Marshal(rec)
	require.NoError(t, err)

	got, err := NewDecoder(bytes.NewReader(data)).Decode()
	require.NoError(t, err)
	assert.Equal(t, rec.Action, got.Action)
	assert.Equal(t, rec.Seqnum, got.Seqnum)
	assert.True(t, rec.Time.Equal(got.Time))
	assert.Equal(t, rec.Device, got.Device)

	// integer keys keep the payload compact
	var raw map[uint64]any
	require.NoError(t, cbor.Unmarshal(data, &raw))
	assert.Contains(t, raw, uint64(1))
	assert.Contains(t, raw, uint64(4))

	again, err := Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestDecoderReadsEncoderStream(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, FormatCBOR)
	require.NoError(t, err)
	require.NoError(t, enc.Encode(sampleRecord()))
	require.NoError(t, enc.Encode(Record{Device: Info{Sysname: "lo"}}))
	require.NoError(t, enc.Close())

	dec := NewDecoder(&buf)
	first, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "veth0", first.Device.Sysname)
	second, err := dec.Decode()
	require.NoError(t, err)
	assert.Equal(t, "lo", second.Device.Sysname)
	assert.Empty(t, second.Action)

	_, err = dec.Decode()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderGarbage(t *testing.T) {
	_, err := NewDecoder(bytes.NewReader([]byte{0xff, 0x00})).Decode()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestEncoderJSONLines(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, FormatJSON)
	require.NoError(t, err)

	require.NoError(t, enc.Encode(sampleRecord()))
	require.NoError(t, enc.Encode(Record{Device: Info{Sysname: "lo"}}))
	require.NoError(t, enc.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "add", first["action"])
	device := first["device"].(map[string]any)
	assert.Equal(t, "veth0", device["sysname"])
	assert.EqualValues(t, 0, device["sysnum"])
	assert.NotContains(t, device, "devnum")

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.NotContains(t, second, "action")
}

func TestEncoderYAMLStream(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, FormatYAML)
	require.NoError(t, err)

	require.NoError(t, enc.Encode(sampleRecord()))
	require.NoError(t, enc.Encode(sampleRecord()))
	require.NoError(t, enc.Close())

	dec := yaml.NewDecoder(&buf)
	count := 0
	for {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			break
		}
		assert.Equal(t, "add", doc["action"])
		count++
	}
	assert.Equal(t, 2, count)
}

func TestEncoderCBORSequence(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, FormatCBOR)
	require.NoError(t, err)

	require.NoError(t, enc.Encode(sampleRecord()))
	require.NoError(t, enc.Encode(sampleRecord()))

	dec := recordDecMode.NewDecoder(&buf)
	for i := 0; i < 2; i++ {
		var rec Record
		require.NoError(t, dec.Decode(&rec))
		assert.Equal(t, "veth0", rec.Device.Sysname)
	}
}

func TestEncoderText(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewEncoder(&buf, FormatText)
	require.NoError(t, err)

	rec := sampleRecord()
	rec.Device.Devnode = "/dev/net/veth0"
	rec.Device.Devlinks = []string{"/dev/net/by-name/veth0"}
	require.NoError(t, enc.Encode(rec))

	enumerated := Record{Device: Info{Devpath: "/devices/virtual/net/lo"}}
	require.NoError(t, enc.Encode(enumerated))

	want := "add 3162 /devices/virtual/net/veth0 (net)\n" +
		"P: /devices/virtual/net/veth0\n" +
		"N: net/veth0\n" +
		"S: net/by-name/veth0\n" +
		"E: IFINDEX=7\n" +
		"E: INTERFACE=veth0\n" +
		"\n" +
		"P: /devices/virtual/net/lo\n" +
		"\n"
	assert.Equal(t, want, buf.String())
}

func TestNewEncoderUnknownFormat(t *testing.T) {
	_, err := NewEncoder(&bytes.Buffer{}, Format("xml"))
	assert.Error(t, err)
}
