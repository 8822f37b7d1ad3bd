package devinfo

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCBOR Format = "cbor"
	FormatText Format = "text"
)

// ParseFormat accepts the names of the Format constants.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML, FormatCBOR, FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// recordEncMode writes deterministic CBOR so identical records produce
// identical bytes.
var recordEncMode cbor.EncMode

// recordDecMode reads records written by recordEncMode.
var recordDecMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	recordEncMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	recordDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create record CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a single record as CBOR.
func Marshal(rec Record) ([]byte, error) {
	return recordEncMode.Marshal(rec)
}

// Decoder reads back a CBOR record stream, as written by Marshal or by an
// Encoder in FormatCBOR.
type Decoder struct {
	dec *cbor.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: recordDecMode.NewDecoder(r)}
}

// Decode returns the next record, or io.EOF once the stream ends cleanly.
func (d *Decoder) Decode() (Record, error) {
	var rec Record
	if err := d.dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Encoder writes a stream of records.
type Encoder struct {
	format Format
	w      io.Writer
	json   *json.Encoder
	yaml   *yaml.Encoder
	cbor   *cbor.Encoder
}

// NewEncoder writes records to w. JSON is one object per line, YAML is a
// document stream, CBOR is a sequence of items and text is the
// udevadm-style key/value listing.
func NewEncoder(w io.Writer, format Format) (*Encoder, error) {
	e := &Encoder{format: format, w: w}
	switch format {
	case FormatJSON:
		e.json = json.NewEncoder(w)
	case FormatYAML:
		e.yaml = yaml.NewEncoder(w)
		e.yaml.SetIndent(2)
	case FormatCBOR:
		e.cbor = recordEncMode.NewEncoder(w)
	case FormatText:
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return e, nil
}

func (e *Encoder) Encode(rec Record) error {
	switch e.format {
	case FormatJSON:
		return e.json.Encode(rec)
	case FormatYAML:
		return e.yaml.Encode(rec)
	case FormatCBOR:
		return e.cbor.Encode(rec)
	default:
		return writeText(e.w, rec)
	}
}

// Close flushes any buffered output.
func (e *Encoder) Close() error {
	if e.yaml != nil {
		return e.yaml.Close()
	}
	return nil
}

func writeText(w io.Writer, rec Record) error {
	bw := bufio.NewWriter(w)
	info := rec.Device

	if rec.Action != "" {
		subsystem := info.Subsystem
		if subsystem == "" {
			subsystem = "-"
		}
		fmt.Fprintf(bw, "%s %d %s (%s)\n", rec.Action, rec.Seqnum, info.Devpath, subsystem)
	}
	fmt.Fprintf(bw, "P: %s\n", info.Devpath)
	if info.Devnode != "" {
		fmt.Fprintf(bw, "N: %s\n", strings.TrimPrefix(info.Devnode, "/dev/"))
	}
	for _, link := range info.Devlinks {
		fmt.Fprintf(bw, "S: %s\n", strings.TrimPrefix(link, "/dev/"))
	}
	for _, name := range info.PropertyNames() {
		fmt.Fprintf(bw, "E: %s=%s\n", name, info.Properties[name])
	}
	bw.WriteString("\n")
	return bw.Flush()
}
