package watch

import (
	"errors"
	"fmt"
	"io"

	"github.com/elemecca/go-udev/devinfo"
)

// Replay publishes every record of a CBOR capture, such as the output of
// --format cbor, to sink in order. It returns how many were published.
func Replay(r io.Reader, sink Sink) (int, error) {
	dec := devinfo.NewDecoder(r)
	n := 0
	for {
		rec, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reading record %d: %w", n+1, err)
		}
		if err := sink.Publish(rec); err != nil {
			return n, fmt.Errorf("publishing record %d: %w", n+1, err)
		}
		n++
	}
}
