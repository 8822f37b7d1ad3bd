package udev

import (
	"errors"
	"fmt"
	"sync"
)

// DeviceCallback receives each device a Listener reports. The callback
// owns dev and should Close it when done.
type DeviceCallback func(dev *Device, present bool)

// Listener reports the devices of one class as they come and go.
//
// The Listener's goroutine uses the Context while listening, so apart from
// the Listener's own Enumerate nothing else may use that Context until Stop
// returns. Enumerate may run while listening: it and the goroutine take
// turns on the Context, and callbacks never run concurrently. A callback
// must not call Stop.
type Listener struct {
	class    DeviceClass
	callback DeviceCallback
	ctx      *Context

	// serializes callbacks and native calls between Enumerate and the pump
	mu sync.Mutex

	stream *EventStream
	done   chan struct{}
	err    error
}

func NewListener(
	ctx *Context,
	class DeviceClass,
	callback DeviceCallback,
) (*Listener, error) {
	if _, ok := deviceClassMatches[class]; !ok {
		return nil, fmt.Errorf("udev: no filter for device class %v", class)
	}
	return &Listener{
		class:    class,
		callback: callback,
		ctx:      ctx,
	}, nil
}

// Listen starts reporting devices as they are added (present) and removed
// (not present). Other actions are ignored.
func (l *Listener) Listen() error {
	if l.stream != nil {
		return errors.New("listener is already listening")
	}

	l.mu.Lock()
	stream, err := l.subscribe()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	stream.gate = &l.mu
	l.stream = stream
	l.done = make(chan struct{})
	l.err = nil
	go l.eventPump(stream, l.done)
	return nil
}

func (l *Listener) subscribe() (*EventStream, error) {
	match := deviceClassMatches[l.class]

	monitor, err := l.ctx.Monitor()
	if err != nil {
		return nil, fmt.Errorf("failed to create udev monitor: %w", err)
	}
	if err := monitor.FilterBySubsystemDevtype(match.subsystem, match.devtype); err != nil {
		monitor.Close()
		return nil, fmt.Errorf("failed to add udev filter: %w", err)
	}
	stream, err := monitor.Events()
	if err != nil {
		monitor.Close()
		return nil, fmt.Errorf("failed to enable udev monitor: %w", err)
	}
	return stream, nil
}

// Stop ends listening and waits for the event goroutine to exit. It
// returns the error that ended the goroutine early, if any.
func (l *Listener) Stop() error {
	if l.stream == nil {
		return errors.New("listener is not listening")
	}

	// wakes the pump, which then exits
	l.stream.Close()
	<-l.done

	l.stream = nil
	l.done = nil
	return l.err
}

func (l *Listener) eventPump(stream *EventStream, done chan struct{}) {
	defer close(done)

	for {
		ev, dev, err := stream.Next()
		if err != nil {
			if !errors.Is(err, ErrClosed) {
				l.err = err
			}
			return
		}

		var present bool
		switch ev.Action {
		case ActionAdd:
			present = true
		case ActionRemove:
			present = false
		default:
			dev.Close()
			continue
		}

		l.mu.Lock()
		l.callback(dev, present)
		l.mu.Unlock()
	}
}

// Enumerate reports every device of the class that is currently present.
func (l *Listener) Enumerate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	match := deviceClassMatches[l.class]

	enumerator, err := l.ctx.Enumerator()
	if err != nil {
		return fmt.Errorf("failed to create udev enumerator: %w", err)
	}
	defer enumerator.Close()

	if err := enumerator.MatchSubsystem(match.subsystem); err != nil {
		return fmt.Errorf("failed to add udev subsystem filter: %w", err)
	}
	if match.devtype != "" {
		if err := enumerator.MatchProperty("DEVTYPE", match.devtype); err != nil {
			return fmt.Errorf("failed to add udev devtype filter: %w", err)
		}
	}
	if err := enumerator.Scan(); err != nil {
		return fmt.Errorf("failed to perform udev enumeration: %w", err)
	}

	for dev := range enumerator.Devices() {
		l.callback(dev, true)
	}
	return nil
}
