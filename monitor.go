package udev

import (
	"context"
	"errors"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/elemecca/go-udev/internal/libudev"
)

// Monitor is an event subscription that is still being configured.
// Filters of the same kind are ORed; subsystem and tag filters are ANDed.
// Events consumes the Monitor and starts receiving; from then on every
// filter call returns ErrMonitorEnabled.
type Monitor struct {
	ctx      *Context
	h        libudev.Monitor
	res      *resource
	consumed bool
}

func (c *Context) wrapMonitor(h libudev.Monitor) *Monitor {
	lib := c.lib
	m := &Monitor{ctx: c, h: h}
	m.res = c.track("monitor", func() { lib.MonitorUnref(h) })
	runtime.SetFinalizer(m, (*Monitor).finalize)
	return m
}

func (m *Monitor) finalize() {
	if !m.consumed {
		m.ctx.deferRelease(m.res)
	}
}

// Close releases a Monitor that was never enabled. Once Events has been
// called the EventStream owns the subscription and Close does nothing.
func (m *Monitor) Close() error {
	if m.consumed {
		return nil
	}
	m.ctx.untrack(m.res)
	runtime.SetFinalizer(m, nil)
	return nil
}

func (m *Monitor) configurable() error {
	if m.consumed {
		return ErrMonitorEnabled
	}
	if !m.ctx.alive(m.res) {
		return ErrClosed
	}
	return nil
}

// FilterBySubsystem only passes devices in subsystem or in any subsystem
// given earlier.
func (m *Monitor) FilterBySubsystem(subsystem string) error {
	return m.FilterBySubsystemDevtype(subsystem, "")
}

// FilterBySubsystemDevtype only passes devices matching the
// subsystem/devtype pair or any pair or subsystem given earlier.
func (m *Monitor) FilterBySubsystemDevtype(subsystem, devtype string) error {
	if err := m.configurable(); err != nil {
		return err
	}
	checkStatus("udev_monitor_filter_add_match_subsystem_devtype",
		m.ctx.lib.MonitorFilterAddMatchSubsystemDevtype(m.h, subsystem, devtype))
	return nil
}

// FilterByTag only passes devices carrying tag or any tag given earlier.
func (m *Monitor) FilterByTag(tag string) error {
	if err := m.configurable(); err != nil {
		return err
	}
	checkStatus("udev_monitor_filter_add_match_tag", m.ctx.lib.MonitorFilterAddMatchTag(m.h, tag))
	return nil
}

// ClearFilters drops every filter so that all devices pass.
func (m *Monitor) ClearFilters() error {
	if err := m.configurable(); err != nil {
		return err
	}
	checkStatus("udev_monitor_filter_remove", m.ctx.lib.MonitorFilterRemove(m.h))
	return nil
}

// Events freezes the filters, starts receiving and returns the stream of
// events. The Monitor cannot be used afterwards; it fails with
// ErrMonitorEnabled even when Events itself failed after enabling.
func (m *Monitor) Events() (*EventStream, error) {
	if err := m.configurable(); err != nil {
		return nil, err
	}
	if err := m.ctx.enter(); err != nil {
		return nil, err
	}
	lib := m.ctx.lib

	if err := statusError("udev_monitor_enable_receiving", lib.MonitorEnableReceiving(m.h)); err != nil {
		return nil, err
	}
	m.consumed = true
	runtime.SetFinalizer(m, nil)

	var wake [2]int
	if err := unix.Pipe2(wake[:], unix.O_CLOEXEC); err != nil {
		m.ctx.untrack(m.res)
		return nil, &SystemError{Op: "pipe2", Errno: errnoOf(err)}
	}

	rx := &receiver{
		lib:   lib,
		h:     m.h,
		fd:    lib.MonitorGetFd(m.h),
		wakeR: wake[0],
		wakeW: wake[1],
	}
	m.ctx.retarget(m.res, "event stream", rx.release)

	s := &EventStream{ctx: m.ctx, rx: rx, res: m.res}
	runtime.SetFinalizer(s, (*EventStream).finalize)
	return s, nil
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}

// EventStream is an enabled subscription. Next blocks until an event
// arrives; the stream has no end of its own and stops only when it or its
// Context is closed.
type EventStream struct {
	ctx *Context
	rx  *receiver
	res *resource

	// gate, when set, is held around every native call Next makes once
	// the monitor is readable, so another goroutine holding it can use
	// the Context meanwhile.
	gate sync.Locker
}

// receiver holds what the release path needs, so that the EventStream
// itself stays collectable.
type receiver struct {
	lib libudev.Library
	h   libudev.Monitor
	fd  int

	wakeR, wakeW int
	stopOnce     sync.Once
	stopped      atomic.Bool

	// held by Next for its whole duration
	busy sync.Mutex
}

func (rx *receiver) stop() {
	rx.stopOnce.Do(func() {
		rx.stopped.Store(true)
		unix.Close(rx.wakeW)
	})
}

// release wakes any blocked Next, waits for it to return and then drops
// the native monitor.
func (rx *receiver) release() {
	rx.stop()
	rx.busy.Lock()
	defer rx.busy.Unlock()
	unix.Close(rx.wakeR)
	rx.lib.MonitorUnref(rx.h)
}

// wait blocks until the monitor is readable. It reports false when the
// wake pipe was closed.
func (rx *receiver) wait() (bool, error) {
	fds := []unix.PollFd{
		{Fd: int32(rx.wakeR), Events: unix.POLLIN},
		{Fd: int32(rx.fd), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return false, &SystemError{Op: "poll", Errno: errnoOf(err)}
		}
		if fds[0].Revents != 0 {
			return false, nil
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			return true, nil
		}
		if fds[1].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return false, &SystemError{Op: "poll", Errno: syscall.EBADF}
		}
	}
}

func (s *EventStream) finalize() {
	s.ctx.deferRelease(s.res)
}

// Next blocks until the next event and returns it with the device it
// concerns. Receive failures are retried without limit. It returns
// ErrClosed once the stream or its Context is closed, including when Close
// is called while Next is waiting.
func (s *EventStream) Next() (Event, *Device, error) {
	rx := s.rx
	rx.busy.Lock()
	defer rx.busy.Unlock()

	for {
		if rx.stopped.Load() || !s.ctx.alive(s.res) {
			return Event{}, nil, ErrClosed
		}
		ready, err := rx.wait()
		if err != nil {
			return Event{}, nil, err
		}
		if !ready {
			return Event{}, nil, ErrClosed
		}

		ev, dev, err := s.receive()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return Event{}, nil, err
			}
			s.ctx.log.Debug("retrying monitor receive", "error", err)
			continue
		}
		return ev, dev, nil
	}
}

func (s *EventStream) receive() (Event, *Device, error) {
	if s.gate != nil {
		s.gate.Lock()
		defer s.gate.Unlock()
	}
	rx := s.rx
	if rx.stopped.Load() || !s.ctx.alive(s.res) {
		return Event{}, nil, ErrClosed
	}

	h, err := check("udev_monitor_receive_device", func() (libudev.Device, syscall.Errno) {
		return rx.lib.MonitorReceiveDevice(rx.h)
	})
	if err != nil {
		return Event{}, nil, err
	}

	action, _ := rx.lib.DeviceGetAction(h)
	ev := Event{
		Action: ParseAction(action),
		Seqnum: rx.lib.DeviceGetSeqnum(h),
	}
	return ev, s.ctx.wrapDevice(h), nil
}

// All yields events until the stream is closed. It also stops, without
// saying why, when Next fails for any other reason, such as a poll error;
// use Next or Run when the caller needs that error.
func (s *EventStream) All() iter.Seq2[Event, *Device] {
	return func(yield func(Event, *Device) bool) {
		for {
			ev, dev, err := s.Next()
			if err != nil || !yield(ev, dev) {
				return
			}
		}
	}
}

// Run passes each event to fn until ctx is done, fn fails, or the stream
// is closed. Cancelling ctx closes the stream.
func (s *EventStream) Run(ctx context.Context, fn func(Event, *Device) error) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		ev, dev, err := s.Next()
		if err != nil {
			if errors.Is(err, ErrClosed) && ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(ev, dev); err != nil {
			return err
		}
	}
}

// Close stops the stream and releases the subscription. It may be called
// from another goroutine while Next is blocked; Next then returns
// ErrClosed and Close returns once it has.
func (s *EventStream) Close() error {
	s.rx.stop()
	s.ctx.untrack(s.res)
	runtime.SetFinalizer(s, nil)
	return nil
}
