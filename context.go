package udev

import (
	"errors"
	"log/slog"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/elemecca/go-udev/internal/libudev"
)

// Context is the root handle to the device registry. Every Device,
// Monitor, EventStream, Enumerator and Hwdb is minted by a Context and
// recorded in its handle table. Closing the Context releases whatever is
// still outstanding, after which those values report ErrClosed or zero
// values.
//
// A Context and everything derived from it must be used from one goroutine
// at a time. EventStream.Close is the only method meant to be called while
// another goroutine is blocked in the same stream. A Listener shares its
// Context between its own goroutine and Enumerate by holding one lock
// around every native call either makes.
type Context struct {
	lib  libudev.Library
	udev libudev.Udev
	log  *slog.Logger

	// mu guards the handle table. Finalizers run on their own goroutine,
	// so they only queue work here; the native release happens on the next
	// call that reaps.
	mu      sync.Mutex
	closed  bool
	live    map[*resource]struct{}
	pending []*resource
}

// resource is one native reference owned through the handle table.
// release must not capture the Go value it backs, or that value can never
// be finalized.
type resource struct {
	kind     string
	release  func()
	released bool
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger used for debug records about handle
// lifetimes and monitor retries.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		c.log = logger
	}
}

// NewWithLibrary connects through lib instead of the host's libudev, e.g.
// an in-memory registry from udevtest.
func NewWithLibrary(lib libudev.Library, opts ...Option) *Context {
	return newContext(lib, opts...)
}

func newContext(lib libudev.Library, opts ...Option) *Context {
	c := &Context{
		lib:  lib,
		log:  slog.Default().With("component", "udev"),
		live: make(map[*resource]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	// udev_new has no failure mode besides allocation
	c.udev = lib.New()
	if c.udev == 0 {
		outOfMemory("udev_new")
	}
	return c
}

// Close releases every outstanding handle and then the connection itself.
// It is safe to call more than once.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	outstanding := make([]*resource, 0, len(c.live))
	for r := range c.live {
		r.released = true
		outstanding = append(outstanding, r)
	}
	c.live = nil
	c.pending = nil
	c.mu.Unlock()

	if len(outstanding) > 0 {
		c.log.Debug("releasing outstanding handles", "count", len(outstanding))
	}
	for _, r := range outstanding {
		r.release()
	}
	c.lib.Unref(c.udev)
	c.udev = 0
	return nil
}

func (c *Context) track(kind string, release func()) *resource {
	r := &resource{kind: kind, release: release}

	c.mu.Lock()
	if c.closed {
		// a handle minted while Close ran has nothing left to own it
		r.released = true
		c.mu.Unlock()
		release()
		return r
	}
	c.live[r] = struct{}{}
	c.mu.Unlock()
	return r
}

// untrack releases r now. It reports false if r was already released,
// either directly or by Close.
func (c *Context) untrack(r *resource) bool {
	c.mu.Lock()
	if r == nil || r.released {
		c.mu.Unlock()
		return false
	}
	r.released = true
	delete(c.live, r)
	c.mu.Unlock()

	r.release()
	return true
}

// retarget hands ownership of r to a new release function.
func (c *Context) retarget(r *resource, kind string, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.kind = kind
	r.release = release
}

// deferRelease queues r from a finalizer.
func (c *Context) deferRelease(r *resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || r.released {
		return
	}
	c.pending = append(c.pending, r)
}

// reap releases everything finalizers queued since the last call.
func (c *Context) reap() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	for _, r := range pending {
		r.released = true
		delete(c.live, r)
	}
	c.mu.Unlock()

	for _, r := range pending {
		c.log.Debug("released unreachable handle", "kind", r.kind)
		r.release()
	}
}

func (c *Context) alive(r *resource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && r != nil && !r.released
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// enter is the prologue of every Context entry point.
func (c *Context) enter() error {
	if c.isClosed() {
		return ErrClosed
	}
	c.reap()
	return nil
}

// Device looks up a device by its /sys path. Not-found and registry errors
// both come back as nil; use LookupDevice to tell them apart.
func (c *Context) Device(syspath string) *Device {
	dev, _ := c.LookupDevice(syspath)
	return dev
}

// LookupDevice is Device with the failure classified: ErrNotFound,
// *SystemError or ErrClosed.
func (c *Context) LookupDevice(syspath string) (*Device, error) {
	return c.lookup("udev_device_new_from_syspath", func() (libudev.Device, syscall.Errno) {
		return c.lib.DeviceNewFromSyspath(c.udev, syspath)
	})
}

// DeviceFromDevnum looks up a device by type and device number.
func (c *Context) DeviceFromDevnum(typ DeviceType, devnum Devnum) *Device {
	dev, _ := c.LookupDeviceFromDevnum(typ, devnum)
	return dev
}

// LookupDeviceFromDevnum is DeviceFromDevnum with the failure classified.
func (c *Context) LookupDeviceFromDevnum(typ DeviceType, devnum Devnum) (*Device, error) {
	return c.lookup("udev_device_new_from_devnum", func() (libudev.Device, syscall.Errno) {
		return c.lib.DeviceNewFromDevnum(c.udev, byte(typ), uint64(devnum))
	})
}

// DeviceFromSubsystemSysname looks up a device by subsystem and sysname,
// e.g. ("net", "lo").
func (c *Context) DeviceFromSubsystemSysname(subsystem, sysname string) *Device {
	dev, _ := c.LookupDeviceFromSubsystemSysname(subsystem, sysname)
	return dev
}

// LookupDeviceFromSubsystemSysname is DeviceFromSubsystemSysname with the
// failure classified.
func (c *Context) LookupDeviceFromSubsystemSysname(subsystem, sysname string) (*Device, error) {
	return c.lookup("udev_device_new_from_subsystem_sysname", func() (libudev.Device, syscall.Errno) {
		return c.lib.DeviceNewFromSubsystemSysname(c.udev, subsystem, sysname)
	})
}

func (c *Context) lookup(op string, call func() (libudev.Device, syscall.Errno)) (*Device, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	h, err := check(op, call)
	if err != nil {
		return nil, err
	}
	return c.wrapDevice(h), nil
}

// Monitor opens a subscription to events udev has finished processing.
//
// It fails with a *SystemError when netlink is unavailable, e.g. inside a
// network namespace without access to it.
func (c *Context) Monitor() (*Monitor, error) {
	return c.newMonitor("udev")
}

// MonitorKernel opens a subscription to raw kernel events.
//
// Prefer Monitor. Kernel events arrive before udev has run its rules, so
// the device node may not exist yet and its metadata may be incomplete;
// touching the device concurrently with udev can behave unpredictably.
func (c *Context) MonitorKernel() (*Monitor, error) {
	return c.newMonitor("kernel")
}

func (c *Context) newMonitor(name string) (*Monitor, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}

	const op = "udev_monitor_new_from_netlink"
	h, err := check(op, func() (libudev.Monitor, syscall.Errno) {
		return c.lib.MonitorNewFromNetlink(c.udev, name)
	})
	var sysErr *SystemError
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		// the source name is ours; null without errno cannot happen
		violation(op, 0)
		return nil, err
	case errors.As(err, &sysErr) && sysErr.Errno == syscall.EINVAL:
		violation(op, sysErr.Errno)
		return nil, err
	default:
		return nil, err
	}

	// receive must block
	if err := setBlocking(c.lib.MonitorGetFd(h)); err != nil {
		c.lib.MonitorUnref(h)
		return nil, err
	}

	return c.wrapMonitor(h), nil
}

func setBlocking(fd int) error {
	const op = "fcntl"

	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err == nil && flags&unix.O_NONBLOCK != 0 {
		_, err = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	}
	if err == nil {
		return nil
	}

	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return err
	}
	if errno == syscall.ENOMEM || errno == syscall.EINVAL {
		violation(op, errno)
	}
	return &SystemError{Op: op, Errno: errno}
}
