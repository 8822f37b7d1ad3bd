package udev

import (
	"iter"
	"math"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/elemecca/go-udev/internal/libudev"
)

// Device is one node of the device tree. It holds its own reference on
// the native device; Close drops it. A Device that is garbage collected
// without Close is released on a later call into its Context.
type Device struct {
	ctx *Context
	h   libudev.Device
	res *resource

	// bumped by SetAttribute, which can rebuild the attribute cache
	gen uint64
}

// wrapDevice takes ownership of one reference on h.
func (c *Context) wrapDevice(h libudev.Device) *Device {
	lib := c.lib
	d := &Device{ctx: c, h: h}
	d.res = c.track("device", func() { lib.DeviceUnref(h) })
	runtime.SetFinalizer(d, (*Device).finalize)
	return d
}

func (d *Device) finalize() {
	d.ctx.deferRelease(d.res)
}

// Close releases this Device's reference. Calling it again, or after the
// Context has been closed, does nothing.
func (d *Device) Close() error {
	d.ctx.untrack(d.res)
	runtime.SetFinalizer(d, nil)
	return nil
}

// Clone returns a new Device holding its own reference on the same node.
func (d *Device) Clone() *Device {
	if !d.live() {
		return nil
	}
	return d.ctx.wrapDevice(d.ctx.lib.DeviceRef(d.h))
}

// Context returns the Context this Device belongs to.
func (d *Device) Context() *Context {
	return d.ctx
}

func (d *Device) live() bool {
	return d.ctx.alive(d.res)
}

func (d *Device) generation() uint64 {
	return d.gen
}

func (d *Device) valid(gen uint64) bool {
	return d.gen == gen && d.live()
}

// Parent returns the parent device, or nil if there is none. Parents are
// not cached; each call returns a new reference.
func (d *Device) Parent() *Device {
	parent, _ := d.LookupParent("", "")
	return parent
}

// ParentWithSubsystem returns the closest ancestor in subsystem.
func (d *Device) ParentWithSubsystem(subsystem string) *Device {
	parent, _ := d.LookupParent(subsystem, "")
	return parent
}

// ParentWithSubsystemDevtype returns the closest ancestor in subsystem
// with the given devtype.
func (d *Device) ParentWithSubsystemDevtype(subsystem, devtype string) *Device {
	parent, _ := d.LookupParent(subsystem, devtype)
	return parent
}

// LookupParent finds the closest ancestor matching subsystem and devtype
// and classifies failure. An empty subsystem selects the direct parent;
// an empty devtype matches any devtype.
//
// Depending on the libudev version a missing parent is reported either as
// ErrNotFound or as a *SystemError carrying ENOENT. Both match
// fs.ErrNotExist, which is what callers should test for.
func (d *Device) LookupParent(subsystem, devtype string) (*Device, error) {
	if !d.live() {
		return nil, ErrClosed
	}
	lib := d.ctx.lib

	var op string
	var call func() (libudev.Device, syscall.Errno)
	if subsystem == "" {
		op = "udev_device_get_parent"
		call = func() (libudev.Device, syscall.Errno) {
			return lib.DeviceGetParent(d.h)
		}
	} else {
		op = "udev_device_get_parent_with_subsystem_devtype"
		call = func() (libudev.Device, syscall.Errno) {
			return lib.DeviceGetParentWithSubsystemDevtype(d.h, subsystem, devtype)
		}
	}

	// the child owns the parent it returns; take our own reference
	h, err := check(op, call)
	if err != nil {
		return nil, err
	}
	return d.ctx.wrapDevice(lib.DeviceRef(h)), nil
}

// Attribute reads a sysfs attribute. A missing attribute fails with an
// error matching fs.ErrNotExist: ErrNotFound, or a *SystemError carrying
// ENOENT from libudev versions that set errno. Other read failures are a
// *SystemError.
func (d *Device) Attribute(name string) (string, error) {
	if !d.live() {
		return "", ErrClosed
	}
	value, err := check("udev_device_get_sysattr_value", func() (*string, syscall.Errno) {
		return d.ctx.lib.DeviceGetSysattrValue(d.h, name)
	})
	if err != nil {
		return "", err
	}
	return *value, nil
}

// SetAttribute writes a sysfs attribute.
func (d *Device) SetAttribute(name, value string) error {
	if !d.live() {
		return ErrClosed
	}

	const op = "udev_device_set_sysattr_value"
	rc := d.ctx.lib.DeviceSetSysattrValue(d.h, name, value)
	switch {
	case rc == 0:
		d.gen++
		return nil
	case rc < 0:
		return &SystemError{Op: op, Errno: syscall.Errno(-rc)}
	default:
		violation(op, syscall.Errno(rc))
		return &SystemError{Op: op, Errno: syscall.Errno(rc)}
	}
}

func (d *Device) text(get func(libudev.Device) (string, bool)) (string, bool) {
	if !d.live() {
		return "", false
	}
	return get(d.h)
}

// Devpath returns the kernel path of the device without the /sys prefix.
func (d *Device) Devpath() string {
	s, _ := d.text(d.ctx.lib.DeviceGetDevpath)
	return s
}

// Syspath returns the full path of the device under /sys.
func (d *Device) Syspath() string {
	s, _ := d.text(d.ctx.lib.DeviceGetSyspath)
	return s
}

// Sysname returns the kernel name of the device, e.g. "wlan0".
func (d *Device) Sysname() string {
	s, _ := d.text(d.ctx.lib.DeviceGetSysname)
	return s
}

func (d *Device) Subsystem() (string, bool) {
	return d.text(d.ctx.lib.DeviceGetSubsystem)
}

func (d *Device) Devtype() (string, bool) {
	return d.text(d.ctx.lib.DeviceGetDevtype)
}

func (d *Device) Driver() (string, bool) {
	return d.text(d.ctx.lib.DeviceGetDriver)
}

// Devnode returns the device node path, e.g. /dev/sda.
func (d *Device) Devnode() (string, bool) {
	return d.text(d.ctx.lib.DeviceGetDevnode)
}

// Sysnum returns the instance number of the device: the trailing decimal
// digits of its sysname, so 3 for "wlan3" and 12 for "usb12". It reports
// false when the name has no such suffix or the digits do not fit in a
// uint64.
func (d *Device) Sysnum() (uint64, bool) {
	s, ok := d.text(d.ctx.lib.DeviceGetSysnum)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Devnum returns the device number. Devices without a node report false.
func (d *Device) Devnum() (Devnum, bool) {
	if !d.live() {
		return 0, false
	}
	n := d.ctx.lib.DeviceGetDevnum(d.h)
	if n == 0 {
		return 0, false
	}
	return Devnum(n), true
}

// Devlinks yields the symlinks udev created for the device node, e.g.
// the entries under /dev/disk/by-id.
func (d *Device) Devlinks() iter.Seq[string] {
	return names(walk(d.ctx.lib, d, func() libudev.ListEntry {
		return d.ctx.lib.DeviceGetDevlinksListEntry(d.h)
	}))
}

func (d *Device) Tags() iter.Seq[string] {
	return names(walk(d.ctx.lib, d, func() libudev.ListEntry {
		return d.ctx.lib.DeviceGetTagsListEntry(d.h)
	}))
}

func (d *Device) Properties() iter.Seq[Property] {
	return walk(d.ctx.lib, d, func() libudev.ListEntry {
		return d.ctx.lib.DeviceGetPropertiesListEntry(d.h)
	})
}

// Attributes yields the names of the sysfs attributes of the device.
func (d *Device) Attributes() iter.Seq[string] {
	return names(walk(d.ctx.lib, d, func() libudev.ListEntry {
		return d.ctx.lib.DeviceGetSysattrListEntry(d.h)
	}))
}

// Property returns the value of one udev property.
func (d *Device) Property(name string) (string, bool) {
	for p := range d.Properties() {
		if p.Name == name {
			return p.Value, p.HasValue
		}
	}
	return "", false
}

// TimeSinceInitialized reports how long ago udev initialized the device.
// Values past the range of time.Duration saturate.
func (d *Device) TimeSinceInitialized() (time.Duration, bool) {
	if !d.live() {
		return 0, false
	}
	usec := d.ctx.lib.DeviceGetUsecSinceInitialized(d.h)
	if usec == 0 {
		return 0, false
	}
	if usec > uint64(math.MaxInt64/int64(time.Microsecond)) {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(usec) * time.Microsecond, true
}

func (d *Device) IsInitialized() bool {
	return d.live() && d.ctx.lib.DeviceGetIsInitialized(d.h)
}

func (d *Device) HasTag(tag string) bool {
	return d.live() && d.ctx.lib.DeviceHasTag(d.h, tag)
}

func (d *Device) String() string {
	return d.Syspath()
}
