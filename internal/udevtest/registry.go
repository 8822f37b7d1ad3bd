// Package udevtest provides an in-memory device registry that implements
// libudev.Library for tests.
//
// The registry keeps a reference count for every object it hands out and
// records each call made against a released or unknown handle, so tests can
// assert that a wrapper neither leaks nor double frees. Failures can be
// injected per operation to drive the errno paths.
package udevtest

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/elemecca/go-udev/internal/libudev"
)

// Op names an injectable operation.
type Op string

const (
	OpNew             Op = "udev_new"
	OpDeviceNew       Op = "udev_device_new"
	OpGetParent       Op = "udev_device_get_parent"
	OpSysattrGet      Op = "udev_device_get_sysattr_value"
	OpSysattrSet      Op = "udev_device_set_sysattr_value"
	OpMonitorNew      Op = "udev_monitor_new_from_netlink"
	OpMonitorFilter   Op = "udev_monitor_filter"
	OpEnableReceiving Op = "udev_monitor_enable_receiving"
	OpEnumerateNew    Op = "udev_enumerate_new"
	OpEnumerateMatch  Op = "udev_enumerate_add_match"
	OpScan            Op = "udev_enumerate_scan_devices"
	OpHwdbNew         Op = "udev_hwdb_new"
)

// DeviceSpec describes one device known to the registry.
type DeviceSpec struct {
	// Devpath is the path below /sys, e.g. /devices/virtual/net/lo.
	Devpath     string
	Subsystem   string
	Devtype     string
	Driver      string
	Devnode     string
	Devnum      uint64
	Attributes  map[string]string
	ReadOnly    []string
	Properties  map[string]string
	Tags        []string
	Devlinks    []string
	Initialized bool
	// UsecSinceInitialized is reported verbatim; zero means unknown.
	UsecSinceInitialized uint64
}

func (s *DeviceSpec) syspath() string {
	return "/sys" + s.Devpath
}

func (s *DeviceSpec) sysname() string {
	return strings.ReplaceAll(path.Base(s.Devpath), "!", "/")
}

func (s *DeviceSpec) hasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Sysnum returns the trailing run of decimal digits of sysname, which is
// how libudev derives the sysnum. The second result is false when the name
// does not end in a digit.
func Sysnum(sysname string) (string, bool) {
	i := len(sysname)
	for i > 0 && sysname[i-1] >= '0' && sysname[i-1] <= '9' {
		i--
	}
	if i == len(sysname) {
		return "", false
	}
	return sysname[i:], true
}

type deviceObj struct {
	refs   int
	spec   *DeviceSpec
	parent *deviceObj
	action string
	seqnum uint64
}

type listNode struct {
	name  string
	value *string
	next  libudev.ListEntry
}

type match struct {
	subsystem string
	devtype   string
}

type event struct {
	spec      *DeviceSpec
	action    string
	seqnum    uint64
	transient syscall.Errno
}

type monitorObj struct {
	refs    int
	name    string
	matches []match
	tags    []string
	enabled bool
	rfd     int
	wfd     int
	queue   []event
}

type enumerateObj struct {
	refs        int
	subsystems  []string
	nosubsys    []string
	sysattrs    map[string]string
	nosysattrs  map[string]string
	properties  map[string]string
	tags        []string
	sysnames    []string
	parents     []string
	initialized bool
	syspaths    []string
	scanned     []string
}

type hwdbEntry struct {
	pattern    string
	properties map[string]string
}

// Registry is an instrumented libudev.Library. The zero value is not
// usable; call New.
type Registry struct {
	mu sync.Mutex

	next     uintptr
	contexts map[libudev.Udev]int
	devices  map[libudev.Device]*deviceObj
	monitors map[libudev.Monitor]*monitorObj
	enums    map[libudev.Enumerate]*enumerateObj
	hwdbs    map[libudev.Hwdb]int
	lists    map[libudev.ListEntry]*listNode

	specs  map[string]*DeviceSpec
	hwdb   []hwdbEntry
	seqnum uint64

	faults     map[Op]syscall.Errno
	status     map[Op]int
	violations []string
}

var _ libudev.Library = (*Registry)(nil)

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		next:     0x1000,
		contexts: make(map[libudev.Udev]int),
		devices:  make(map[libudev.Device]*deviceObj),
		monitors: make(map[libudev.Monitor]*monitorObj),
		enums:    make(map[libudev.Enumerate]*enumerateObj),
		hwdbs:    make(map[libudev.Hwdb]int),
		lists:    make(map[libudev.ListEntry]*listNode),
		specs:    make(map[string]*DeviceSpec),
		faults:   make(map[Op]syscall.Errno),
		status:   make(map[Op]int),
	}
}

// AddDevice registers a device. A later DeviceSpec with the same devpath replaces
// the earlier one.
func (r *Registry) AddDevice(spec DeviceSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := spec
	if s.Attributes == nil {
		s.Attributes = make(map[string]string)
	}
	r.specs[s.Devpath] = &s
}

// RemoveDevice forgets a device. Objects already handed out stay valid.
func (r *Registry) RemoveDevice(devpath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.specs, devpath)
}

// Attribute returns the current value of a device attribute.
func (r *Registry) Attribute(devpath, name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	spec, ok := r.specs[devpath]
	if !ok {
		return "", false
	}
	value, ok := spec.Attributes[name]
	return value, ok
}

// AddHwdbEntry registers properties for every modalias matching the glob
// pattern. Later entries override earlier ones key by key.
func (r *Registry) AddHwdbEntry(pattern string, properties map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hwdb = append(r.hwdb, hwdbEntry{pattern: pattern, properties: properties})
}

// Fail makes the next call of op return null with errno.
func (r *Registry) Fail(op Op, errno syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.faults[op] = errno
}

// FailStatus makes the next call of an integer-status op return rc.
func (r *Registry) FailStatus(op Op, rc int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status[op] = rc
}

func (r *Registry) fault(op Op) (syscall.Errno, bool) {
	errno, ok := r.faults[op]
	if ok {
		delete(r.faults, op)
	}
	return errno, ok
}

func (r *Registry) statusFault(op Op) (int, bool) {
	rc, ok := r.status[op]
	if ok {
		delete(r.status, op)
	}
	return rc, ok
}

func (r *Registry) violate(format string, args ...any) {
	r.violations = append(r.violations, fmt.Sprintf(format, args...))
}

// Violations lists every call made against a released or unknown handle.
func (r *Registry) Violations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.violations...)
}

// LiveContexts counts udev contexts that have not been released.
func (r *Registry) LiveContexts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, refs := range r.contexts {
		if refs > 0 {
			n++
		}
	}
	return n
}

// LiveDevices counts device objects with a positive reference count.
func (r *Registry) LiveDevices() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, dev := range r.devices {
		if dev.refs > 0 {
			n++
		}
	}
	return n
}

// DeviceRefs sums the reference counts of every live object for devpath.
func (r *Registry) DeviceRefs(devpath string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, dev := range r.devices {
		if dev.spec.Devpath == devpath && dev.refs > 0 {
			n += dev.refs
		}
	}
	return n
}

// LiveMonitors counts monitors that have not been released.
func (r *Registry) LiveMonitors() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, mon := range r.monitors {
		if mon.refs > 0 {
			n++
		}
	}
	return n
}

// LiveEnumerators counts enumerators that have not been released.
func (r *Registry) LiveEnumerators() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.enums {
		if e.refs > 0 {
			n++
		}
	}
	return n
}

// LiveHwdbs counts hwdb handles that have not been released.
func (r *Registry) LiveHwdbs() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, refs := range r.hwdbs {
		if refs > 0 {
			n++
		}
	}
	return n
}

// MonitorState reports the filters and enable state of the only live
// monitor with the given netlink name.
func (r *Registry) MonitorState(name string) (subsystems []string, tags []string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mon := range r.monitors {
		if mon.refs <= 0 || mon.name != name {
			continue
		}
		for _, m := range mon.matches {
			if m.devtype != "" {
				subsystems = append(subsystems, m.subsystem+"/"+m.devtype)
			} else {
				subsystems = append(subsystems, m.subsystem)
			}
		}
		return subsystems, append([]string(nil), mon.tags...), mon.enabled
	}
	return nil, nil, false
}

// Emit delivers an event for devpath to every enabled "udev" monitor whose
// filters match, and returns its sequence number.
func (r *Registry) Emit(action, devpath string) uint64 {
	return r.emit("udev", action, devpath)
}

// EmitKernel is Emit for "kernel" monitors.
func (r *Registry) EmitKernel(action, devpath string) uint64 {
	return r.emit("kernel", action, devpath)
}

func (r *Registry) emit(source, action, devpath string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seqnum++
	spec, ok := r.specs[devpath]
	if !ok {
		spec = &DeviceSpec{Devpath: devpath, Attributes: map[string]string{}}
	}
	ev := event{spec: spec, action: action, seqnum: r.seqnum}
	for _, mon := range r.monitors {
		if mon.refs <= 0 || !mon.enabled || mon.name != source || !mon.accepts(spec) {
			continue
		}
		r.enqueue(mon, ev)
	}
	return r.seqnum
}

// EmitTransient makes every enabled monitor's next receive fail with errno.
func (r *Registry) EmitTransient(errno syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mon := range r.monitors {
		if mon.refs > 0 && mon.enabled {
			r.enqueue(mon, event{transient: errno})
		}
	}
}

func (r *Registry) enqueue(mon *monitorObj, ev event) {
	mon.queue = append(mon.queue, ev)
	if _, err := unix.Write(mon.wfd, []byte{1}); err != nil {
		r.violate("monitor wakeup: %v", err)
	}
}

func (mon *monitorObj) accepts(spec *DeviceSpec) bool {
	if len(mon.matches) > 0 {
		ok := false
		for _, m := range mon.matches {
			if m.subsystem == spec.Subsystem && (m.devtype == "" || m.devtype == spec.Devtype) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(mon.tags) > 0 {
		ok := false
		for _, tag := range mon.tags {
			if spec.hasTag(tag) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (r *Registry) alloc() uintptr {
	r.next += 8
	return r.next
}

func (r *Registry) newDevice(spec *DeviceSpec) libudev.Device {
	h := libudev.Device(r.alloc())
	r.devices[h] = &deviceObj{refs: 1, spec: spec}
	return h
}

func (r *Registry) device(op string, d libudev.Device) *deviceObj {
	dev, ok := r.devices[d]
	if !ok {
		r.violate("%s: unknown device %#x", op, uintptr(d))
		return nil
	}
	if dev.refs <= 0 {
		r.violate("%s: released device %#x", op, uintptr(d))
		return nil
	}
	return dev
}

func (r *Registry) context(op string, u libudev.Udev) bool {
	refs, ok := r.contexts[u]
	if !ok || refs <= 0 {
		r.violate("%s: dead context %#x", op, uintptr(u))
		return false
	}
	return true
}

func (r *Registry) monitor(op string, m libudev.Monitor) *monitorObj {
	mon, ok := r.monitors[m]
	if !ok || mon.refs <= 0 {
		r.violate("%s: dead monitor %#x", op, uintptr(m))
		return nil
	}
	return mon
}

func (r *Registry) enumerate(op string, e libudev.Enumerate) *enumerateObj {
	obj, ok := r.enums[e]
	if !ok || obj.refs <= 0 {
		r.violate("%s: dead enumerator %#x", op, uintptr(e))
		return nil
	}
	return obj
}

// buildList links the given names and values into a fresh list. A nil
// value slot means the entry has no value.
func (r *Registry) buildList(names []string, values []*string) libudev.ListEntry {
	var head libudev.ListEntry
	for i := len(names) - 1; i >= 0; i-- {
		h := libudev.ListEntry(r.alloc())
		node := &listNode{name: names[i], next: head}
		if values != nil {
			node.value = values[i]
		}
		r.lists[h] = node
		head = h
	}
	return head
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) New() libudev.Udev {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.fault(OpNew); ok {
		return 0
	}
	u := libudev.Udev(r.alloc())
	r.contexts[u] = 1
	return u
}

func (r *Registry) Unref(u libudev.Udev) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.context("udev_unref", u) {
		r.contexts[u]--
	}
}

func (r *Registry) lookup(u libudev.Udev, find func(*DeviceSpec) bool) (libudev.Device, syscall.Errno) {
	if !r.context(string(OpDeviceNew), u) {
		return 0, syscall.EINVAL
	}
	if errno, ok := r.fault(OpDeviceNew); ok {
		return 0, errno
	}
	for _, devpath := range sortedSpecKeys(r.specs) {
		if spec := r.specs[devpath]; find(spec) {
			return r.newDevice(spec), 0
		}
	}
	return 0, 0
}

func sortedSpecKeys(m map[string]*DeviceSpec) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) DeviceNewFromSyspath(u libudev.Udev, syspath string) (libudev.Device, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lookup(u, func(s *DeviceSpec) bool { return s.syspath() == syspath })
}

func (r *Registry) DeviceNewFromDevnum(u libudev.Udev, typ byte, devnum uint64) (libudev.Device, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lookup(u, func(s *DeviceSpec) bool {
		if s.Devnum == 0 || s.Devnum != devnum {
			return false
		}
		isBlock := s.Subsystem == "block"
		return (typ == 'b') == isBlock
	})
}

func (r *Registry) DeviceNewFromSubsystemSysname(u libudev.Udev, subsystem, sysname string) (libudev.Device, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lookup(u, func(s *DeviceSpec) bool {
		return s.Subsystem == subsystem && s.sysname() == sysname
	})
}

func (r *Registry) DeviceRef(d libudev.Device) libudev.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d == 0 {
		return 0
	}
	dev := r.device("udev_device_ref", d)
	if dev == nil {
		return 0
	}
	dev.refs++
	return d
}

func (r *Registry) DeviceUnref(d libudev.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d == 0 {
		return
	}
	r.unrefDevice(d)
}

func (r *Registry) unrefDevice(d libudev.Device) {
	dev := r.device("udev_device_unref", d)
	if dev == nil {
		return
	}
	dev.refs--
	if dev.refs == 0 && dev.parent != nil {
		for h, obj := range r.devices {
			if obj == dev.parent {
				r.unrefDevice(h)
				break
			}
		}
		dev.parent = nil
	}
}

// parentOf resolves and caches the nearest registered ancestor. The child
// holds one reference on it, as libudev does.
func (r *Registry) parentOf(dev *deviceObj) (libudev.Device, *deviceObj) {
	if dev.parent != nil {
		for h, obj := range r.devices {
			if obj == dev.parent {
				return h, obj
			}
		}
	}
	dir := path.Dir(dev.spec.Devpath)
	for dir != "/" && dir != "." {
		if spec, ok := r.specs[dir]; ok {
			h := r.newDevice(spec)
			dev.parent = r.devices[h]
			return h, dev.parent
		}
		dir = path.Dir(dir)
	}
	return 0, nil
}

func (r *Registry) DeviceGetParent(d libudev.Device) (libudev.Device, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device(string(OpGetParent), d)
	if dev == nil {
		return 0, syscall.EINVAL
	}
	if errno, ok := r.fault(OpGetParent); ok {
		return 0, errno
	}
	h, _ := r.parentOf(dev)
	return h, 0
}

func (r *Registry) DeviceGetParentWithSubsystemDevtype(d libudev.Device, subsystem, devtype string) (libudev.Device, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device(string(OpGetParent), d)
	if dev == nil {
		return 0, syscall.EINVAL
	}
	if errno, ok := r.fault(OpGetParent); ok {
		return 0, errno
	}
	for {
		h, parent := r.parentOf(dev)
		if parent == nil {
			return 0, 0
		}
		if parent.spec.Subsystem == subsystem && (devtype == "" || parent.spec.Devtype == devtype) {
			return h, 0
		}
		dev = parent
	}
}

func (r *Registry) DeviceGetSysattrValue(d libudev.Device, name string) (*string, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device(string(OpSysattrGet), d)
	if dev == nil {
		return nil, syscall.EINVAL
	}
	if errno, ok := r.fault(OpSysattrGet); ok {
		return nil, errno
	}
	value, ok := dev.spec.Attributes[name]
	if !ok {
		return nil, 0
	}
	return &value, 0
}

func (r *Registry) DeviceSetSysattrValue(d libudev.Device, name, value string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device(string(OpSysattrSet), d)
	if dev == nil {
		return -int(syscall.EINVAL)
	}
	if rc, ok := r.statusFault(OpSysattrSet); ok {
		return rc
	}
	for _, ro := range dev.spec.ReadOnly {
		if ro == name {
			return -int(syscall.EACCES)
		}
	}
	if _, ok := dev.spec.Attributes[name]; !ok {
		return -int(syscall.ENOENT)
	}
	dev.spec.Attributes[name] = value
	return 0
}

func (r *Registry) field(op string, d libudev.Device, get func(*deviceObj) string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device(op, d)
	if dev == nil {
		return "", false
	}
	value := get(dev)
	return value, value != ""
}

func (r *Registry) DeviceGetDevpath(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_devpath", d, func(dev *deviceObj) string { return dev.spec.Devpath })
}

func (r *Registry) DeviceGetSyspath(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_syspath", d, func(dev *deviceObj) string { return dev.spec.syspath() })
}

func (r *Registry) DeviceGetSysname(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_sysname", d, func(dev *deviceObj) string { return dev.spec.sysname() })
}

func (r *Registry) DeviceGetSysnum(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_sysnum", d, func(dev *deviceObj) string {
		n, _ := Sysnum(dev.spec.sysname())
		return n
	})
}

func (r *Registry) DeviceGetSubsystem(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_subsystem", d, func(dev *deviceObj) string { return dev.spec.Subsystem })
}

func (r *Registry) DeviceGetDevtype(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_devtype", d, func(dev *deviceObj) string { return dev.spec.Devtype })
}

func (r *Registry) DeviceGetDriver(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_driver", d, func(dev *deviceObj) string { return dev.spec.Driver })
}

func (r *Registry) DeviceGetDevnode(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_devnode", d, func(dev *deviceObj) string { return dev.spec.Devnode })
}

func (r *Registry) DeviceGetAction(d libudev.Device) (string, bool) {
	return r.field("udev_device_get_action", d, func(dev *deviceObj) string { return dev.action })
}

func (r *Registry) number(op string, d libudev.Device, get func(*deviceObj) uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device(op, d)
	if dev == nil {
		return 0
	}
	return get(dev)
}

func (r *Registry) DeviceGetDevnum(d libudev.Device) uint64 {
	return r.number("udev_device_get_devnum", d, func(dev *deviceObj) uint64 { return dev.spec.Devnum })
}

func (r *Registry) DeviceGetSeqnum(d libudev.Device) uint64 {
	return r.number("udev_device_get_seqnum", d, func(dev *deviceObj) uint64 { return dev.seqnum })
}

func (r *Registry) DeviceGetUsecSinceInitialized(d libudev.Device) uint64 {
	return r.number("udev_device_get_usec_since_initialized", d, func(dev *deviceObj) uint64 {
		return dev.spec.UsecSinceInitialized
	})
}

func (r *Registry) DeviceGetIsInitialized(d libudev.Device) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device("udev_device_get_is_initialized", d)
	return dev != nil && dev.spec.Initialized
}

func (r *Registry) DeviceHasTag(d libudev.Device, tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device("udev_device_has_tag", d)
	return dev != nil && dev.spec.hasTag(tag)
}

func (r *Registry) deviceList(op string, d libudev.Device, build func(*deviceObj) ([]string, []*string)) libudev.ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev := r.device(op, d)
	if dev == nil {
		return 0
	}
	return r.buildList(build(dev))
}

func (r *Registry) DeviceGetDevlinksListEntry(d libudev.Device) libudev.ListEntry {
	return r.deviceList("udev_device_get_devlinks_list_entry", d, func(dev *deviceObj) ([]string, []*string) {
		return append([]string(nil), dev.spec.Devlinks...), nil
	})
}

func (r *Registry) DeviceGetTagsListEntry(d libudev.Device) libudev.ListEntry {
	return r.deviceList("udev_device_get_tags_list_entry", d, func(dev *deviceObj) ([]string, []*string) {
		return append([]string(nil), dev.spec.Tags...), nil
	})
}

func (r *Registry) DeviceGetPropertiesListEntry(d libudev.Device) libudev.ListEntry {
	return r.deviceList("udev_device_get_properties_list_entry", d, func(dev *deviceObj) ([]string, []*string) {
		keys := sortedKeys(dev.spec.Properties)
		values := make([]*string, len(keys))
		for i, k := range keys {
			v := dev.spec.Properties[k]
			values[i] = &v
		}
		return keys, values
	})
}

func (r *Registry) DeviceGetSysattrListEntry(d libudev.Device) libudev.ListEntry {
	return r.deviceList("udev_device_get_sysattr_list_entry", d, func(dev *deviceObj) ([]string, []*string) {
		return sortedKeys(dev.spec.Attributes), nil
	})
}

func (r *Registry) node(op string, e libudev.ListEntry) *listNode {
	node, ok := r.lists[e]
	if !ok {
		r.violate("%s: unknown list entry %#x", op, uintptr(e))
	}
	return node
}

func (r *Registry) ListEntryGetNext(e libudev.ListEntry) libudev.ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node := r.node("udev_list_entry_get_next", e); node != nil {
		return node.next
	}
	return 0
}

func (r *Registry) ListEntryGetName(e libudev.ListEntry) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node := r.node("udev_list_entry_get_name", e); node != nil {
		return node.name
	}
	return ""
}

func (r *Registry) ListEntryGetValue(e libudev.ListEntry) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.node("udev_list_entry_get_value", e)
	if node == nil || node.value == nil {
		return "", false
	}
	return *node.value, true
}

func (r *Registry) MonitorNewFromNetlink(u libudev.Udev, name string) (libudev.Monitor, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.context(string(OpMonitorNew), u) {
		return 0, syscall.EINVAL
	}
	if errno, ok := r.fault(OpMonitorNew); ok {
		return 0, errno
	}
	if name != "udev" && name != "kernel" {
		return 0, syscall.EINVAL
	}

	// netlink sockets come back non-blocking from libudev
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, err.(syscall.Errno)
	}

	m := libudev.Monitor(r.alloc())
	r.monitors[m] = &monitorObj{refs: 1, name: name, rfd: fds[0], wfd: fds[1]}
	return m, 0
}

func (r *Registry) MonitorUnref(m libudev.Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mon := r.monitor("udev_monitor_unref", m)
	if mon == nil {
		return
	}
	mon.refs--
	if mon.refs == 0 {
		unix.Close(mon.rfd)
		unix.Close(mon.wfd)
		mon.queue = nil
	}
}

func (r *Registry) filterStatus(op string, m libudev.Monitor, apply func(*monitorObj)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	mon := r.monitor(op, m)
	if mon == nil {
		return -int(syscall.EINVAL)
	}
	if rc, ok := r.statusFault(OpMonitorFilter); ok {
		return rc
	}
	apply(mon)
	return 0
}

func (r *Registry) MonitorFilterAddMatchSubsystemDevtype(m libudev.Monitor, subsystem, devtype string) int {
	return r.filterStatus("udev_monitor_filter_add_match_subsystem_devtype", m, func(mon *monitorObj) {
		mon.matches = append(mon.matches, match{subsystem: subsystem, devtype: devtype})
	})
}

func (r *Registry) MonitorFilterAddMatchTag(m libudev.Monitor, tag string) int {
	return r.filterStatus("udev_monitor_filter_add_match_tag", m, func(mon *monitorObj) {
		mon.tags = append(mon.tags, tag)
	})
}

func (r *Registry) MonitorFilterRemove(m libudev.Monitor) int {
	return r.filterStatus("udev_monitor_filter_remove", m, func(mon *monitorObj) {
		mon.matches = nil
		mon.tags = nil
	})
}

func (r *Registry) MonitorEnableReceiving(m libudev.Monitor) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	mon := r.monitor(string(OpEnableReceiving), m)
	if mon == nil {
		return -int(syscall.EINVAL)
	}
	if rc, ok := r.statusFault(OpEnableReceiving); ok {
		return rc
	}
	mon.enabled = true
	return 0
}

func (r *Registry) MonitorGetFd(m libudev.Monitor) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	mon := r.monitor("udev_monitor_get_fd", m)
	if mon == nil {
		return -1
	}
	return mon.rfd
}

// MonitorReceiveDevice consumes one queued event. It reads the wakeup byte
// without holding the registry lock, so it blocks like a netlink recv when
// the descriptor is in blocking mode.
func (r *Registry) MonitorReceiveDevice(m libudev.Monitor) (libudev.Device, syscall.Errno) {
	r.mu.Lock()
	mon := r.monitor("udev_monitor_receive_device", m)
	if mon == nil {
		r.mu.Unlock()
		return 0, syscall.EINVAL
	}
	fd := mon.rfd
	r.mu.Unlock()

	var buf [1]byte
	if _, err := unix.Read(fd, buf[:]); err != nil {
		return 0, err.(syscall.Errno)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(mon.queue) == 0 {
		return 0, syscall.EAGAIN
	}
	ev := mon.queue[0]
	mon.queue = mon.queue[1:]
	if ev.transient != 0 {
		return 0, ev.transient
	}
	h := r.newDevice(ev.spec)
	r.devices[h].action = ev.action
	r.devices[h].seqnum = ev.seqnum
	return h, 0
}

func (r *Registry) EnumerateNew(u libudev.Udev) (libudev.Enumerate, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.context(string(OpEnumerateNew), u) {
		return 0, syscall.EINVAL
	}
	if errno, ok := r.fault(OpEnumerateNew); ok {
		return 0, errno
	}
	e := libudev.Enumerate(r.alloc())
	r.enums[e] = &enumerateObj{
		refs:       1,
		sysattrs:   make(map[string]string),
		nosysattrs: make(map[string]string),
		properties: make(map[string]string),
	}
	return e, 0
}

func (r *Registry) EnumerateUnref(e libudev.Enumerate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if obj := r.enumerate("udev_enumerate_unref", e); obj != nil {
		obj.refs--
	}
}

func (r *Registry) enumMatch(op string, e libudev.Enumerate, apply func(*enumerateObj)) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj := r.enumerate(op, e)
	if obj == nil {
		return -int(syscall.EINVAL)
	}
	if rc, ok := r.statusFault(OpEnumerateMatch); ok {
		return rc
	}
	apply(obj)
	return 0
}

func (r *Registry) EnumerateAddMatchSubsystem(e libudev.Enumerate, subsystem string) int {
	return r.enumMatch("udev_enumerate_add_match_subsystem", e, func(obj *enumerateObj) {
		obj.subsystems = append(obj.subsystems, subsystem)
	})
}

func (r *Registry) EnumerateAddNomatchSubsystem(e libudev.Enumerate, subsystem string) int {
	return r.enumMatch("udev_enumerate_add_nomatch_subsystem", e, func(obj *enumerateObj) {
		obj.nosubsys = append(obj.nosubsys, subsystem)
	})
}

func (r *Registry) EnumerateAddMatchSysattr(e libudev.Enumerate, name, value string) int {
	return r.enumMatch("udev_enumerate_add_match_sysattr", e, func(obj *enumerateObj) {
		obj.sysattrs[name] = value
	})
}

func (r *Registry) EnumerateAddNomatchSysattr(e libudev.Enumerate, name, value string) int {
	return r.enumMatch("udev_enumerate_add_nomatch_sysattr", e, func(obj *enumerateObj) {
		obj.nosysattrs[name] = value
	})
}

func (r *Registry) EnumerateAddMatchProperty(e libudev.Enumerate, name, value string) int {
	return r.enumMatch("udev_enumerate_add_match_property", e, func(obj *enumerateObj) {
		obj.properties[name] = value
	})
}

func (r *Registry) EnumerateAddMatchTag(e libudev.Enumerate, tag string) int {
	return r.enumMatch("udev_enumerate_add_match_tag", e, func(obj *enumerateObj) {
		obj.tags = append(obj.tags, tag)
	})
}

func (r *Registry) EnumerateAddMatchSysname(e libudev.Enumerate, sysname string) int {
	return r.enumMatch("udev_enumerate_add_match_sysname", e, func(obj *enumerateObj) {
		obj.sysnames = append(obj.sysnames, sysname)
	})
}

func (r *Registry) EnumerateAddMatchParent(e libudev.Enumerate, parent libudev.Device) int {
	r.mu.Lock()
	dev := r.device("udev_enumerate_add_match_parent", parent)
	r.mu.Unlock()
	if dev == nil {
		return -int(syscall.EINVAL)
	}
	return r.enumMatch("udev_enumerate_add_match_parent", e, func(obj *enumerateObj) {
		obj.parents = append(obj.parents, dev.spec.Devpath)
	})
}

func (r *Registry) EnumerateAddMatchIsInitialized(e libudev.Enumerate) int {
	return r.enumMatch("udev_enumerate_add_match_is_initialized", e, func(obj *enumerateObj) {
		obj.initialized = true
	})
}

func (r *Registry) EnumerateAddSyspath(e libudev.Enumerate, syspath string) int {
	return r.enumMatch("udev_enumerate_add_syspath", e, func(obj *enumerateObj) {
		obj.syspaths = append(obj.syspaths, syspath)
	})
}

func globAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, s); ok {
			return true
		}
	}
	return false
}

func (obj *enumerateObj) matches(spec *DeviceSpec) bool {
	if len(obj.subsystems) > 0 && !globAny(obj.subsystems, spec.Subsystem) {
		return false
	}
	if globAny(obj.nosubsys, spec.Subsystem) {
		return false
	}
	for name, want := range obj.sysattrs {
		have, ok := spec.Attributes[name]
		if !ok {
			return false
		}
		if m, _ := path.Match(want, have); want != "" && !m {
			return false
		}
	}
	for name, unwanted := range obj.nosysattrs {
		have, ok := spec.Attributes[name]
		if !ok {
			continue
		}
		if m, _ := path.Match(unwanted, have); unwanted == "" || m {
			return false
		}
	}
	if len(obj.properties) > 0 {
		ok := false
		for name, want := range obj.properties {
			have, present := spec.Properties[name]
			if m, _ := path.Match(want, have); present && (want == "" || m) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, tag := range obj.tags {
		if !spec.hasTag(tag) {
			return false
		}
	}
	if len(obj.sysnames) > 0 && !globAny(obj.sysnames, spec.sysname()) {
		return false
	}
	if len(obj.parents) > 0 {
		ok := false
		for _, p := range obj.parents {
			if spec.Devpath == p || strings.HasPrefix(spec.Devpath, p+"/") {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if obj.initialized && !spec.Initialized {
		return false
	}
	return true
}

func (r *Registry) EnumerateScanDevices(e libudev.Enumerate) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj := r.enumerate(string(OpScan), e)
	if obj == nil {
		return -int(syscall.EINVAL)
	}
	if rc, ok := r.statusFault(OpScan); ok {
		return rc
	}
	seen := make(map[string]bool)
	var found []string
	for _, devpath := range sortedSpecKeys(r.specs) {
		spec := r.specs[devpath]
		if obj.matches(spec) {
			seen[spec.syspath()] = true
			found = append(found, spec.syspath())
		}
	}
	for _, syspath := range obj.syspaths {
		if !seen[syspath] {
			seen[syspath] = true
			found = append(found, syspath)
		}
	}
	sort.Strings(found)
	obj.scanned = found
	return 0
}

func (r *Registry) EnumerateGetListEntry(e libudev.Enumerate) libudev.ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	obj := r.enumerate("udev_enumerate_get_list_entry", e)
	if obj == nil {
		return 0
	}
	return r.buildList(obj.scanned, nil)
}

func (r *Registry) HwdbNew(u libudev.Udev) (libudev.Hwdb, syscall.Errno) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.context(string(OpHwdbNew), u) {
		return 0, syscall.EINVAL
	}
	if errno, ok := r.fault(OpHwdbNew); ok {
		return 0, errno
	}
	h := libudev.Hwdb(r.alloc())
	r.hwdbs[h] = 1
	return h, 0
}

func (r *Registry) HwdbUnref(h libudev.Hwdb) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if refs, ok := r.hwdbs[h]; !ok || refs <= 0 {
		r.violate("udev_hwdb_unref: dead hwdb %#x", uintptr(h))
		return
	}
	r.hwdbs[h]--
}

func (r *Registry) HwdbGetPropertiesListEntry(h libudev.Hwdb, modalias string) libudev.ListEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if refs, ok := r.hwdbs[h]; !ok || refs <= 0 {
		r.violate("udev_hwdb_get_properties_list_entry: dead hwdb %#x", uintptr(h))
		return 0
	}
	merged := make(map[string]string)
	for _, entry := range r.hwdb {
		if ok, _ := path.Match(entry.pattern, modalias); ok {
			for k, v := range entry.properties {
				merged[k] = v
			}
		}
	}
	keys := sortedKeys(merged)
	values := make([]*string, len(keys))
	for i, k := range keys {
		v := merged[k]
		values[i] = &v
	}
	return r.buildList(keys, values)
}
