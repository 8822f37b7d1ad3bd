//go:build linux && cgo && !nolibudev

package libudev

import (
	"syscall"
	"unsafe"
)

/*
	#cgo pkg-config: libudev
	#include <libudev.h>
	#include <stdlib.h>
*/
import "C"

type system struct{}

// System returns the Library backed by the host's libudev.
func System() Library {
	return system{}
}

func (u Udev) c() *C.struct_udev {
	return (*C.struct_udev)(unsafe.Pointer(u))
}

func (d Device) c() *C.struct_udev_device {
	return (*C.struct_udev_device)(unsafe.Pointer(d))
}

func (m Monitor) c() *C.struct_udev_monitor {
	return (*C.struct_udev_monitor)(unsafe.Pointer(m))
}

func (e Enumerate) c() *C.struct_udev_enumerate {
	return (*C.struct_udev_enumerate)(unsafe.Pointer(e))
}

func (h Hwdb) c() *C.struct_udev_hwdb {
	return (*C.struct_udev_hwdb)(unsafe.Pointer(h))
}

func (e ListEntry) c() *C.struct_udev_list_entry {
	return (*C.struct_udev_list_entry)(unsafe.Pointer(e))
}

// errnoOf extracts the errno cgo captured after the call. cgo zeroes errno
// before calling into C, so zero really means "not set by the callee".
func errnoOf(err error) syscall.Errno {
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return 0
}

// cstring copies s into C memory. An empty string becomes NULL when
// nullable is set, which is how libudev spells "any".
func cstring(s string, nullable bool) *C.char {
	if nullable && s == "" {
		return nil
	}
	return C.CString(s)
}

func free(s *C.char) {
	if s != nil {
		C.free(unsafe.Pointer(s))
	}
}

func gostring(s *C.char) (string, bool) {
	if s == nil {
		return "", false
	}
	return C.GoString(s), true
}

func (system) New() Udev {
	return Udev(unsafe.Pointer(C.udev_new()))
}

func (system) Unref(u Udev) {
	C.udev_unref(u.c())
}

func (system) DeviceNewFromSyspath(u Udev, syspath string) (Device, syscall.Errno) {
	path := cstring(syspath, false)
	defer free(path)

	dev, err := C.udev_device_new_from_syspath(u.c(), path)
	return Device(unsafe.Pointer(dev)), errnoOf(err)
}

func (system) DeviceNewFromDevnum(u Udev, typ byte, devnum uint64) (Device, syscall.Errno) {
	dev, err := C.udev_device_new_from_devnum(u.c(), C.char(typ), C.dev_t(devnum))
	return Device(unsafe.Pointer(dev)), errnoOf(err)
}

func (system) DeviceNewFromSubsystemSysname(u Udev, subsystem, sysname string) (Device, syscall.Errno) {
	csubsystem := cstring(subsystem, false)
	defer free(csubsystem)
	csysname := cstring(sysname, false)
	defer free(csysname)

	dev, err := C.udev_device_new_from_subsystem_sysname(u.c(), csubsystem, csysname)
	return Device(unsafe.Pointer(dev)), errnoOf(err)
}

func (system) DeviceRef(d Device) Device {
	return Device(unsafe.Pointer(C.udev_device_ref(d.c())))
}

func (system) DeviceUnref(d Device) {
	C.udev_device_unref(d.c())
}

func (system) DeviceGetParent(d Device) (Device, syscall.Errno) {
	parent, err := C.udev_device_get_parent(d.c())
	return Device(unsafe.Pointer(parent)), errnoOf(err)
}

func (system) DeviceGetParentWithSubsystemDevtype(d Device, subsystem, devtype string) (Device, syscall.Errno) {
	csubsystem := cstring(subsystem, false)
	defer free(csubsystem)
	cdevtype := cstring(devtype, true)
	defer free(cdevtype)

	parent, err := C.udev_device_get_parent_with_subsystem_devtype(d.c(), csubsystem, cdevtype)
	return Device(unsafe.Pointer(parent)), errnoOf(err)
}

func (system) DeviceGetSysattrValue(d Device, name string) (*string, syscall.Errno) {
	cname := cstring(name, false)
	defer free(cname)

	value, err := C.udev_device_get_sysattr_value(d.c(), cname)
	if value == nil {
		return nil, errnoOf(err)
	}
	s := C.GoString(value)
	return &s, 0
}

func (system) DeviceSetSysattrValue(d Device, name, value string) int {
	cname := cstring(name, false)
	defer free(cname)
	cvalue := cstring(value, false)
	defer free(cvalue)

	return int(C.udev_device_set_sysattr_value(d.c(), cname, cvalue))
}

func (system) DeviceGetDevpath(d Device) (string, bool) {
	return gostring(C.udev_device_get_devpath(d.c()))
}

func (system) DeviceGetSyspath(d Device) (string, bool) {
	return gostring(C.udev_device_get_syspath(d.c()))
}

func (system) DeviceGetSysname(d Device) (string, bool) {
	return gostring(C.udev_device_get_sysname(d.c()))
}

func (system) DeviceGetSysnum(d Device) (string, bool) {
	return gostring(C.udev_device_get_sysnum(d.c()))
}

func (system) DeviceGetSubsystem(d Device) (string, bool) {
	return gostring(C.udev_device_get_subsystem(d.c()))
}

func (system) DeviceGetDevtype(d Device) (string, bool) {
	return gostring(C.udev_device_get_devtype(d.c()))
}

func (system) DeviceGetDriver(d Device) (string, bool) {
	return gostring(C.udev_device_get_driver(d.c()))
}

func (system) DeviceGetDevnode(d Device) (string, bool) {
	return gostring(C.udev_device_get_devnode(d.c()))
}

func (system) DeviceGetAction(d Device) (string, bool) {
	return gostring(C.udev_device_get_action(d.c()))
}

func (system) DeviceGetDevnum(d Device) uint64 {
	return uint64(C.udev_device_get_devnum(d.c()))
}

func (system) DeviceGetSeqnum(d Device) uint64 {
	return uint64(C.udev_device_get_seqnum(d.c()))
}

func (system) DeviceGetUsecSinceInitialized(d Device) uint64 {
	return uint64(C.udev_device_get_usec_since_initialized(d.c()))
}

func (system) DeviceGetIsInitialized(d Device) bool {
	return C.udev_device_get_is_initialized(d.c()) != 0
}

func (system) DeviceHasTag(d Device, tag string) bool {
	ctag := cstring(tag, false)
	defer free(ctag)

	return C.udev_device_has_tag(d.c(), ctag) != 0
}

func (system) DeviceGetDevlinksListEntry(d Device) ListEntry {
	return ListEntry(unsafe.Pointer(C.udev_device_get_devlinks_list_entry(d.c())))
}

func (system) DeviceGetTagsListEntry(d Device) ListEntry {
	return ListEntry(unsafe.Pointer(C.udev_device_get_tags_list_entry(d.c())))
}

func (system) DeviceGetPropertiesListEntry(d Device) ListEntry {
	return ListEntry(unsafe.Pointer(C.udev_device_get_properties_list_entry(d.c())))
}

func (system) DeviceGetSysattrListEntry(d Device) ListEntry {
	return ListEntry(unsafe.Pointer(C.udev_device_get_sysattr_list_entry(d.c())))
}

func (system) ListEntryGetNext(e ListEntry) ListEntry {
	return ListEntry(unsafe.Pointer(C.udev_list_entry_get_next(e.c())))
}

func (system) ListEntryGetName(e ListEntry) string {
	name, _ := gostring(C.udev_list_entry_get_name(e.c()))
	return name
}

func (system) ListEntryGetValue(e ListEntry) (string, bool) {
	return gostring(C.udev_list_entry_get_value(e.c()))
}

func (system) MonitorNewFromNetlink(u Udev, name string) (Monitor, syscall.Errno) {
	cname := cstring(name, false)
	defer free(cname)

	monitor, err := C.udev_monitor_new_from_netlink(u.c(), cname)
	return Monitor(unsafe.Pointer(monitor)), errnoOf(err)
}

func (system) MonitorUnref(m Monitor) {
	C.udev_monitor_unref(m.c())
}

func (system) MonitorFilterAddMatchSubsystemDevtype(m Monitor, subsystem, devtype string) int {
	csubsystem := cstring(subsystem, false)
	defer free(csubsystem)
	cdevtype := cstring(devtype, true)
	defer free(cdevtype)

	return int(C.udev_monitor_filter_add_match_subsystem_devtype(m.c(), csubsystem, cdevtype))
}

func (system) MonitorFilterAddMatchTag(m Monitor, tag string) int {
	ctag := cstring(tag, false)
	defer free(ctag)

	return int(C.udev_monitor_filter_add_match_tag(m.c(), ctag))
}

func (system) MonitorFilterRemove(m Monitor) int {
	return int(C.udev_monitor_filter_remove(m.c()))
}

func (system) MonitorEnableReceiving(m Monitor) int {
	return int(C.udev_monitor_enable_receiving(m.c()))
}

func (system) MonitorGetFd(m Monitor) int {
	return int(C.udev_monitor_get_fd(m.c()))
}

func (system) MonitorReceiveDevice(m Monitor) (Device, syscall.Errno) {
	dev, err := C.udev_monitor_receive_device(m.c())
	return Device(unsafe.Pointer(dev)), errnoOf(err)
}

func (system) EnumerateNew(u Udev) (Enumerate, syscall.Errno) {
	enumerate, err := C.udev_enumerate_new(u.c())
	return Enumerate(unsafe.Pointer(enumerate)), errnoOf(err)
}

func (system) EnumerateUnref(e Enumerate) {
	C.udev_enumerate_unref(e.c())
}

func (system) EnumerateAddMatchSubsystem(e Enumerate, subsystem string) int {
	csubsystem := cstring(subsystem, false)
	defer free(csubsystem)

	return int(C.udev_enumerate_add_match_subsystem(e.c(), csubsystem))
}

func (system) EnumerateAddNomatchSubsystem(e Enumerate, subsystem string) int {
	csubsystem := cstring(subsystem, false)
	defer free(csubsystem)

	return int(C.udev_enumerate_add_nomatch_subsystem(e.c(), csubsystem))
}

func (system) EnumerateAddMatchSysattr(e Enumerate, name, value string) int {
	cname := cstring(name, false)
	defer free(cname)
	cvalue := cstring(value, true)
	defer free(cvalue)

	return int(C.udev_enumerate_add_match_sysattr(e.c(), cname, cvalue))
}

func (system) EnumerateAddNomatchSysattr(e Enumerate, name, value string) int {
	cname := cstring(name, false)
	defer free(cname)
	cvalue := cstring(value, true)
	defer free(cvalue)

	return int(C.udev_enumerate_add_nomatch_sysattr(e.c(), cname, cvalue))
}

func (system) EnumerateAddMatchProperty(e Enumerate, name, value string) int {
	cname := cstring(name, false)
	defer free(cname)
	cvalue := cstring(value, true)
	defer free(cvalue)

	return int(C.udev_enumerate_add_match_property(e.c(), cname, cvalue))
}

func (system) EnumerateAddMatchTag(e Enumerate, tag string) int {
	ctag := cstring(tag, false)
	defer free(ctag)

	return int(C.udev_enumerate_add_match_tag(e.c(), ctag))
}

func (system) EnumerateAddMatchSysname(e Enumerate, sysname string) int {
	csysname := cstring(sysname, false)
	defer free(csysname)

	return int(C.udev_enumerate_add_match_sysname(e.c(), csysname))
}

func (system) EnumerateAddMatchParent(e Enumerate, parent Device) int {
	return int(C.udev_enumerate_add_match_parent(e.c(), parent.c()))
}

func (system) EnumerateAddMatchIsInitialized(e Enumerate) int {
	return int(C.udev_enumerate_add_match_is_initialized(e.c()))
}

func (system) EnumerateAddSyspath(e Enumerate, syspath string) int {
	csyspath := cstring(syspath, false)
	defer free(csyspath)

	return int(C.udev_enumerate_add_syspath(e.c(), csyspath))
}

func (system) EnumerateScanDevices(e Enumerate) int {
	return int(C.udev_enumerate_scan_devices(e.c()))
}

func (system) EnumerateGetListEntry(e Enumerate) ListEntry {
	return ListEntry(unsafe.Pointer(C.udev_enumerate_get_list_entry(e.c())))
}

func (system) HwdbNew(u Udev) (Hwdb, syscall.Errno) {
	hwdb, err := C.udev_hwdb_new(u.c())
	return Hwdb(unsafe.Pointer(hwdb)), errnoOf(err)
}

func (system) HwdbUnref(h Hwdb) {
	C.udev_hwdb_unref(h.c())
}

func (system) HwdbGetPropertiesListEntry(h Hwdb, modalias string) ListEntry {
	cmodalias := cstring(modalias, false)
	defer free(cmodalias)

	return ListEntry(unsafe.Pointer(C.udev_hwdb_get_properties_list_entry(h.c(), cmodalias, 0)))
}
