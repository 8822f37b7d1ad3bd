// Package libudev is the raw boundary to the udev device registry.
//
// Every method maps onto exactly one libudev entry point. Handles are
// opaque and the zero value of each handle type is the null pointer.
// Calls that report failure through errno return it alongside the result;
// the errno is only meaningful when the result is null.
//
// Nothing in this package is safe for concurrent use, and nothing here
// manages lifetimes. That is the job of the package one level up.
package libudev

import "syscall"

type (
	Udev      uintptr
	Device    uintptr
	Monitor   uintptr
	Enumerate uintptr
	Hwdb      uintptr
	ListEntry uintptr
)

// Library is the set of libudev calls the wrapper depends on.
type Library interface {
	New() Udev
	Unref(u Udev)

	DeviceNewFromSyspath(u Udev, syspath string) (Device, syscall.Errno)
	DeviceNewFromDevnum(u Udev, typ byte, devnum uint64) (Device, syscall.Errno)
	DeviceNewFromSubsystemSysname(u Udev, subsystem, sysname string) (Device, syscall.Errno)
	DeviceRef(d Device) Device
	DeviceUnref(d Device)

	// The parent belongs to the child; callers must DeviceRef it to keep it.
	DeviceGetParent(d Device) (Device, syscall.Errno)
	// An empty devtype matches any devtype.
	DeviceGetParentWithSubsystemDevtype(d Device, subsystem, devtype string) (Device, syscall.Errno)

	DeviceGetSysattrValue(d Device, name string) (*string, syscall.Errno)
	// Returns 0 or a negative errno.
	DeviceSetSysattrValue(d Device, name, value string) int

	DeviceGetDevpath(d Device) (string, bool)
	DeviceGetSyspath(d Device) (string, bool)
	DeviceGetSysname(d Device) (string, bool)
	DeviceGetSysnum(d Device) (string, bool)
	DeviceGetSubsystem(d Device) (string, bool)
	DeviceGetDevtype(d Device) (string, bool)
	DeviceGetDriver(d Device) (string, bool)
	DeviceGetDevnode(d Device) (string, bool)
	DeviceGetAction(d Device) (string, bool)
	DeviceGetDevnum(d Device) uint64
	DeviceGetSeqnum(d Device) uint64
	DeviceGetUsecSinceInitialized(d Device) uint64
	DeviceGetIsInitialized(d Device) bool
	DeviceHasTag(d Device, tag string) bool

	DeviceGetDevlinksListEntry(d Device) ListEntry
	DeviceGetTagsListEntry(d Device) ListEntry
	DeviceGetPropertiesListEntry(d Device) ListEntry
	DeviceGetSysattrListEntry(d Device) ListEntry

	ListEntryGetNext(e ListEntry) ListEntry
	ListEntryGetName(e ListEntry) string
	ListEntryGetValue(e ListEntry) (string, bool)

	MonitorNewFromNetlink(u Udev, name string) (Monitor, syscall.Errno)
	MonitorUnref(m Monitor)
	// An empty devtype matches any devtype.
	MonitorFilterAddMatchSubsystemDevtype(m Monitor, subsystem, devtype string) int
	MonitorFilterAddMatchTag(m Monitor, tag string) int
	MonitorFilterRemove(m Monitor) int
	MonitorEnableReceiving(m Monitor) int
	MonitorGetFd(m Monitor) int
	MonitorReceiveDevice(m Monitor) (Device, syscall.Errno)

	EnumerateNew(u Udev) (Enumerate, syscall.Errno)
	EnumerateUnref(e Enumerate)
	EnumerateAddMatchSubsystem(e Enumerate, subsystem string) int
	EnumerateAddNomatchSubsystem(e Enumerate, subsystem string) int
	EnumerateAddMatchSysattr(e Enumerate, name, value string) int
	EnumerateAddNomatchSysattr(e Enumerate, name, value string) int
	EnumerateAddMatchProperty(e Enumerate, name, value string) int
	EnumerateAddMatchTag(e Enumerate, tag string) int
	EnumerateAddMatchSysname(e Enumerate, sysname string) int
	EnumerateAddMatchParent(e Enumerate, parent Device) int
	EnumerateAddMatchIsInitialized(e Enumerate) int
	EnumerateAddSyspath(e Enumerate, syspath string) int
	EnumerateScanDevices(e Enumerate) int
	EnumerateGetListEntry(e Enumerate) ListEntry

	HwdbNew(u Udev) (Hwdb, syscall.Errno)
	HwdbUnref(h Hwdb)
	HwdbGetPropertiesListEntry(h Hwdb, modalias string) ListEntry
}
