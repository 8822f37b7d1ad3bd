package udev

import (
	"errors"
	"iter"
	"runtime"
	"syscall"

	"github.com/elemecca/go-udev/internal/libudev"
)

// Enumerator lists the devices present in the registry. Match rules of the
// same kind are ORed, except sysattr and tag matches which must all hold;
// Nomatch rules exclude. Scan evaluates the rules.
type Enumerator struct {
	ctx *Context
	h   libudev.Enumerate
	res *resource

	// bumped by Scan, which replaces the result list
	gen uint64
}

// Enumerator creates an empty enumerator.
func (c *Context) Enumerator() (*Enumerator, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}

	const op = "udev_enumerate_new"
	h, err := check(op, func() (libudev.Enumerate, syscall.Errno) {
		return c.lib.EnumerateNew(c.udev)
	})
	if errors.Is(err, ErrNotFound) {
		violation(op, 0)
	}
	if err != nil {
		return nil, err
	}

	lib := c.lib
	e := &Enumerator{ctx: c, h: h}
	e.res = c.track("enumerator", func() { lib.EnumerateUnref(h) })
	runtime.SetFinalizer(e, (*Enumerator).finalize)
	return e, nil
}

func (e *Enumerator) finalize() {
	e.ctx.deferRelease(e.res)
}

func (e *Enumerator) Close() error {
	e.ctx.untrack(e.res)
	runtime.SetFinalizer(e, nil)
	return nil
}

func (e *Enumerator) generation() uint64 {
	return e.gen
}

func (e *Enumerator) valid(gen uint64) bool {
	return e.gen == gen && e.ctx.alive(e.res)
}

func (e *Enumerator) rule(op string, add func(libudev.Library) int) error {
	if !e.ctx.alive(e.res) {
		return ErrClosed
	}
	checkStatus(op, add(e.ctx.lib))
	return nil
}

func (e *Enumerator) MatchSubsystem(subsystem string) error {
	return e.rule("udev_enumerate_add_match_subsystem", func(lib libudev.Library) int {
		return lib.EnumerateAddMatchSubsystem(e.h, subsystem)
	})
}

func (e *Enumerator) NomatchSubsystem(subsystem string) error {
	return e.rule("udev_enumerate_add_nomatch_subsystem", func(lib libudev.Library) int {
		return lib.EnumerateAddNomatchSubsystem(e.h, subsystem)
	})
}

// MatchSysattr requires the attribute to exist and, unless value is
// empty, to match the value glob.
func (e *Enumerator) MatchSysattr(name, value string) error {
	return e.rule("udev_enumerate_add_match_sysattr", func(lib libudev.Library) int {
		return lib.EnumerateAddMatchSysattr(e.h, name, value)
	})
}

func (e *Enumerator) NomatchSysattr(name, value string) error {
	return e.rule("udev_enumerate_add_nomatch_sysattr", func(lib libudev.Library) int {
		return lib.EnumerateAddNomatchSysattr(e.h, name, value)
	})
}

func (e *Enumerator) MatchProperty(name, value string) error {
	return e.rule("udev_enumerate_add_match_property", func(lib libudev.Library) int {
		return lib.EnumerateAddMatchProperty(e.h, name, value)
	})
}

func (e *Enumerator) MatchTag(tag string) error {
	return e.rule("udev_enumerate_add_match_tag", func(lib libudev.Library) int {
		return lib.EnumerateAddMatchTag(e.h, tag)
	})
}

// MatchSysname matches the kernel name against a glob such as "sd[a-z]".
func (e *Enumerator) MatchSysname(sysname string) error {
	return e.rule("udev_enumerate_add_match_sysname", func(lib libudev.Library) int {
		return lib.EnumerateAddMatchSysname(e.h, sysname)
	})
}

// MatchParent restricts the scan to parent and its descendants.
func (e *Enumerator) MatchParent(parent *Device) error {
	if !parent.live() {
		return ErrClosed
	}
	return e.rule("udev_enumerate_add_match_parent", func(lib libudev.Library) int {
		return lib.EnumerateAddMatchParent(e.h, parent.h)
	})
}

func (e *Enumerator) MatchIsInitialized() error {
	return e.rule("udev_enumerate_add_match_is_initialized", func(lib libudev.Library) int {
		return lib.EnumerateAddMatchIsInitialized(e.h)
	})
}

// AddSyspath adds a device to the results regardless of the rules.
func (e *Enumerator) AddSyspath(syspath string) error {
	return e.rule("udev_enumerate_add_syspath", func(lib libudev.Library) int {
		return lib.EnumerateAddSyspath(e.h, syspath)
	})
}

// Scan walks the registry and records the devices matching the rules.
func (e *Enumerator) Scan() error {
	if !e.ctx.alive(e.res) {
		return ErrClosed
	}
	e.gen++
	return statusError("udev_enumerate_scan_devices", e.ctx.lib.EnumerateScanDevices(e.h))
}

// Syspaths yields the /sys paths found by the last Scan, in order.
func (e *Enumerator) Syspaths() iter.Seq[string] {
	return names(walk(e.ctx.lib, e, func() libudev.ListEntry {
		return e.ctx.lib.EnumerateGetListEntry(e.h)
	}))
}

// Devices resolves each result of the last Scan. Devices that disappeared
// since the scan are skipped. The caller owns every Device it receives.
func (e *Enumerator) Devices() iter.Seq[*Device] {
	return func(yield func(*Device) bool) {
		for syspath := range e.Syspaths() {
			dev, err := e.ctx.LookupDevice(syspath)
			if err != nil {
				e.ctx.log.Debug("skipping vanished device", "syspath", syspath, "error", err)
				continue
			}
			if !yield(dev) {
				return
			}
		}
	}
}
