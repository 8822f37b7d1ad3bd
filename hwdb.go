package udev

import (
	"errors"
	"iter"
	"runtime"
	"syscall"

	"github.com/elemecca/go-udev/internal/libudev"
)

// Hwdb is a handle to the hardware database, which maps modalias strings
// such as "usb:v046DpC52B*" to descriptive properties.
type Hwdb struct {
	ctx *Context
	h   libudev.Hwdb
	res *resource

	// every query rebuilds the one list the database hands out
	gen uint64
}

// Hwdb opens the hardware database. It fails with ErrHwdbCorrupt when the
// database cannot be parsed and with a *SystemError when it cannot be
// read.
func (c *Context) Hwdb() (*Hwdb, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}

	const op = "udev_hwdb_new"
	h, err := check(op, func() (libudev.Hwdb, syscall.Errno) {
		return c.lib.HwdbNew(c.udev)
	})
	var sysErr *SystemError
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return nil, ErrHwdbCorrupt
	case errors.As(err, &sysErr) && sysErr.Errno == syscall.EINVAL:
		violation(op, sysErr.Errno)
		return nil, err
	default:
		return nil, err
	}

	lib := c.lib
	hw := &Hwdb{ctx: c, h: h}
	hw.res = c.track("hwdb", func() { lib.HwdbUnref(h) })
	runtime.SetFinalizer(hw, (*Hwdb).finalize)
	return hw, nil
}

func (hw *Hwdb) finalize() {
	hw.ctx.deferRelease(hw.res)
}

func (hw *Hwdb) Close() error {
	hw.ctx.untrack(hw.res)
	runtime.SetFinalizer(hw, nil)
	return nil
}

func (hw *Hwdb) generation() uint64 {
	return hw.gen
}

func (hw *Hwdb) valid(gen uint64) bool {
	return hw.gen == gen && hw.ctx.alive(hw.res)
}

// Properties yields the properties matching modalias. Starting another
// query on the same Hwdb ends any sequence still in progress.
func (hw *Hwdb) Properties(modalias string) iter.Seq[Property] {
	return func(yield func(Property) bool) {
		if !hw.ctx.alive(hw.res) {
			return
		}
		hw.gen++
		seq := walk(hw.ctx.lib, hw, func() libudev.ListEntry {
			return hw.ctx.lib.HwdbGetPropertiesListEntry(hw.h, modalias)
		})
		seq(yield)
	}
}

// Lookup returns one property for modalias.
func (hw *Hwdb) Lookup(modalias, key string) (string, bool) {
	for p := range hw.Properties(modalias) {
		if p.Name == key {
			return p.Value, p.HasValue
		}
	}
	return "", false
}
