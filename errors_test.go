package udev

import (
	"errors"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckNullWithoutErrnoIsNotFound(t *testing.T) {
	trapped := trapAbort(t)

	_, err := check("lookup", func() (uintptr, syscall.Errno) { return 0, 0 })
	require.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Empty(t, *trapped)
}

func TestCheckNullWithErrnoIsSystemError(t *testing.T) {
	trapped := trapAbort(t)

	_, err := check("lookup", func() (uintptr, syscall.Errno) { return 0, syscall.EACCES })
	var sysErr *SystemError
	require.ErrorAs(t, err, &sysErr)
	assert.Equal(t, "lookup", sysErr.Op)
	assert.Equal(t, syscall.EACCES, sysErr.Errno)
	assert.ErrorIs(t, err, syscall.EACCES)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, *trapped)
}

func TestCheckOutOfMemoryAborts(t *testing.T) {
	trapped := trapAbort(t)

	_, err := check("lookup", func() (uintptr, syscall.Errno) { return 0, syscall.ENOMEM })
	require.Error(t, err)
	require.Len(t, *trapped, 1)
	assert.False(t, (*trapped)[0].Violation)
	assert.Equal(t, syscall.ENOMEM, (*trapped)[0].Errno)
}

func TestCheckPassesResultThrough(t *testing.T) {
	got, err := check("lookup", func() (uintptr, syscall.Errno) { return 0x10, syscall.EAGAIN })
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x10), got)
}

func TestCheckStatus(t *testing.T) {
	trapped := trapAbort(t)

	checkStatus("filter", 0)
	assert.Empty(t, *trapped)

	checkStatus("filter", -int(syscall.ENOMEM))
	require.Len(t, *trapped, 1)
	assert.False(t, (*trapped)[0].Violation)

	checkStatus("filter", -int(syscall.EINVAL))
	require.Len(t, *trapped, 2)
	assert.True(t, (*trapped)[1].Violation)
	assert.Equal(t, syscall.EINVAL, (*trapped)[1].Errno)

	checkStatus("filter", 1)
	require.Len(t, *trapped, 3)
	assert.True(t, (*trapped)[2].Violation)
}

func TestStatusError(t *testing.T) {
	trapped := trapAbort(t)

	assert.NoError(t, statusError("scan", 0))

	err := statusError("scan", -int(syscall.EPERM))
	assert.ErrorIs(t, err, syscall.EPERM)
	assert.Empty(t, *trapped)

	statusError("scan", -int(syscall.ENOMEM))
	require.Len(t, *trapped, 1)
	assert.False(t, (*trapped)[0].Violation)

	statusError("scan", 2)
	require.Len(t, *trapped, 2)
	assert.True(t, (*trapped)[1].Violation)
}

func TestDefaultAbortPanics(t *testing.T) {
	assert.PanicsWithError(t, "udev: udev_new: out of memory", func() {
		outOfMemory("udev_new")
	})
	assert.PanicsWithError(t, "udev: BUG: udev_monitor_new_from_netlink: unexpected result invalid argument", func() {
		violation("udev_monitor_new_from_netlink", syscall.EINVAL)
	})
}
