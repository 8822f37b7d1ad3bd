package udev

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elemecca/go-udev/internal/udevtest"
)

func TestNewContextOutOfMemory(t *testing.T) {
	reg := udevtest.New()
	reg.Fail(udevtest.OpNew, syscall.ENOMEM)

	assert.PanicsWithError(t, "udev: udev_new: out of memory", func() {
		newContext(reg)
	})
	assert.Equal(t, 0, reg.LiveContexts())
}

func TestContextCloseIsIdempotent(t *testing.T) {
	ctx, reg := newTestContext(t)
	require.Equal(t, 1, reg.LiveContexts())

	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())
	assert.Equal(t, 0, reg.LiveContexts())
	assert.Empty(t, reg.Violations())
}

func TestContextCloseReleasesOutstandingHandles(t *testing.T) {
	ctx, reg := newTestContext(t)
	addNetDevices(reg)

	dev := ctx.Device("/sys" + loDevpath)
	require.NotNil(t, dev)
	clone := dev.Clone()
	require.NotNil(t, clone)

	monitor, err := ctx.Monitor()
	require.NoError(t, err)
	stream, err := monitor.Events()
	require.NoError(t, err)

	enumerator, err := ctx.Enumerator()
	require.NoError(t, err)
	hwdb, err := ctx.Hwdb()
	require.NoError(t, err)

	require.NoError(t, ctx.Close())
	assert.Equal(t, 0, reg.LiveDevices())
	assert.Equal(t, 0, reg.LiveMonitors())
	assert.Equal(t, 0, reg.LiveEnumerators())
	assert.Equal(t, 0, reg.LiveHwdbs())
	assert.Equal(t, 0, reg.LiveContexts())

	// closing the stragglers afterwards must not reach the registry
	assert.NoError(t, dev.Close())
	assert.NoError(t, clone.Close())
	assert.NoError(t, stream.Close())
	assert.NoError(t, enumerator.Close())
	assert.NoError(t, hwdb.Close())
	assert.Empty(t, reg.Violations())

	assert.Equal(t, "", dev.Syspath())
	_, err = dev.Attribute("flags")
	assert.ErrorIs(t, err, ErrClosed)
	_, _, err = stream.Next()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestContextEntryPointsAfterClose(t *testing.T) {
	ctx, reg := newTestContext(t)
	addNetDevices(reg)
	require.NoError(t, ctx.Close())

	_, err := ctx.LookupDevice("/sys" + loDevpath)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ctx.Monitor()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ctx.Enumerator()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ctx.Hwdb()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, reg.Violations())
}

func TestLookupDevice(t *testing.T) {
	ctx, reg := newTestContext(t)
	addNetDevices(reg)

	dev, err := ctx.LookupDevice("/sys" + loDevpath)
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, "lo", dev.Sysname())

	_, err = ctx.LookupDevice("/sys/devices/virtual/net/missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, ctx.Device("/sys/devices/virtual/net/missing"))

	reg.Fail(udevtest.OpDeviceNew, syscall.EACCES)
	_, err = ctx.LookupDevice("/sys" + loDevpath)
	var sysErr *SystemError
	require.ErrorAs(t, err, &sysErr)
	assert.Equal(t, syscall.EACCES, sysErr.Errno)
}

func TestLookupDeviceOutOfMemory(t *testing.T) {
	ctx, reg := newTestContext(t)
	addNetDevices(reg)
	trapped := trapAbort(t)

	reg.Fail(udevtest.OpDeviceNew, syscall.ENOMEM)
	dev := ctx.Device("/sys" + loDevpath)
	assert.Nil(t, dev)
	require.Len(t, *trapped, 1)
	assert.Equal(t, "udev_device_new_from_syspath", (*trapped)[0].Op)
}

func TestDeviceFromDevnum(t *testing.T) {
	ctx, reg := newTestContext(t)
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:   "/devices/pci0000:00/0000:00:17.0/ata1/host0/target0:0:0/0:0:0:0/block/sda",
		Subsystem: "block",
		Devtype:   "disk",
		Devnode:   "/dev/sda",
		Devnum:    uint64(MakeDevnum(8, 0)),
	})
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:   "/devices/virtual/mem/null",
		Subsystem: "mem",
		Devnode:   "/dev/null",
		Devnum:    uint64(MakeDevnum(1, 3)),
	})

	disk := ctx.DeviceFromDevnum(BlockDevice, MakeDevnum(8, 0))
	require.NotNil(t, disk)
	defer disk.Close()
	assert.Equal(t, "sda", disk.Sysname())

	null := ctx.DeviceFromDevnum(CharDevice, MakeDevnum(1, 3))
	require.NotNil(t, null)
	defer null.Close()
	assert.Equal(t, "null", null.Sysname())

	_, err := ctx.LookupDeviceFromDevnum(CharDevice, MakeDevnum(8, 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeviceFromSubsystemSysname(t *testing.T) {
	ctx, reg := newTestContext(t)
	addNetDevices(reg)

	dev := ctx.DeviceFromSubsystemSysname("net", "wlan3")
	require.NotNil(t, dev)
	defer dev.Close()
	assert.Equal(t, "/sys/devices/pci0000:00/0000:00:14.3/net/wlan3", dev.Syspath())

	_, err := ctx.LookupDeviceFromSubsystemSysname("block", "wlan3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMonitorInvalidSourceIsViolation(t *testing.T) {
	ctx, reg := newTestContext(t)
	trapped := trapAbort(t)

	_, err := ctx.newMonitor("bogus")
	require.Error(t, err)
	require.Len(t, *trapped, 1)
	assert.True(t, (*trapped)[0].Violation)
	assert.Equal(t, syscall.EINVAL, (*trapped)[0].Errno)

	reg.Fail(udevtest.OpMonitorNew, syscall.EINVAL)
	_, err = ctx.Monitor()
	require.Error(t, err)
	assert.Len(t, *trapped, 2)
}

func TestMonitorUnavailable(t *testing.T) {
	ctx, reg := newTestContext(t)
	trapped := trapAbort(t)

	reg.Fail(udevtest.OpMonitorNew, syscall.EPROTONOSUPPORT)
	_, err := ctx.Monitor()
	assert.ErrorIs(t, err, syscall.EPROTONOSUPPORT)
	assert.Empty(t, *trapped)
	assert.Equal(t, 0, reg.LiveMonitors())
}

func TestSetBlockingBadDescriptor(t *testing.T) {
	trapped := trapAbort(t)

	err := setBlocking(-1)
	assert.ErrorIs(t, err, syscall.EBADF)
	assert.Empty(t, *trapped)
}

func TestContextTrackAfterClose(t *testing.T) {
	ctx, reg := newTestContext(t)
	addNetDevices(reg)

	// a handle that comes back from the library after Close has started
	h, errno := reg.DeviceNewFromSyspath(ctx.udev, "/sys"+loDevpath)
	require.Zero(t, errno)
	require.NoError(t, ctx.Close())

	var dev *Device
	require.NotPanics(t, func() { dev = ctx.wrapDevice(h) })
	assert.Equal(t, 0, reg.LiveDevices())
	assert.Equal(t, 0, reg.DeviceRefs(loDevpath))

	_, err := dev.Attribute("flags")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, dev.Close())
	assert.Empty(t, reg.Violations())
}
