package udev

import (
	"slices"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elemecca/go-udev/internal/udevtest"
)

const logitechReceiver = "usb:v046DpC52Bd2411dc00dsc00dp00ic03isc01ip01in00"

func TestHwdbProperties(t *testing.T) {
	ctx, reg := newTestContext(t)
	reg.AddHwdbEntry("usb:v046D*", map[string]string{"ID_VENDOR_FROM_DATABASE": "Logitech, Inc."})
	reg.AddHwdbEntry("usb:v046DpC52B*", map[string]string{"ID_MODEL_FROM_DATABASE": "Unifying Receiver"})

	hwdb, err := ctx.Hwdb()
	require.NoError(t, err)
	defer hwdb.Close()

	props := slices.Collect(hwdb.Properties(logitechReceiver))
	assert.Equal(t, []Property{
		{Name: "ID_MODEL_FROM_DATABASE", Value: "Unifying Receiver", HasValue: true},
		{Name: "ID_VENDOR_FROM_DATABASE", Value: "Logitech, Inc.", HasValue: true},
	}, props)

	vendor, ok := hwdb.Lookup(logitechReceiver, "ID_VENDOR_FROM_DATABASE")
	assert.True(t, ok)
	assert.Equal(t, "Logitech, Inc.", vendor)

	_, ok = hwdb.Lookup("usb:v1D6Bp0002*", "ID_VENDOR_FROM_DATABASE")
	assert.False(t, ok)
	assert.Empty(t, slices.Collect(hwdb.Properties("pci:v00008086")))
}

func TestHwdbNewQueryEndsPreviousWalk(t *testing.T) {
	ctx, reg := newTestContext(t)
	reg.AddHwdbEntry("usb:*", map[string]string{"A": "1", "B": "2", "C": "3"})

	hwdb, err := ctx.Hwdb()
	require.NoError(t, err)
	defer hwdb.Close()

	var names []string
	for p := range hwdb.Properties("usb:v1234") {
		names = append(names, p.Name)
		_, _ = hwdb.Lookup("usb:v5678", "A")
	}
	assert.Equal(t, []string{"A"}, names)
}

func TestHwdbOpenFailures(t *testing.T) {
	ctx, reg := newTestContext(t)

	reg.Fail(udevtest.OpHwdbNew, 0)
	_, err := ctx.Hwdb()
	assert.ErrorIs(t, err, ErrHwdbCorrupt)

	reg.Fail(udevtest.OpHwdbNew, syscall.ENOENT)
	_, err = ctx.Hwdb()
	var sysErr *SystemError
	require.ErrorAs(t, err, &sysErr)
	assert.Equal(t, syscall.ENOENT, sysErr.Errno)

	trapped := trapAbort(t)
	reg.Fail(udevtest.OpHwdbNew, syscall.EINVAL)
	_, err = ctx.Hwdb()
	assert.Error(t, err)
	require.Len(t, *trapped, 1)
	assert.True(t, (*trapped)[0].Violation)
	assert.Equal(t, 0, reg.LiveHwdbs())
}

func TestHwdbClose(t *testing.T) {
	ctx, reg := newTestContext(t)
	reg.AddHwdbEntry("*", map[string]string{"A": "1"})

	hwdb, err := ctx.Hwdb()
	require.NoError(t, err)
	require.Equal(t, 1, reg.LiveHwdbs())

	require.NoError(t, hwdb.Close())
	require.NoError(t, hwdb.Close())
	assert.Equal(t, 0, reg.LiveHwdbs())
	assert.Empty(t, slices.Collect(hwdb.Properties("anything")))
	assert.Empty(t, reg.Violations())
}
