package udev

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elemecca/go-udev/internal/udevtest"
)

type report struct {
	syspath string
	present bool
}

type recorder struct {
	mu      sync.Mutex
	reports []report
	notify  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 16)}
}

func (r *recorder) callback(dev *Device, present bool) {
	defer dev.Close()

	r.mu.Lock()
	r.reports = append(r.reports, report{syspath: dev.Syspath(), present: present})
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []report {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for report %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

func addHidDevices(reg *udevtest.Registry) {
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:   "/devices/pci0000:00/usb1/1-2/1-2:1.0/0003:046D:C52B.0001/hidraw/hidraw0",
		Subsystem: "hidraw",
		Devnode:   "/dev/hidraw0",
	})
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:   "/devices/pci0000:00/usb1/1-3/1-3:1.0/0003:1050:0407.0002/hidraw/hidraw1",
		Subsystem: "hidraw",
		Devnode:   "/dev/hidraw1",
	})
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:   "/devices/virtual/tty/ttyS0",
		Subsystem: "tty",
	})
}

func TestNewListenerRejectsUnknownClass(t *testing.T) {
	ctx, _ := newTestContext(t)

	_, err := NewListener(ctx, UnknownClass, func(*Device, bool) {})
	assert.Error(t, err)
}

func TestListenerEnumerate(t *testing.T) {
	ctx, reg := newTestContext(t)
	addHidDevices(reg)
	rec := newRecorder()

	listener, err := NewListener(ctx, HIDClass, rec.callback)
	require.NoError(t, err)
	require.NoError(t, listener.Enumerate())

	reports := rec.wait(t, 2)
	assert.Equal(t, []report{
		{syspath: "/sys/devices/pci0000:00/usb1/1-2/1-2:1.0/0003:046D:C52B.0001/hidraw/hidraw0", present: true},
		{syspath: "/sys/devices/pci0000:00/usb1/1-3/1-3:1.0/0003:1050:0407.0002/hidraw/hidraw1", present: true},
	}, reports)
	assert.Equal(t, 0, reg.LiveEnumerators())
	assert.Equal(t, 0, reg.LiveDevices())
}

func TestListenerEnumerateMatchesDevtype(t *testing.T) {
	ctx, reg := newTestContext(t)
	addBlockDevices(reg)
	rec := newRecorder()

	listener, err := NewListener(ctx, DiskClass, rec.callback)
	require.NoError(t, err)
	require.NoError(t, listener.Enumerate())

	reports := rec.wait(t, 0)
	assert.Len(t, reports, 0)

	// the registry keeps DEVTYPE as a property, as udev does
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:    "/devices/virtual/block/loop0",
		Subsystem:  "block",
		Devtype:    "disk",
		Properties: map[string]string{"DEVTYPE": "disk"},
	})
	require.NoError(t, listener.Enumerate())
	reports = rec.wait(t, 1)
	assert.Equal(t, []report{{syspath: "/sys/devices/virtual/block/loop0", present: true}}, reports)
}

func TestListenerListen(t *testing.T) {
	ctx, reg := newTestContext(t)
	addHidDevices(reg)
	rec := newRecorder()

	listener, err := NewListener(ctx, HIDClass, rec.callback)
	require.NoError(t, err)

	assert.EqualError(t, listener.Stop(), "listener is not listening")
	require.NoError(t, listener.Listen())
	assert.EqualError(t, listener.Listen(), "listener is already listening")

	const hidraw0 = "/devices/pci0000:00/usb1/1-2/1-2:1.0/0003:046D:C52B.0001/hidraw/hidraw0"
	reg.Emit("add", hidraw0)
	reg.Emit("change", hidraw0)
	reg.Emit("add", "/devices/virtual/tty/ttyS0")
	reg.Emit("remove", hidraw0)

	reports := rec.wait(t, 2)
	assert.Equal(t, []report{
		{syspath: "/sys" + hidraw0, present: true},
		{syspath: "/sys" + hidraw0, present: false},
	}, reports)

	require.NoError(t, listener.Stop())
	assert.Equal(t, 0, reg.LiveMonitors())
	assert.Equal(t, 0, reg.LiveDevices())
	assert.Empty(t, reg.Violations())

	// a stopped listener can listen again
	require.NoError(t, listener.Listen())
	require.NoError(t, listener.Stop())
}

func TestListenerEnumerateWhileListening(t *testing.T) {
	ctx, reg := newTestContext(t)
	addHidDevices(reg)
	rec := newRecorder()

	listener, err := NewListener(ctx, HIDClass, rec.callback)
	require.NoError(t, err)
	require.NoError(t, listener.Listen())
	assert.Same(t, &listener.mu, listener.stream.gate)

	const hidraw1 = "/devices/pci0000:00/usb1/1-3/1-3:1.0/0003:1050:0407.0002/hidraw/hidraw1"
	reg.Emit("remove", hidraw1)
	require.NoError(t, listener.Enumerate())

	reports := rec.wait(t, 3)
	assert.ElementsMatch(t, []report{
		{syspath: "/sys/devices/pci0000:00/usb1/1-2/1-2:1.0/0003:046D:C52B.0001/hidraw/hidraw0", present: true},
		{syspath: "/sys" + hidraw1, present: true},
		{syspath: "/sys" + hidraw1, present: false},
	}, reports)

	require.NoError(t, listener.Stop())
	assert.Equal(t, 0, reg.LiveDevices())
	assert.Empty(t, reg.Violations())
}
