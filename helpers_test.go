package udev

import (
	"io"
	"log/slog"
	"testing"

	"github.com/elemecca/go-udev/internal/udevtest"
)

const loDevpath = "/devices/virtual/net/lo"

func newTestContext(t *testing.T) (*Context, *udevtest.Registry) {
	t.Helper()

	reg := udevtest.New()
	ctx := newContext(reg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() { ctx.Close() })
	return ctx, reg
}

// trapAbort replaces the abort hook for the duration of the test and
// collects what reaches it instead of panicking.
func trapAbort(t *testing.T) *[]*FatalError {
	t.Helper()

	var got []*FatalError
	prev := abort
	abort = func(err *FatalError) { got = append(got, err) }
	t.Cleanup(func() { abort = prev })
	return &got
}

func addNetDevices(reg *udevtest.Registry) {
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:     loDevpath,
		Subsystem:   "net",
		Attributes:  map[string]string{"flags": "73", "mtu": "65536"},
		ReadOnly:    []string{"flags"},
		Properties:  map[string]string{"INTERFACE": "lo", "IFINDEX": "1"},
		Initialized: true,
	})
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:   "/devices/pci0000:00/0000:00:14.3",
		Subsystem: "pci",
		Driver:    "iwlwifi",
	})
	reg.AddDevice(udevtest.DeviceSpec{
		Devpath:              "/devices/pci0000:00/0000:00:14.3/net/wlan3",
		Subsystem:            "net",
		Devtype:              "wlan",
		Tags:                 []string{"systemd", "uaccess"},
		Properties:           map[string]string{"INTERFACE": "wlan3", "ID_NET_NAME": "wlp0s20f3"},
		Attributes:           map[string]string{"address": "aa:bb:cc:dd:ee:ff"},
		Initialized:          true,
		UsecSinceInitialized: 1500000,
	})
}
