package udev

type DeviceClass uint

const (
	UnknownClass DeviceClass = iota

	HIDClass

	PrinterClass

	InputClass

	TTYClass

	DiskClass

	NetClass
)

type classMatch struct {
	subsystem string
	devtype   string
}

var deviceClassMatches = map[DeviceClass]classMatch{
	HIDClass:     {subsystem: "hidraw"},
	PrinterClass: {subsystem: "usbmisc"},
	InputClass:   {subsystem: "input"},
	TTYClass:     {subsystem: "tty"},
	DiskClass:    {subsystem: "block", devtype: "disk"},
	NetClass:     {subsystem: "net"},
}

var deviceClassNames = map[DeviceClass]string{
	UnknownClass: "unknown",
	HIDClass:     "hid",
	PrinterClass: "printer",
	InputClass:   "input",
	TTYClass:     "tty",
	DiskClass:    "disk",
	NetClass:     "net",
}

func (c DeviceClass) String() string {
	if name, ok := deviceClassNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseDeviceClass is the inverse of DeviceClass.String.
func ParseDeviceClass(name string) (DeviceClass, bool) {
	for class, n := range deviceClassNames {
		if n == name && class != UnknownClass {
			return class, true
		}
	}
	return UnknownClass, false
}
