package udev

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Devnum is a kernel device number (dev_t).
type Devnum uint64

// MakeDevnum combines a major and minor number.
func MakeDevnum(major, minor uint32) Devnum {
	return Devnum(unix.Mkdev(major, minor))
}

func (n Devnum) Major() uint32 {
	return unix.Major(uint64(n))
}

func (n Devnum) Minor() uint32 {
	return unix.Minor(uint64(n))
}

func (n Devnum) String() string {
	return fmt.Sprintf("%d:%d", n.Major(), n.Minor())
}

// DeviceType selects the device number namespace.
type DeviceType byte

const (
	CharDevice  DeviceType = 'c'
	BlockDevice DeviceType = 'b'
)

func (t DeviceType) String() string {
	switch t {
	case CharDevice:
		return "char"
	case BlockDevice:
		return "block"
	default:
		return fmt.Sprintf("DeviceType(%q)", byte(t))
	}
}
