// Package devinfo copies udev devices into plain records and writes them
// in a choice of encodings.
package devinfo

import (
	"maps"
	"slices"
	"time"

	udev "github.com/elemecca/go-udev"
)

// Info is a detached copy of everything a Device exposes.
type Info struct {
	Syspath     string            `json:"syspath" yaml:"syspath" cbor:"1,keyasint"`
	Devpath     string            `json:"devpath" yaml:"devpath" cbor:"2,keyasint"`
	Sysname     string            `json:"sysname" yaml:"sysname" cbor:"3,keyasint"`
	Sysnum      *uint64           `json:"sysnum,omitempty" yaml:"sysnum,omitempty" cbor:"4,keyasint,omitempty"`
	Subsystem   string            `json:"subsystem,omitempty" yaml:"subsystem,omitempty" cbor:"5,keyasint,omitempty"`
	Devtype     string            `json:"devtype,omitempty" yaml:"devtype,omitempty" cbor:"6,keyasint,omitempty"`
	Driver      string            `json:"driver,omitempty" yaml:"driver,omitempty" cbor:"7,keyasint,omitempty"`
	Devnode     string            `json:"devnode,omitempty" yaml:"devnode,omitempty" cbor:"8,keyasint,omitempty"`
	Devnum      *Devnum           `json:"devnum,omitempty" yaml:"devnum,omitempty" cbor:"9,keyasint,omitempty"`
	Initialized bool              `json:"initialized" yaml:"initialized" cbor:"10,keyasint"`
	SinceInit   time.Duration     `json:"since_initialized,omitempty" yaml:"since_initialized,omitempty" cbor:"11,keyasint,omitempty"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags,omitempty" cbor:"12,keyasint,omitempty"`
	Devlinks    []string          `json:"devlinks,omitempty" yaml:"devlinks,omitempty" cbor:"13,keyasint,omitempty"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties,omitempty" cbor:"14,keyasint,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" cbor:"15,keyasint,omitempty"`
}

// Devnum is a device number split into its parts.
type Devnum struct {
	Major uint32 `json:"major" yaml:"major" cbor:"1,keyasint"`
	Minor uint32 `json:"minor" yaml:"minor" cbor:"2,keyasint"`
}

// Record is one event, or one device found by enumeration when Action is
// empty.
type Record struct {
	Action string    `json:"action,omitempty" yaml:"action,omitempty" cbor:"1,keyasint,omitempty"`
	Seqnum uint64    `json:"seqnum,omitempty" yaml:"seqnum,omitempty" cbor:"2,keyasint,omitempty"`
	Time   time.Time `json:"time" yaml:"time" cbor:"3,keyasint"`
	Device Info      `json:"device" yaml:"device" cbor:"4,keyasint"`
}

// SnapshotOptions selects the optional parts of a snapshot.
type SnapshotOptions struct {
	// Attributes reads every sysfs attribute. This touches the hardware
	// and can be slow; unreadable attributes are left out.
	Attributes bool
}

// Snapshot copies dev into an Info.
func Snapshot(dev *udev.Device, opts SnapshotOptions) Info {
	info := Info{
		Syspath:     dev.Syspath(),
		Devpath:     dev.Devpath(),
		Sysname:     dev.Sysname(),
		Initialized: dev.IsInitialized(),
		Tags:        slices.Collect(dev.Tags()),
		Devlinks:    slices.Collect(dev.Devlinks()),
	}
	if n, ok := dev.Sysnum(); ok {
		info.Sysnum = &n
	}
	info.Subsystem, _ = dev.Subsystem()
	info.Devtype, _ = dev.Devtype()
	info.Driver, _ = dev.Driver()
	info.Devnode, _ = dev.Devnode()
	if n, ok := dev.Devnum(); ok {
		info.Devnum = &Devnum{Major: n.Major(), Minor: n.Minor()}
	}
	if d, ok := dev.TimeSinceInitialized(); ok {
		info.SinceInit = d
	}

	props := make(map[string]string)
	for p := range dev.Properties() {
		props[p.Name] = p.Value
	}
	if len(props) > 0 {
		info.Properties = props
	}

	if opts.Attributes {
		attrs := make(map[string]string)
		for name := range dev.Attributes() {
			if value, err := dev.Attribute(name); err == nil {
				attrs[name] = value
			}
		}
		if len(attrs) > 0 {
			info.Attributes = attrs
		}
	}
	return info
}

// NewRecord snapshots dev as the subject of ev.
func NewRecord(ev udev.Event, dev *udev.Device, opts SnapshotOptions) Record {
	return Record{
		Action: ev.Action.String(),
		Seqnum: ev.Seqnum,
		Time:   time.Now(),
		Device: Snapshot(dev, opts),
	}
}

// PropertyNames returns the property names of info in sorted order.
func (info Info) PropertyNames() []string {
	return slices.Sorted(maps.Keys(info.Properties))
}
