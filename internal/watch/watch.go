package watch

import (
	"context"
	"fmt"
	"log/slog"

	udev "github.com/elemecca/go-udev"
	"github.com/elemecca/go-udev/devinfo"
)

// Run subscribes according to cfg, optionally reports the devices already
// present, then forwards events to sink until ctx is done.
func Run(ctx context.Context, uctx *udev.Context, cfg *Config, sink Sink, logger *slog.Logger) error {
	// subscribe before enumerating so nothing falls between the two
	stream, err := subscribe(uctx, cfg)
	if err != nil {
		return err
	}
	defer stream.Close()

	snapshot := devinfo.SnapshotOptions{Attributes: cfg.Output.Attributes}

	if cfg.Enumerate {
		n, err := enumerate(uctx, cfg, func(dev *udev.Device) {
			defer dev.Close()
			rec := devinfo.NewRecord(udev.Event{}, dev, snapshot)
			if err := sink.Publish(rec); err != nil {
				logger.Warn("failed to publish device", "syspath", rec.Device.Syspath, "error", err)
			}
		})
		if err != nil {
			return err
		}
		logger.Info("enumerated present devices", "count", n)
	}

	logger.Info("listening for events", "source", cfg.Source, "filters", len(cfg.Filters))

	var last uint64
	err = stream.Run(ctx, func(ev udev.Event, dev *udev.Device) error {
		defer dev.Close()

		if last != 0 && ev.Seqnum > last+1 {
			logger.Debug("sequence gap", "after", last, "seqnum", ev.Seqnum)
		}
		last = ev.Seqnum

		rec := devinfo.NewRecord(ev, dev, snapshot)
		if err := sink.Publish(rec); err != nil {
			logger.Warn("failed to publish event", "action", ev.Action, "seqnum", ev.Seqnum, "error", err)
		}
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func subscribe(uctx *udev.Context, cfg *Config) (*udev.EventStream, error) {
	var monitor *udev.Monitor
	var err error
	if cfg.Source == "kernel" {
		monitor, err = uctx.MonitorKernel()
	} else {
		monitor, err = uctx.Monitor()
	}
	if err != nil {
		return nil, fmt.Errorf("creating monitor: %w", err)
	}

	for _, f := range cfg.Filters {
		if f.Tag != "" {
			err = monitor.FilterByTag(f.Tag)
		} else {
			err = monitor.FilterBySubsystemDevtype(f.Subsystem, f.Devtype)
		}
		if err != nil {
			monitor.Close()
			return nil, fmt.Errorf("adding filter: %w", err)
		}
	}

	stream, err := monitor.Events()
	if err != nil {
		monitor.Close()
		return nil, fmt.Errorf("enabling monitor: %w", err)
	}
	return stream, nil
}

// enumerate reports the devices the monitor filters would pass: any
// subsystem/devtype filter and any tag filter, the two groups ANDed.
// Enumerator subsystem rules cannot carry a devtype and its tag rules are
// ANDed, so each subsystem filter gets its own scan, tags and devtypes are
// checked per device, and the results are merged by syspath.
func enumerate(uctx *udev.Context, cfg *Config, report func(*udev.Device)) (int, error) {
	var subsystems []FilterConfig
	var tags []string
	for _, f := range cfg.Filters {
		if f.Tag != "" {
			tags = append(tags, f.Tag)
		} else {
			subsystems = append(subsystems, f)
		}
	}
	if len(subsystems) == 0 {
		subsystems = []FilterConfig{{}}
	}

	seen := make(map[string]bool)
	n := 0
	for _, f := range subsystems {
		found, err := scanFilter(uctx, f, tags, seen, report)
		n += found
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func scanFilter(uctx *udev.Context, f FilterConfig, tags []string, seen map[string]bool, report func(*udev.Device)) (int, error) {
	enumerator, err := uctx.Enumerator()
	if err != nil {
		return 0, fmt.Errorf("creating enumerator: %w", err)
	}
	defer enumerator.Close()

	switch {
	case f.Subsystem != "":
		err = enumerator.MatchSubsystem(f.Subsystem)
	case len(tags) == 1:
		err = enumerator.MatchTag(tags[0])
	}
	if err != nil {
		return 0, fmt.Errorf("adding match: %w", err)
	}
	if err := enumerator.Scan(); err != nil {
		return 0, fmt.Errorf("scanning devices: %w", err)
	}

	n := 0
	for dev := range enumerator.Devices() {
		syspath := dev.Syspath()
		if seen[syspath] || !devtypeMatches(dev, f.Devtype) || !tagsMatch(dev, tags) {
			dev.Close()
			continue
		}
		seen[syspath] = true
		report(dev)
		n++
	}
	return n, nil
}

// tagsMatch passes a device carrying any of tags, or every device when
// there are none.
func tagsMatch(dev *udev.Device, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if dev.HasTag(tag) {
			return true
		}
	}
	return false
}

// devtypeMatches applies the devtype half of a subsystem/devtype filter the
// way the monitor does: an empty devtype passes everything.
func devtypeMatches(dev *udev.Device, devtype string) bool {
	if devtype == "" {
		return true
	}
	have, ok := dev.Devtype()
	return ok && have == devtype
}
