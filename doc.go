// Package udev is a memory-safe binding to the udev device registry.
//
// A Context is the connection to the registry. Devices are looked up
// through it, enumerated with an Enumerator, or received from a Monitor:
//
//	ctx := udev.New()
//	defer ctx.Close()
//
//	lo := ctx.Device("/sys/devices/virtual/net/lo")
//	if lo != nil {
//		defer lo.Close()
//		flags, err := lo.Attribute("flags")
//		...
//	}
//
// Every value minted by a Context holds a native reference that is
// released by its Close method, or by the Context's Close, whichever
// comes first. Using a value after that reports ErrClosed, or zero values
// from accessors that cannot fail.
//
// Failures come in three kinds. A query that matches nothing yields
// ErrNotFound. An OS-level failure yields a *SystemError carrying the
// errno. Some libudev versions report a miss as ENOENT instead, so code
// that only cares about absence should match fs.ErrNotExist, which both
// satisfy. Allocation failure inside the registry, or a result the
// registry's contract rules out, is fatal: the package panics with a
// *FatalError, which callers are not expected to recover.
package udev
