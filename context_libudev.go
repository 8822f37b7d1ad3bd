//go:build linux && cgo && !nolibudev

package udev

import "github.com/elemecca/go-udev/internal/libudev"

// New connects to the host's udev registry.
//
// Allocation failure while connecting is fatal; see FatalError.
func New(opts ...Option) *Context {
	return newContext(libudev.System(), opts...)
}
