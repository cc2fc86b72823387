package bleshim

import (
	"time"
)

// DeviceOption is an interface which the stack link should implement to allow using configuration options
type DeviceOption interface {
	SetCommandTimeout(time.Duration) error
	SetEventQueueSize(int) error
	SetErrorHandler(handler func(error)) error

	SetTransportH4Socket(addr string, timeout time.Duration) error
	SetTransportH4Uart(path string, baud uint) error
}

// An Option is a configuration function, which configures the device.
type Option func(DeviceOption) error

// OptCommandTimeout sets how long a command waits for its status.
func OptCommandTimeout(d time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetCommandTimeout(d)
	}
}

// OptEventQueueSize sets the depth of the event FIFO.
func OptEventQueueSize(n int) Option {
	return func(opt DeviceOption) error {
		return opt.SetEventQueueSize(n)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt DeviceOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptTransportH4Socket set h4 socket transport
func OptTransportH4Socket(addr string, timeout time.Duration) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportH4Socket(addr, timeout)
	}
}

// OptTransportH4Uart set h4 uart transport
func OptTransportH4Uart(path string, baud uint) Option {
	return func(opt DeviceOption) error {
		return opt.SetTransportH4Uart(path, baud)
	}
}
