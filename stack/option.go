package stack

import (
	"fmt"
	"io"
	"time"
)

// SetCommandTimeout sets how long Send waits for a response.
func (s *Stack) SetCommandTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("invalid command timeout %v", d)
	}
	s.cmdTimeout = d
	return nil
}

// SetEventQueueSize sets the depth of the event FIFO.
func (s *Stack) SetEventQueueSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid event queue size %v", n)
	}
	s.queueSize = n
	return nil
}

// SetErrorHandler sets a handler for asynchronous link errors.
func (s *Stack) SetErrorHandler(handler func(error)) error {
	s.errorHandler = handler
	return nil
}

// SetTransportH4Socket selects a TCP bridge to the chip.
func (s *Stack) SetTransportH4Socket(addr string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = socketTimeout
	}
	s.transport = transport{h4socket: &transportH4Socket{addr: addr, timeout: timeout}}
	return nil
}

// SetTransportH4Uart selects a serial port.
func (s *Stack) SetTransportH4Uart(path string, baud uint) error {
	s.transport = transport{h4uart: &transportH4Uart{path: path, baud: baud}}
	return nil
}

// SetTransport uses an already open packet stream. Each Read must return
// one whole event packet.
func (s *Stack) SetTransport(rwc io.ReadWriteCloser) error {
	s.transport = transport{rwc: rwc}
	return nil
}
