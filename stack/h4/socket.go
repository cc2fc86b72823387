package h4

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// NewSocket dials a TCP bridge to the chip UART.
func NewSocket(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %v", addr)
	}
	return newH4(&connWithTimeout{c: c, timeout: timeout}, addr), nil
}

type connWithTimeout struct {
	c       net.Conn
	timeout time.Duration
}

func (cwt *connWithTimeout) Read(b []byte) (int, error) {
	cwt.c.SetReadDeadline(time.Now().Add(cwt.timeout))
	return cwt.c.Read(b)
}

func (cwt *connWithTimeout) Write(b []byte) (int, error) {
	cwt.c.SetWriteDeadline(time.Now().Add(cwt.timeout))
	return cwt.c.Write(b)
}

func (cwt *connWithTimeout) Close() error {
	return cwt.c.Close()
}
