package h4

import (
	"io"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// DefaultSerialOptions matches the connectivity firmware UART: 1M baud, 8N1.
func DefaultSerialOptions() serial.OpenOptions {
	return serial.OpenOptions{
		PortName:        "/dev/ttyACM0",
		BaudRate:        1000000,
		DataBits:        8,
		StopBits:        1,
		ParityMode:      serial.PARITY_NONE,
		MinimumReadSize: 0,
		// ms; keeps rxLoop responsive to Close
		InterCharacterTimeout: 100,
	}
}

// NewSerial opens a UART and flushes whatever the chip sent before we
// were listening.
func NewSerial(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	opts.MinimumReadSize = 0
	if opts.InterCharacterTimeout == 0 {
		opts.InterCharacterTimeout = 100
	}

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", opts.PortName)
	}

	b := make([]byte, 2048)
	<-time.After(250 * time.Millisecond)
	if _, err := sp.Read(b); err != nil && err != io.EOF {
		sp.Close()
		return nil, errors.Wrap(err, "can't flush serial")
	}

	return newH4(sp, opts.PortName), nil
}
