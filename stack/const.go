package stack

import "time"

// Packet indicators.
const (
	pktTypeCommand uint8 = 0x01
	pktTypeEvent   uint8 = 0x04
)

const (
	cmdHeaderLen     = 4
	cmdBufSize       = cmdHeaderLen + 255
	defaultQueueSize = 10
	defaultTimeout   = 3 * time.Second
	socketTimeout    = time.Second
)
