package serialmux

import "io"

// SerialPorter is the minimal interface SerialMux needs from a port, so
// tests can run without scanner hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
