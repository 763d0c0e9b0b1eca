package serialmux

import "io"

// SerialPorter is the minimal port surface SerialMux needs. serial.Port
// satisfies it.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
