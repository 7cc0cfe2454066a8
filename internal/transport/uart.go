// internal/transport/uart.go
// UART backend (§4.I), grounded on github.com/daedaluz/goserial — the
// teacher's own chosen serial library for talking to physical ASIC/debug
// ports.
package transport

import (
	"time"

	serial "github.com/daedaluz/goserial"
)

// UARTConfig names the serial device and framing the test station's UART
// RPC endpoint uses.
type UARTConfig struct {
	Device      string
	ReadTimeout time.Duration
}

// uartPort adapts *serial.Port to io.ReadWriter; goserial's Read honors
// the read timeout set at Open, so bufio.Scanner blocks at most that long
// between bytes rather than forever on a silent line.
type uartPort struct {
	port *serial.Port
}

func (u *uartPort) Read(p []byte) (int, error)  { return u.port.Read(p) }
func (u *uartPort) Write(p []byte) (int, error) { return u.port.Write(p) }

// OpenUART opens the configured serial device and returns a LineServer
// ready to Serve, dispatching framed lines to handle.
func OpenUART(cfg UARTConfig, handle func(line []byte) []byte) (*LineServer, func() error, error) {
	opts := serial.NewOptions().SetReadTimeout(cfg.ReadTimeout)
	port, err := serial.Open(cfg.Device, opts)
	if err != nil {
		return nil, nil, err
	}
	srv := NewLineServer(&uartPort{port: port}, handle)
	return srv, port.Close, nil
}
