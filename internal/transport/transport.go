// internal/transport/transport.go
// Package transport implements the Transport Adapter (§4.I): CRLF-framed
// line-JSON RPC carried over a UART or a direct-USB link, feeding
// rpc.Dispatcher.HandleLine.
package transport

import (
	"bufio"
	"io"
	"log"
	"sync"
)

// LineServer reads CRLF/LF-terminated lines from rw, hands each to handle,
// and writes the response back with a trailing newline. One LineServer
// serves exactly one connection; the RPC Dispatcher it wraps is shared and
// already internally synchronized, so concurrent LineServers (e.g. UART +
// USB open at once) are safe.
type LineServer struct {
	rw     io.ReadWriter
	handle func(line []byte) []byte

	mu sync.Mutex // serializes writes against a single underlying port
}

// NewLineServer constructs a LineServer over rw, dispatching each framed
// line to handle.
func NewLineServer(rw io.ReadWriter, handle func(line []byte) []byte) *LineServer {
	return &LineServer{rw: rw, handle: handle}
}

// Serve blocks reading lines until rw returns an error (disconnect) or EOF.
func (s *LineServer) Serve() error {
	scanner := bufio.NewScanner(s.rw)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handle(append([]byte(nil), line...))
		if err := s.write(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (s *LineServer) write(resp []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.rw.Write(resp); err != nil {
		return err
	}
	_, err := s.rw.Write([]byte("\n"))
	return err
}

// Logf is the package-wide logging hook transport backends use for
// connect/disconnect notices, matching the teacher's plain log.Printf
// style rather than a structured logger (this subsystem has no request
// context worth structuring beyond the station's main log stream).
func Logf(format string, args ...interface{}) {
	log.Printf("[transport] "+format, args...)
}
