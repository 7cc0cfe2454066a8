// cmd/cli/main.go
// cli sends one line-JSON RPC request to a dccstation over its UART
// link and prints the response, grounded on the teacher's cmd/cli tool
// (flag-driven one-shot operation) and its use of
// github.com/atotto/clipboard to copy results for the operator.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/atotto/clipboard"
	serial "github.com/daedaluz/goserial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "serial device the test station RPC link is on")
	method  = flag.String("method", "echo", "RPC method to call")
	params  = flag.String("params", "{}", "JSON params object")
	timeout = flag.Duration("timeout", 2*time.Second, "response read timeout")
	copyOut = flag.Bool("copy", false, "copy the response to the clipboard")
)

func main() {
	flag.Parse()

	opts := serial.NewOptions().SetReadTimeout(*timeout)
	port, err := serial.Open(*device, opts)
	if err != nil {
		log.Fatalf("open %s: %v", *device, err)
	}
	defer port.Close()

	req := fmt.Sprintf(`{"method":%q,"params":%s}`, *method, *params)
	if _, err := port.Write([]byte(req + "\n")); err != nil {
		log.Fatalf("write request: %v", err)
	}

	scanner := bufio.NewScanner(port)
	if !scanner.Scan() {
		log.Fatalf("no response within %s", *timeout)
	}
	resp := scanner.Text()
	fmt.Println(resp)

	if *copyOut {
		if err := clipboard.WriteAll(resp); err != nil {
			fmt.Fprintf(os.Stderr, "clipboard copy failed: %v\n", err)
		}
	}
}
