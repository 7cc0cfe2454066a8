// internal/rpc/dispatcher.go
// Package rpc implements the RPC Dispatcher (§4.G): a fixed-size,
// exact-match method table serving line-framed JSON requests.
package rpc

import (
	"encoding/json"

	"github.com/nmradcc/DCC-tester/internal/rpcerr"
)

// MaxMethods is the dispatch table's fixed capacity (§4.G: "fixed size,
// <= 32").
const MaxMethods = 32

// Handler processes one request's params and returns the method-specific
// response fields (status is added by the dispatcher).
type Handler func(params json.RawMessage) (map[string]interface{}, error)

type entry struct {
	name string
	fn   Handler
}

// Dispatcher is the RPC Dispatcher (§4.G).
type Dispatcher struct {
	table [MaxMethods]entry
	count int
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register installs fn under name, overwriting any existing entry with the
// same name (§4.G: "Registration validates non-null and deduplicates by
// overwriting the existing entry").
func (d *Dispatcher) Register(name string, fn Handler) error {
	if fn == nil {
		return rpcerr.InvalidArgf("cannot register nil handler for %q", name)
	}
	for i := 0; i < d.count; i++ {
		if d.table[i].name == name {
			d.table[i].fn = fn
			return nil
		}
	}
	if d.count >= MaxMethods {
		return rpcerr.InvalidArgf("dispatch table full (%d methods)", MaxMethods)
	}
	d.table[d.count] = entry{name: name, fn: fn}
	d.count++
	return nil
}

func (d *Dispatcher) lookup(name string) (Handler, bool) {
	for i := 0; i < d.count; i++ {
		if d.table[i].name == name {
			return d.table[i].fn, true
		}
	}
	return nil, false
}

// HandleLine parses one JSON request object and returns the marshaled
// response object, never erroring itself — every failure mode becomes a
// `{"status":"error",...}` response per §4.G / §7.
func (d *Dispatcher) HandleLine(line []byte) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(line, &obj); err != nil {
		return errorResponse("Invalid JSON")
	}

	methodRaw, hasMethod := obj["method"]
	paramsRaw, hasParams := obj["params"]
	if !hasMethod || !hasParams {
		return errorResponse("Malformed request")
	}

	var method string
	if err := json.Unmarshal(methodRaw, &method); err != nil {
		return errorResponse("Method must be string")
	}

	handler, ok := d.lookup(method)
	if !ok {
		return errorResponse("Unknown method")
	}

	result, err := handler(paramsRaw)
	if err != nil {
		return errorResponse(messageFor(err))
	}
	if result == nil {
		result = map[string]interface{}{}
	}
	result["status"] = "ok"
	out, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return errorResponse("internal response marshal failure")
	}
	return out
}

func messageFor(err error) string {
	if rpcErr, ok := err.(*rpcerr.Error); ok {
		return rpcErr.Message
	}
	return err.Error()
}

func errorResponse(message string) []byte {
	out, _ := json.Marshal(map[string]interface{}{
		"status":  "error",
		"message": message,
	})
	return out
}
