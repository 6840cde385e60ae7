// Package dispatch implements the router's destination table, selection
// policies, and latency-feedback update rules.
package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxMessageBytes bounds a single task/response read, matching the
// one-shot, no-length-prefix wire contract: a peer writes a complete
// JSON object in one write and stops.
const maxMessageBytes = 1024

// Task is the request record a client sends to the router and the
// router forwards verbatim to a worker.
type Task struct {
	ID   string `json:"id"`
	Size uint64 `json:"size"`
}

// Response is the record a worker sends back; the router never parses
// it, only forwards the bytes it read.
type Response struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ReadMessage reads at most maxMessageBytes from r in a single Read
// call and returns the bytes actually read. A short read is not an
// error: the wire contract has no length prefix, so the peer is
// expected to write its whole object and then stop writing.
func ReadMessage(r io.Reader) ([]byte, error) {
	buf := make([]byte, maxMessageBytes)
	n, err := r.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return buf[:n], nil
}

// DecodeTask parses a raw task message, returning a wrapped error on
// malformed JSON so callers can classify it per the error table.
func DecodeTask(raw []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return Task{}, fmt.Errorf("malformed task: %w", err)
	}
	return t, nil
}

// EncodeResponse serializes a Response the way the worker does before
// writing it back to whoever dialed it.
func EncodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

// NoDestinationReply is the literal byte string the router writes to
// the client when select_destination yields no destination (RR v3
// with an empty active set).
const NoDestinationReply = "No destination available"
