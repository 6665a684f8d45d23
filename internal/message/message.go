// Package message defines the clipd control-channel protocol.
//
// All messages are newline-delimited JSON. Payloads are always
// base64-encoded so that binary content (images, etc.) is safe to embed in
// JSON strings. Each message is exactly one line: <json>\n. A client sends
// one Request at a time on a connection and receives exactly one Response
// per Request, in order.
package message

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the operation a Request asks for.
type Kind string

const (
	KindPing   Kind = "ping"
	KindCopy   Kind = "copy"
	KindPaste  Kind = "paste"
	KindList   Kind = "list"
	KindDelete Kind = "delete"
	KindRecopy Kind = "recopy"
	KindGroups Kind = "groups"
	KindStop   Kind = "stop"
)

// Code classifies a failed Response.
type Code string

const (
	// CodeNotFound: index, id, or group does not exist. Never fatal.
	CodeNotFound Code = "not_found"
	// CodeStorageFailure: the durable backend reported an I/O error. The
	// request failed; the daemon and other clients are unaffected.
	CodeStorageFailure Code = "storage_failure"
	// CodeCapabilityUnavailable: the clipboard claim or read failed; the
	// operation degraded gracefully.
	CodeCapabilityUnavailable Code = "capability_unavailable"
	// CodeProtocolError: malformed request; the server closes the
	// offending connection after reporting it.
	CodeProtocolError Code = "protocol_error"
	// CodeShuttingDown: the daemon is stopping and took no action.
	CodeShuttingDown Code = "shutting_down"
)

// Item is a single payload representation with a MIME type.
// Data is always base64-encoded.
type Item struct {
	MIME string `json:"mime"`
	Data string `json:"data"` // base64-encoded
}

// NewTextItem creates a text/plain Item from a plain string.
func NewTextItem(text string) Item {
	return Item{
		MIME: "text/plain",
		Data: base64.StdEncoding.EncodeToString([]byte(text)),
	}
}

// NewBinaryItem creates an Item from raw bytes with the given MIME type.
func NewBinaryItem(mime string, data []byte) Item {
	return Item{
		MIME: mime,
		Data: base64.StdEncoding.EncodeToString(data),
	}
}

// Decode returns the raw bytes of the item payload.
func (it Item) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(it.Data)
}

// Request is the client→daemon envelope. Kind selects the operation; the
// remaining fields are its typed arguments.
type Request struct {
	Kind  Kind   `json:"request"`
	Group string `json:"group,omitempty"`

	// Index addresses an entry within the group's current ordering;
	// nil defaults to the head for paste and recopy.
	Index *int `json:"index,omitempty"`

	// Copy
	Items  []Item `json:"items,omitempty"`
	Expiry string `json:"expiry,omitempty"` // "never", "session", or duration

	// Delete
	All bool `json:"all,omitempty"`

	// Stop
	Restart bool `json:"restart,omitempty"`

	Source string `json:"source,omitempty"`
}

// Preview is one entry's metadata as returned by list.
type Preview struct {
	Index     int       `json:"index"`
	ID        uint64    `json:"id"`
	Preview   string    `json:"preview"`
	MIMEs     []string  `json:"mimes"`
	CreatedAt time.Time `json:"created_at"`
	Origin    string    `json:"origin"`
	Expiry    string    `json:"expiry"`
	Active    bool      `json:"active,omitempty"`
}

// GroupListing holds one group's previews, head first.
type GroupListing struct {
	Group   string    `json:"group"`
	Entries []Preview `json:"entries"`
}

// GroupInfo describes a populated group for list-groups.
type GroupInfo struct {
	Name         string    `json:"name"`
	Entries      int       `json:"entries"`
	LastActivity time.Time `json:"last_activity"`
}

// Response is the daemon→client envelope.
type Response struct {
	Status string `json:"response"` // "ok" or "error"
	Code   Code   `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`

	// Paste
	Items []Item `json:"items,omitempty"`

	// List
	Listings []GroupListing `json:"listings,omitempty"`

	// Groups
	Groups []GroupInfo `json:"groups,omitempty"`
}

// OK returns a bare success response.
func OK() Response { return Response{Status: "ok"} }

// Errorf returns an error response with a classification code.
func Errorf(code Code, format string, args ...any) Response {
	return Response{Status: "error", Code: code, Error: fmt.Sprintf(format, args...)}
}

// Failed reports whether the response carries an error.
func (r Response) Failed() bool { return r.Status != "ok" }

// EncodeRequest serialises a request to JSON without a trailing newline.
func EncodeRequest(r *Request) ([]byte, error) { return json.Marshal(r) }

// DecodeRequest deserialises a request from raw JSON bytes.
func DecodeRequest(b []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("request decode: %w", err)
	}
	if r.Kind == "" {
		return nil, fmt.Errorf("request decode: missing request kind")
	}
	return &r, nil
}

// EncodeResponse serialises a response to JSON without a trailing newline.
func EncodeResponse(r *Response) ([]byte, error) { return json.Marshal(r) }

// DecodeResponse deserialises a response from raw JSON bytes.
func DecodeResponse(b []byte) (*Response, error) {
	var r Response
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("response decode: %w", err)
	}
	return &r, nil
}
