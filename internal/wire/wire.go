// Package wire handles reading and writing newline-delimited JSON messages
// over a net.Conn, with optional NaCl secretbox encryption.
//
// Wire format (unencrypted):
//
//	<json>\n
//
// Wire format (encrypted):
//
//	<base64(nonce+ciphertext)>\n
//
// The encrypted form is just a base64 blob on the wire so that the framing
// logic is identical in both cases — every line is a single message.
package wire

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"go.klb.dev/clipd/internal/crypto"
	"go.klb.dev/clipd/internal/message"
)

const (
	// MaxMessageSize is the largest message we will read (64 MiB). Image
	// payloads are base64-embedded, so this bounds the copyable size.
	MaxMessageSize = 64 * 1024 * 1024

	writeDeadline = 5 * time.Second
)

// Conn wraps a net.Conn with buffered newline-delimited JSON framing and
// optional encryption.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	key  *[32]byte // nil = no encryption
}

// New wraps conn. If key is non-nil every message is encrypted with NaCl
// secretbox before being written and decrypted after being read.
func New(conn net.Conn, key *[32]byte) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
		key:  key,
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// WriteRequest frames and sends a request.
func (c *Conn) WriteRequest(r *message.Request) error {
	raw, err := message.EncodeRequest(r)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return c.writeLine(raw)
}

// WriteResponse frames and sends a response.
func (c *Conn) WriteResponse(r *message.Response) error {
	raw, err := message.EncodeResponse(r)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return c.writeLine(raw)
}

// ReadRequest reads and decodes one request line.
func (c *Conn) ReadRequest() (*message.Request, error) {
	raw, err := c.readLine()
	if err != nil {
		return nil, err
	}
	return message.DecodeRequest(raw)
}

// ReadResponse reads and decodes one response line.
func (c *Conn) ReadResponse() (*message.Response, error) {
	raw, err := c.readLine()
	if err != nil {
		return nil, err
	}
	return message.DecodeResponse(raw)
}

func (c *Conn) writeLine(raw []byte) error {
	var line []byte
	if c.key != nil {
		ct, err := crypto.Seal(raw, c.key)
		if err != nil {
			return fmt.Errorf("encrypt: %w", err)
		}
		b64 := base64.StdEncoding.EncodeToString(ct)
		line = append([]byte(b64), '\n')
	} else {
		line = append(raw, '\n')
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err := c.conn.Write(line)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

func (c *Conn) readLine() ([]byte, error) {
	line, err := c.br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > MaxMessageSize {
		return nil, fmt.Errorf("message too large (%d bytes)", len(line))
	}

	// Strip trailing newline
	line = line[:len(line)-1]

	if c.key == nil {
		return line, nil
	}
	ct, err := base64.StdEncoding.DecodeString(string(line))
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	raw, err := crypto.Open(ct, c.key)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return raw, nil
}
