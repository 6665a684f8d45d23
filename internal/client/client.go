// Package client implements the control-channel client used by the clipd
// CLI sub-commands.
package client

import (
	"errors"
	"fmt"
	"net"
	"time"

	"go.klb.dev/clipd/internal/crypto"
	"go.klb.dev/clipd/internal/ipc"
	"go.klb.dev/clipd/internal/message"
	"go.klb.dev/clipd/internal/wire"
)

const dialTimeout = 5 * time.Second

// Error is a structured failure returned by the daemon.
type Error struct {
	Code message.Code
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// IsNotFound reports whether err is the daemon's not-found response.
func IsNotFound(err error) bool {
	var de *Error
	return errors.As(err, &de) && de.Code == message.CodeNotFound
}

// Client is a single control-channel connection to the daemon.
type Client struct {
	wc *wire.Conn
}

// Dial connects to the daemon's unix socket.
func Dial(socket string) (*Client, error) {
	conn, err := ipc.Dial(socket)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", socket, err)
	}
	return &Client{wc: wire.New(conn, nil)}, nil
}

// DialTCP connects to a daemon serving the control channel over TCP,
// encrypting with a key derived from token when one is set.
func DialTCP(addr, token string) (*Client, error) {
	var key *[32]byte
	if token != "" {
		var err error
		key, err = crypto.DeriveKey(token)
		if err != nil {
			return nil, err
		}
	}
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return &Client{wc: wire.New(conn, key)}, nil
}

// Close closes the connection.
func (c *Client) Close() error { return c.wc.Close() }

func (c *Client) do(req *message.Request) (*message.Response, error) {
	if err := c.wc.WriteRequest(req); err != nil {
		return nil, err
	}
	resp, err := c.wc.ReadResponse()
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, &Error{Code: resp.Code, Msg: resp.Error}
	}
	return resp, nil
}

// Ping checks that the daemon is alive.
func (c *Client) Ping() error {
	_, err := c.do(&message.Request{Kind: message.KindPing})
	return err
}

// Stop asks the daemon to shut down, optionally restarting.
func (c *Client) Stop(restart bool) error {
	_, err := c.do(&message.Request{Kind: message.KindStop, Restart: restart})
	return err
}

// Copy inserts a new entry and makes it the active selection.
func (c *Client) Copy(items []message.Item, group, expiry, source string) error {
	_, err := c.do(&message.Request{
		Kind:   message.KindCopy,
		Group:  group,
		Items:  items,
		Expiry: expiry,
		Source: source,
	})
	return err
}

// Paste returns the payload of the entry at index (nil = head).
func (c *Client) Paste(group string, index *int) ([]message.Item, error) {
	resp, err := c.do(&message.Request{Kind: message.KindPaste, Group: group, Index: index})
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// List returns per-group entry previews; empty group means all groups.
func (c *Client) List(group string) ([]message.GroupListing, error) {
	resp, err := c.do(&message.Request{Kind: message.KindList, Group: group})
	if err != nil {
		return nil, err
	}
	return resp.Listings, nil
}

// Delete removes the entry at index, or the whole group when all is set.
func (c *Client) Delete(group string, index *int, all bool) error {
	_, err := c.do(&message.Request{Kind: message.KindDelete, Group: group, Index: index, All: all})
	return err
}

// Recopy re-activates an existing entry without re-inserting it.
func (c *Client) Recopy(group string, index *int) error {
	_, err := c.do(&message.Request{Kind: message.KindRecopy, Group: group, Index: index})
	return err
}

// Groups lists populated groups with their recency.
func (c *Client) Groups() ([]message.GroupInfo, error) {
	resp, err := c.do(&message.Request{Kind: message.KindGroups})
	if err != nil {
		return nil, err
	}
	return resp.Groups, nil
}
