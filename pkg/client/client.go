// Package client is the single-stream pipelined client and the FNV-
// sharded multi-connection "knights" client of spec §4.12.
//
// Grounded on original_source/agilulf_driver/src/client.rs for the
// reader-goroutine/channel-of-replies shape: one writer serializes
// requests onto the wire while a single reader goroutine matches replies
// back to callers strictly in send order, letting independent callers
// pipeline requests over one connection without an explicit batch API.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/oarkflow/veloxkv/internal/protocol"
	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

type replyResult struct {
	reply protocol.Reply
	err   error
}

type pendingReq struct {
	ch chan replyResult
}

// Client is a single-connection pipelined client to a veloxkv server.
type Client struct {
	conn net.Conn

	writeMu sync.Mutex
	w       *protocol.WriteBuffer

	pending   chan *pendingReq
	closeOnce sync.Once
}

// Dial connects to addr and starts the reply-matching goroutine.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		w:       protocol.NewWriteBuffer(conn),
		pending: make(chan *pendingReq, 4096),
	}
	go c.readLoop(protocol.NewReadBuffer(conn))
	return c
}

// readLoop reads replies in the same order requests were enqueued,
// forwarding each to the request that is waiting for it. Every request,
// SCAN included, maps to exactly one reply frame.
func (c *Client) readLoop(r *protocol.ReadBuffer) {
	for req := range c.pending {
		reply, err := protocol.ReadReply(r)
		if err != nil {
			req.ch <- replyResult{err: err}
			close(req.ch)
			c.failRemaining(err)
			return
		}
		req.ch <- replyResult{reply: reply}
		close(req.ch)
	}
}

func (c *Client) failRemaining(err error) {
	for req := range c.pending {
		req.ch <- replyResult{err: err}
		close(req.ch)
	}
}

func (c *Client) enqueue(cmd protocol.Command) (*pendingReq, error) {
	req := &pendingReq{ch: make(chan replyResult, 1)}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := protocol.WriteCommand(c.w, cmd); err != nil {
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		return nil, err
	}
	c.pending <- req
	return req, nil
}

func (c *Client) call(cmd protocol.Command) (protocol.Reply, error) {
	req, err := c.enqueue(cmd)
	if err != nil {
		return protocol.Reply{}, err
	}
	res := <-req.ch
	return res.reply, res.err
}

// SendBatch writes every command in cmds back-to-back, holding writeMu for
// the whole batch so no concurrently pipelined caller can interleave a
// command of its own between two of this batch's commands on the wire,
// then awaits every reply and returns them in the same order cmds were
// given (spec §4.12: "send_batch(commands) writes all commands back-to-back
// and awaits replies in order").
func (c *Client) SendBatch(cmds []protocol.Command) ([]protocol.Reply, error) {
	if len(cmds) == 0 {
		return nil, nil
	}

	reqs := make([]*pendingReq, len(cmds))

	c.writeMu.Lock()
	for i, cmd := range cmds {
		if err := protocol.WriteCommand(c.w, cmd); err != nil {
			c.writeMu.Unlock()
			return nil, err
		}
		reqs[i] = &pendingReq{ch: make(chan replyResult, 1)}
	}
	if err := c.w.Flush(); err != nil {
		c.writeMu.Unlock()
		return nil, err
	}
	for _, req := range reqs {
		c.pending <- req
	}
	c.writeMu.Unlock()

	replies := make([]protocol.Reply, len(cmds))
	for i, req := range reqs {
		res := <-req.ch
		if res.err != nil {
			return nil, res.err
		}
		replies[i] = res.reply
	}
	return replies, nil
}

func replyToError(reply protocol.Reply) error {
	if reply.Kind == protocol.ReplyError {
		return errors.New(reply.Err)
	}
	return nil
}

// Put writes value for key.
func (c *Client) Put(key veloxkey.Key, value veloxkey.Value) error {
	reply, err := c.call(protocol.Command{Kind: protocol.CmdPut, Key: key, Value: value})
	if err != nil {
		return err
	}
	return replyToError(reply)
}

// Delete removes key.
func (c *Client) Delete(key veloxkey.Key) error {
	reply, err := c.call(protocol.Command{Kind: protocol.CmdDelete, Key: key})
	if err != nil {
		return err
	}
	return replyToError(reply)
}

// Get fetches the value for key, reporting false if it is absent or
// tombstoned.
func (c *Client) Get(key veloxkey.Key) (veloxkey.Value, bool, error) {
	reply, err := c.call(protocol.Command{Kind: protocol.CmdGet, Key: key})
	if err != nil {
		return veloxkey.Value{}, false, err
	}
	switch reply.Kind {
	case protocol.ReplyValue:
		return reply.Value, true, nil
	case protocol.ReplyNotFound:
		return veloxkey.Value{}, false, nil
	case protocol.ReplyError:
		return veloxkey.Value{}, false, errors.New(reply.Err)
	default:
		return veloxkey.Value{}, false, fmt.Errorf("client: unexpected reply kind %d", reply.Kind)
	}
}

// Scan visits every key in [start, end) in ascending order. The full
// result set arrives as a single reply, so stopping early just stops
// local iteration; no wire-level draining is needed.
func (c *Client) Scan(start, end veloxkey.Key, visit func(veloxkey.Key, veloxkey.Value) bool) error {
	reply, err := c.call(protocol.Command{Kind: protocol.CmdScan, Key: start, End: end})
	if err != nil {
		return err
	}
	if reply.Kind == protocol.ReplyError {
		return errors.New(reply.Err)
	}
	for _, e := range reply.Entries {
		if !visit(e.Key, e.Value) {
			break
		}
	}
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.pending)
		err = c.conn.Close()
	})
	return err
}
