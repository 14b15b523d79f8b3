// Package server implements the TCP front end of spec §4.11: an accept
// loop handing each connection to its own goroutine, with a command-
// stream/reply-sink split that preserves per-connection request order.
//
// Grounded on the teacher's web/tcp_server.go accept-loop/per-connection-
// goroutine shape, with its HTTP admin API and auth/session bookkeeping
// left behind (spec's Non-goals exclude authentication).
package server

import (
	"errors"
	"io"
	"log"
	"net"

	"github.com/google/uuid"

	veloxkv "github.com/oarkflow/veloxkv"
	"github.com/oarkflow/veloxkv/internal/protocol"
	"github.com/oarkflow/veloxkv/internal/veloxkey"
)

// Server accepts connections and dispatches decoded commands to a DB.
type Server struct {
	addr string
	db   *veloxkv.DB
	ln   net.Listener
}

// New builds a Server bound to addr once ListenAndServe is called.
func New(addr string, db *veloxkv.DB) *Server {
	return &Server{addr: addr, db: db}
}

// ListenAndServe opens the listener and serves connections until it
// returns an error (typically from Close).
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.ServeConn(uuid.New(), conn)
	}
}

// Addr returns the listener's bound address, valid after ListenAndServe
// has started.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// ServeConn runs the read-dispatch-write loop for one connection until the
// peer disconnects or sends malformed input (spec §7, §12: a grammar error
// terminates only this connection). id is logged to correlate failures
// with a specific connection, the same role github.com/google/uuid plays
// for the teacher's lock/locker.go tokens.
func (s *Server) ServeConn(id uuid.UUID, conn net.Conn) {
	defer conn.Close()
	r := protocol.NewReadBuffer(conn)
	w := protocol.NewWriteBuffer(conn)

	for {
		cmd, err := protocol.ReadCommand(r)
		if err != nil {
			var unsupported *protocol.UnsupportedCommandError
			if errors.As(err, &unsupported) {
				writeErr := protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyError, Err: unsupported.Error()})
				if writeErr == nil {
					writeErr = w.Flush()
				}
				if writeErr != nil {
					log.Printf("veloxkv: conn %s flush error: %v", id, writeErr)
					return
				}
				continue
			}
			if !isExpectedDisconnect(err) {
				log.Printf("veloxkv: conn %s read error: %v", id, err)
			}
			return
		}
		if err := s.dispatch(w, cmd); err != nil {
			log.Printf("veloxkv: conn %s dispatch error: %v", id, err)
			return
		}
		if err := w.Flush(); err != nil {
			log.Printf("veloxkv: conn %s flush error: %v", id, err)
			return
		}
	}
}

func isExpectedDisconnect(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var closed *protocol.ConnectionClosedError
	if errors.As(err, &closed) {
		return true
	}
	_, ok := err.(*protocol.GrammarError)
	return ok
}

func (s *Server) dispatch(w *protocol.WriteBuffer, cmd protocol.Command) error {
	switch cmd.Kind {
	case protocol.CmdPut:
		if err := s.db.Put(cmd.Key, cmd.Value); err != nil {
			return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyError, Err: err.Error()})
		}
		return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyOK})

	case protocol.CmdDelete:
		if err := s.db.Delete(cmd.Key); err != nil {
			return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyError, Err: err.Error()})
		}
		return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyOK})

	case protocol.CmdGet:
		value, ok, err := s.db.Get(cmd.Key)
		if err != nil {
			return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyError, Err: err.Error()})
		}
		if !ok {
			return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyNotFound})
		}
		return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyValue, Value: value})

	case protocol.CmdScan:
		var entries []protocol.ScanEntry
		s.db.Scan(cmd.Key, cmd.End, func(k veloxkey.Key, v veloxkey.Value) bool {
			entries = append(entries, protocol.ScanEntry{Key: k, Value: v})
			return true
		})
		return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyScan, Entries: entries})

	default:
		return protocol.WriteReply(w, protocol.Reply{Kind: protocol.ReplyError, Err: "unknown command"})
	}
}
