// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package server is the text-protocol TCP accept loop: it turns
// CRLF-terminated lines into kv.Command values and renders kv.Result
// values back into wire text. It never reaches into store.Store or
// merkle.Index directly — every mutation flows through executor.Executor.
package server

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/merklekv/merklekv/executor"
	"github.com/merklekv/merklekv/kv"
)

// defaultFlushTimeout bounds how long a client's FLUSH command waits for
// the replication outbox to drain before an "ERROR flush timeout"
// response.
const defaultFlushTimeout = 5 * time.Second

// Flusher is the replication outbox's drain operation. *replication.Replicator
// satisfies it; server depends only on this narrow interface to avoid an
// import cycle (replication never needs to know about server).
type Flusher interface {
	Flush(timeout time.Duration) error
}

// Server owns the client-facing TCP listener: one goroutine per accepted
// connection, bounded by a configured connection cap, each running its own
// read-parse-execute-respond loop until the peer disconnects, a line is
// oversized, or SHUTDOWN is received.
type Server struct {
	exec       *executor.Executor
	replicator Flusher
	onShutdown func()

	maxConnections int
	conns          chan struct{}

	log *zap.Logger

	activeConns int64
}

// New returns a Server dispatching to exec, using replicator for FLUSH's
// drain semantics (may be nil, in which case FLUSH always reports OK
// immediately), and calling onShutdown once a client issues SHUTDOWN (may
// be nil). maxConnections <= 0 means unbounded.
func New(exec *executor.Executor, replicator Flusher, onShutdown func(), maxConnections int) *Server {
	var conns chan struct{}
	if maxConnections > 0 {
		conns = make(chan struct{}, maxConnections)
	}
	return &Server{
		exec:           exec,
		replicator:     replicator,
		onShutdown:     onShutdown,
		maxConnections: maxConnections,
		conns:          conns,
		log:            zap.NewNop(),
	}
}

// SetLogger attaches l as this Server's structured logger. nil is ignored.
func (s *Server) SetLogger(l *zap.Logger) {
	if l != nil {
		s.log = l
	}
}

// ActiveConnections reports the number of client connections currently
// being served.
func (s *Server) ActiveConnections() int64 {
	return atomic.LoadInt64(&s.activeConns)
}

// Serve accepts connections on ln until it returns an error, typically
// because ln was closed during shutdown.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if s.conns != nil {
			select {
			case s.conns <- struct{}{}:
			default:
				// At network.max_connections: refuse rather than queue.
				conn.Close()
				continue
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	atomic.AddInt64(&s.activeConns, 1)
	defer func() {
		conn.Close()
		atomic.AddInt64(&s.activeConns, -1)
		if s.conns != nil {
			<-s.conns
		}
	}()

	r := bufio.NewReaderSize(conn, 4096)
	w := bufio.NewWriter(conn)

	for {
		line, err := readLine(r, MaxLineBytes)
		if err != nil {
			if err == errLineTooLong {
				writeLine(w, "ERROR line too long")
				w.Flush()
			}
			return
		}

		cmd, perr := parseLine(string(line))
		if perr != nil {
			writeLine(w, "ERROR "+perr.Error())
			w.Flush()
			continue
		}

		if cmd.Kind == kv.KindShutdown {
			writeLine(w, "OK")
			w.Flush()
			if s.onShutdown != nil {
				s.onShutdown()
			}
			return
		}

		if cmd.Kind == kv.KindFlush {
			writeLine(w, s.renderFlush())
			w.Flush()
			continue
		}

		res := s.exec.Execute(cmd)
		writeResult(w, cmd, res)
		if err := w.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) renderFlush() string {
	if s.replicator == nil {
		return "OK"
	}
	if err := s.replicator.Flush(defaultFlushTimeout); err != nil {
		return "ERROR " + err.Error()
	}
	return "OK"
}

// readLine reads one CRLF- (or bare LF-) terminated line from r, stripping
// the terminator, and fails closed with errLineTooLong the moment the
// accumulated line would exceed maxBytes rather than buffering an
// attacker-controlled amount of data first.
func readLine(r *bufio.Reader, maxBytes int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > maxBytes {
			// Drain isn't necessary: the caller closes the connection.
			return nil, errLineTooLong
		}
		line = append(line, chunk...)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(chunk) == 0 {
			return nil, io.EOF
		}
		return nil, err
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

func writeLine(w *bufio.Writer, s string) {
	w.WriteString(s)
	w.WriteString("\r\n")
}

// writeResult renders res per the command/response table.
func writeResult(w *bufio.Writer, cmd kv.Command, res kv.Result) {
	switch res.Kind {
	case kv.KindGet:
		if !res.Found {
			writeLine(w, "NOT_FOUND")
			return
		}
		writeLine(w, "VALUE "+renderValue(res.Value))

	case kv.KindSet:
		writeLine(w, renderOKOrErr(res.Err))

	case kv.KindDel:
		if res.Deleted {
			writeLine(w, "DELETED")
		} else {
			writeLine(w, "NOT_FOUND")
		}

	case kv.KindInc, kv.KindDec:
		if res.Err != nil {
			writeLine(w, "ERROR "+res.Err.Error())
			return
		}
		writeLine(w, strconv.FormatInt(res.Number, 10))

	case kv.KindAppend, kv.KindPrepend:
		if res.Err != nil {
			writeLine(w, "ERROR "+res.Err.Error())
			return
		}
		writeLine(w, renderValue(res.Value))

	case kv.KindMGet:
		for _, k := range cmd.Keys {
			if v, ok := res.Values[string(k)]; ok {
				writeLine(w, "VALUE "+renderValue(v))
			} else {
				writeLine(w, "NOT_FOUND")
			}
		}

	case kv.KindMSet, kv.KindTruncate, kv.KindFlush, kv.KindShutdown:
		writeLine(w, renderOKOrErr(res.Err))

	case kv.KindPing, kv.KindHealth, kv.KindVersion, kv.KindInfo, kv.KindStats:
		writeLine(w, res.Text)

	default:
		writeLine(w, "ERROR "+kv.ErrInvalidKey.Error())
	}
}

func renderOKOrErr(err error) string {
	if err != nil {
		return "ERROR " + err.Error()
	}
	return "OK"
}

// renderValue renders a value: an empty value is the literal two-character
// token "" so GET k / SET k "" round-trips legibly over the
// line protocol (a bare empty line would otherwise be indistinguishable
// from no response at all).
func renderValue(v []byte) string {
	if len(v) == 0 {
		return `""`
	}
	return string(v)
}
