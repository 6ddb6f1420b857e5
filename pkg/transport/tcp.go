package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sushant-115/gojotx/core/transaction/commit"
)

// Handler consumes one decoded coordination message.
type Handler func(commit.Message) error

const (
	defaultPoolSize    = 4
	defaultDialTimeout = 3 * time.Second
	writeTimeout       = 5 * time.Second
	// maxFrameBytes bounds a single newline-delimited envelope.
	maxFrameBytes = 1 << 20
)

// TCP moves messages between nodes as newline-delimited JSON envelopes
// over pooled connections. Delivery is at-least-once from the engine's
// point of view: a write error surfaces to the caller, which retries or
// counts the peer out.
type TCP struct {
	localID  commit.NodeID
	registry *commit.Registry
	logger   *zap.Logger
	pools    *poolManager
	handler  Handler

	ln     net.Listener
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewTCP builds the transport; handler receives every inbound message.
func NewTCP(localID commit.NodeID, registry *commit.Registry, handler Handler, logger *zap.Logger) *TCP {
	return &TCP{
		localID:  localID,
		registry: registry,
		logger:   logger.Named("transport"),
		pools:    newPoolManager(defaultPoolSize, defaultDialTimeout),
		handler:  handler,
	}
}

// Serve accepts peer connections on addr until ctx is canceled.
func (t *TCP) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	t.ln = ln
	t.logger.Info("Transport listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		t.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if t.closed.Load() {
				return nil
			}
			t.logger.Warn("Accept failed", zap.Error(err))
			continue
		}
		t.wg.Add(1)
		go t.serveConn(conn)
	}
}

// serveConn reads envelopes off one peer connection until it closes.
func (t *TCP) serveConn(conn net.Conn) {
	defer t.wg.Done()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)
	for scanner.Scan() {
		msg, err := commit.DecodeMessage(scanner.Bytes())
		if err != nil {
			t.logger.Warn("Dropping undecodable frame",
				zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			continue
		}
		if err := t.handler(msg); err != nil {
			t.logger.Warn("Message handler errored",
				zap.String("kind", msg.Kind()), zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF && !t.closed.Load() {
		t.logger.Debug("Peer connection closed",
			zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
	}
}

// Send delivers one message to a peer, reusing a pooled connection.
func (t *TCP) Send(node commit.NodeID, msg commit.Message) error {
	addr, ok := t.registry.Address(node)
	if !ok {
		return fmt.Errorf("unknown node %s", node)
	}

	frame, err := commit.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	frame = append(frame, '\n')

	conn, err := t.pools.get(addr)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(frame); err != nil {
		// A half-written frame poisons the stream.
		conn.discard()
		return fmt.Errorf("write to %s: %w", node, err)
	}
	conn.SetWriteDeadline(time.Time{})
	conn.release()
	return nil
}

// Broadcast sends to every known peer except this node. The first error
// is returned after all sends are attempted.
func (t *TCP) Broadcast(msg commit.Message) error {
	var firstErr error
	for _, node := range t.registry.Nodes() {
		if node == t.localID {
			continue
		}
		if err := t.Send(node, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close stops accepting and tears down pooled connections.
func (t *TCP) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	if t.ln != nil {
		t.ln.Close()
	}
	t.pools.closeAll()
	t.wg.Wait()
}
