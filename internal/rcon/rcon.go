// Copyright 2025 James Ross
// Package rcon is the remote-console side channel named only by interface
// in spec.md's scope: the wire protocol of the actual framed
// request/response connection is an external collaborator. This package
// defines the interface the façade depends on, a dummy implementation for
// tests, and a minimal net.Conn-based client skeleton for production
// wiring.
package rcon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kafuuchino-desu/mcdr-go/internal/breaker"
)

// Manager is the remote-console side channel the façade's RconQuery method
// forwards to. SendCommand must tolerate a disconnected state by returning
// ok=false rather than an error, matching spec.md's "forwards to the
// remote-console side channel if running, else returns null".
type Manager interface {
	IsRunning() bool
	Connect(ctx context.Context) error
	Disconnect() error
	SendCommand(ctx context.Context, command string) (response string, ok bool)
}

// NetManager is a net.Conn-backed Manager: one line-oriented request gets
// one line-oriented response. It is guarded by its own lock, independent of
// the reactor's serialization domain, matching spec.md's "owned by a
// dedicated manager with its own lock". Reconnect attempts are throttled by
// a circuit breaker so a down child server doesn't get hammered with dial
// attempts on every plugin RconQuery call.
type NetManager struct {
	mu        sync.Mutex
	addr      string
	password  string
	timeout   time.Duration
	conn      net.Conn
	reader    *bufio.Reader
	sessionID string
	breaker   *breaker.CircuitBreaker
	logger    *zap.Logger
}

// NewNetManager builds a NetManager targeting addr. reconnectWindow sizes
// the circuit breaker's sliding window for reconnect-attempt throttling.
func NewNetManager(addr, password string, timeout, reconnectWindow time.Duration, logger *zap.Logger) *NetManager {
	return &NetManager{
		addr:     addr,
		password: password,
		timeout:  timeout,
		breaker:  breaker.New(reconnectWindow, reconnectWindow, 0.5, 3),
		logger:   logger,
	}
}

// IsRunning reports whether a connection is currently established.
func (m *NetManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Connect dials addr and performs the login handshake. It is a no-op if
// already connected.
func (m *NetManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return nil
	}
	if !m.breaker.Allow() {
		return fmt.Errorf("rcon: reconnect throttled after repeated failures")
	}

	dialer := net.Dialer{Timeout: m.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.addr)
	if err != nil {
		m.breaker.Record(false)
		return fmt.Errorf("rcon: dial %s: %w", m.addr, err)
	}
	if m.password != "" {
		if _, err := conn.Write([]byte(m.password + "\n")); err != nil {
			conn.Close()
			m.breaker.Record(false)
			return fmt.Errorf("rcon: login %s: %w", m.addr, err)
		}
	}
	m.conn = conn
	m.reader = bufio.NewReader(conn)
	m.sessionID = uuid.NewString()
	m.breaker.Record(true)
	m.logger.Info("rcon connected",
		zap.String("addr", m.addr), zap.String("session_id", m.sessionID))
	return nil
}

// SessionID identifies the current connection in logs; empty when
// disconnected.
func (m *NetManager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.sessionID
}

// Disconnect closes the connection if one is open.
func (m *NetManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	m.reader = nil
	return err
}

// SendCommand writes command terminated by a newline and reads one line of
// response. Any I/O error tears down the connection and reports ok=false
// rather than propagating, per spec.md's "tolerate disconnected state by
// returning null".
func (m *NetManager) SendCommand(ctx context.Context, command string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return "", false
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = m.conn.SetDeadline(deadline)
	} else {
		_ = m.conn.SetDeadline(time.Now().Add(m.timeout))
	}
	if _, err := m.conn.Write([]byte(command + "\n")); err != nil {
		m.logger.Warn("rcon write failed, disconnecting",
			zap.String("session_id", m.sessionID), zap.Error(err))
		m.conn.Close()
		m.conn = nil
		m.reader = nil
		return "", false
	}
	line, err := m.reader.ReadString('\n')
	if err != nil {
		m.logger.Warn("rcon read failed, disconnecting",
			zap.String("session_id", m.sessionID), zap.Error(err))
		m.conn.Close()
		m.conn = nil
		m.reader = nil
		return "", false
	}
	return line, true
}

// Dummy is an always-disconnected Manager, useful for tests and for
// running the daemon with RCON disabled.
type Dummy struct{}

func (Dummy) IsRunning() bool                   { return false }
func (Dummy) Connect(ctx context.Context) error { return nil }
func (Dummy) Disconnect() error                 { return nil }
func (Dummy) SendCommand(ctx context.Context, command string) (string, bool) {
	return "", false
}
