package flow

import (
	"bufio"
	"net"
	"time"
)

// ServerConn describes the connection a flow's request was sent over. The
// live socket is only present on connections opened by this process.
type ServerConn struct {
	Address           string    `json:"address"`
	SNI               string    `json:"sni"`
	TLSEstablished    bool      `json:"tls_established"`
	TLSVersion        string    `json:"tls_version,omitempty"`
	ALPN              string    `json:"alpn,omitempty"`
	TimestampStart    time.Time `json:"timestamp_start"`
	TimestampTCPSetup time.Time `json:"timestamp_tcp_setup"`
	TimestampTLSSetup time.Time `json:"timestamp_tls_setup"`
	TimestampEnd      time.Time `json:"timestamp_end"`

	conn   net.Conn
	reader *bufio.Reader
}

// NewServerConn wraps an established socket.
func NewServerConn(address string, conn net.Conn) *ServerConn {
	now := time.Now()
	return &ServerConn{
		Address:           address,
		TimestampStart:    now,
		TimestampTCPSetup: now,
		conn:              conn,
		reader:            bufio.NewReader(conn),
	}
}

// Conn returns the live socket, or nil.
func (c *ServerConn) Conn() net.Conn {
	if c == nil {
		return nil
	}
	return c.conn
}

// Reader returns the buffered reader bound to the socket.
func (c *ServerConn) Reader() *bufio.Reader {
	if c == nil {
		return nil
	}
	return c.reader
}

// Upgrade replaces the socket, e.g. after a TLS handshake. Any bytes still
// buffered from the previous socket are discarded.
func (c *ServerConn) Upgrade(conn net.Conn) {
	c.conn = conn
	c.reader = bufio.NewReader(conn)
}

// Connected reports whether the socket is still open.
func (c *ServerConn) Connected() bool {
	return c != nil && c.conn != nil
}

// Finish half-closes the write side so the peer sees EOF before the socket is
// released.
func (c *ServerConn) Finish() {
	if !c.Connected() {
		return
	}
	type closeWriter interface{ CloseWrite() error }
	if cw, ok := c.conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

// Close releases the socket. It is safe to call more than once.
func (c *ServerConn) Close() error {
	if !c.Connected() {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.TimestampEnd = time.Now()
	return err
}

// Clone copies the descriptive fields. The socket is not shared.
func (c *ServerConn) Clone() *ServerConn {
	if c == nil {
		return nil
	}
	out := *c
	out.conn = nil
	out.reader = nil
	return &out
}
