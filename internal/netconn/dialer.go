// Package netconn opens the raw TCP and TLS connections replays are sent over.
package netconn

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/pkg/flow"
	"golang.org/x/net/idna"
)

// Options controls dialing and the TLS client.
type Options struct {
	ConnectTimeout time.Duration
	// ReadTimeout is applied as an absolute deadline on the connection.
	ReadTimeout time.Duration
	TLS         config.TLSConfig
}

// Dialer implements the connection factory used by the replay worker.
type Dialer struct {
	opts Options
	tls  *tls.Config
}

// New builds a Dialer, loading CA and client certificate files up front.
func New(opts Options) (*Dialer, error) {
	tlsConfig, err := buildTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}
	return &Dialer{opts: opts, tls: tlsConfig}, nil
}

// FromConfig builds a Dialer from the replay section.
func FromConfig(cfg config.ReplayConfig) (*Dialer, error) {
	return New(Options{
		ConnectTimeout: cfg.ConnectTimeoutDuration(),
		ReadTimeout:    cfg.ReadTimeoutDuration(),
		TLS:            cfg.TLS,
	})
}

// Connect opens a TCP connection to address.
func (d *Dialer) Connect(ctx context.Context, address string) (*flow.ServerConn, error) {
	dialer := net.Dialer{Timeout: d.opts.ConnectTimeout}
	started := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", address, err)
	}
	if d.opts.ReadTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.opts.ReadTimeout))
	}

	sc := flow.NewServerConn(address, conn)
	sc.TimestampStart = started
	return sc, nil
}

// EstablishTLS performs a client handshake over sc and swaps the socket for
// the TLS session. The certificate is verified against sni, or against host
// when there is no SNI (IP literals). sc.Address is the last resort, and is
// the proxy when tunneling, so callers should always pass host.
func (d *Dialer) EstablishTLS(ctx context.Context, sc *flow.ServerConn, sni, host string) error {
	if !sc.Connected() {
		return errors.New("cannot establish TLS on a closed connection")
	}

	cfg := d.tls.Clone()
	cfg.ServerName = sni
	if cfg.ServerName == "" {
		cfg.ServerName = strings.Trim(host, "[]")
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _, _ = net.SplitHostPort(sc.Address)
	}

	tlsConn := tls.Client(sc.Conn(), cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake with %s failed: %w", sc.Address, err)
	}

	state := tlsConn.ConnectionState()
	sc.Upgrade(tlsConn)
	sc.TLSEstablished = true
	sc.SNI = sni
	sc.TLSVersion = tls.VersionName(state.Version)
	sc.ALPN = state.NegotiatedProtocol
	sc.TimestampTLSSetup = time.Now()
	return nil
}

// ServerName picks the SNI for a replay: the one recorded on the original
// connection, else the request host. Names are IDNA-normalized; IP literals
// yield no SNI.
func ServerName(recorded, host string) string {
	name := recorded
	if name == "" {
		name = host
	}
	name = strings.TrimSuffix(strings.Trim(name, "[]"), ".")
	if name == "" || net.ParseIP(name) != nil {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		return ascii
	}
	return name
}

func buildTLSConfig(opts config.TLSConfig) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // operator opt-in
		NextProtos:         []string{"http/1.1"},
	}

	minVersion, err := ParseTLSVersion(opts.MinVersion)
	if err != nil {
		return nil, err
	}
	cfg.MinVersion = minVersion

	if opts.CAFile != "" {
		pemData, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		cfg.RootCAs = pool
	}

	if opts.ClientCertFile != "" {
		pemData, err := os.ReadFile(opts.ClientCertFile)
		if err != nil {
			return nil, fmt.Errorf("read client certificate: %w", err)
		}
		// The file holds both the certificate chain and the private key.
		cert, err := tls.X509KeyPair(pemData, pemData)
		if err != nil {
			return nil, fmt.Errorf("load client certificate %s: %w", opts.ClientCertFile, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

// ParseTLSVersion maps "1.0".."1.3" to crypto/tls constants. Empty means 1.2.
func ParseTLSVersion(v string) (uint16, error) {
	switch strings.TrimSpace(v) {
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", v)
	}
}
