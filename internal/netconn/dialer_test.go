package netconn

import (
	"context"
	"encoding/pem"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/funnyzak/replaytap/internal/config"
)

func TestConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf, _ := io.ReadAll(conn)
		got <- string(buf)
	}()

	d, err := New(Options{ConnectTimeout: time.Second, ReadTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	sc, err := d.Connect(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !sc.Connected() || sc.Address != ln.Addr().String() {
		t.Fatalf("unexpected server conn %+v", sc)
	}
	if _, err := sc.Conn().Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	sc.Finish()
	if msg := <-got; msg != "ping" {
		t.Fatalf("server received %q", msg)
	}
	if err := sc.Close(); err != nil {
		t.Fatal(err)
	}
	if sc.Connected() {
		t.Fatal("closed conn still connected")
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	d, _ := New(Options{ConnectTimeout: time.Second})
	if _, err := d.Connect(context.Background(), addr); err == nil {
		t.Fatal("expected dial error")
	}
}

func writeCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEstablishTLSVerifiesWithCAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	addr := srv.Listener.Addr().String()

	d, err := New(Options{ConnectTimeout: time.Second, TLS: config.TLSConfig{CAFile: writeCA(t, srv)}})
	if err != nil {
		t.Fatal(err)
	}
	sc, err := d.Connect(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Close()

	if err := d.EstablishTLS(context.Background(), sc, "example.com", "example.com"); err != nil {
		t.Fatalf("EstablishTLS: %v", err)
	}
	if !sc.TLSEstablished || sc.SNI != "example.com" || sc.TLSVersion == "" {
		t.Fatalf("unexpected tls state %+v", sc)
	}
	if sc.ALPN != "http/1.1" {
		t.Fatalf("expected http/1.1 alpn, got %q", sc.ALPN)
	}
}

func TestEstablishTLSVerifiesHostWithoutSNI(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())

	d, err := New(Options{ConnectTimeout: time.Second, TLS: config.TLSConfig{CAFile: writeCA(t, srv)}})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		host    string
		wantErr bool
	}{
		{"ip host", "127.0.0.1", false},
		// falls back to the dialed name, which the certificate does not cover
		{"no host", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := d.Connect(context.Background(), net.JoinHostPort("localhost", port))
			if err != nil {
				t.Fatal(err)
			}
			defer sc.Close()
			err = d.EstablishTLS(context.Background(), sc, "", tt.host)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EstablishTLS err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && sc.SNI != "" {
				t.Fatalf("expected no SNI, got %q", sc.SNI)
			}
		})
	}
}

func TestEstablishTLSRejectsUnknownCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	d, _ := New(Options{ConnectTimeout: time.Second})
	sc, err := d.Connect(context.Background(), srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer sc.Close()
	if err := d.EstablishTLS(context.Background(), sc, "example.com", "example.com"); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestServerName(t *testing.T) {
	tests := []struct {
		recorded, host, want string
	}{
		{recorded: "api.example.test", host: "other", want: "api.example.test"},
		{host: "example.test", want: "example.test"},
		{host: "bücher.example", want: "xn--bcher-kva.example"},
		{host: "127.0.0.1", want: ""},
		{host: "[::1]", want: ""},
		{host: "example.test.", want: "example.test"},
	}
	for _, tt := range tests {
		if got := ServerName(tt.recorded, tt.host); got != tt.want {
			t.Errorf("ServerName(%q, %q) = %q, want %q", tt.recorded, tt.host, got, tt.want)
		}
	}
}

func TestParseTLSVersion(t *testing.T) {
	if _, err := ParseTLSVersion("1.3"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseTLSVersion("3.0"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New(Options{TLS: config.TLSConfig{CAFile: "/nonexistent/ca.pem"}}); err == nil {
		t.Fatal("expected missing CA file to fail")
	}
}
