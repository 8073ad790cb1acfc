package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Mode is the parsed form of replay.mode.
type Mode struct {
	Kind string
	// Upstream proxy, set only for ModeUpstream.
	Scheme string
	Host   string
	Port   int
}

// Address returns the upstream host:port.
func (m Mode) Address() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// Upstream reports whether requests are routed through a proxy.
func (m Mode) Upstream() bool {
	return m.Kind == ModeUpstream
}

// ParseMode parses "regular" or "upstream:<scheme>://<host>[:port]".
func ParseMode(raw string) (Mode, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == ModeRegular {
		return Mode{Kind: ModeRegular}, nil
	}

	target, ok := strings.CutPrefix(raw, ModeUpstream+":")
	if !ok {
		return Mode{}, fmt.Errorf("invalid replay mode %q: expected %q or %q", raw, ModeRegular, ModeUpstream+":<url>")
	}

	u, err := url.Parse(target)
	if err != nil {
		return Mode{}, fmt.Errorf("invalid upstream proxy %q: %w", target, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Mode{}, fmt.Errorf("invalid upstream proxy %q: scheme must be http or https", target)
	}
	host := u.Hostname()
	if host == "" {
		return Mode{}, fmt.Errorf("invalid upstream proxy %q: missing host", target)
	}

	port := 80
	if scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return Mode{}, fmt.Errorf("invalid upstream proxy %q: bad port", target)
		}
	}

	return Mode{Kind: ModeUpstream, Scheme: scheme, Host: host, Port: port}, nil
}
