package identity

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseProxyURL accepts "host:port" or a full proxy URL and defaults the scheme to http.
func ParseProxyURL(addr string) (*url.URL, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("empty proxy address")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", addr, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" || u.Port() == "" {
		return nil, fmt.Errorf("proxy %q must include host and port", addr)
	}
	return u, nil
}

// normalize returns the canonical form of addr used as the identity key.
func normalize(addr string) (string, error) {
	u, err := ParseProxyURL(addr)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
