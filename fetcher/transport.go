package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-cars/identity"
	"github.com/aluiziolira/go-scrape-cars/models"
)

// transportCache keeps one connection pool per egress address.
type transportCache struct {
	timeout time.Duration

	mu     sync.Mutex
	direct *http.Transport
	byAddr map[string]*http.Transport
}

func newTransportCache(timeout time.Duration) *transportCache {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &transportCache{
		timeout: timeout,
		byAddr:  make(map[string]*http.Transport),
	}
}

func (c *transportCache) get(id models.Identity) (http.RoundTripper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id.Address == "" {
		if c.direct == nil {
			c.direct = c.build(http.ProxyFromEnvironment)
		}
		return c.direct, nil
	}
	if t, ok := c.byAddr[id.Address]; ok {
		return t, nil
	}
	proxyURL, err := identity.ParseProxyURL(id.Address)
	if err != nil {
		return nil, err
	}
	t := c.build(http.ProxyURL(proxyURL))
	c.byAddr[id.Address] = t
	return t, nil
}

func (c *transportCache) build(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   c.timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// forwardedHeaders are copied from an incoming request onto the fetch.
var forwardedHeaders = []string{"Accept", "Accept-Language", "Referer", "Cookie"}

// roundTripper adapts the Fetcher to http.RoundTripper so HTML collectors
// reuse its identity rotation and retry policy.
type roundTripper struct {
	ctx     context.Context
	fetcher *Fetcher
}

// Transport returns a RoundTripper bound to ctx. Requests issued through it
// run the full Fetch policy and stop when either ctx or the request context
// ends. Only GET is supported.
func (f *Fetcher) Transport(ctx context.Context) http.RoundTripper {
	return &roundTripper{ctx: ctx, fetcher: f}
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		req.Body.Close()
	}
	if req.Method != http.MethodGet && req.Method != "" {
		return nil, fmt.Errorf("fetcher transport: unsupported method %s", req.Method)
	}

	header := make(http.Header)
	for _, key := range forwardedHeaders {
		if v := req.Header.Get(key); v != "" {
			header.Set(key, v)
		}
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()
	stop := context.AfterFunc(rt.ctx, cancel)
	defer stop()

	resp, err := rt.fetcher.Fetch(ctx, req.URL.String(), Options{Header: header})
	if err != nil {
		return nil, err
	}

	respHeader := resp.Header.Clone()
	respHeader.Del("Content-Length")
	respHeader.Del("Content-Encoding")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		StatusCode:    resp.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        respHeader,
		Body:          io.NopCloser(bytes.NewReader(resp.Body)),
		ContentLength: int64(len(resp.Body)),
		Request:       req,
	}, nil
}
