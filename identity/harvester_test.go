package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	indexURL = "http://index.test/list.txt"
	tableURL = "http://index.test/table.html"
	checkURL = "http://check.test/ip"
)

func indexClient(t *testing.T, body string) *http.Client {
	t.Helper()
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", indexURL, httpmock.NewStringResponder(http.StatusOK, body))
	return &http.Client{Transport: mock}
}

func newCheckTransport(good []string) (CheckTransportFunc, *atomic.Int32) {
	alive := make(map[string]bool, len(good))
	for _, g := range good {
		alive[g] = true
	}
	var checks atomic.Int32
	return func(proxy *url.URL) http.RoundTripper {
		mock := httpmock.NewMockTransport()
		mock.RegisterResponder("GET", checkURL, func(req *http.Request) (*http.Response, error) {
			checks.Add(1)
			if !alive[proxy.Host] {
				return nil, errors.New("proxy refused")
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"origin":"`+proxy.Hostname()+`"}`), nil
		})
		return mock
	}, &checks
}

func checkTransport(t *testing.T, good ...string) CheckTransportFunc {
	t.Helper()
	fn, _ := newCheckTransport(good)
	return fn
}

func tablePage(rows int) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="table"><thead><tr><th>IP Address</th><th>Port</th></tr></thead><tbody>`)
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "<tr><td>10.3.0.%d</td><td>8080</td><td>SK</td></tr>", i+1)
	}
	b.WriteString(`<tr><td>garbage</td></tr></tbody></table></body></html>`)
	return b.String()
}

func TestParsePlain(t *testing.T) {
	body := "IP:PORT list\n10.0.0.1:8080\r\nhttp://10.0.0.2:3128\n\nbogus line\n10.0.0.3:1\n"
	assert.Equal(t, []string{"10.0.0.1:8080", "10.0.0.2:3128"}, parsePlain([]byte(body)))
}

func TestParseHTMLTableLimitsRows(t *testing.T) {
	addrs, err := parseHTMLTable([]byte(tablePage(25)), "table tbody tr", 20)
	require.NoError(t, err)
	require.Len(t, addrs, 20)
	assert.Equal(t, "10.3.0.1:8080", addrs[0])
	assert.Equal(t, "10.3.0.20:8080", addrs[19])
}

func TestCollectMergesIndexes(t *testing.T) {
	mock := httpmock.NewMockTransport()
	mock.RegisterResponder("GET", indexURL, httpmock.NewStringResponder(http.StatusOK, "10.3.0.1:8080\n10.9.0.1:8080\n"))
	mock.RegisterResponder("GET", tableURL, httpmock.NewStringResponder(http.StatusOK, tablePage(3)))
	mock.RegisterResponder("GET", "http://index.test/down", httpmock.NewStringResponder(http.StatusInternalServerError, ""))

	h := &Harvester{
		Indexes: []Index{
			{Name: "down", URL: "http://index.test/down", Kind: IndexPlain},
			{Name: "list", URL: indexURL, Kind: IndexPlain},
			{Name: "table", URL: tableURL, Kind: IndexHTMLTable, Selector: "table tbody tr"},
		},
		Client: &http.Client{Transport: mock},
	}

	got := h.Collect(context.Background())
	assert.Equal(t, []string{
		"http://10.3.0.1:8080",
		"http://10.9.0.1:8080",
		"http://10.3.0.2:8080",
		"http://10.3.0.3:8080",
	}, got)
}

func TestValidateCapsCandidates(t *testing.T) {
	var candidates []string
	for i := 0; i < 80; i++ {
		candidates = append(candidates, fmt.Sprintf("http://10.4.0.%d:8080", i))
	}
	transport, checks := newCheckTransport(nil)
	h := &Harvester{CheckURL: checkURL, MaxCandidates: 50, Workers: 10, Wanted: 10, CheckTransport: transport}

	assert.Empty(t, h.Validate(context.Background(), candidates))
	assert.Equal(t, int32(50), checks.Load())
}

func TestValidateStopsAtWanted(t *testing.T) {
	var candidates, good []string
	for i := 0; i < 30; i++ {
		addr := fmt.Sprintf("10.5.0.%d:8080", i)
		good = append(good, addr)
		candidates = append(candidates, "http://"+addr)
	}
	transport, checks := newCheckTransport(good)
	h := &Harvester{CheckURL: checkURL, MaxCandidates: 50, Workers: 1, Wanted: 10, CheckTransport: transport}

	working := h.Validate(context.Background(), candidates)
	assert.Len(t, working, 10)
	assert.LessOrEqual(t, checks.Load(), int32(11))
}

func TestCheckRequires200(t *testing.T) {
	h := &Harvester{
		CheckURL: checkURL,
		CheckTransport: func(*url.URL) http.RoundTripper {
			mock := httpmock.NewMockTransport()
			mock.RegisterResponder("GET", checkURL, httpmock.NewStringResponder(http.StatusProxyAuthRequired, ""))
			return mock
		},
	}
	assert.False(t, h.Check(context.Background(), "10.6.0.1:8080"))
	assert.False(t, h.Check(context.Background(), "::bad::"))
}

func TestHarvestReturnsHealthyIdentities(t *testing.T) {
	h := &Harvester{
		Indexes:        []Index{{Name: "list", URL: indexURL, Kind: IndexPlain}},
		Client:         indexClient(t, "10.7.0.1:8080\n10.7.0.2:8080\n10.7.0.3:8080\n"),
		CheckURL:       checkURL,
		MaxCandidates:  50,
		Workers:        3,
		Wanted:         10,
		CheckTransport: checkTransport(t, "10.7.0.1:8080", "10.7.0.3:8080"),
	}

	ids := h.Harvest(context.Background())
	require.Len(t, ids, 2)
	var addrs []string
	for _, id := range ids {
		assert.Equal(t, OriginIndex, id.Origin)
		addrs = append(addrs, id.Address)
	}
	assert.ElementsMatch(t, []string{"http://10.7.0.1:8080", "http://10.7.0.3:8080"}, addrs)
}
