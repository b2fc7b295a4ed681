// Package api talks to the remote server's HTTP interface and validates
// that a user supplied connection URL really is one of ours.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

// ServerIdent is the identifier a real server reports from /api/server.
const ServerIdent = "POCKET_RELAY_SERVER"

var (
	ErrInvalidAddress = errors.New("connection URL is missing a host")
	ErrNotPocketRelay = errors.New("server identifier was incorrect, not a Pocket Relay server")
)

// serverDetails is the subset of the /api/server response the client needs,
// everything else the server sends is ignored.
type serverDetails struct {
	Version string `json:"version"`
	Ident   string `json:"ident"`
}

// LookupData describes a validated server.
type LookupData struct {
	Scheme  string
	Host    string
	Port    uint16
	Version string
}

// Address returns the host:port form of the server.
func (d *LookupData) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port)))
}

// BaseURL returns the root URL of the server's HTTP interface.
func (d *LookupData) BaseURL() *url.URL {
	return &url.URL{Scheme: d.Scheme, Host: d.Address(), Path: "/"}
}

// ParseTarget normalizes a user entered connection URL. A missing scheme
// defaults to http.
func ParseTarget(address string) (*url.URL, error) {
	s := strings.TrimSpace(address)
	if s == "" {
		return nil, ErrInvalidAddress
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid connection URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in connection URL", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, ErrInvalidAddress
	}
	return u, nil
}

func portOf(u *url.URL) uint16 {
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err == nil {
			return uint16(n)
		}
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

// Client performs server lookups. Recent results are cached briefly so a
// retried connect does not hammer the server.
type Client struct {
	log   *slog.Logger
	http  *http.Client
	cache *cache.Cache
}

func NewClient(log *slog.Logger) *Client {
	return &Client{
		log:   log,
		http:  &http.Client{Timeout: 10 * time.Second},
		cache: cache.New(30*time.Second, time.Minute),
	}
}

// Lookup fetches and validates the server details behind address.
func (c *Client) Lookup(ctx context.Context, address string) (*LookupData, error) {
	target, err := ParseTarget(address)
	if err != nil {
		return nil, err
	}

	key := target.String()
	if hit, ok := c.cache.Get(key); ok {
		return hit.(*LookupData), nil
	}

	endpoint := target.JoinPath("api", "server")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d", res.StatusCode)
	}
	var details serverDetails
	if err := json.NewDecoder(res.Body).Decode(&details); err != nil {
		return nil, fmt.Errorf("invalid server response: %w", err)
	}
	if details.Ident != ServerIdent {
		return nil, ErrNotPocketRelay
	}

	// Redirects may have moved us, describe the server by the URL the
	// response actually came from.
	final := res.Request.URL
	if final.Hostname() == "" {
		return nil, ErrInvalidAddress
	}
	data := &LookupData{
		Scheme:  final.Scheme,
		Host:    final.Hostname(),
		Port:    portOf(final),
		Version: details.Version,
	}
	c.cache.Set(key, data, cache.DefaultExpiration)

	c.log.Debug("validated server",
		slog.String("host", data.Host),
		slog.String("version", data.Version))
	return data, nil
}
