// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package httpclient provides the HTTP client used to fetch remote
// images and stylesheets.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"time"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"codeberg.org/readeck/ampify/configs"
)

const levelTrace = slog.LevelDebug - 10

const uaString = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

var defaultDialer = net.Dialer{
	Timeout:   15 * time.Second,
	KeepAlive: 30 * time.Second,
}

var defaultTransport = &http.Transport{
	DialContext: defaultDialer.DialContext,
	Proxy:       http.ProxyFromEnvironment,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          50,
	MaxIdleConnsPerHost:   6,
	IdleConnTimeout:       30 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

var defaultHeaders = http.Header{
	"User-Agent":      []string{uaString},
	"Accept":          []string{"*/*"},
	"Accept-Language": []string{"en-US,en;q=0.8"},
	"Sec-Fetch-Site":  []string{"cross-site"},
	"Sec-Fetch-Mode":  []string{"no-cors"},
}

// LookupFunc resolves a host name to its IP addresses.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	res := make([]net.IP, len(addrs))
	for i, a := range addrs {
		res[i] = a.IP
	}
	return res, nil
}

// Transport wraps an [http.RoundTripper].
type Transport struct {
	http.RoundTripper
	header    http.Header
	deniedIPs configs.IPNetList
	lookup    LookupFunc
	logger    *slog.Logger
}

// RoundTrip implements [http.RoundTripper].
// It checks that the destination IP is allowed, adds the default headers
// and logs every request at trace level.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.checkDestIP(r); err != nil {
		return nil, err
	}

	// Only headers are added, a shallow copy is enough.
	req := new(http.Request)
	*req = *r
	req.Header = req.Header.Clone()

	for k, values := range t.header {
		if _, ok := r.Header[textproto.CanonicalMIMEHeaderKey(k)]; !ok {
			req.Header[k] = values
		}
	}

	now := time.Now()
	rsp, err := t.RoundTripper.RoundTrip(req)

	attrs := []slog.Attr{
		slog.Group("request",
			slog.String("url", req.URL.String()),
			slog.String("method", req.Method),
			slog.Any("headers", req.Header),
		),
	}
	if err != nil {
		attrs = append(attrs, slog.Group("response", slog.Any("err", err)))
	} else {
		attrs = append(attrs, slog.Group("response",
			slog.Int("status", rsp.StatusCode),
			slog.Any("headers", rsp.Header),
		))
	}
	attrs = append(attrs, slog.Duration("time", time.Since(now)))
	t.Log().LogAttrs(req.Context(), levelTrace, "request", attrs...)

	return rsp, err
}

func (t *Transport) checkDestIP(r *http.Request) error {
	if len(t.deniedIPs) == 0 {
		// An empty list disables the IP check.
		return nil
	}

	hostname := r.URL.Hostname()
	host, err := idna.ToASCII(hostname)
	if err != nil {
		return fmt.Errorf("invalid hostname %s", hostname)
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else if ips, err = t.lookup(r.Context(), host); err != nil {
		return fmt.Errorf("cannot resolve %s", host)
	}

	for _, ip := range ips {
		if cidr, ok := t.deniedIPs.Contains(ip); ok {
			return fmt.Errorf("ip %s is blocked by rule %s", ip, cidr)
		}
	}

	return nil
}

// Log returns the transport's logger.
func (t *Transport) Log() *slog.Logger {
	return t.logger
}

// SetLogger sets the transport's logger.
func (t *Transport) SetLogger(l *slog.Logger) {
	t.logger = l
}

// SetLookup replaces the host name resolver used by the IP check.
func (t *Transport) SetLookup(fn LookupFunc) {
	t.lookup = fn
}

// SetHeader receives a function that can manipulate the
// transport's default headers.
func (t *Transport) SetHeader(fn func(h http.Header)) {
	fn(t.header)
}

// New returns a new client configured from [configs.Config].
func New() *http.Client {
	cookies, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	header := maps.Clone(defaultHeaders)
	if ua := configs.Config.Fetcher.UserAgent; ua != "" {
		header.Set("User-Agent", ua)
	}

	return &http.Client{
		Transport: &Transport{
			RoundTripper: defaultTransport.Clone(),
			header:       header,
			deniedIPs:    configs.Config.Fetcher.DeniedIPs,
			lookup:       defaultLookup,
			logger:       slog.Default(),
		},
		Timeout: configs.Config.Fetcher.Timeout,
		Jar:     cookies,
	}
}
