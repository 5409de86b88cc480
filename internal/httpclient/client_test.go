// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

package httpclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"codeberg.org/readeck/ampify/configs"
	"codeberg.org/readeck/ampify/internal/httpclient"
)

type echoResponse struct {
	URL    string
	Method string
	Header http.Header
}

func mockResponder(client *http.Client) func() {
	ot := client.Transport.(*httpclient.Transport).RoundTripper
	mt := httpmock.NewMockTransport()

	mt.RegisterResponder("GET", `=~.*`,
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, echoResponse{
				URL:    req.URL.String(),
				Method: req.Method,
				Header: req.Header,
			})
		})

	client.Transport.(*httpclient.Transport).RoundTripper = mt

	return func() {
		client.Transport.(*httpclient.Transport).RoundTripper = ot
	}
}

func getEcho(t *testing.T, client *http.Client, url string, header http.Header) echoResponse {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}

	rsp, err := client.Do(req)
	require.NoError(t, err)
	defer rsp.Body.Close() //nolint:errcheck

	var data echoResponse
	require.NoError(t, json.NewDecoder(rsp.Body).Decode(&data))
	return data
}

func TestClient(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()

		client := httpclient.New()
		defer mockResponder(client)()

		data := getEcho(t, client, "https://example.net/a.png", http.Header{
			"Accept": []string{"image/*"},
		})

		assert.Equal("https://example.net/a.png", data.URL)
		assert.Equal("GET", data.Method)
		assert.Contains(data.Header.Get("User-Agent"), "Mozilla/5.0")
		assert.Equal("image/*", data.Header.Get("Accept"))
		assert.Equal("cross-site", data.Header.Get("Sec-Fetch-Site"))
		assert.Equal(20*time.Second, client.Timeout)
	})

	t.Run("user agent", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()
		defer configs.Reset()
		configs.Config.Fetcher.UserAgent = "ampify/1.0"
		configs.Config.Fetcher.Timeout = 3 * time.Second

		client := httpclient.New()
		defer mockResponder(client)()

		data := getEcho(t, client, "https://example.net/", nil)
		assert.Equal("ampify/1.0", data.Header.Get("User-Agent"))
		assert.Equal(3*time.Second, client.Timeout)
	})

	t.Run("SetHeader", func(t *testing.T) {
		assert := require.New(t)
		configs.Reset()

		client := httpclient.New()
		defer mockResponder(client)()

		client.Transport.(*httpclient.Transport).SetHeader(func(h http.Header) {
			h.Set("x-test", "abc")
		})

		data := getEcho(t, client, "https://example.net/", nil)
		assert.Equal("abc", data.Header.Get("x-test"))
	})
}

func TestDeniedIPs(t *testing.T) {
	configs.Reset()
	defer configs.Reset()
	require.NoError(t, configs.Config.Fetcher.DeniedIPs.UnmarshalText(
		[]byte("127.0.0.0/8,10.0.0.0/8,::1"),
	))

	client := httpclient.New()
	defer mockResponder(client)()

	client.Transport.(*httpclient.Transport).SetLookup(func(_ context.Context, host string) ([]net.IP, error) {
		switch host {
		case "internal.test":
			return []net.IP{net.ParseIP("10.2.3.4")}, nil
		case "public.test", "xn--bcher-kva.test":
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		}
		return nil, errors.New("no such host")
	})

	tests := []struct {
		url string
		err string
	}{
		{"http://public.test/a.png", ""},
		{"http://bücher.test/a.png", ""},
		{"http://93.184.216.34/a.png", ""},
		{"http://internal.test/a.png", "ip 10.2.3.4 is blocked by rule 10.0.0.0/8"},
		{"http://127.0.0.1:8000/a.png", "ip 127.0.0.1 is blocked by rule 127.0.0.0/8"},
		{"http://[::1]/a.png", "ip ::1 is blocked by rule ::1/128"},
		{"http://unknown.test/a.png", "cannot resolve unknown.test"},
	}

	for _, test := range tests {
		t.Run(test.url, func(t *testing.T) {
			assert := require.New(t)
			rsp, err := client.Get(test.url)
			if test.err == "" {
				assert.NoError(err)
				assert.NoError(rsp.Body.Close())
				return
			}
			assert.ErrorContains(err, test.err)
		})
	}
}
