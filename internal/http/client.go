package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/oceanhydro/hydrodl/internal/config"
)

// CreateOptimizedClient creates the HTTP client used for all ONC traffic.
//
// Key features:
//   - Proxy support (uses ConfigureHTTPClient as base)
//   - Keep-alive pool sized for a single API host with repeated polling
//   - HTTP/2 with a runtime toggle (DISABLE_HTTP2 env var)
//   - No overall client timeout; each call bounds itself with a context
func CreateOptimizedClient(cfg *config.Config) (*nethttp.Client, error) {
	baseClient, err := ConfigureHTTPClient(cfg.Proxy, cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a negotiator; leave it as built.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || proxyActive(cfg.Proxy) {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0
	return baseClient, nil
}

// proxyActive reports whether requests will go through a proxy. HTTP/2 is
// disabled in that case; many corporate proxies break multiplexed streams.
func proxyActive(p config.ProxyConfig) bool {
	switch p.Mode {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return true
	}
}
