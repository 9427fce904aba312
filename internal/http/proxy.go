package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http/httpproxy"

	"github.com/oceanhydro/hydrodl/internal/config"
	"github.com/oceanhydro/hydrodl/internal/constants"
)

// newBaseTransport returns the transport shared by every proxy mode.
func newBaseTransport() *nethttp.Transport {
	return &nethttp.Transport{
		DialContext: (&net.Dialer{
			Timeout:   constants.HTTPDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   constants.HTTPMaxIdleConnsPerHost,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// ConfigureHTTPClient builds an HTTP client honoring the proxy settings.
// baseURL is only used for the optional warmup request.
func ConfigureHTTPClient(p config.ProxyConfig, baseURL string) (*nethttp.Client, error) {
	transport := newBaseTransport()

	switch strings.ToLower(p.Mode) {
	case "no-proxy", "":
		transport.Proxy = nil

	case "system":
		transport.Proxy = nethttp.ProxyFromEnvironment

	case "ntlm":
		if p.Host == "" {
			log.Warn().Msg("proxy mode is ntlm but host is missing; falling back to no-proxy")
			return &nethttp.Client{Transport: transport}, nil
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy)
		client := &nethttp.Client{
			Transport: ntlmssp.Negotiator{RoundTripper: transport},
		}
		if p.Warmup && p.User != "" && p.Password != "" {
			if err := warmupProxy(client, baseURL); err != nil {
				return nil, fmt.Errorf("proxy warmup failed: %w", err)
			}
		}
		return client, nil

	case "basic":
		if p.Host == "" {
			log.Warn().Msg("proxy mode is basic but host is missing; falling back to no-proxy")
			return &nethttp.Client{Transport: transport}, nil
		}
		transport.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy)
		if p.User != "" && p.Password == "" {
			log.Warn().Str("user", p.User).Msg("proxy user configured but password missing; proxy auth disabled")
		}

	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", p.Mode)
	}

	client := &nethttp.Client{Transport: transport}

	if p.Warmup && p.Mode != "no-proxy" && p.Mode != "" {
		if err := warmupProxy(client, baseURL); err != nil {
			return nil, fmt.Errorf("proxy warmup failed: %w", err)
		}
	}

	return client, nil
}

// buildProxyURL constructs a proxy URL from config
func buildProxyURL(p config.ProxyConfig) *url.URL {
	port := p.Port
	if port == 0 {
		port = 8080
	}

	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", p.Host, port),
	}

	// Only embed credentials if both user AND password are provided
	if p.User != "" && p.Password != "" {
		proxyURL.User = url.UserPassword(p.User, p.Password)
	}

	return proxyURL
}

// warmupProxy performs one request so the proxy handshake happens before real work.
func warmupProxy(client *nethttp.Client, baseURL string) error {
	if baseURL == "" {
		baseURL = constants.DefaultBaseURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, baseURL, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}

	return nil
}

// proxyFuncWithBypass returns a proxy function that respects the NoProxy bypass list.
// If noProxy is empty, behaves identically to nethttp.ProxyURL.
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string) func(*nethttp.Request) (*url.URL, error) {
	if noProxy == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	cfg := httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}
	proxyFunc := cfg.ProxyFunc()
	return func(req *nethttp.Request) (*url.URL, error) {
		result, err := proxyFunc(req.URL)
		if result == nil {
			log.Debug().Str("host", req.URL.Host).Msg("proxy bypass")
		}
		return result, err
	}
}

// NeedsProxyPassword reports whether the proxy configuration requires a
// password that has not been provided.
func NeedsProxyPassword(p config.ProxyConfig) bool {
	mode := strings.ToLower(p.Mode)
	if mode != "basic" && mode != "ntlm" {
		return false
	}
	return p.User != "" && p.Password == ""
}
