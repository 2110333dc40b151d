// ABOUTME: SSH+SOCKS5 proxy dialing for control-plane hosts behind a jumpbox
// ABOUTME: Builds an http.Client whose connections tunnel through ALL_PROXY

package transport

import (
	"context"
	"log"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	proxy "github.com/cloudfoundry/socks5-proxy"
)

// NewHTTPClient returns an http.Client with the given timeout. When
// allProxy is set (format: ssh+socks5://user@host:port?private-key=/path),
// every connection is dialed through the SSH jumpbox.
func NewHTTPClient(allProxy string, timeout time.Duration) *http.Client {
	client := &http.Client{Timeout: timeout}
	if allProxy == "" {
		return client
	}

	dial := socks5DialContextFunc(allProxy)
	if dial == nil {
		slog.Warn("Ignoring unusable ALL_PROXY configuration", "all_proxy", allProxy)
		return client
	}

	client.Transport = &http.Transport{DialContext: dial}
	return client
}

// socks5DialContextFunc creates a dial function for SSH+SOCKS5 proxy
// connections. The SSH session is established lazily on first dial.
func socks5DialContextFunc(allProxy string) func(ctx context.Context, network, address string) (net.Conn, error) {
	allProxy = strings.TrimPrefix(allProxy, "ssh+")

	proxyURL, err := url.Parse(allProxy)
	if err != nil {
		slog.Error("Failed to parse ALL_PROXY URL", "error", err)
		return nil
	}

	queryMap, err := url.ParseQuery(proxyURL.RawQuery)
	if err != nil {
		slog.Error("Failed to parse ALL_PROXY query params", "error", err)
		return nil
	}

	username := ""
	if proxyURL.User != nil {
		username = proxyURL.User.Username()
	}

	keyPath := queryMap.Get("private-key")
	if keyPath == "" {
		slog.Error("ALL_PROXY missing required 'private-key' query param")
		return nil
	}

	sshKey, err := os.ReadFile(keyPath)
	if err != nil {
		slog.Error("Failed to read SSH private key", "path", keyPath, "error", err)
		return nil
	}

	socks5Proxy := proxy.NewSocks5Proxy(proxy.NewHostKey(), log.Default(), 1*time.Minute)

	var (
		dialer proxy.DialFunc
		mut    sync.RWMutex
	)

	return func(ctx context.Context, network, address string) (net.Conn, error) {
		mut.RLock()
		haveDialer := dialer != nil
		mut.RUnlock()

		if haveDialer {
			return dialer(network, address)
		}

		mut.Lock()
		defer mut.Unlock()
		if dialer == nil {
			proxyDialer, err := socks5Proxy.Dialer(username, string(sshKey), proxyURL.Host)
			if err != nil {
				return nil, err
			}
			dialer = proxyDialer
		}
		return dialer(network, address)
	}
}
