package identityprovider

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Proxy variables in lookup order
var proxyEnvKeys = []string{"https_proxy", "HTTPS_PROXY", "http_proxy", "HTTP_PROXY"}

// ProxyFromEnvironment returns proxy configured by the first non-empty *_PROXY variable
// Values are host:port with or without http(s) scheme. Returns nil when none is set
func ProxyFromEnvironment(getenv func(string) string) (*url.URL, error) {
	for _, key := range proxyEnvKeys {
		value := strings.TrimSpace(getenv(key))
		if value == "" {
			continue
		}

		proxy, err := parseProxy(value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", key, err)
		}
		return proxy, nil
	}

	return nil, nil
}

func parseProxy(value string) (*url.URL, error) {
	hostport := strings.TrimSuffix(value, "/")
	hostport = strings.TrimPrefix(hostport, "http://")
	hostport = strings.TrimPrefix(hostport, "https://")

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, err
	}
	if host == "" {
		return nil, fmt.Errorf("proxy host is empty")
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return nil, fmt.Errorf("proxy port %q is not a number", port)
	}

	return &url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}, nil
}
