// Package security validates outbound webhook URLs so a misconfigured
// target cannot point the sender at internal infrastructure.
package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// IsPrivateIP reports whether the address is private, loopback or
// link-local. Invalid strings are not private.
func IsPrivateIP(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsLocalhost reports whether the host names the local machine.
func IsLocalhost(host string) bool {
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	switch host {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ValidateWebhookURL rejects target URLs that are not plain http(s), that
// point at private or link-local addresses, or that use HTTP outside of
// local development (allowLocal).
func ValidateWebhookURL(urlStr string, allowLocal bool) error {
	if urlStr == "" {
		return fmt.Errorf("URL is empty")
	}

	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("unsupported URL scheme: %q (only http and https are allowed)", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("invalid URL: missing host")
	}

	isLocal := IsLocalhost(host)

	if scheme == "http" && !(allowLocal && isLocal) {
		return fmt.Errorf("HTTPS is required for webhook URLs")
	}
	if isLocal && !allowLocal {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	if !isLocal && IsPrivateIP(host) {
		return fmt.Errorf("private IP addresses are not allowed")
	}

	return nil
}
