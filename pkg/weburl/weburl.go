// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package weburl provides URL validation for everything the service fetches.
// It implements SSRF prevention: private IP detection, DNS rebinding
// protection, scheme and port restrictions, and canonical keys for crawl
// deduplication.
package weburl

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/replyforge/replyforge/pkg/errs"
)

// MaxURLLength is the longest raw URL the service accepts.
const MaxURLLength = 2048

// Pre-compiled CIDR networks for reserved ranges the stdlib predicates do
// not cover.
var (
	cgnat    *net.IPNet // 100.64.0.0/10 carrier-grade NAT
	v6unique *net.IPNet // fc00::/7 IPv6 unique local
	v6link   *net.IPNet // fe80::/10 IPv6 link-local
)

func init() {
	for _, c := range []struct {
		cidr string
		dst  **net.IPNet
	}{
		{"100.64.0.0/10", &cgnat},
		{"fc00::/7", &v6unique},
		{"fe80::/10", &v6link},
	} {
		_, n, err := net.ParseCIDR(c.cidr)
		if err != nil {
			panic("invalid reserved CIDR " + c.cidr + ": " + err.Error())
		}
		*c.dst = n
	}
}

// Validator checks URLs before any network contact. The zero value is not
// usable; construct with NewValidator.
type Validator struct {
	allowedPorts map[string]bool
	resolver     *net.Resolver
	allowPrivate bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithAllowedPorts permits additional non-default ports (e.g. "8080").
func WithAllowedPorts(ports ...string) Option {
	return func(v *Validator) {
		for _, p := range ports {
			v.allowedPorts[p] = true
		}
	}
}

// WithResolver overrides the DNS resolver, used by tests.
func WithResolver(r *net.Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// WithPrivateHosts lifts the private-address and port restrictions so
// loopback fixtures can be fetched. Test use only; never enable it on a
// validator that faces user input.
func WithPrivateHosts() Option {
	return func(v *Validator) { v.allowPrivate = true }
}

// NewValidator creates a Validator that accepts http/https URLs on default
// ports only, unless extra ports are allowed via options.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		allowedPorts: map[string]bool{"": true, "80": true, "443": true, "8080": true, "8443": true},
		resolver:     net.DefaultResolver,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses and canonicalizes a raw URL, rejecting anything that could
// reach private address space. The rules run in order: scheme, host
// blocklist, literal-IP check, port allow-list, length. The userinfo
// component is always stripped from the canonical form.
//
// DNS resolution is NOT performed here; callers that actually fetch must use
// a dialer from SafeDialContext so rebinding between validation and connect
// is also caught.
func (v *Validator) Validate(raw string) (string, error) {
	if len(raw) > MaxURLLength {
		return "", errs.Newf(errs.InvalidInput, "url exceeds %d characters", MaxURLLength)
	}
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", errs.Wrap(errs.InvalidInput, "invalid url", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errs.Newf(errs.InvalidInput, "unsupported scheme %q, only http and https are allowed", parsed.Scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", errs.New(errs.InvalidInput, "url has no host")
	}
	if !v.allowPrivate {
		if host == "localhost" || host == "0.0.0.0" || strings.HasSuffix(host, ".localhost") {
			return "", errs.New(errs.InvalidInput, "localhost urls are not allowed")
		}
		if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
			return "", errs.New(errs.InvalidInput, "local domain urls are not allowed")
		}
		if ip := net.ParseIP(host); ip != nil && IsPrivateIP(ip) {
			return "", errs.New(errs.InvalidInput, "private address urls are not allowed")
		}
		if port := parsed.Port(); !v.allowedPorts[port] {
			return "", errs.Newf(errs.InvalidInput, "port %s is not allowed", port)
		}
	}

	parsed.User = nil
	parsed.Fragment = ""
	return parsed.String(), nil
}

// ValidateResolved runs Validate and additionally resolves the hostname,
// rejecting URLs whose DNS answer includes any private address. Used by the
// non-mutating test-url endpoint where we want to fail before a fetch is
// even attempted.
func (v *Validator) ValidateResolved(ctx context.Context, raw string) (string, error) {
	canonical, err := v.Validate(raw)
	if err != nil {
		return "", err
	}
	parsed, _ := url.Parse(canonical)
	host := parsed.Hostname()
	if net.ParseIP(host) != nil {
		return canonical, nil
	}
	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", errs.Wrap(errs.RemoteFailed, "dns lookup failed", err)
	}
	for _, a := range addrs {
		if IsPrivateIP(a.IP) {
			return "", errs.Newf(errs.InvalidInput, "host %s resolves to a private address", host)
		}
	}
	return canonical, nil
}

// IsPrivateIP reports whether an IP belongs to loopback, link-local,
// multicast, RFC1918, CGNAT, or IPv6 local ranges. IPv4-mapped IPv6
// addresses are unwrapped before the check.
func IsPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return true
		}
	}
	return cgnat.Contains(ip) || v6unique.Contains(ip) || v6link.Contains(ip)
}

// DialContext returns the transport dialer matching this validator's
// policy: the rebinding-safe dialer normally, the plain dialer when private
// hosts are allowed.
func (v *Validator) DialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if v.allowPrivate {
		return dialer.DialContext
	}
	return SafeDialContext(dialer)
}

// SafeDialContext returns a DialContext that re-resolves the target and
// refuses to connect to private addresses. This closes the DNS rebinding
// window between URL validation and the actual TCP connect.
func SafeDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		for _, ipAddr := range ips {
			if IsPrivateIP(ipAddr.IP) {
				return nil, fmt.Errorf("connection to private address %s is not allowed", ipAddr.IP)
			}
		}
		var lastErr error
		for _, ipAddr := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ipAddr.IP.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses resolved for %s", host)
		}
		return nil, lastErr
	}
}

// CrawlKey computes the deduplication key for the crawl visited set. The
// scheme is normalized to https so http/https variants of the same page
// collapse, the host is lowercased, the default port dropped, and query
// parameters sorted.
func CrawlKey(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	host := strings.ToLower(parsed.Hostname())
	path := parsed.EscapedPath()
	if path == "" {
		path = "/"
	}
	q := parsed.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString("https://")
	sb.WriteString(host)
	sb.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		vals := q[k]
		sort.Strings(vals)
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(vals, ","))
	}
	return sb.String()
}

// SameHost reports whether two URLs share a hostname, ignoring scheme and
// port. Used for the sameDomainOnly crawl constraint.
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ua.Hostname(), ub.Hostname())
}
