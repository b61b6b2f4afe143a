// Package metadata extracts client metadata (IP, User-Agent) from requests and
// classifies automated clients such as link-preview crawlers.
package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"

	"assessgate/pkg/requestcontext"
)

// previewAgents are link-unfurlers that fetch shared URLs on behalf of a chat
// or social client and do not always identify as bots.
var previewAgents = []string{
	"facebookexternalhit",
	"slackbot",
	"slack-imgproxy",
	"whatsapp",
	"telegrambot",
	"discordbot",
	"twitterbot",
	"linkedinbot",
	"skypeuripreview",
	"embedly",
}

// ClientMetadata extracts the client IP (via resolver) and User-Agent from the
// request and adds them to the context for use by handlers and services.
// A nil resolver trusts no proxy, so the client IP is always the peer address.
// This middleware should be applied early in the chain.
func ClientMetadata(resolver *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithClientMetadata(r.Context(), resolver.ClientIP(r), r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsAutomated reports whether the User-Agent belongs to a crawler, bot or
// link-preview fetcher. An empty User-Agent counts as automated.
func IsAutomated(userAgent string) bool {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return true
	}
	if useragent.New(userAgent).Bot() {
		return true
	}
	lower := strings.ToLower(userAgent)
	for _, agent := range previewAgents {
		if strings.Contains(lower, agent) {
			return true
		}
	}
	return false
}

// ClientIPResolver derives the client IP of a request. Forwarding headers are
// only believed when the immediate peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver parses trusted proxy entries, each an IP or a CIDR.
func NewClientIPResolver(trustedProxies []string) (*ClientIPResolver, error) {
	r := &ClientIPResolver{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			r.trusted = append(r.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		r.trusted = append(r.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return r, nil
}

// ClientIP returns the peer address unless the peer is a trusted proxy. Behind
// a trusted proxy, X-Forwarded-For is walked from the right and the first hop
// that is not itself a trusted proxy wins; X-Real-IP is the fallback.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if c == nil || len(c.trusted) == 0 || !c.isTrusted(peer) {
		return peer
	}

	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(header, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(hops[i])
		if err != nil {
			// Anything left of a garbled hop is unverifiable.
			return peer
		}
		if !c.isTrustedAddr(addr) || i == 0 {
			return addr.Unmap().String()
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}
	return peer
}

func (c *ClientIPResolver) isTrusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return c.isTrustedAddr(addr)
}

func (c *ClientIPResolver) isTrustedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteHost strips the port from RemoteAddr ("ip:port" or "[::1]:port").
func remoteHost(remoteAddr string) string {
	if remoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
