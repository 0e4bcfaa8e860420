package orchestrator

import (
	"net"
	"net/netip"
	"net/url"

	"github.com/hyescribe/hyescribe/internal/errors"
)

// Address ranges a webhook URL must not resolve to. Covers loopback,
// RFC 1918, link-local (including the cloud metadata endpoint), and their
// IPv6 counterparts.
var blockedNetworks = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// validateWebhookURL rejects URLs the delivery worker must never POST to:
// non-HTTP schemes and hosts that resolve to internal address space.
func validateWebhookURL(rawURL string, lookupIP func(host string) ([]net.IP, error)) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return webhookURLErr(rawURL, "webhook URL is not a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return webhookURLErr(rawURL, "webhook URL scheme must be http or https")
	}
	host := parsed.Hostname()
	if host == "" {
		return webhookURLErr(rawURL, "webhook URL must include a hostname")
	}

	var ips []net.IP
	if literal, err := netip.ParseAddr(host); err == nil {
		ips = []net.IP{literal.AsSlice()}
	} else {
		ips, err = lookupIP(host)
		if err != nil || len(ips) == 0 {
			return webhookURLErr(rawURL, "webhook URL hostname does not resolve")
		}
	}

	for _, ip := range ips {
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			return webhookURLErr(rawURL, "webhook URL resolves to an invalid address")
		}
		addr = addr.Unmap()
		for _, network := range blockedNetworks {
			if network.Contains(addr) {
				return webhookURLErr(rawURL, "webhook URL resolves to a blocked address")
			}
		}
	}
	return nil
}

func webhookURLErr(rawURL, msg string) error {
	return errors.Newf("%s", msg).
		Component("orchestrator").
		Category(errors.CategoryValidation).
		Context("webhook_url", rawURL).
		Build()
}
