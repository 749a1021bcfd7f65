package discover

import (
	"net"
	"net/http"
	"net/url"

	"github.com/browserutils/kooky"
	_ "github.com/browserutils/kooky/browser/all"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

// BrowserCookies reads valid cookies for the registrable domain of pageURL
// from every browser profile kooky can find. Unreadable stores are skipped.
func BrowserCookies(pageURL string) ([]*http.Cookie, error) {
	domain, err := baseDomain(pageURL)
	if err != nil {
		return nil, err
	}
	found := kooky.ReadCookies(cookieFilters(domain)...)
	logrus.Infof("found %d browser cookies for %s", len(found), domain)
	return toHTTPCookies(found), nil
}

func cookieFilters(domain string) []kooky.Filter {
	return []kooky.Filter{kooky.Valid, kooky.DomainHasSuffix(domain)}
}

func baseDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrapf(err, "parse %s", rawURL)
	}
	if u.Hostname() == "" {
		return "", errors.Errorf("no host in %q", rawURL)
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return host, nil
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// single-label hosts such as localhost
		return host, nil
	}
	return d, nil
}

func toHTTPCookies(in []*kooky.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		out = append(out, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
		})
	}
	return out
}
