package utils

import (
	"net/url"
	"path"
	"strings"
)

// ResolveURL resolves ref against base using RFC 3986 rules.
func ResolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// ParentURL returns the directory of u with a trailing slash and without
// query or fragment, so relative segment paths resolve beneath it.
func ParentURL(u string) (*url.URL, error) {
	p, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	dir := *p
	dir.RawQuery, dir.Fragment, dir.RawFragment = "", "", ""
	dir.Path = path.Dir(p.Path)
	if !strings.HasSuffix(dir.Path, "/") {
		dir.Path += "/"
	}
	dir.RawPath = ""
	return &dir, nil
}

// LastComponent returns the last non-empty path element of u.
func LastComponent(u *url.URL) string {
	name := path.Base(strings.TrimRight(u.Path, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// IsAbsURL reports whether u parses with both a scheme and a host.
func IsAbsURL(u string) bool {
	p, err := url.Parse(u)
	return err == nil && p.Scheme != "" && p.Host != ""
}

// DirURL parses u as a directory: a missing trailing slash is added so that
// relative references resolve beneath it.
func DirURL(u string) (*url.URL, error) {
	p, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(p.Path, "/") {
		p.Path += "/"
		p.RawPath = ""
	}
	return p, nil
}
