// Package playlist decodes HLS manifests into a small typed form: either a
// variant list of renditions or a media list of segments.
package playlist

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

type Kind int

const (
	Media Kind = iota
	Variant
)

func (k Kind) String() string {
	if k == Variant {
		return "variant"
	}
	return "media"
}

// Rendition is one quality of a variant manifest. Height is 0 when the
// manifest did not declare a resolution.
type Rendition struct {
	URI       string
	Height    int
	Bandwidth uint32
}

func (r Rendition) Known() bool {
	return r.Height > 0
}

// Manifest holds Renditions for a variant manifest and Segments for a media
// manifest, never both.
type Manifest struct {
	Kind       Kind
	Renditions []Rendition
	Segments   []string
}

type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse manifest: %s: %v", e.Reason, e.Err)
	}
	return "parse manifest: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func Parse(text string) (*Manifest, error) {
	pl, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err != nil {
		return nil, &ParseError{Reason: "decode", Err: err}
	}

	switch listType {
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		m := &Manifest{Kind: Variant}
		for _, v := range master.Variants {
			if v == nil || v.Iframe {
				continue
			}
			m.Renditions = append(m.Renditions, Rendition{
				URI:       v.URI,
				Height:    height(v.Resolution),
				Bandwidth: v.Bandwidth,
			})
		}
		if len(m.Renditions) == 0 {
			return nil, &ParseError{Reason: "variant manifest lists no renditions"}
		}
		return m, nil
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		m := &Manifest{Kind: Media}
		for _, seg := range media.Segments {
			if seg == nil {
				continue
			}
			if seg.Limit > 0 {
				return nil, &ParseError{Reason: fmt.Sprintf("segment %q is a byte range, which is not supported", seg.URI)}
			}
			if _, err := LocalName(seg.URI); err != nil {
				return nil, err
			}
			m.Segments = append(m.Segments, seg.URI)
		}
		if len(m.Segments) == 0 {
			return nil, &ParseError{Reason: "media manifest lists no segments"}
		}
		return m, nil
	}
	return nil, &ParseError{Reason: "unknown manifest type"}
}

// height extracts H from a "WxH" resolution attribute.
func height(resolution string) int {
	_, h, ok := strings.Cut(strings.ToLower(resolution), "x")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// LocalName maps a segment URI to the file name it is stored under inside the
// job directory. Distinct URIs may share a name; callers that store several
// segments side by side must disambiguate.
func LocalName(uri string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return "", &ParseError{Reason: fmt.Sprintf("segment %q", uri), Err: err}
	}
	p := u.Path
	if u.IsAbs() || u.Host != "" || strings.HasPrefix(p, "/") {
		p = path.Base(p)
	}
	name := path.Clean(p)
	if name == "." || name == "/" || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", &ParseError{Reason: fmt.Sprintf("segment %q escapes the output directory", uri)}
	}
	return filepath.FromSlash(name), nil
}

// Select picks the rendition closest to target. Renditions without a known
// height are skipped; ties keep the earliest rendition.
func Select(renditions []Rendition, target int) (Rendition, bool) {
	var (
		best  Rendition
		found bool
		diff  int
	)
	for _, r := range renditions {
		if !r.Known() {
			continue
		}
		d := r.Height - target
		if d < 0 {
			d = -d
		}
		if !found || d < diff {
			best, diff, found = r, d, true
		}
	}
	return best, found
}

// ParseResolution accepts "360p", "360P" or "360".
func ParseResolution(s string) (int, error) {
	v := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(s), "p"), "P")
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid resolution %q", s)
	}
	return n, nil
}
