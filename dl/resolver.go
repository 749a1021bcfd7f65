package dl

import (
	"context"
	"net/http"

	"github.com/imroc/req/v3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/timerzz/hlsdl/pkg/playlist"
	"github.com/timerzz/hlsdl/pkg/utils"
)

// ResolvedStream is the media manifest picked for download. URL is absolute,
// or empty for a local manifest read without a base URL; its directory is the
// default base for segment URIs.
type ResolvedStream struct {
	URL       string
	Text      string
	Manifest  *playlist.Manifest
	Rendition *playlist.Rendition // nil when the input was already a media manifest
}

type Resolver struct {
	client     *req.Client
	retryCount int
	log        *logrus.Logger
}

func NewResolver(client *req.Client, retryCount int, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Resolver{client: client, retryCount: retryCount, log: log}
}

// Resolve downloads manifestURL and, for a variant manifest, follows the
// rendition whose height is closest to target.
func (r *Resolver) Resolve(ctx context.Context, manifestURL string, target string) (*ResolvedStream, error) {
	return r.ResolveWithBase(ctx, manifestURL, "", target)
}

// ResolveWithBase is Resolve with relative rendition URIs taken against
// baseURL instead of the manifest's own location. An empty baseURL means the
// manifest's location.
func (r *Resolver) ResolveWithBase(ctx context.Context, manifestURL, baseURL, target string) (*ResolvedStream, error) {
	height, err := playlist.ParseResolution(target)
	if err != nil {
		return nil, err
	}
	text, err := r.get(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	return r.follow(ctx, manifestURL, baseURL, text, target, height)
}

// ResolveText is Resolve for a manifest already in hand, such as one read from
// disk. Relative rendition URIs resolve against baseURL, which may be empty
// when every URI in text is absolute.
func (r *Resolver) ResolveText(ctx context.Context, text, baseURL, target string) (*ResolvedStream, error) {
	height, err := playlist.ParseResolution(target)
	if err != nil {
		return nil, err
	}
	return r.follow(ctx, "", baseURL, text, target, height)
}

func (r *Resolver) follow(ctx context.Context, manifestURL, baseURL, text, target string, height int) (*ResolvedStream, error) {
	m, err := playlist.Parse(text)
	if err != nil {
		return nil, err
	}

	if m.Kind == playlist.Media {
		r.log.WithField("url", manifestURL).Info("not a variant playlist, using it directly")
		return &ResolvedStream{URL: manifestURL, Text: text, Manifest: m}, nil
	}

	best, ok := playlist.Select(m.Renditions, height)
	if !ok {
		return nil, &NoMatchingRenditionError{Target: target}
	}
	ref := manifestURL
	if baseURL != "" {
		dir, err := utils.DirURL(baseURL)
		if err != nil {
			return nil, errors.Wrapf(err, "parse base URL %s", baseURL)
		}
		ref = dir.String()
	}
	streamURL, err := utils.ResolveURL(ref, best.URI)
	if err != nil {
		return nil, &playlist.ParseError{Reason: "rendition uri " + best.URI, Err: err}
	}
	if !utils.IsAbsURL(streamURL) {
		return nil, errors.Errorf("rendition %q is relative and there is no base URL to resolve it against", best.URI)
	}
	r.log.WithFields(logrus.Fields{
		"url":    streamURL,
		"height": best.Height,
		"target": height,
	}).Info("selected rendition")

	text, err = r.get(ctx, streamURL)
	if err != nil {
		return nil, err
	}
	media, err := playlist.Parse(text)
	if err != nil {
		return nil, err
	}
	if media.Kind != playlist.Media {
		return nil, &playlist.ParseError{Reason: "rendition " + streamURL + " is not a media manifest"}
	}
	return &ResolvedStream{URL: streamURL, Text: text, Manifest: media, Rendition: &best}, nil
}

func (r *Resolver) get(ctx context.Context, u string) (string, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetRetryCount(r.retryCount).
		Get(u)
	if err != nil {
		return "", &FetchError{URL: u, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &FetchError{URL: u, StatusCode: resp.StatusCode}
	}
	return resp.String(), nil
}
