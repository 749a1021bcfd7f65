// Package discover finds HLS manifest links on a web page, together with the
// title printed near each link.
package discover

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gocolly/colly"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	Untitled = "(untitled)"

	// titleWindow is how far around a link a title is looked for.
	titleWindow = 500
)

var (
	manifestRe = regexp.MustCompile(`https?://[^\s'"<>]+\.m3u8(?:\?[^'"<>]*)?`)
	titleRes   = []*regexp.Regexp{
		regexp.MustCompile(`'title'\s*:\s*'([^']+)'`),
		regexp.MustCompile(`"title"\s*:\s*"([^"]+)"`),
	}
)

type Entry struct {
	Title       string
	ManifestURL string
}

// Extract returns every manifest link in page order. Repeated links keep
// their first occurrence. A link is titled by the first single-quoted title
// within titleWindow characters on either side, else by the first
// double-quoted one.
func Extract(page string) []Entry {
	var (
		entries []Entry
		seen    = make(map[string]struct{})
	)
	for _, loc := range manifestRe.FindAllStringIndex(page, -1) {
		link := page[loc[0]:loc[1]]
		if _, ok := seen[link]; ok {
			continue
		}
		seen[link] = struct{}{}

		window := page[max(0, loc[0]-titleWindow):min(len(page), loc[1]+titleWindow)]
		entries = append(entries, Entry{Title: title(window), ManifestURL: link})
	}
	return entries
}

func title(window string) string {
	for _, re := range titleRes {
		if m := re.FindStringSubmatch(window); m != nil {
			return m[1]
		}
	}
	return Untitled
}

type Scraper struct {
	userAgent string
	timeout   time.Duration
	cookies   []*http.Cookie
	log       *logrus.Logger
}

type Option func(*Scraper)

func WithUserAgent(ua string) Option {
	return func(s *Scraper) {
		s.userAgent = ua
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Scraper) {
		s.timeout = d
	}
}

func WithCookies(cookies []*http.Cookie) Option {
	return func(s *Scraper) {
		s.cookies = cookies
	}
}

func WithLogger(log *logrus.Logger) Option {
	return func(s *Scraper) {
		s.log = log
	}
}

func New(opts ...Option) *Scraper {
	s := &Scraper{timeout: 60 * time.Second, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover fetches pageURL once and extracts its manifest links. Headers and
// cookies of the scraper are only ever sent to the page, never to the
// manifests found on it.
func (s *Scraper) Discover(ctx context.Context, pageURL string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(s.timeout)
	if s.userAgent != "" {
		c.UserAgent = s.userAgent
	}
	if len(s.cookies) > 0 {
		if err := c.SetCookies(pageURL, s.cookies); err != nil {
			return nil, errors.Wrap(err, "set cookies")
		}
	}

	var body []byte
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	s.log.WithField("url", pageURL).Info("scanning page for playlists")
	if err := c.Visit(pageURL); err != nil {
		return nil, errors.Wrapf(err, "visit %s", pageURL)
	}
	c.Wait()

	entries := Extract(string(body))
	s.log.WithField("url", pageURL).Infof("found %d playlists", len(entries))
	return entries, nil
}
