package dl

import (
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultConcurrency = 8
	DefaultTimeout     = 10 * time.Second
	DefaultRetryCount  = 2
	DefaultResolution  = "360p"
	DefaultContainer   = "mp4"
	DefaultMuxer       = "ffmpeg"
)

type Config struct {
	Concurrency int           // segments in flight at once
	Timeout     time.Duration // per request
	RetryCount  int           // extra attempts per manifest or segment
	RateLimit   int64         // bytes per second across all workers, 0 is unlimited
	Proxy       string
	UserAgent   string
	BaseURL     string // location for relative URIs of the named manifest, defaults to its own

	Resolution string // target height, e.g. "360p"
	WorkDir    string
	Container  string // output file extension
	Muxer      string // ffmpeg binary name or path
	Slugify    bool   // turn job names into ASCII slugs
	Cleanup    bool   // remove the segment directory after a successful merge

	Logger *logrus.Logger

	BeforeJob func(name string)
	AfterJob  func(name string, err error)
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.Resolution == "" {
		c.Resolution = DefaultResolution
	}
	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	c.WorkDir = filepath.Clean(c.WorkDir)
	if c.Container == "" {
		c.Container = DefaultContainer
	}
	if c.Muxer == "" {
		c.Muxer = DefaultMuxer
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}
