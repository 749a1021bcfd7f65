package dl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/imroc/req/v3"
	"github.com/juju/ratelimit"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/timerzz/nio"
)

// Fetcher downloads the segments of one job with a bounded pool of workers.
type Fetcher struct {
	client      *req.Client
	concurrency int
	retryCount  int
	bucket      *ratelimit.Bucket
	log         *logrus.Logger

	total    atomic.Int64 // segments in the current FetchAll
	complete atomic.Int64 // finished segments, failed ones included
	size     atomic.Int64 // bytes received
}

func NewFetcher(client *req.Client, cfg Config) *Fetcher {
	cfg = cfg.withDefaults()
	f := &Fetcher{
		client:      client,
		concurrency: cfg.Concurrency,
		retryCount:  cfg.RetryCount,
		log:         cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		f.bucket = ratelimit.NewBucketWithRate(float64(cfg.RateLimit), cfg.RateLimit)
	}
	return f
}

// Progress returns finished and total segment counts of the running fetch.
func (f *Fetcher) Progress() (int64, int64) {
	return f.complete.Load(), f.total.Load()
}

// DownloadSize returns the bytes received by the running fetch.
func (f *Fetcher) DownloadSize() int64 {
	return f.size.Load()
}

// FetchAll downloads every segment into dir and returns one result per
// segment, in manifest order. Failures are reported per segment; FetchAll
// itself never fails and only returns once every segment has terminated.
func (f *Fetcher) FetchAll(ctx context.Context, base *url.URL, segments []*Segment, dir string) []Result {
	results := make([]Result, len(segments))
	f.reset(len(segments))

	pool, err := ants.NewPool(f.concurrency)
	if err != nil {
		for i, seg := range segments {
			results[i] = f.fail(seg, errors.Wrap(err, "worker pool"))
		}
		return results
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, seg := range segments {
		if ctx.Err() != nil {
			results[i] = f.fail(seg, ctx.Err())
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = f.fetch(ctx, base, seg, dir)
		}); err != nil {
			wg.Done()
			results[i] = f.fail(seg, errors.Wrap(err, "submit"))
		}
	}
	wg.Wait()
	return results
}

func (f *Fetcher) reset(total int) {
	f.total.Store(int64(total))
	f.complete.Store(0)
	f.size.Store(0)
}

func (f *Fetcher) fail(seg *Segment, err error) Result {
	seg.Status = StatusFailed
	f.complete.Add(1)
	f.log.WithField("segment", seg.Name).Errorf("download failed: %v", err)
	return Result{Segment: seg, Err: err}
}

func (f *Fetcher) fetch(ctx context.Context, base *url.URL, seg *Segment, dir string) Result {
	final := filepath.Join(dir, seg.Name)

	// A non-empty file is a finished segment: partial downloads only ever
	// exist under a temporary name.
	if st, err := os.Stat(final); err == nil && st.Mode().IsRegular() && st.Size() > 0 {
		seg.Status = StatusDownloaded
		f.complete.Add(1)
		f.log.WithField("segment", seg.Name).Info("already exists, skipped")
		return Result{Segment: seg, Skipped: true}
	}

	ref, err := url.Parse(seg.URI)
	if err != nil {
		return f.fail(seg, err)
	}
	src := base.ResolveReference(ref).String()

	var n int64
	for attempt := 0; ; attempt++ {
		n, err = f.download(ctx, src, final)
		if err == nil || attempt >= f.retryCount || ctx.Err() != nil {
			break
		}
		f.log.WithField("segment", seg.Name).Warnf("attempt %d failed, retrying: %v", attempt+1, err)
	}
	if err != nil {
		return f.fail(seg, err)
	}

	seg.Status = StatusDownloaded
	f.complete.Add(1)
	f.log.WithField("segment", seg.Name).Info("downloaded")
	return Result{Segment: seg, Bytes: n}
}

// download streams src into a temporary file next to final and renames it on
// a 200 answer.
func (f *Fetcher) download(ctx context.Context, src, final string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(final), fmt.Sprintf(".%s.*.part", filepath.Base(final)))
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	var (
		n int64
		w io.Writer = tmp
	)
	if f.bucket != nil {
		w = ratelimit.Writer(w, f.bucket)
	}
	w = nio.NWriter(w, func(c int) {
		n += int64(c)
		f.size.Add(int64(c))
	})

	resp, err := f.client.R().SetContext(ctx).SetOutput(w).Get(src)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return 0, &FetchError{URL: src, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &FetchError{URL: src, StatusCode: resp.StatusCode}
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return 0, errors.Wrapf(err, "rename %s", tmp.Name())
	}
	return n, nil
}
