package dl

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/timerzz/hlsdl/pkg/utils"
)

// Entry is one (title, manifest URL) pair handed to RunBatch.
type Entry struct {
	Title       string
	ManifestURL string
}

// Report describes a finished job.
type Report struct {
	Name    string
	Dir     string
	Output  string
	Stream  *ResolvedStream
	Summary Summary
}

// Runner drives jobs one after another: resolve, fetch, merge. Resolution,
// merging and jobs themselves are sequential; only segment fetches of the
// current job run in parallel.
type Runner struct {
	cfg      Config
	log      *logrus.Logger
	resolver *Resolver
	fetcher  *Fetcher
	merger   *Merger
}

func NewRunner(cfg Config) *Runner {
	cfg = cfg.withDefaults()
	client := newClient(cfg)
	return &Runner{
		cfg:      cfg,
		log:      cfg.Logger,
		resolver: NewResolver(client, cfg.RetryCount, cfg.Logger),
		fetcher:  NewFetcher(client, cfg),
		merger:   NewMerger(cfg.Muxer, cfg.Logger),
	}
}

// Progress reports the segment counters of the job being fetched.
func (r *Runner) Progress() (int64, int64) {
	return r.fetcher.Progress()
}

func (r *Runner) DownloadSize() int64 {
	return r.fetcher.DownloadSize()
}

// Run downloads manifestURL into one output file. An empty name is derived
// from the manifest's directory. The muxer is looked up before any request is
// made.
func (r *Runner) Run(ctx context.Context, manifestURL, name string) (*Report, error) {
	return r.run(ctx, name, r.cfg.BaseURL, nil, func() (*ResolvedStream, error) {
		r.log.WithField("url", manifestURL).Info("resolving playlist")
		return r.resolver.ResolveWithBase(ctx, manifestURL, r.cfg.BaseURL, r.cfg.Resolution)
	})
}

// RunFile is Run for a manifest saved on disk. Relative URIs in it resolve
// against Config.BaseURL. An empty name is the file name without extension.
func (r *Runner) RunFile(ctx context.Context, path, name string) (*Report, error) {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return r.run(ctx, name, r.cfg.BaseURL, nil, func() (*ResolvedStream, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read playlist")
		}
		r.log.WithField("file", path).Info("resolving playlist")
		return r.resolver.ResolveText(ctx, string(b), r.cfg.BaseURL, r.cfg.Resolution)
	})
}

// run drives one job. baseURL overrides the location of the URIs listed in
// the manifest the job was started from. used holds the names taken by
// earlier jobs of a batch; a job whose name is taken gets a numbered one.
func (r *Runner) run(ctx context.Context, name, baseURL string, used jobNames, resolve func() (*ResolvedStream, error)) (report *Report, err error) {
	if _, err := r.merger.Available(); err != nil {
		return nil, err
	}

	r.fetcher.reset(0)
	title := name
	if r.cfg.BeforeJob != nil {
		r.cfg.BeforeJob(title)
	}
	defer func() {
		if r.cfg.AfterJob != nil {
			r.cfg.AfterJob(title, err)
		}
	}()

	stream, err := resolve()
	if err != nil {
		return nil, err
	}
	base, err := segmentBase(stream, baseURL)
	if err != nil {
		return nil, err
	}
	segments, err := NewSegments(stream.Manifest.Segments)
	if err != nil {
		return nil, err
	}
	if !utils.IsAbsURL(base.String()) {
		for _, seg := range segments {
			if !utils.IsAbsURL(seg.URI) {
				return nil, errors.Errorf("segment %q is relative and there is no base URL to resolve it against", seg.URI)
			}
		}
	}
	r.log.Infof("found %d segments", len(segments))

	name = r.jobName(name, utils.LastComponent(base))
	if used != nil {
		name = used.claim(name)
	}
	stem := fmt.Sprintf("%s_%s", name, r.cfg.Resolution)
	report = &Report{
		Name:   name,
		Dir:    filepath.Join(r.cfg.WorkDir, stem),
		Output: filepath.Join(r.cfg.WorkDir, stem+"."+r.cfg.Container),
		Stream: stream,
	}
	if err := os.MkdirAll(report.Dir, 0755); err != nil {
		return report, errors.Wrap(err, "create working directory")
	}

	results := r.fetcher.FetchAll(ctx, base, segments, report.Dir)
	report.Summary = Summarize(results)
	r.log.WithFields(logrus.Fields{
		"job":        name,
		"downloaded": report.Summary.Downloaded,
		"skipped":    report.Summary.Skipped,
		"failed":     report.Summary.Failed,
	}).Info("segments fetched")

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if _, err := r.merger.Available(); err != nil {
		return report, err
	}
	if report.Summary.Failed > 0 {
		failed := make([]string, 0, report.Summary.Failed)
		for _, res := range results {
			if res.Err != nil {
				failed = append(failed, res.Segment.Name)
			}
		}
		return report, &IncompleteError{Failed: failed, Total: len(segments)}
	}

	if err := r.merger.Merge(ctx, report.Output, segments, report.Dir); err != nil {
		return report, err
	}

	if r.cfg.Cleanup {
		if err := os.RemoveAll(report.Dir); err != nil {
			r.log.Warnf("remove %s: %v", report.Dir, err)
		}
	}
	return report, nil
}

// segmentBase is baseURL when the segments come from the manifest the job
// started from, else the directory of the manifest that listed them. It is
// empty for a local manifest read without a base URL.
func segmentBase(stream *ResolvedStream, baseURL string) (*url.URL, error) {
	if baseURL != "" && stream.Rendition == nil {
		base, err := utils.DirURL(baseURL)
		return base, errors.Wrapf(err, "parse base URL %s", baseURL)
	}
	if stream.URL == "" {
		return &url.URL{}, nil
	}
	base, err := utils.ParentURL(stream.URL)
	return base, errors.Wrapf(err, "parse %s", stream.URL)
}

func (r *Runner) jobName(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	if r.cfg.Slugify {
		name = utils.SlugName(name)
	} else {
		name = utils.SanitizeName(name)
	}
	if name == "" {
		name = "stream"
	}
	return name
}

// jobNames holds the names handed out in a batch, case folded.
type jobNames map[string]struct{}

// claim returns name, or name_2, name_3 and so on when it is already taken.
func (n jobNames) claim(name string) string {
	unique := name
	for i := 2; ; i++ {
		key := strings.ToLower(unique)
		if _, ok := n[key]; !ok {
			n[key] = struct{}{}
			return unique
		}
		unique = fmt.Sprintf("%s_%d", name, i)
	}
}

// RunBatch runs one job per entry, in order. A failing job does not stop the
// ones after it; a missing muxer stops everything.
func (r *Runner) RunBatch(ctx context.Context, entries []Entry) error {
	r.log.Infof("found %d playlists", len(entries))
	if len(entries) == 0 {
		return nil
	}
	if _, err := r.merger.Available(); err != nil {
		return err
	}

	used := make(jobNames)
	berr := &BatchError{Total: len(entries)}
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.log.WithField("job", e.Title).Infof("downloading %d/%d", i+1, len(entries))
		_, err := r.run(ctx, e.Title, "", used, func() (*ResolvedStream, error) {
			r.log.WithField("url", e.ManifestURL).Info("resolving playlist")
			return r.resolver.Resolve(ctx, e.ManifestURL, r.cfg.Resolution)
		})
		var tue *ToolUnavailableError
		if errors.As(err, &tue) {
			return err
		}
		if err != nil {
			r.log.WithField("job", e.Title).Errorf("job failed: %v", err)
			berr.Failed = append(berr.Failed, JobFailure{Name: e.Title, Err: err})
		}
	}
	if len(berr.Failed) > 0 {
		return berr
	}
	return nil
}
