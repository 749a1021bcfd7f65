package dl

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// event1 serves a three segment media playlist under /courses/Event1/.
func event1(t *testing.T) *cdn {
	return newCDN(t, map[string]string{
		"/courses/Event1/playlist.m3u8": mediaPlaylist("seg0.ts", "seg1.ts", "seg2.ts"),
		"/courses/Event1/seg0.ts":       "AAA",
		"/courses/Event1/seg1.ts":       "BBB",
		"/courses/Event1/seg2.ts":       "CCC",
	})
}

func newTestRunner(t *testing.T, cfg Config) (*Runner, *test.Hook) {
	t.Helper()
	log, hook := nullLogger()
	cfg.Logger = log
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	if cfg.Muxer == "" {
		cfg.Muxer = fakeMuxer(t)
	}
	return NewRunner(cfg), hook
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func logged(hook *test.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func TestRunMediaPlaylist(t *testing.T) {
	srv := event1(t)
	r, _ := newTestRunner(t, Config{})

	report, err := r.Run(context.Background(), srv.URL+"/courses/Event1/playlist.m3u8", "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Name != "Event1" {
		t.Errorf("name = %q", report.Name)
	}
	if filepath.Base(report.Output) != "Event1_360p.mp4" {
		t.Errorf("output = %s", report.Output)
	}
	b, err := os.ReadFile(report.Output)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "AAABBBCCC" {
		t.Errorf("output = %q", b)
	}
	got := dirNames(t, report.Dir)
	if len(got) != 3 || got[0] != "seg0.ts" || got[2] != "seg2.ts" {
		t.Errorf("segment dir = %v", got)
	}
	if report.Summary != (Summary{Total: 3, Downloaded: 3}) {
		t.Errorf("summary = %+v", report.Summary)
	}
}

func TestRunVariantPlaylist(t *testing.T) {
	srv := newCDN(t, map[string]string{
		"/v/master.m3u8":    ladder,
		"/v/480/index.m3u8": mediaPlaylist("c0.ts", "c1.ts"),
		"/v/480/c0.ts":      "480a",
		"/v/480/c1.ts":      "480b",
	})
	r, _ := newTestRunner(t, Config{Resolution: "500p"})

	report, err := r.Run(context.Background(), srv.URL+"/v/master.m3u8", "Lecture 3: Intro")
	if err != nil {
		t.Fatal(err)
	}
	if report.Stream.Rendition == nil || report.Stream.Rendition.Height != 480 {
		t.Fatalf("rendition = %+v", report.Stream.Rendition)
	}
	if filepath.Base(report.Output) != "Lecture 3_ Intro_500p.mp4" {
		t.Errorf("output = %s", report.Output)
	}
	if b, _ := os.ReadFile(report.Output); string(b) != "480a480b" {
		t.Errorf("output = %q", b)
	}
}

func TestRunIncompleteThenResume(t *testing.T) {
	srv := event1(t)
	srv.fail("/courses/Event1/seg1.ts", http.StatusNotFound)
	r, hook := newTestRunner(t, Config{})
	u := srv.URL + "/courses/Event1/playlist.m3u8"

	report, err := r.Run(context.Background(), u, "Event1")
	var ie *IncompleteError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want IncompleteError", err)
	}
	if len(ie.Failed) != 1 || ie.Failed[0] != "seg1.ts" || ie.Total != 3 {
		t.Errorf("incomplete = %+v", ie)
	}
	if n := errorsFor(hook, "seg1.ts"); n != 1 {
		t.Errorf("logged %d failures for seg1.ts", n)
	}
	if _, err := os.Stat(report.Output); !os.IsNotExist(err) {
		t.Errorf("output exists after a failed fetch: %v", err)
	}
	if got := dirNames(t, report.Dir); len(got) != 2 || got[0] != "seg0.ts" || got[1] != "seg2.ts" {
		t.Errorf("segment dir = %v", got)
	}

	// the segment comes back; only it is requested again
	srv.fail("/courses/Event1/seg1.ts", 0)
	report, err = r.Run(context.Background(), u, "Event1")
	if err != nil {
		t.Fatal(err)
	}
	for path, want := range map[string]int{
		"/courses/Event1/seg0.ts": 1,
		"/courses/Event1/seg1.ts": 2,
		"/courses/Event1/seg2.ts": 1,
	} {
		if n := srv.hitsFor(path); n != want {
			t.Errorf("%s requested %d times, want %d", path, n, want)
		}
	}
	if report.Summary.Skipped != 2 {
		t.Errorf("summary = %+v", report.Summary)
	}
	if b, _ := os.ReadFile(report.Output); string(b) != "AAABBBCCC" {
		t.Errorf("output = %q", b)
	}
}

func TestRunRefetchesDeletedSegment(t *testing.T) {
	srv := event1(t)
	r, _ := newTestRunner(t, Config{})
	u := srv.URL + "/courses/Event1/playlist.m3u8"

	report, err := r.Run(context.Background(), u, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(report.Dir, "seg1.ts")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), u, ""); err != nil {
		t.Fatal(err)
	}
	if srv.hitsFor("/courses/Event1/seg0.ts") != 1 || srv.hitsFor("/courses/Event1/seg1.ts") != 2 {
		t.Errorf("unexpected refetches: seg0=%d seg1=%d",
			srv.hitsFor("/courses/Event1/seg0.ts"), srv.hitsFor("/courses/Event1/seg1.ts"))
	}
}

func TestRunMergeFailureKeepsSegments(t *testing.T) {
	srv := event1(t)
	r, _ := newTestRunner(t, Config{Muxer: brokenMuxer(t), Cleanup: true})

	report, err := r.Run(context.Background(), srv.URL+"/courses/Event1/playlist.m3u8", "")
	var me *MergeError
	if !errors.As(err, &me) {
		t.Fatalf("err = %v, want MergeError", err)
	}
	if got := dirNames(t, report.Dir); len(got) != 3 {
		t.Errorf("segment dir = %v", got)
	}
}

func TestRunToolUnavailable(t *testing.T) {
	srv := event1(t)
	r, _ := newTestRunner(t, Config{Muxer: filepath.Join(t.TempDir(), "missing-ffmpeg")})
	var tue *ToolUnavailableError

	if _, err := r.Run(context.Background(), srv.URL+"/courses/Event1/playlist.m3u8", ""); !errors.As(err, &tue) {
		t.Errorf("run err = %v", err)
	}
	err := r.RunBatch(context.Background(), []Entry{{Title: "a", ManifestURL: srv.URL + "/courses/Event1/playlist.m3u8"}})
	if !errors.As(err, &tue) {
		t.Errorf("batch err = %v", err)
	}
	if srv.totalHits() != 0 {
		t.Errorf("%d requests made without a muxer", srv.totalHits())
	}
}

func TestRunSlugAndCleanup(t *testing.T) {
	srv := event1(t)
	r, _ := newTestRunner(t, Config{Slugify: true, Cleanup: true})

	report, err := r.Run(context.Background(), srv.URL+"/courses/Event1/playlist.m3u8", "Lecture 3: Intro")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(report.Output) != "lecture-3-intro_360p.mp4" {
		t.Errorf("output = %s", report.Output)
	}
	if _, err := os.Stat(report.Dir); !os.IsNotExist(err) {
		t.Errorf("segment dir kept after cleanup: %v", err)
	}
	if _, err := os.Stat(report.Output); err != nil {
		t.Error(err)
	}
}

func TestRunHooks(t *testing.T) {
	srv := event1(t)
	var calls []string
	r, _ := newTestRunner(t, Config{
		BeforeJob: func(name string) { calls = append(calls, "before "+name) },
		AfterJob: func(name string, err error) {
			calls = append(calls, "after "+name)
			if err != nil {
				t.Errorf("after hook got %v", err)
			}
		},
	})
	if _, err := r.Run(context.Background(), srv.URL+"/courses/Event1/playlist.m3u8", "x"); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0] != "before x" || calls[1] != "after x" {
		t.Errorf("calls = %v", calls)
	}
	if done, total := r.Progress(); done != 3 || total != 3 {
		t.Errorf("progress = %d/%d", done, total)
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	srv := event1(t)
	r, hook := newTestRunner(t, Config{})

	err := r.RunBatch(context.Background(), []Entry{
		{Title: "Broken", ManifestURL: srv.URL + "/courses/Missing/playlist.m3u8"},
		{Title: "Event1", ManifestURL: srv.URL + "/courses/Event1/playlist.m3u8"},
	})
	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BatchError", err)
	}
	if be.Total != 2 || len(be.Failed) != 1 || be.Failed[0].Name != "Broken" {
		t.Errorf("batch = %+v", be)
	}
	var fe *FetchError
	if !errors.As(be.Failed[0].Err, &fe) || fe.StatusCode != http.StatusNotFound {
		t.Errorf("failure = %v", be.Failed[0].Err)
	}
	if _, err := os.Stat(filepath.Join(r.cfg.WorkDir, "Event1_360p.mp4")); err != nil {
		t.Errorf("second job did not finish: %v", err)
	}
	if !logged(hook, logrus.InfoLevel, "found 2 playlists") {
		t.Error("playlist count not logged")
	}
}

func TestRunBatchEmpty(t *testing.T) {
	r, hook := newTestRunner(t, Config{})
	if err := r.RunBatch(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if !logged(hook, logrus.InfoLevel, "found 0 playlists") {
		t.Error("empty batch not reported")
	}
}

func TestRunSegmentsDifferingOnlyInQuery(t *testing.T) {
	srv := newCDN(t, map[string]string{
		"/live/playlist.m3u8": mediaPlaylist("seg.ts?n=0", "seg.ts?n=1", "seg.ts?n=2"),
		"/live/seg.ts?n=0":    "AAA",
		"/live/seg.ts?n=1":    "BBB",
		"/live/seg.ts?n=2":    "CCC",
	})
	r, _ := newTestRunner(t, Config{})
	u := srv.URL + "/live/playlist.m3u8"

	report, err := r.Run(context.Background(), u, "")
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(report.Output); string(b) != "AAABBBCCC" {
		t.Errorf("output = %q", b)
	}
	if got := dirNames(t, report.Dir); len(got) != 3 {
		t.Errorf("segment dir = %v", got)
	}

	// the same names come back on a rerun, so nothing is fetched twice
	if _, err := r.Run(context.Background(), u, ""); err != nil {
		t.Fatal(err)
	}
	for _, q := range []string{"0", "1", "2"} {
		if n := srv.hitsFor("/live/seg.ts?n=" + q); n != 1 {
			t.Errorf("seg.ts?n=%s requested %d times", q, n)
		}
	}
}

func TestRunBatchRepeatedTitles(t *testing.T) {
	srv := newCDN(t, map[string]string{
		"/a/playlist.m3u8": mediaPlaylist("seg0.ts"),
		"/a/seg0.ts":       "from a",
		"/b/playlist.m3u8": mediaPlaylist("seg0.ts"),
		"/b/seg0.ts":       "from b",
	})
	r, _ := newTestRunner(t, Config{})

	err := r.RunBatch(context.Background(), []Entry{
		{Title: "(untitled)", ManifestURL: srv.URL + "/a/playlist.m3u8"},
		{Title: "(untitled)", ManifestURL: srv.URL + "/b/playlist.m3u8"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if srv.hitsFor("/b/seg0.ts") != 1 {
		t.Errorf("second job fetched its segment %d times", srv.hitsFor("/b/seg0.ts"))
	}
	for file, want := range map[string]string{
		"(untitled)_360p.mp4":   "from a",
		"(untitled)_2_360p.mp4": "from b",
	} {
		if b, _ := os.ReadFile(filepath.Join(r.cfg.WorkDir, file)); string(b) != want {
			t.Errorf("%s = %q, want %q", file, b, want)
		}
	}
}

func TestJobNamesClaim(t *testing.T) {
	used := make(jobNames)
	for _, c := range []struct{ in, want string }{
		{"Lesson", "Lesson"},
		{"lesson", "lesson_2"},
		{"Lesson_2", "Lesson_2_2"},
		{"Lesson", "Lesson_3"},
	} {
		if got := used.claim(c.in); got != c.want {
			t.Errorf("claim(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRunFile(t *testing.T) {
	srv := newCDN(t, map[string]string{
		"/v/480/index.m3u8": mediaPlaylist("c0.ts", "c1.ts"),
		"/v/480/c0.ts":      "480a",
		"/v/480/c1.ts":      "480b",
	})
	manifest := filepath.Join(t.TempDir(), "course.m3u8")
	if err := os.WriteFile(manifest, []byte(ladder), 0644); err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRunner(t, Config{Resolution: "480p", BaseURL: srv.URL + "/v"})

	report, err := r.RunFile(context.Background(), manifest, "")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(report.Output) != "course_480p.mp4" {
		t.Errorf("output = %s", report.Output)
	}
	// segments of the rendition resolve against the rendition, not the base
	if b, _ := os.ReadFile(report.Output); string(b) != "480a480b" {
		t.Errorf("output = %q", b)
	}
}

func TestRunFileMediaWithBase(t *testing.T) {
	srv := newCDN(t, map[string]string{
		"/cdn/seg0.ts": "AAA",
		"/cdn/seg1.ts": "BBB",
	})
	manifest := filepath.Join(t.TempDir(), "saved.m3u8")
	if err := os.WriteFile(manifest, []byte(mediaPlaylist("seg0.ts", "seg1.ts")), 0644); err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRunner(t, Config{BaseURL: srv.URL + "/cdn"})

	report, err := r.RunFile(context.Background(), manifest, "lesson")
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(report.Output); string(b) != "AAABBB" {
		t.Errorf("output = %q", b)
	}
}

func TestRunFileNeedsBaseForRelativeSegments(t *testing.T) {
	manifest := filepath.Join(t.TempDir(), "saved.m3u8")
	if err := os.WriteFile(manifest, []byte(mediaPlaylist("seg0.ts")), 0644); err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRunner(t, Config{})

	if _, err := r.RunFile(context.Background(), manifest, ""); err == nil {
		t.Fatal("expected an error without a base URL")
	}
	if _, err := r.RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.m3u8"), ""); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestRunBaseOverride(t *testing.T) {
	srv := newCDN(t, map[string]string{
		"/manifests/playlist.m3u8": mediaPlaylist("seg0.ts"),
		"/media/seg0.ts":           "AAA",
	})
	r, _ := newTestRunner(t, Config{BaseURL: srv.URL + "/media/"})

	report, err := r.Run(context.Background(), srv.URL+"/manifests/playlist.m3u8", "x")
	if err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(report.Output); string(b) != "AAA" {
		t.Errorf("output = %q", b)
	}
}
