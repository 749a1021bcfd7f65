package dl

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// cdn serves fixed bodies by path, or by path and query, and counts every
// request.
type cdn struct {
	*httptest.Server

	mu     sync.Mutex
	files  map[string]string
	status map[string]int
	delay  map[string]time.Duration
	hits   map[string]int

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func newCDN(t *testing.T, files map[string]string) *cdn {
	t.Helper()
	c := &cdn{
		files:  files,
		status: make(map[string]int),
		delay:  make(map[string]time.Duration),
		hits:   make(map[string]int),
	}
	c.Server = httptest.NewServer(http.HandlerFunc(c.serve))
	t.Cleanup(c.Close)
	return c
}

func (c *cdn) serve(w http.ResponseWriter, r *http.Request) {
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		m := c.maxInflight.Load()
		if n <= m || c.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	c.mu.Lock()
	// a path with its query wins over the bare path
	key := r.URL.Path
	if _, ok := c.files[r.URL.RequestURI()]; ok {
		key = r.URL.RequestURI()
	}
	c.hits[key]++
	body, ok := c.files[key]
	code := c.status[key]
	d := c.delay[key]
	c.mu.Unlock()

	if d > 0 {
		time.Sleep(d)
	}
	if code != 0 {
		http.Error(w, http.StatusText(code), code)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(body))
}

func (c *cdn) fail(path string, code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[path] = code
}

func (c *cdn) slow(path string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay[path] = d
}

func (c *cdn) hitsFor(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[path]
}

func (c *cdn) totalHits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, h := range c.hits {
		n += h
	}
	return n
}

func mediaPlaylist(segments ...string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, s := range segments {
		b.WriteString("#EXTINF:10.0,\n" + s + "\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func nullLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

// errorsFor counts error entries logged for a segment.
func errorsFor(hook *test.Hook, segment string) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["segment"] == segment {
			n++
		}
	}
	return n
}

// fakeMuxer installs a stand-in for ffmpeg that concatenates the files of a
// concat list into the last argument.
func fakeMuxer(t *testing.T) string {
	t.Helper()
	return writeScript(t, "fake-ffmpeg", `#!/bin/sh
list=""
out=""
while [ $# -gt 0 ]; do
	if [ "$1" = "-i" ]; then
		list="$2"
		shift
	fi
	out="$1"
	shift
done
dir=$(dirname "$list")
: > "$out" || exit 1
sed -n "s/^file '\(.*\)'\$/\1/p" "$list" | while IFS= read -r f; do
	cat "$dir/$f" >> "$out" || exit 1
done
`)
}

func brokenMuxer(t *testing.T) string {
	t.Helper()
	return writeScript(t, "broken-ffmpeg", "#!/bin/sh\necho 'invalid data found' >&2\nexit 3\n")
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell muxer stand-in needs a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
	return p
}
