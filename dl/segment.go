package dl

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/timerzz/hlsdl/pkg/playlist"
)

const (
	StatusFailed = Status(iota - 1)
	StatusPending
	StatusDownloaded
)

type Status int

func (s Status) String() string {
	switch s {
	case StatusFailed:
		return "failed"
	case StatusDownloaded:
		return "downloaded"
	}
	return "pending"
}

// Segment is one media file of the stream. Index is its position in the
// manifest, which is the order it is merged in. Status is written once, by
// the worker that owns the segment.
type Segment struct {
	Index  int
	URI    string
	Name   string
	Status Status
}

// Result is the outcome of one segment. Skipped marks a segment that was
// already on disk.
type Result struct {
	Segment *Segment
	Skipped bool
	Bytes   int64
	Err     error
}

type Summary struct {
	Total      int
	Downloaded int
	Skipped    int
	Failed     int
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
		case r.Skipped:
			s.Skipped++
			s.Downloaded++
		default:
			s.Downloaded++
		}
	}
	return s
}

// NewSegments turns manifest segment URIs into pending segments. Every
// segment gets its own file: URIs that map to the same local name, such as
// ones differing only in their query, are stored as <index>_<name>. Names
// depend on the manifest alone, so a rerun finds the same files.
func NewSegments(uris []string) ([]*Segment, error) {
	segments := make([]*Segment, 0, len(uris))
	count := make(map[string]int, len(uris))
	for i, uri := range uris {
		name, err := playlist.LocalName(uri)
		if err != nil {
			return nil, err
		}
		segments = append(segments, &Segment{Index: i, URI: uri, Name: name})
		count[nameKey(name)]++
	}

	taken := make(map[string]struct{}, len(segments))
	for _, seg := range segments {
		if count[nameKey(seg.Name)] == 1 {
			taken[nameKey(seg.Name)] = struct{}{}
		}
	}
	for _, seg := range segments {
		if count[nameKey(seg.Name)] == 1 {
			continue
		}
		dir, base := filepath.Split(seg.Name)
		name := filepath.Join(dir, fmt.Sprintf("%05d_%s", seg.Index, base))
		for {
			if _, ok := taken[nameKey(name)]; !ok {
				break
			}
			name = filepath.Join(dir, "_"+filepath.Base(name))
		}
		taken[nameKey(name)] = struct{}{}
		seg.Name = name
	}
	return segments, nil
}

// nameKey folds case so names stay distinct on case-insensitive filesystems.
func nameKey(name string) string {
	return strings.ToLower(name)
}
