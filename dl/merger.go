package dl

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Merger concatenates segments into one file with ffmpeg's concat demuxer,
// copying streams without re-encoding.
type Merger struct {
	tool string
	log  *logrus.Logger
}

func NewMerger(tool string, log *logrus.Logger) *Merger {
	if tool == "" {
		tool = DefaultMuxer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Merger{tool: tool, log: log}
}

// Available resolves the muxer binary.
func (m *Merger) Available() (string, error) {
	p, err := exec.LookPath(m.tool)
	if err != nil {
		return "", &ToolUnavailableError{Tool: m.tool, Err: err}
	}
	return p, nil
}

// WriteList writes the concat list. Lines follow segment order, never the
// order segments finished downloading in.
func (m *Merger) WriteList(w io.Writer, segments []*Segment) error {
	bw := bufio.NewWriter(w)
	for _, seg := range segments {
		if _, err := bw.WriteString("file " + quote(filepath.ToSlash(seg.Name)) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// quote applies ffmpeg's quoting: inside single quotes a quote is written as '\''.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Merge writes output from segments found in dir. The concat list is removed
// on every path; segments are never touched.
func (m *Merger) Merge(ctx context.Context, output string, segments []*Segment, dir string) error {
	tool, err := m.Available()
	if err != nil {
		return err
	}

	list := filepath.Join(dir, "concat-"+uuid.NewString()+".txt")
	f, err := os.Create(list)
	if err != nil {
		return errors.Wrap(err, "create concat list")
	}
	defer func() {
		if rerr := os.Remove(list); rerr != nil && !os.IsNotExist(rerr) {
			m.log.Warnf("remove %s: %v", list, rerr)
		}
	}()
	err = m.WriteList(f, segments)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "write concat list")
	}

	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-f", "concat", "-safe", "0",
		"-i", list,
		"-c", "copy",
		output,
	}
	cmd := exec.CommandContext(ctx, tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	m.log.Debugf("executing %s", shellescape.QuoteCommand(append([]string{tool}, args...)))

	m.log.WithField("output", output).Infof("merging %d segments", len(segments))
	if err := cmd.Run(); err != nil {
		merr := &MergeError{Output: output, Stderr: stderr.String(), Err: err}
		m.log.WithField("output", output).Error(merr.Error())
		return merr
	}
	m.log.WithField("output", output).Info("merged")
	return nil
}
