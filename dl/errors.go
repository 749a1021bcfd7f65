package dl

import (
	"fmt"
	"strings"
)

// FetchError is a transport failure or a non-200 answer for a manifest or a
// segment.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type NoMatchingRenditionError struct {
	Target string
}

func (e *NoMatchingRenditionError) Error() string {
	return fmt.Sprintf("no rendition with a known resolution to match %s", e.Target)
}

// ToolUnavailableError means the muxer cannot be found. No job can finish
// without it, so it aborts the whole run.
type ToolUnavailableError struct {
	Tool string
	Err  error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("%s not found in PATH (install it from https://ffmpeg.org/download.html or pass its full path): %v", e.Tool, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error {
	return e.Err
}

// MergeError is a non-zero exit of the muxer. Fetched segments are left in
// place so a rerun can resume.
type MergeError struct {
	Output string
	Stderr string
	Err    error
}

func (e *MergeError) Error() string {
	msg := fmt.Sprintf("merge into %s: %v", e.Output, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// IncompleteError stops a job from merging while some segments are missing.
type IncompleteError struct {
	Failed []string
	Total  int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%d of %d segments failed, not merging (rerun to resume)", len(e.Failed), e.Total)
}

type JobFailure struct {
	Name string
	Err  error
}

type BatchError struct {
	Failed []JobFailure
	Total  int
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of %d jobs failed", len(e.Failed), e.Total)
}
