package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories the harvester
// distinguishes. Components return these to the orchestrator; only the
// orchestrator aggregates them for the caller.
type ErrorKind string

const (
	ErrKindConfig               ErrorKind = "config"
	ErrKindBrowserUnavailable   ErrorKind = "browser_unavailable"
	ErrKindNetworkTransient     ErrorKind = "network_transient"
	ErrKindAntiBot              ErrorKind = "anti_bot"
	ErrKindParse                ErrorKind = "parse"
	ErrKindCacheCorruption      ErrorKind = "cache_corruption"
	ErrKindCheckpointCorruption ErrorKind = "checkpoint_corruption"
	ErrKindCancelled            ErrorKind = "cancelled"
)

// HarvestError carries a kind plus the URL/page it occurred on.
type HarvestError struct {
	Kind ErrorKind `json:"kind"`
	URL  string    `json:"url,omitempty"`
	Page int       `json:"page,omitempty"`
	Err  error     `json:"-"`
}

func (e *HarvestError) Error() string {
	msg := string(e.Kind)
	if e.URL != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.URL)
	}
	if e.Page > 0 {
		msg = fmt.Sprintf("%s page %d", msg, e.Page)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *HarvestError) Unwrap() error { return e.Err }

// NewError wraps a cause with a kind and location.
func NewError(kind ErrorKind, url string, page int, err error) *HarvestError {
	return &HarvestError{Kind: kind, URL: url, Page: page, Err: err}
}

// KindOf extracts the error kind, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Kind
	}
	return ""
}

// IsKind reports whether err is a HarvestError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsFatalForSession reports whether the error aborts the whole run
// rather than only the URL it occurred on.
func IsFatalForSession(err error) bool {
	switch KindOf(err) {
	case ErrKindConfig, ErrKindBrowserUnavailable, ErrKindCancelled:
		return true
	}
	return false
}
