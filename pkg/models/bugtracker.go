package models

import (
	"errors"
	"fmt"
	"strings"
)

// BugTrackerType selects the family of tracker a run reconciles against.
type BugTrackerType string

const (
	BugTrackerNone   BugTrackerType = "NONE"
	BugTrackerJira   BugTrackerType = "JIRA"
	BugTrackerGitHub BugTrackerType = "GITHUB"
	BugTrackerTrello BugTrackerType = "TRELLO"
	BugTrackerEmail  BugTrackerType = "EMAIL"
	BugTrackerCustom BugTrackerType = "CUSTOM"
)

// ErrInvalidBugTracker is returned when CustomBean and Type disagree.
var ErrInvalidBugTracker = errors.New("invalid bug tracker")

// BugTracker is the tracker selection of a run. CustomBean is set if and
// only if Type is CUSTOM.
type BugTracker struct {
	Type       BugTrackerType
	CustomBean string
}

// NewBugTracker builds a BugTracker and enforces the CustomBean invariant.
func NewBugTracker(t BugTrackerType, customBean string) (BugTracker, error) {
	customBean = strings.TrimSpace(customBean)
	if t == BugTrackerCustom && customBean == "" {
		return BugTracker{}, fmt.Errorf("%w: type CUSTOM requires a custom bean name", ErrInvalidBugTracker)
	}
	if t != BugTrackerCustom && customBean != "" {
		return BugTracker{}, fmt.Errorf("%w: custom bean %q given for type %s", ErrInvalidBugTracker, customBean, t)
	}
	return BugTracker{Type: t, CustomBean: customBean}, nil
}

// IsNone reports whether reconciliation is disabled.
func (b BugTracker) IsNone() bool {
	return b.Type == "" || b.Type == BugTrackerNone
}

func (b BugTracker) String() string {
	if b.Type == BugTrackerCustom {
		return fmt.Sprintf("%s(%s)", b.Type, b.CustomBean)
	}
	return string(b.Type)
}

// ParseBugTrackerType parses a built-in tracker type case-insensitively.
func ParseBugTrackerType(s string) (BugTrackerType, bool) {
	switch t := BugTrackerType(strings.ToUpper(strings.TrimSpace(s))); t {
	case BugTrackerNone, BugTrackerJira, BugTrackerGitHub, BugTrackerTrello, BugTrackerEmail, BugTrackerCustom:
		return t, true
	}
	return "", false
}

// ParseBugTracker interprets a routing value such as "JIRA", "CUSTOM:GitHub"
// or a bare bean name ("GitHub") which is treated as a custom bean.
func ParseBugTracker(s string) (BugTracker, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BugTracker{}, fmt.Errorf("%w: empty value", ErrInvalidBugTracker)
	}
	if kind, bean, ok := strings.Cut(s, ":"); ok {
		t, known := ParseBugTrackerType(kind)
		if !known || t != BugTrackerCustom {
			return BugTracker{}, fmt.Errorf("%w: %q", ErrInvalidBugTracker, s)
		}
		return NewBugTracker(BugTrackerCustom, bean)
	}
	if t, ok := ParseBugTrackerType(s); ok {
		return NewBugTracker(t, "")
	}
	return NewBugTracker(BugTrackerCustom, s)
}

// BeanName returns the registry name of the tracker implementation serving
// this selection. It is empty when no tracker is involved.
func (b BugTracker) BeanName() string {
	switch b.Type {
	case BugTrackerJira:
		return "Jira"
	case BugTrackerGitHub:
		return "GitHub"
	case BugTrackerTrello:
		return "Trello"
	case BugTrackerCustom:
		return b.CustomBean
	default:
		return ""
	}
}
