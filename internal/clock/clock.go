// Package clock provides timezone-aware time access and the ID-format
// timestamp encoding shared by every vault entity.
//
// A module-level mutable default timezone in the original system becomes an
// explicit Clock value here: callers construct one Clock (or use Default())
// and thread it through every component constructor instead of mutating
// process-global state.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimezone is used when no configuration overrides it.
const DefaultTimezone = "Europe/Brussels"

// idFormat is the layout used to render and parse the <yyyymmdd>-<hhmm>
// segment of an entity id.
const idFormat = "20060102-1504"

// Clock is an explicit, constructible source of "now" bound to one IANA
// timezone. It never reads or writes process-global state.
type Clock struct {
	loc *time.Location
	tz  string
}

// New constructs a Clock for the given IANA timezone name. An empty or
// unrecognized name falls back to DefaultTimezone; the returned bool
// reports whether the requested zone was honored.
func New(tz string) (*Clock, bool) {
	if strings.TrimSpace(tz) == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(DefaultTimezone)
		if loc == nil {
			loc = time.UTC
		}
		return &Clock{loc: loc, tz: DefaultTimezone}, false
	}
	return &Clock{loc: loc, tz: tz}, true
}

// Default returns a Clock bound to DefaultTimezone.
func Default() *Clock {
	c, _ := New(DefaultTimezone)
	return c
}

// Timezone reports the IANA zone name this clock resolved to.
func (c *Clock) Timezone() string { return c.tz }

// Now returns the current instant in this clock's timezone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// In converts t into this clock's timezone, preserving the instant.
func (c *Clock) In(t time.Time) time.Time {
	return t.In(c.loc)
}

// FormatForID renders t (defaulting to Now()) as the "<yyyymmdd>-<hhmm>"
// segment used by entity ids, in this clock's timezone.
func (c *Clock) FormatForID(t ...time.Time) string {
	var at time.Time
	if len(t) > 0 {
		at = t[0]
	} else {
		at = c.Now()
	}
	return c.In(at).Format(idFormat)
}

// ParseID parses the "<yyyymmdd>-<hhmm>" id segment back into a time.Time.
// The segment carries no zone, so the result is that wall-clock reading in
// UTC.
func ParseID(s string) (time.Time, error) {
	return time.Parse(idFormat, s)
}

// FormatISO renders t as RFC3339 with second precision, the canonical
// on-disk and wire representation for created_ts/updated_ts/done_ts.
func FormatISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseISO parses an ISO-8601 / RFC3339 instant, tolerating a bare
// "<yyyymmdd>-<hhmm>" id-format string as a convenience for CLI input.
func ParseISO(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := ParseID(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("clock: cannot parse %q as ISO-8601 or id-format timestamp", s)
}

// Slugify lowercases and hyphenates free text for use in the <slug> segment
// of an entity id, trimming to a conservative length.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if len(out) > 40 {
		out = out[:40]
	}
	if out == "" {
		out = "entry"
	}
	return out
}

// NewEntityID builds a "<type>-<yyyymmdd>-<hhmm>-<slug>" id. A numeric
// suffix is appended by the caller (the host API, via Disambiguate) when a
// collision is detected, since this function alone cannot guarantee vault-wide
// uniqueness.
func (c *Clock) NewEntityID(entityType, title string) string {
	return fmt.Sprintf("%s-%s-%s", entityType, c.FormatForID(), Slugify(title))
}

// Disambiguate appends a numeric suffix to an id that collided with an
// existing one.
func Disambiguate(id string, attempt int) string {
	if attempt <= 0 {
		return id
	}
	return id + "-" + strconv.Itoa(attempt+1)
}
