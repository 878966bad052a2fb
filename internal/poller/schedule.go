package poller

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is the pause between iterations when none is configured.
const DefaultInterval = 600 * time.Second

// Schedule returns the next activation strictly after t.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Interval activates a fixed duration after the previous iteration ended.
type Interval time.Duration

func (d Interval) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a normalized schedule string.
//
// Supported forms:
//   - Interval duration: "600s", "10m"
//   - Interval HH:MM: "00:10" (10 minutes), "01:30"
//   - Cron: "*/10 * * * *", "@hourly", "@every 10m"
//
// The prefixes "cron:" and "interval:" force a form.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

func (p ParsedSpec) String() string {
	if p.Kind == SpecCron {
		return "cron " + p.Cron
	}
	return "every " + p.Every.String()
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule builds the runnable schedule. Cron expressions are evaluated in
// loc (UTC when nil).
func (p ParsedSpec) Schedule(loc *time.Location) (Schedule, error) {
	switch p.Kind {
	case SpecInterval:
		return Interval(p.Every), nil
	case SpecCron:
		cs, err := cronParser.Parse(p.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid cron %q: %w", p.Cron, err)
		}
		if loc == nil {
			loc = time.UTC
		}
		return cronSchedule{s: cs, loc: loc}, nil
	default:
		return nil, fmt.Errorf("unsupported schedule kind")
	}
}

type cronSchedule struct {
	s   cron.Schedule
	loc *time.Location
}

func (c cronSchedule) Next(t time.Time) time.Time { return c.s.Next(t.In(c.loc)) }

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule parses raw; an empty string means DefaultInterval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{Kind: SpecInterval, Every: DefaultInterval, Source: "duration"}, nil
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	}
	if strings.HasPrefix(low, "interval:") {
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	}

	// whitespace or a leading '@' means cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if ps, err := parseInterval(s); err == nil {
		return ps, nil
	}
	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use a duration like '10m', HH:MM like '00:10', or cron like '*/10 * * * *')",
		raw,
	)
}

func parseCron(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron schedule required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func parseInterval(v string) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or a Go duration like '10m')", v)
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}
