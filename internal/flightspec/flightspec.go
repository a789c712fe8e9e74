// Package flightspec extracts normalized flight designators and optional instants from free text
package flightspec

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// InstantLayout is the textual form of an instant in a FlightSpec string
const InstantLayout = "2006-01-02T15:04:05"

var ErrInvalidSpec = errors.New("invalid flight spec")

const designator = `(\b[A-Za-z]{2,3}[\s-]?\d{1,4}\b|\b\d{3,4}\b)`

var (
	// FLIGHT@2026-01-03, FLIGHT@2026-01-03T14:30, FLIGHT@2026-01-03T14:30:00
	isoPattern = regexp.MustCompile(designator + `@(\d{4}-\d{2}-\d{2}(?:T\d{2}:\d{2}(?::\d{2})?)?)`)
	// FLIGHT 03/01/26, FLIGHT 03/01/2026 14:50
	datePattern = regexp.MustCompile(designator + `[ \t]+(\d{1,2})/(\d{1,2})/(\d{4}|\d{2})\b(?:[ \t]+(\d{1,2}):(\d{2})\b)?`)
	// FLIGHT 14:50
	timePattern = regexp.MustCompile(designator + `[ \t]+(\d{1,2}):(\d{2})\b`)
	barePattern = regexp.MustCompile(designator)
	// a date right after a time-only match means the mention is not form 3
	trailingDate = regexp.MustCompile(`^[ \t]+\d{1,2}/\d{1,2}/\d{2,4}`)

	normalizedPattern = regexp.MustCompile(`^[A-Z0-9]+$`)
)

// FlightSpec is a normalized flight designator with an optional instant.
// A zero Instant means no instant was given.
type FlightSpec struct {
	FlightNumber string
	Instant      time.Time
}

// HasInstant reports whether s refers to a specific flight instance
func (s FlightSpec) HasInstant() bool {
	return !s.Instant.IsZero()
}

// Equal reports whether both the flight number and the instant match
func (s FlightSpec) Equal(o FlightSpec) bool {
	return s.FlightNumber == o.FlightNumber && s.Instant.Equal(o.Instant)
}

func (s FlightSpec) String() string {
	if s.HasInstant() {
		return s.FlightNumber + "@" + s.Instant.Format(InstantLayout)
	}
	return s.FlightNumber
}

// Parser extracts FlightSpecs from text. The clock is only consulted for mentions that
// carry a time of day without a date.
type Parser struct {
	now func() time.Time
}

// NewParser returns a Parser using now for "today"; nil means time.Now
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

type span struct {
	start, end int
	spec       FlightSpec
}

func (s span) overlaps(start, end int) bool {
	return start < s.end && s.start < end
}

// Parse returns one FlightSpec per recognized mention, in text order. Duplicates are kept.
func (p *Parser) Parse(text string) []FlightSpec {
	var accepted []span

	accept := func(re *regexp.Regexp, build func(text string, m []int) FlightSpec) {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if re == timePattern && trailingDate.MatchString(text[end:]) {
				continue
			}
			clash := false
			for _, a := range accepted {
				if a.overlaps(start, end) {
					clash = true
					break
				}
			}
			if clash {
				continue
			}
			accepted = append(accepted, span{start: start, end: end, spec: build(text, m)})
		}
	}

	accept(isoPattern, p.fromISO)
	accept(datePattern, p.fromDate)
	accept(timePattern, p.fromTime)
	accept(barePattern, func(text string, m []int) FlightSpec {
		return FlightSpec{FlightNumber: normalize(text[m[2]:m[3]])}
	})

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })

	specs := make([]FlightSpec, 0, len(accepted))
	for _, a := range accepted {
		specs = append(specs, a.spec)
	}
	return specs
}

// First returns the first mention in text, if any
func (p *Parser) First(text string) (FlightSpec, bool) {
	specs := p.Parse(text)
	if len(specs) == 0 {
		return FlightSpec{}, false
	}
	return specs[0], true
}

func (p *Parser) fromISO(text string, m []int) FlightSpec {
	spec := FlightSpec{FlightNumber: normalize(text[m[2]:m[3]])}
	if t, err := parseISO(text[m[4]:m[5]], p.now().Location()); err == nil {
		spec.Instant = t
	}
	return spec
}

func (p *Parser) fromDate(text string, m []int) FlightSpec {
	spec := FlightSpec{FlightNumber: normalize(text[m[2]:m[3]])}
	day := atoi(text[m[4]:m[5]])
	month := atoi(text[m[6]:m[7]])
	yearText := text[m[8]:m[9]]
	year := atoi(yearText)
	if len(yearText) == 2 {
		year += 2000
	}
	hour, minute := 0, 0
	if m[10] >= 0 {
		hour, minute = atoi(text[m[10]:m[11]]), atoi(text[m[12]:m[13]])
	}
	if t, ok := buildInstant(year, month, day, hour, minute, p.now().Location()); ok {
		spec.Instant = t
	}
	return spec
}

func (p *Parser) fromTime(text string, m []int) FlightSpec {
	spec := FlightSpec{FlightNumber: normalize(text[m[2]:m[3]])}
	now := p.now()
	y, mo, d := now.Date()
	hour, minute := atoi(text[m[4]:m[5]]), atoi(text[m[6]:m[7]])
	if t, ok := buildInstant(y, int(mo), d, hour, minute, now.Location()); ok {
		spec.Instant = t
	}
	return spec
}

// ParseSpec parses the String form of a FlightSpec back into a value
func ParseSpec(s string, loc *time.Location) (FlightSpec, error) {
	if loc == nil {
		loc = time.Local
	}
	number, instant, hasInstant := strings.Cut(s, "@")
	spec := FlightSpec{FlightNumber: normalize(number)}
	if !normalizedPattern.MatchString(spec.FlightNumber) {
		return FlightSpec{}, fmt.Errorf("%w: %q", ErrInvalidSpec, s)
	}
	if hasInstant {
		t, err := parseISO(instant, loc)
		if err != nil {
			return FlightSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, s, err)
		}
		spec.Instant = t
	}
	return spec, nil
}

func parseISO(s string, loc *time.Location) (time.Time, error) {
	layout := "2006-01-02"
	if strings.Contains(s, "T") {
		layout = "2006-01-02T15:04"
		if strings.Count(s, ":") == 2 {
			layout = InstantLayout
		}
	}
	return time.ParseInLocation(layout, s, loc)
}

// buildInstant rejects values that time.Date would silently normalize, such as 31/02
func buildInstant(year, month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func normalize(designator string) string {
	var b strings.Builder
	for _, r := range designator {
		switch {
		case r == '-', r == ' ', r == '\t', r == '\n', r == '\r', r == '\v', r == '\f':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return strings.ToUpper(b.String())
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
