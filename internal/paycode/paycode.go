// Package paycode issues human-readable payment codes of the form
// PD-YYMMDD-NNNNNNN from a per-day counter.
package paycode

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-faster/errors"
)

const (
	prefix    = "PD"
	dayLayout = "060102"
	maxValue  = 9_999_999
)

// ErrSequenceExhausted is returned when a day's counter passes seven digits.
var ErrSequenceExhausted = errors.New("daily payment code sequence exhausted")

var codePattern = regexp.MustCompile(`^PD-(\d{6})-(\d{7})$`)

// Sequencer hands out the next value of a day's counter. Implementations
// must never return the same value twice for one day, including under
// concurrent callers.
type Sequencer interface {
	Next(ctx context.Context, dayKey string) (int64, error)
}

// Generator formats sequence values into payment codes.
type Generator struct {
	seq Sequencer
	loc *time.Location
	now func() time.Time
}

// NewGenerator creates a Generator whose day boundaries follow loc.
func NewGenerator(seq Sequencer, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{seq: seq, loc: loc, now: time.Now}
}

// Generate returns the next payment code for the current business day.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	day := DayKey(g.now(), g.loc)

	n, err := g.seq.Next(ctx, day)
	if err != nil {
		return "", errors.Wrapf(err, "next sequence for %s", day)
	}
	if n < 1 || n > maxValue {
		return "", errors.Wrapf(ErrSequenceExhausted, "day %s value %d", day, n)
	}
	return Format(day, n), nil
}

// DayKey returns the YYMMDD key of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dayLayout)
}

// Format renders a code from its day key and sequence value.
func Format(dayKey string, n int64) string {
	return fmt.Sprintf("%s-%s-%07d", prefix, dayKey, n)
}

// Parse splits a code into its day key and sequence value.
func Parse(code string) (dayKey string, n int64, err error) {
	m := codePattern.FindStringSubmatch(code)
	if m == nil {
		return "", 0, errors.Errorf("malformed payment code %q", code)
	}
	n, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return "", 0, errors.Wrap(err, "parse sequence")
	}
	return m[1], n, nil
}
