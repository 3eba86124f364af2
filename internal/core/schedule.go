package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
)

// ErrInvalidDefinition is returned when a definition has no usable schedule.
var ErrInvalidDefinition = errors.New("invalid cron definition")

// Schedule is a resolved job schedule: a recurring cron expression or a
// single point in time.
type Schedule struct {
	Cron string
	At   time.Time
}

// IsOnce reports whether the schedule fires a single time.
func (s Schedule) IsOnce() bool {
	return s.Cron == "" && !s.At.IsZero()
}

func (s Schedule) String() string {
	if s.IsOnce() {
		return s.At.Format(time.RFC3339)
	}
	return s.Cron
}

// Instant is the value of a definition's "on" attribute. It accepts a date
// string in any common layout or a number of milliseconds since the epoch.
type Instant struct {
	raw json.RawMessage
}

// NewInstant returns an Instant for t.
func NewInstant(t time.Time) *Instant {
	return &Instant{raw: json.RawMessage(strconv.Quote(t.Format(time.RFC3339Nano)))}
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	i.raw = append(i.raw[:0], data...)
	return nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	if len(i.raw) == 0 {
		return []byte("null"), nil
	}
	return i.raw, nil
}

// IsZero reports whether the instant is unset: missing, null, false, an
// empty string or the number zero. Such a value does not count as a
// one-shot schedule.
func (i *Instant) IsZero() bool {
	if i == nil {
		return true
	}
	raw := bytes.TrimSpace(i.raw)
	switch string(raw) {
	case "", "null", "false", `""`:
		return true
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil && f == 0 {
		return true
	}
	return false
}

// Time resolves the instant to an absolute time.
func (i *Instant) Time() (time.Time, error) {
	raw := bytes.TrimSpace(i.raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, errors.New("empty time")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		if s == "" {
			return time.Time{}, errors.New("empty time")
		}
		return dateparse.ParseAny(s)
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(raw), 64)
		if ferr != nil {
			return time.Time{}, fmt.Errorf("unsupported time value %s", raw)
		}
		ms = int64(f)
	}
	return time.UnixMilli(ms), nil
}

// Schedule resolves the definition's schedule.
func (d *Definition) Schedule() (Schedule, error) {
	if d == nil {
		return Schedule{}, fmt.Errorf("%w: empty definition", ErrInvalidDefinition)
	}
	hasOn := !d.On.IsZero()
	switch {
	case hasOn && d.Cron != "":
		return Schedule{}, fmt.Errorf(`%w: "on" and "cron" are mutually exclusive`, ErrInvalidDefinition)
	case hasOn:
		at, err := d.On.Time()
		if err != nil {
			return Schedule{}, fmt.Errorf(`%w: "on": %v`, ErrInvalidDefinition, err)
		}
		return Schedule{At: at}, nil
	case d.Cron != "":
		return Schedule{Cron: d.Cron}, nil
	default:
		return Schedule{}, fmt.Errorf(`%w: either "on" or "cron" attribute is required`, ErrInvalidDefinition)
	}
}
