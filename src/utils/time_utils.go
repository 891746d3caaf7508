package utils

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HourWindow is a daily [Start, End) range of wall-clock hours. The zero
// value is disabled and contains every instant. Start > End wraps midnight.
type HourWindow struct {
	Start   int
	End     int
	enabled bool
}

// ParseHourWindow parses "3-20". An empty string disables the window.
func ParseHourWindow(s string) (HourWindow, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return HourWindow{}, nil
	}

	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return HourWindow{}, fmt.Errorf("invalid hour window %q, expected <start>-<end>", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return HourWindow{}, fmt.Errorf("invalid hour window start %q: %w", parts[0], err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return HourWindow{}, fmt.Errorf("invalid hour window end %q: %w", parts[1], err)
	}
	if start < 0 || start > 23 || end < 0 || end > 24 || start == end {
		return HourWindow{}, fmt.Errorf("invalid hour window %q", s)
	}
	return HourWindow{Start: start, End: end, enabled: true}, nil
}

func (w HourWindow) Enabled() bool { return w.enabled }

// Contains reports whether t falls inside the window, in t's location.
func (w HourWindow) Contains(t time.Time) bool {
	if !w.enabled {
		return true
	}
	h := t.Hour()
	if w.Start < w.End {
		return h >= w.Start && h < w.End
	}
	return h >= w.Start || h < w.End
}

func (w HourWindow) String() string {
	if !w.enabled {
		return "always"
	}
	return fmt.Sprintf("%02d:00-%02d:00", w.Start, w.End)
}

// FromEpochMillis converts exchange millisecond timestamps. Zero stays zero.
func FromEpochMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func ToEpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
