// Package ratelimit implements the hour-windowed call limiter that paces
// AI subprocess invocations (spec.md §4.2).
package ratelimit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// State is the persisted pair (call_count, hour_start).
type State struct {
	CallCount int
	HourStart int64 // epoch seconds, rounded down to the hour
}

// Limiter enforces a hard per-hour cap, persisting its state to a single
// file so it survives process restarts within the same feature directory.
// A golang.org/x/time/rate.Limiter additionally paces the spacing between
// individual calls within a window; the persisted State remains the sole
// source of truth for the hard hourly cap.
type Limiter struct {
	path  string
	limit int
	state State
	pacer *rate.Limiter
}

// New creates a Limiter backed by path, with a hard cap of limit calls per
// hour and a minimum spacing of minInterval between calls.
func New(path string, limit int, minInterval time.Duration) *Limiter {
	l := &Limiter{
		path:  path,
		limit: limit,
		pacer: rate.NewLimiter(rate.Every(minInterval), 1),
	}
	return l
}

// Init sets the in-memory state to a fresh window starting now, without
// touching disk. Callers normally follow Init with Load to pick up any
// persisted state instead.
func (l *Limiter) Init() {
	l.state = State{CallCount: 0, HourStart: currentHour()}
}

// Load reads persisted state from path. A missing file is not an error; it
// leaves the Limiter with a fresh zero state.
func (l *Limiter) Load() error {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		l.Init()
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening rate limiter state: %w", err)
	}
	defer f.Close()

	state := State{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "CALL_COUNT":
			state.CallCount, _ = strconv.Atoi(value)
		case "HOUR_START":
			state.HourStart, _ = strconv.ParseInt(value, 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading rate limiter state: %w", err)
	}

	l.state = state
	return nil
}

// Save persists the current state as two "KEY=value" lines.
func (l *Limiter) Save() error {
	content := fmt.Sprintf("CALL_COUNT=%d\nHOUR_START=%d\n", l.state.CallCount, l.state.HourStart)

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, "rate_limiter.state.tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), l.path)
}

// CheckHourReset resets the call count to zero if the wall-clock hour has
// advanced past the persisted hour_start.
func (l *Limiter) CheckHourReset() {
	now := currentHour()
	if now > l.state.HourStart {
		l.state.HourStart = now
		l.state.CallCount = 0
	}
}

// Check reports whether another call is permitted within the current hour.
func (l *Limiter) Check() bool {
	return l.state.CallCount < l.limit
}

// RecordCall increments the call count and persists the new state. It
// also consumes one token from the inter-call pacer so that the very next
// Wait call blocks for at least the configured spacing.
func (l *Limiter) RecordCall(ctx context.Context) error {
	l.state.CallCount++
	if err := l.Save(); err != nil {
		return err
	}
	return l.pacer.Wait(ctx)
}

// State returns a copy of the current in-memory state, for status reporting.
func (l *Limiter) State() State {
	return l.state
}

// Limit returns the configured hourly cap.
func (l *Limiter) Limit() int {
	return l.limit
}

// ResetsAt returns the wall-clock time at which the current window resets.
func (l *Limiter) ResetsAt() time.Time {
	return time.Unix(l.state.HourStart, 0).Add(time.Hour)
}

// WaitForReset sleeps in 60-second increments until the next hour boundary,
// invoking onTick (if non-nil) with the remaining duration before each
// sleep so the caller can log a countdown. It returns early if ctx is
// canceled.
func (l *Limiter) WaitForReset(ctx context.Context, onTick func(remaining time.Duration)) error {
	for {
		remaining := time.Until(l.ResetsAt())
		if remaining <= 0 {
			l.CheckHourReset()
			return nil
		}

		if onTick != nil {
			onTick(remaining)
		}

		step := remaining
		if step > time.Minute {
			step = time.Minute
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}
}

func currentHour() int64 {
	now := time.Now().Unix()
	return now - (now % 3600)
}
