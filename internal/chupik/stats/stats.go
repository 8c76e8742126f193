// Package stats counts messages per conversation and per sender for the
// current day.
package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SnapshotName is the name of the persisted statistics document.
const SnapshotName = "stats"

// Day is the tally of one conversation for one calendar date.
type Day struct {
	Date     string         `json:"date"`
	Total    int            `json:"total"`
	BySender map[string]int `json:"by_sender"`
}

// Sender is one row of Day.Top.
type Sender struct {
	ID    string
	Count int
}

// Top returns the n most active senders, ties broken by id.
func (d Day) Top(n int) []Sender {
	out := make([]Sender, 0, len(d.BySender))
	for id, c := range d.BySender {
		out = append(out, Sender{ID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ID < out[j].ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// Saver persists a named document.
type Saver interface {
	Save(ctx context.Context, name string, v any) error
}

// Tracker accumulates daily counts. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	days  map[string]*Day
	saver Saver
}

// NewTracker creates an empty Tracker. saver may be nil.
func NewTracker(saver Saver) *Tracker {
	return &Tracker{days: make(map[string]*Day), saver: saver}
}

// Restore replaces all tallies with a persisted document.
func (t *Tracker) Restore(doc map[string]Day) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.days = make(map[string]*Day, len(doc))
	for id, d := range doc {
		if d.BySender == nil {
			d.BySender = make(map[string]int)
		}
		t.days[id] = &d
	}
}

// Record counts one message. A tally left over from an earlier date is
// restarted, so a missed reset never mixes two days.
func (t *Tracker) Record(ctx context.Context, conversationID, senderID string, now time.Time) {
	date := now.Format(time.DateOnly)

	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.days[conversationID]
	if d == nil || d.Date != date {
		d = &Day{Date: date, BySender: make(map[string]int)}
		t.days[conversationID] = d
	}
	d.Total++
	d.BySender[senderID]++
	t.persistLocked(ctx)
}

// Today returns a copy of the conversation's tally for now's date.
func (t *Tracker) Today(conversationID string, now time.Time) Day {
	date := now.Format(time.DateOnly)

	t.mu.Lock()
	defer t.mu.Unlock()

	d := t.days[conversationID]
	if d == nil || d.Date != date {
		return Day{Date: date, BySender: map[string]int{}}
	}
	return copyDay(d)
}

// Reset drops every tally. It returns how many conversations were cleared.
func (t *Tracker) Reset(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.days)
	t.days = make(map[string]*Day)
	t.persistLocked(ctx)
	return n
}

func (t *Tracker) persistLocked(ctx context.Context) {
	if t.saver == nil {
		return
	}
	doc := make(map[string]Day, len(t.days))
	for id, d := range t.days {
		doc[id] = copyDay(d)
	}
	if err := t.saver.Save(ctx, SnapshotName, doc); err != nil {
		slog.Warn("stats: failed to persist snapshot", "err", err)
	}
}

func copyDay(d *Day) Day {
	out := Day{Date: d.Date, Total: d.Total, BySender: make(map[string]int, len(d.BySender))}
	for k, v := range d.BySender {
		out.BySender[k] = v
	}
	return out
}
