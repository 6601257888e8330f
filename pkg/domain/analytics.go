package domain

import (
	"time"
)

// CountersID is the key of the single analytics record.
const CountersID = "stats"

// DayLayout formats per-day counter keys in local time.
const DayLayout = "2006-01-02"

type EventKind string

const (
	EventCreated EventKind = "created"
	EventViewed  EventKind = "viewed"
	EventCopied  EventKind = "copied"
	EventShared  EventKind = "shared"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventCreated, EventViewed, EventCopied, EventShared:
		return true
	}
	return false
}

// ParseTrackEvent maps the client-reported eventType of POST /paste/{id}.
func ParseTrackEvent(s string) (EventKind, bool) {
	switch s {
	case "copy":
		return EventCopied, true
	case "share":
		return EventShared, true
	}
	return "", false
}

// EventPayload carries the optional context of a recorded event.
type EventPayload struct {
	Address       string
	PasteID       string
	ContentLength int
}

// Event is the form published to the message bus. Addresses are not included.
type Event struct {
	Kind          EventKind `json:"kind"`
	PasteID       string    `json:"pasteId,omitempty"`
	ContentLength int       `json:"contentLength,omitempty"`
	At            time.Time `json:"at"`
}

type Counters struct {
	ID             string           `json:"-" bson:"_id"`
	TotalPastes    int64            `json:"totalPastes" bson:"totalPastes"`
	TotalViews     int64            `json:"totalViews" bson:"totalViews"`
	TotalCopies    int64            `json:"totalCopies" bson:"totalCopies"`
	TotalShares    int64            `json:"totalShares" bson:"totalShares"`
	PastesByDay    map[string]int64 `json:"pastesByDay" bson:"pastesByDay"`
	ViewsByDay     map[string]int64 `json:"viewsByDay" bson:"viewsByDay"`
	CopiesByDay    map[string]int64 `json:"copiesByDay" bson:"copiesByDay"`
	SharesByDay    map[string]int64 `json:"sharesByDay" bson:"sharesByDay"`
	ActiveIPs      int              `json:"activeIPs" bson:"activeIPs"`
	AvgPasteLength float64          `json:"avgPasteLength" bson:"avgPasteLength"`
	LastUpdated    time.Time        `json:"lastUpdated" bson:"lastUpdated"`
}

func NewCounters(now time.Time) *Counters {
	c := &Counters{ID: CountersID, LastUpdated: now}
	c.Normalize()
	return c
}

// Normalize fills in maps a decoder may have left nil.
func (c *Counters) Normalize() {
	c.ID = CountersID
	if c.PastesByDay == nil {
		c.PastesByDay = map[string]int64{}
	}
	if c.ViewsByDay == nil {
		c.ViewsByDay = map[string]int64{}
	}
	if c.CopiesByDay == nil {
		c.CopiesByDay = map[string]int64{}
	}
	if c.SharesByDay == nil {
		c.SharesByDay = map[string]int64{}
	}
}
func DayKey(t time.Time) string {
	return t.Local().Format(DayLayout)
}

// Apply folds one event into the counters. The running mean only moves for
// created events that carry a positive length, and uses the post-increment
// total as its divisor.
func (c *Counters) Apply(kind EventKind, p EventPayload, now time.Time) {
	c.Normalize()
	day := DayKey(now)
	switch kind {
	case EventCreated:
		c.TotalPastes++
		c.PastesByDay[day]++
		if p.ContentLength > 0 {
			n := float64(c.TotalPastes)
			c.AvgPasteLength = (c.AvgPasteLength*(n-1) + float64(p.ContentLength)) / n
		}
	case EventViewed:
		c.TotalViews++
		c.ViewsByDay[day]++
	case EventCopied:
		c.TotalCopies++
		c.CopiesByDay[day]++
	case EventShared:
		c.TotalShares++
		c.SharesByDay[day]++
	}
	c.LastUpdated = now
}
