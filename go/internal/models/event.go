package models

import "time"

// RoomDateLayout formats the calendar date that partitions rooms (MM-DD-YYYY).
const RoomDateLayout = "01-02-2006"

// CalendarEvent is a scheduled viewing. Date is when it starts.
type CalendarEvent struct {
	ID          string    `json:"id" yaml:"id"`
	Title       string    `json:"title" yaml:"title"`
	Date        time.Time `json:"date" yaml:"date"`
	End         time.Time `json:"end" yaml:"end"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
}

// Contains reports whether t falls within [Date, End].
func (e CalendarEvent) Contains(t time.Time) bool {
	return !t.Before(e.Date) && !t.After(e.End)
}

// DateString is the room partition key for the event. Every participant
// must use the same location or they address different rooms.
func (e CalendarEvent) DateString(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return e.Date.In(loc).Format(RoomDateLayout)
}

// Elapsed is the playback offset at now, in seconds, never negative.
func (e CalendarEvent) Elapsed(now time.Time) float64 {
	d := now.Sub(e.Date).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
