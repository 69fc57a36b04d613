package models

import (
	"time"

	"github.com/mcdev12/watchparty/go/internal/syncstore"
)

// Field names shared by the room documents.
const (
	FieldHostID            = "hostId"
	FieldTimestamp         = "timestamp"
	FieldLastActive        = "lastActive"
	FieldStatus            = "status"
	FieldIsPlaying         = "isPlaying"
	FieldUpdatedAt         = "updatedAt"
	FieldCurrentPosition   = "currentPosition"
	FieldActiveViewerCount = "activeViewerCount"
	FieldLastUpdated       = "lastUpdated"
	FieldCurrentUsers      = "currentUsers"
	FieldCurrentHost       = "currentHost"
	FieldLastHostChange    = "lastHostChange"
	FieldUserID            = "userId"
	FieldLastSeen          = "lastSeen"
	FieldIsHost            = "isHost"
	FieldJoined            = "joined"
	FieldFirstJoined       = "firstJoined"
	FieldWatchTime         = "watchTime"

	StatusActive = "active"
)

// HostRecord names the session authoritative for timing and play state.
// An empty HostID means the room has no host.
type HostRecord struct {
	HostID     string    `json:"hostId"`
	Timestamp  time.Time `json:"timestamp"`
	LastActive time.Time `json:"lastActive"`
	Status     string    `json:"status,omitempty"`
}

func HostFromData(d syncstore.Data) HostRecord {
	ts, _ := d.Time(FieldTimestamp)
	la, _ := d.Time(FieldLastActive)
	return HostRecord{
		HostID:     d.String(FieldHostID),
		Timestamp:  ts,
		LastActive: la,
		Status:     d.String(FieldStatus),
	}
}

type PlayStateRecord struct {
	IsPlaying bool      `json:"isPlaying"`
	Timestamp float64   `json:"timestamp"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func PlayStateFromData(d syncstore.Data) PlayStateRecord {
	at, _ := d.Time(FieldUpdatedAt)
	return PlayStateRecord{
		IsPlaying: d.Bool(FieldIsPlaying),
		Timestamp: d.Float(FieldTimestamp),
		UpdatedAt: at,
	}
}

type TimingRecord struct {
	Timestamp       float64   `json:"timestamp"`
	UpdatedAt       time.Time `json:"updatedAt"`
	CurrentPosition float64   `json:"currentPosition"`
}

func TimingFromData(d syncstore.Data) TimingRecord {
	at, _ := d.Time(FieldUpdatedAt)
	return TimingRecord{
		Timestamp:       d.Float(FieldTimestamp),
		UpdatedAt:       at,
		CurrentPosition: d.Float(FieldCurrentPosition),
	}
}

type PresenceRecord struct {
	ActiveViewerCount int       `json:"activeViewerCount"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

func PresenceFromData(d syncstore.Data) PresenceRecord {
	at, _ := d.Time(FieldLastUpdated)
	return PresenceRecord{
		ActiveViewerCount: int(d.Float(FieldActiveViewerCount)),
		LastUpdated:       at,
	}
}

type StateRecord struct {
	CurrentUsers   []string  `json:"currentUsers"`
	CurrentHost    string    `json:"currentHost,omitempty"`
	LastHostChange time.Time `json:"lastHostChange"`
	LastUpdated    time.Time `json:"lastUpdated"`
	Status         string    `json:"status,omitempty"`
}

func StateFromData(d syncstore.Data) StateRecord {
	changed, _ := d.Time(FieldLastHostChange)
	updated, _ := d.Time(FieldLastUpdated)
	return StateRecord{
		CurrentUsers:   d.Strings(FieldCurrentUsers),
		CurrentHost:    d.String(FieldCurrentHost),
		LastHostChange: changed,
		LastUpdated:    updated,
		Status:         d.String(FieldStatus),
	}
}

// ActiveViewer is the presence record a session keeps fresh while connected.
type ActiveViewer struct {
	UserID    string    `json:"userId"`
	LastSeen  time.Time `json:"lastSeen"`
	Timestamp float64   `json:"timestamp"`
	IsHost    bool      `json:"isHost"`
	Status    string    `json:"status,omitempty"`
	Joined    time.Time `json:"joined"`
}

func ActiveViewerFromSnapshot(s *syncstore.Snapshot) ActiveViewer {
	seen, _ := s.Data.Time(FieldLastSeen)
	joined, _ := s.Data.Time(FieldJoined)
	id := s.Data.String(FieldUserID)
	if id == "" {
		id = s.ID
	}
	return ActiveViewer{
		UserID:    id,
		LastSeen:  seen,
		Timestamp: s.Data.Float(FieldTimestamp),
		IsHost:    s.Data.Bool(FieldIsHost),
		Status:    s.Data.String(FieldStatus),
		Joined:    joined,
	}
}

// IsLive reports whether the viewer refreshed within window before now.
// A record exactly window old is no longer live.
func (v ActiveViewer) IsLive(now time.Time, window time.Duration) bool {
	return v.LastSeen.After(now.Add(-window))
}

// LiveViewers decodes docs and keeps only the live ones, preserving order.
func LiveViewers(docs []*syncstore.Snapshot, now time.Time, window time.Duration) []ActiveViewer {
	var out []ActiveViewer
	for _, d := range docs {
		if d == nil || !d.Exists {
			continue
		}
		v := ActiveViewerFromSnapshot(d)
		if v.IsLive(now, window) {
			out = append(out, v)
		}
	}
	return out
}

// HistoricalViewer accumulates total watch time across visits.
type HistoricalViewer struct {
	UserID      string    `json:"userId"`
	FirstJoined time.Time `json:"firstJoined"`
	LastSeen    time.Time `json:"lastSeen"`
	WatchTime   float64   `json:"watchTime"`
}

func HistoricalViewerFromSnapshot(s *syncstore.Snapshot) HistoricalViewer {
	first, _ := s.Data.Time(FieldFirstJoined)
	seen, _ := s.Data.Time(FieldLastSeen)
	id := s.Data.String(FieldUserID)
	if id == "" {
		id = s.ID
	}
	return HistoricalViewer{
		UserID:      id,
		FirstJoined: first,
		LastSeen:    seen,
		WatchTime:   s.Data.Float(FieldWatchTime),
	}
}
