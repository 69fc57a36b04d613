package models

import "github.com/mcdev12/watchparty/go/internal/syncstore"

// Sub-document ids under a room's sync collection.
const (
	DocHost      = "host"
	DocPlayState = "playState"
	DocPresence  = "presence"
	DocTiming    = "timing"
	DocState     = "state"

	ActiveViewersCollection     = "activeViewers"
	HistoricalViewersCollection = "historicalViewers"
)

// SyncDocs lists the five room sub-documents in bootstrap order.
var SyncDocs = []string{DocHost, DocPlayState, DocPresence, DocTiming, DocState}

// Room addresses the sync namespace of one event on one calendar date.
type Room struct {
	DateString string
	EventID    string
}

func NewRoom(dateString, eventID string) Room {
	return Room{DateString: dateString, EventID: eventID}
}

// EventPath is the event document that owns the room.
func (r Room) EventPath() string {
	return syncstore.Join("rooms", r.DateString, "events", r.EventID)
}

// SyncCollection holds the five sub-documents.
func (r Room) SyncCollection() string {
	return syncstore.Join(r.EventPath(), "sync")
}

// DocPath returns the path of one of the five sub-documents.
func (r Room) DocPath(doc string) string {
	return syncstore.Join(r.SyncCollection(), doc)
}

func (r Room) HostPath() string      { return r.DocPath(DocHost) }
func (r Room) PlayStatePath() string { return r.DocPath(DocPlayState) }
func (r Room) PresencePath() string  { return r.DocPath(DocPresence) }
func (r Room) TimingPath() string    { return r.DocPath(DocTiming) }
func (r Room) StatePath() string     { return r.DocPath(DocState) }

func (r Room) ActiveViewers() string {
	return syncstore.Join(r.PresencePath(), ActiveViewersCollection)
}

func (r Room) ActiveViewerPath(userID string) string {
	return syncstore.Join(r.ActiveViewers(), userID)
}

func (r Room) HistoricalViewers() string {
	return syncstore.Join(r.PresencePath(), HistoricalViewersCollection)
}

func (r Room) HistoricalViewerPath(userID string) string {
	return syncstore.Join(r.HistoricalViewers(), userID)
}
