package roomapi

import "github.com/mcdev12/watchparty/go/internal/models"

// RoomRef addresses a room. Date is optional; when empty it is derived from
// the event's start in the service's room timezone.
type RoomRef struct {
	EventID string `json:"event_id"`
	Date    string `json:"date,omitempty"`
}

type GetRoomRequest struct {
	RoomRef
}

type GetRoomResponse struct {
	Room *RoomView `json:"room"`
}

type ResetRoomRequest struct {
	RoomRef
}

type ResetRoomResponse struct {
	EventID string `json:"event_id"`
	Date    string `json:"date"`
}

type ListViewersRequest struct {
	RoomRef
	// LiveOnly drops active viewer records outside the liveness window.
	LiveOnly bool `json:"live_only,omitempty"`
}

type ListViewersResponse struct {
	Active     []models.ActiveViewer     `json:"active"`
	Historical []models.HistoricalViewer `json:"historical"`
}

// RoomView is the decoded content of a room's sync documents. Absent
// documents are nil.
type RoomView struct {
	EventID   string                  `json:"event_id"`
	Date      string                  `json:"date"`
	Host      *models.HostRecord      `json:"host,omitempty"`
	PlayState *models.PlayStateRecord `json:"play_state,omitempty"`
	Timing    *models.TimingRecord    `json:"timing,omitempty"`
	Presence  *models.PresenceRecord  `json:"presence,omitempty"`
	State     *models.StateRecord     `json:"state,omitempty"`
}
