package roomapi

import (
	"context"
	"errors"

	"connectrpc.com/connect"

	"github.com/mcdev12/watchparty/go/internal/catalog"
	"github.com/mcdev12/watchparty/go/internal/models"
)

// RoomApp defines what the service layer needs from the room application
type RoomApp interface {
	GetRoom(ctx context.Context, ref RoomRef) (*RoomView, error)
	ResetRoom(ctx context.Context, ref RoomRef) (models.Room, error)
	ListViewers(ctx context.Context, ref RoomRef, liveOnly bool) ([]models.ActiveViewer, []models.HistoricalViewer, error)
}

// Service implements RoomServiceHandler
type Service struct {
	app RoomApp
}

func NewService(app RoomApp) *Service {
	return &Service{app: app}
}

var _ RoomServiceHandler = (*Service)(nil)

func (s *Service) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	view, err := s.app.GetRoom(ctx, req.Msg.RoomRef)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetRoomResponse{Room: view}), nil
}

func (s *Service) ResetRoom(ctx context.Context, req *connect.Request[ResetRoomRequest]) (*connect.Response[ResetRoomResponse], error) {
	room, err := s.app.ResetRoom(ctx, req.Msg.RoomRef)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ResetRoomResponse{EventID: room.EventID, Date: room.DateString}), nil
}

func (s *Service) ListViewers(ctx context.Context, req *connect.Request[ListViewersRequest]) (*connect.Response[ListViewersResponse], error) {
	active, historical, err := s.app.ListViewers(ctx, req.Msg.RoomRef, req.Msg.LiveOnly)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&ListViewersResponse{Active: active, Historical: historical}), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, ErrMissingEventID), errors.Is(err, ErrInvalidDate):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, catalog.ErrEventNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
