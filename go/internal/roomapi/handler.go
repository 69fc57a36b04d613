package roomapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const RoomServiceName = "watchparty.room.v1.RoomService"

const (
	RoomServiceGetRoomProcedure     = "/" + RoomServiceName + "/GetRoom"
	RoomServiceResetRoomProcedure   = "/" + RoomServiceName + "/ResetRoom"
	RoomServiceListViewersProcedure = "/" + RoomServiceName + "/ListViewers"
)

type RoomServiceHandler interface {
	GetRoom(context.Context, *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error)
	ResetRoom(context.Context, *connect.Request[ResetRoomRequest]) (*connect.Response[ResetRoomResponse], error)
	ListViewers(context.Context, *connect.Request[ListViewersRequest]) (*connect.Response[ListViewersResponse], error)
}

// jsonCodec lets the room messages travel as plain JSON structs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewRoomServiceHandler builds the HTTP handler and the path prefix to
// mount it on.
func NewRoomServiceHandler(svc RoomServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	getRoom := connect.NewUnaryHandler(RoomServiceGetRoomProcedure, svc.GetRoom, opts...)
	resetRoom := connect.NewUnaryHandler(RoomServiceResetRoomProcedure, svc.ResetRoom, opts...)
	listViewers := connect.NewUnaryHandler(RoomServiceListViewersProcedure, svc.ListViewers, opts...)

	return "/" + RoomServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case RoomServiceGetRoomProcedure:
			getRoom.ServeHTTP(w, r)
		case RoomServiceResetRoomProcedure:
			resetRoom.ServeHTTP(w, r)
		case RoomServiceListViewersProcedure:
			listViewers.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// RoomServiceClient calls a RoomService over the Connect protocol.
type RoomServiceClient struct {
	getRoom     *connect.Client[GetRoomRequest, GetRoomResponse]
	resetRoom   *connect.Client[ResetRoomRequest, ResetRoomResponse]
	listViewers *connect.Client[ListViewersRequest, ListViewersResponse]
}

func NewRoomServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *RoomServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &RoomServiceClient{
		getRoom:     connect.NewClient[GetRoomRequest, GetRoomResponse](httpClient, baseURL+RoomServiceGetRoomProcedure, opts...),
		resetRoom:   connect.NewClient[ResetRoomRequest, ResetRoomResponse](httpClient, baseURL+RoomServiceResetRoomProcedure, opts...),
		listViewers: connect.NewClient[ListViewersRequest, ListViewersResponse](httpClient, baseURL+RoomServiceListViewersProcedure, opts...),
	}
}

func (c *RoomServiceClient) GetRoom(ctx context.Context, req *connect.Request[GetRoomRequest]) (*connect.Response[GetRoomResponse], error) {
	return c.getRoom.CallUnary(ctx, req)
}

func (c *RoomServiceClient) ResetRoom(ctx context.Context, req *connect.Request[ResetRoomRequest]) (*connect.Response[ResetRoomResponse], error) {
	return c.resetRoom.CallUnary(ctx, req)
}

func (c *RoomServiceClient) ListViewers(ctx context.Context, req *connect.Request[ListViewersRequest]) (*connect.Response[ListViewersResponse], error) {
	return c.listViewers.CallUnary(ctx, req)
}

var _ RoomServiceHandler = (*RoomServiceClient)(nil)
