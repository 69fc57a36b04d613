package calendar_client

const (
	EventsEndpoint = "/v1/events"

	AuthorizationHeader = "Authorization"
	APIKeyPrefix        = "Bearer "
)
