package api

import (
	"net/http"

	"github.com/google/uuid"
)

// Gateway upgrades authenticated requests to WebSocket connections
type Gateway interface {
	Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID)
}

type RealtimeHandler struct {
	gateway Gateway
}

func NewRealtimeHandler(gateway Gateway) *RealtimeHandler {
	return &RealtimeHandler{gateway: gateway}
}

func (h *RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	h.gateway.Serve(w, r, userID)
}
