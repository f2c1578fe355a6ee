package handler

import (
	"net/http"
	"strings"

	"github.com/nesthaus/riskengine/internal/domain"
	"github.com/nesthaus/riskengine/internal/infra"
)

// StreamHandler handles GET /security/stream?rooms=events,alerts. Without a
// rooms parameter the client joins both.
func StreamHandler(hub *infra.WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := []string{infra.RoomEvents, infra.RoomAlerts}
		if raw := r.URL.Query().Get("rooms"); raw != "" {
			rooms = rooms[:0]
			for _, room := range strings.Split(raw, ",") {
				room = strings.TrimSpace(room)
				if room != infra.RoomEvents && room != infra.RoomAlerts {
					RespondError(w, domain.ErrValidation("unknown room "+room))
					return
				}
				rooms = append(rooms, room)
			}
		}
		hub.Serve(w, r, rooms...)
	}
}
