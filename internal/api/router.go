package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts every endpoint. Command and query paths answer GET and
// POST with identical parameters. limiter may be nil.
func NewRouter(h *Handler, limiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/healthz", h.Healthz)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics.MetricsHandler())
	}

	// The websocket needs the raw ResponseWriter, so it skips the observability wrapper
	r.With(h.SessionMiddleware).Get("/ws", h.WebSocket)

	r.Group(func(r chi.Router) {
		if h.Metrics != nil {
			r.Use(h.Metrics.Middleware)
		}
		if limiter != nil {
			r.Use(limiter.Middleware)
		}

		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.SessionMiddleware)

			both(r, "/Negotiations/Propose", h.ProposeTime)
			both(r, "/Negotiations/Counter", h.CounterTime)
			both(r, "/Negotiations/Accept", h.AcceptTime)
			both(r, "/Negotiations/Reject", h.RejectTime)
			both(r, "/Negotiations/Pay", h.PayFee)
			both(r, "/Negotiations/Get", h.GetNegotiation)
			both(r, "/Negotiations/GetMyNegotiations", h.ListMyNegotiations)
			both(r, "/Negotiations/Complete", h.CompleteExchange)

			both(r, "/MeetingLocation/Propose", h.ProposeLocation)
			both(r, "/MeetingLocation/Counter", h.CounterLocation)
			both(r, "/MeetingLocation/Accept", h.AcceptLocation)
			both(r, "/MeetingLocation/Reject", h.RejectLocation)

			both(r, "/Location/Update", h.UpdatePosition)
			both(r, "/Location/Peer", h.PeerPosition)

			both(r, "/Ratings/Submit", h.SubmitRating)
			both(r, "/Admin/RevokeAccess", h.RevokeAccess)
		})
	})

	return r
}

func both(r chi.Router, path string, fn http.HandlerFunc) {
	r.Get(path, fn)
	r.Post(path, fn)
}
