package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xtrntr/meetswap/internal/auth"
	"github.com/xtrntr/meetswap/internal/negotiation"
	"github.com/xtrntr/meetswap/internal/notify"
	"github.com/xtrntr/meetswap/internal/query"
	"github.com/xtrntr/meetswap/internal/rating"
	"github.com/xtrntr/meetswap/internal/store"
	"github.com/xtrntr/meetswap/internal/tracker"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Store   store.Reader
	Engine  *negotiation.Engine
	Query   *query.Service
	Tracker *tracker.Tracker
	Ratings *rating.Recorder
	Auth    *auth.AuthService
	Hub     *notify.Hub    // optional
	Metrics *Observability // optional
	Logger  *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(st store.Reader, engine *negotiation.Engine, queries *query.Service, tr *tracker.Tracker,
	ratings *rating.Recorder, authService *auth.AuthService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:   st,
		Engine:  engine,
		Query:   queries,
		Tracker: tr,
		Ratings: ratings,
		Auth:    authService,
		Logger:  logger,
	}
}

type response map[string]any

func success(fields response) response {
	out := response{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func failure(msg string) response {
	return response{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ok writes a success envelope and counts the command
func (h *Handler) ok(w http.ResponseWriter, op string, fields response) {
	h.Metrics.Command(op, nil)
	writeJSON(w, http.StatusOK, success(fields))
}

// fail reports a command failure in the envelope; the HTTP status stays 200
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.Metrics.Command(op, err)
	if negotiation.KindOf(err) == negotiation.Internal {
		h.Logger.Error("request failed", "op", op, "path", r.URL.Path, "error", err)
	} else {
		h.Logger.Debug("request rejected", "op", op, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, http.StatusOK, failure(negotiation.Message(err)))
}

func invalid(op, msg string) error {
	return &negotiation.Error{Kind: negotiation.InvalidInput, Op: op, Msg: msg}
}

// resolveListing maps negotiationId (or listingId) to the listing it belongs to
func (h *Handler) resolveListing(r *http.Request, op string) (string, error) {
	id := strings.TrimSpace(r.FormValue("negotiationId"))
	if id == "" {
		id = strings.TrimSpace(r.FormValue("listingId"))
	}
	if id == "" {
		return "", invalid(op, "negotiationId is required")
	}
	listingID, err := h.Store.ResolveListingID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return "", &negotiation.Error{Kind: negotiation.NotFound, Op: op, Msg: "negotiation not found"}
	}
	if err != nil {
		return "", &negotiation.Error{Kind: negotiation.Internal, Op: op, Err: err}
	}
	return listingID, nil
}

func listingParam(r *http.Request, op string) (string, error) {
	id := strings.TrimSpace(r.FormValue("listingId"))
	if id == "" {
		return "", invalid(op, "listingId is required")
	}
	return id, nil
}

// parseTime accepts RFC 3339 with a trailing Z or an explicit offset
func parseTime(raw, op string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, invalid(op, "proposedTime is required")
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalid(op, "proposedTime must be an ISO-8601 timestamp with Z or an offset")
	}
	return t.UTC(), nil
}

func parseCoordinate(r *http.Request, name, op string) (float64, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return 0, invalid(op, name+" is required")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, invalid(op, name+" must be a number")
	}
	return v, nil
}

func caller(r *http.Request) string {
	id, _ := UserID(r.Context())
	return id
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid request body"))
		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, failure("username and password required"))
		return
	}

	user, err := h.Auth.Register(r.Context(), req.Username, req.Password, req.DisplayName)
	if errors.Is(err, auth.ErrUsernameTaken) {
		writeJSON(w, http.StatusConflict, failure(err.Error()))
		return
	}
	if err != nil {
		h.Logger.Warn("failed to register user", "error", err)
		writeJSON(w, http.StatusBadRequest, failure("failed to register user"))
		return
	}

	writeJSON(w, http.StatusCreated, success(response{
		"id":       user.ID,
		"username": user.Username,
	}))
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, failure("invalid request body"))
		return
	}

	token, err := h.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, failure("invalid credentials"))
		return
	}

	writeJSON(w, http.StatusOK, success(response{"session_id": token}))
}

// Healthz reports liveness
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, success(nil))
}

// WebSocket registers the caller for pushed notifications
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.Hub == nil {
		writeJSON(w, http.StatusNotFound, failure("push channel disabled"))
		return
	}
	h.Hub.Serve(w, r, caller(r))
}
