package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"safestep/pkg/llm"
	"safestep/pkg/model"
	"safestep/pkg/routing"
	"safestep/pkg/walk"
)

// WalkService is the part of the walk session the API drives.
type WalkService interface {
	CompleteOnboarding()
	PlanRoute(ctx context.Context, origin, destination string, style model.GuardianStyle) (*model.RouteContext, error)
	Begin(ctx context.Context) error
	Abandon()
	Status() walk.Status
	Route() *model.RouteContext
	Marker() *walk.Marker
	Portrait() (*llm.Image, []byte)
}

// WalkHandler handles walk lifecycle endpoints.
type WalkHandler struct {
	walk WalkService
	// ctx bounds guardian initialization, which outlives the request that started it.
	ctx context.Context
}

// NewWalkHandler creates a new WalkHandler. Initialization started through it is
// canceled with ctx.
func NewWalkHandler(ctx context.Context, ws WalkService) *WalkHandler {
	return &WalkHandler{walk: ws, ctx: ctx}
}

// StartWalkRequest plans a walk.
type StartWalkRequest struct {
	Origin      string              `json:"origin"`
	Destination string              `json:"destination"`
	Style       model.GuardianStyle `json:"style"`
}

// ErrorResponse carries a failure code and the message shown to the user.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HandleOnboarding handles POST /api/onboarding/complete
func (h *WalkHandler) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	h.walk.CompleteOnboarding()
	writeJSON(w, http.StatusOK, h.walk.Status())
}

// HandleStart handles POST /api/walk. The route is resolved within the request;
// the guardian is initialized in the background and reported through status.
func (h *WalkHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	route, ok := h.planRoute(w, r)
	if !ok {
		return
	}
	go h.begin()
	writeJSON(w, http.StatusAccepted, route)
}

// HandlePlanRoute handles POST /api/walk/route. It only resolves the route.
func (h *WalkHandler) HandlePlanRoute(w http.ResponseWriter, r *http.Request) {
	route, ok := h.planRoute(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// HandleBegin handles POST /api/walk/begin for a confirmed route.
func (h *WalkHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	if h.walk.Status().State != model.StateRouteConfirmed {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "NO_CONFIRMED_ROUTE", Message: walk.ErrNoRoute.Error()})
		return
	}
	go h.begin()
	writeJSON(w, http.StatusAccepted, h.walk.Status())
}

// HandleAbandon handles DELETE /api/walk
func (h *WalkHandler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	h.walk.Abandon()
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus handles GET /api/walk/status
func (h *WalkHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.walk.Status())
}

// HandleRouteGeoJSON handles GET /api/walk/route.geojson: the route line and,
// during a walk, the estimated walker position.
func (h *WalkHandler) HandleRouteGeoJSON(w http.ResponseWriter, r *http.Request) {
	route := h.walk.Route()
	if route == nil {
		http.Error(w, "no route", http.StatusNotFound)
		return
	}

	path := route.Path
	if len(path) < 2 {
		path = orb.LineString{route.Origin.Point(), route.Destination.Point()}
	}

	fc := geojson.NewFeatureCollection()
	line := geojson.NewFeature(path)
	line.Properties["kind"] = "route"
	line.Properties["origin"] = route.StartAddress()
	line.Properties["destination"] = route.EndAddress()
	line.Properties["distance"] = route.Distance
	line.Properties["duration"] = route.Duration
	fc.Append(line)

	if m := h.walk.Marker(); m != nil {
		marker := geojson.NewFeature(m.Orb())
		marker.Properties["kind"] = "marker"
		marker.Properties["heading"] = m.Heading
		fc.Append(marker)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		slog.Error("Failed to encode route geojson", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write route geojson", "error", err)
	}
}

// HandlePortrait handles GET /api/guardian/image. The JPEG thumbnail is served
// unless ?size=full asks for the rendered original.
func (h *WalkHandler) HandlePortrait(w http.ResponseWriter, r *http.Request) {
	img, thumb := h.walk.Portrait()

	data, mime := thumb, "image/jpeg"
	if r.URL.Query().Get("size") == "full" && img != nil {
		data, mime = img.Data, img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
	}
	if len(data) == 0 {
		http.Error(w, "portrait not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write portrait", "error", err)
	}
}

func (h *WalkHandler) planRoute(w http.ResponseWriter, r *http.Request) (*model.RouteContext, bool) {
	var req StartWalkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	if req.Style != "" && !model.GuardianStyle(strings.ToUpper(string(req.Style))).Valid() {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "UNKNOWN_GUARDIAN", Message: string(req.Style)})
		return nil, false
	}

	route, err := h.walk.PlanRoute(r.Context(), req.Origin, req.Destination, req.Style)
	if err != nil {
		writeRouteError(w, err)
		return nil, false
	}
	return route, true
}

func (h *WalkHandler) begin() {
	err := h.walk.Begin(h.ctx)
	switch {
	case err == nil:
	case errors.Is(err, walk.ErrSuperseded), errors.Is(err, context.Canceled):
		slog.Debug("Guardian initialization abandoned", "error", err)
	default:
		slog.Warn("Guardian initialization failed", "error", err)
	}
}

func writeRouteError(w http.ResponseWriter, err error) {
	if errors.Is(err, walk.ErrSuperseded) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "SUPERSEDED", Message: err.Error()})
		return
	}

	var re *routing.RouteResolutionError
	if !errors.As(err, &re) {
		slog.Error("Route planning failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: err.Error()})
		return
	}

	status := http.StatusBadGateway
	switch re.Code {
	case routing.CodeParamsRequired:
		status = http.StatusBadRequest
	case routing.CodeLocationFailure:
		status = http.StatusNotFound
	case routing.CodeOutOfBounds:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, ErrorResponse{Error: re.Code, Message: re.Error()})
}

func handlePrograms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.Programs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
