package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"safestep/pkg/audio"
	"safestep/pkg/walk"
)

// PlaybackService is the playback control surface of the walk session.
type PlaybackService interface {
	Toggle() error
	Seek(offset time.Duration) error
	SetVolume(ctx context.Context, vol float64)
	Volume() float64
	Status() walk.Status
}

// PlaybackHandler handles narration playback endpoints.
type PlaybackHandler struct {
	playback PlaybackService
}

// NewPlaybackHandler creates a new PlaybackHandler.
func NewPlaybackHandler(ps PlaybackService) *PlaybackHandler {
	return &PlaybackHandler{playback: ps}
}

// SeekRequest moves within the current segment.
type SeekRequest struct {
	OffsetSeconds float64 `json:"offset_seconds"`
}

// VolumeRequest represents a volume change request.
type VolumeRequest struct {
	Volume float64 `json:"volume"`
}

// PlaybackResponse reports the playback position after a command.
type PlaybackResponse struct {
	State          string  `json:"state"`
	CurrentIndex   int     `json:"current_index"`
	OffsetSeconds  float64 `json:"offset_seconds"`
	SegmentSeconds float64 `json:"segment_seconds"`
	IsPlaying      bool    `json:"is_playing"`
	IsBuffering    bool    `json:"is_buffering"`
}

// HandleToggle handles POST /api/playback/toggle
func (h *PlaybackHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if err := h.playback.Toggle(); err != nil {
		writePlaybackError(w, err)
		return
	}
	resp := h.position()
	slog.Debug("Playback toggled", "state", resp.State, "index", resp.CurrentIndex)
	writeJSON(w, http.StatusOK, resp)
}

// HandleSeek handles POST /api/playback/seek
func (h *PlaybackHandler) HandleSeek(w http.ResponseWriter, r *http.Request) {
	var req SeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if math.IsNaN(req.OffsetSeconds) || math.IsInf(req.OffsetSeconds, 0) {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}

	offset := time.Duration(req.OffsetSeconds * float64(time.Second))
	if err := h.playback.Seek(offset); err != nil {
		writePlaybackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.position())
}

// HandleVolume handles POST /api/playback/volume
func (h *PlaybackHandler) HandleVolume(w http.ResponseWriter, r *http.Request) {
	var req VolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if math.IsNaN(req.Volume) {
		http.Error(w, "invalid volume", http.StatusBadRequest)
		return
	}

	h.playback.SetVolume(r.Context(), req.Volume)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"volume": h.playback.Volume(),
	})
}

// HandleGetVolume handles GET /api/playback/volume
func (h *PlaybackHandler) HandleGetVolume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"volume": h.playback.Volume()})
}

func (h *PlaybackHandler) position() PlaybackResponse {
	st := h.playback.Status()
	return PlaybackResponse{
		State:          st.Playback.String(),
		CurrentIndex:   st.CurrentIndex,
		OffsetSeconds:  st.OffsetSeconds,
		SegmentSeconds: st.SegmentSeconds,
		IsPlaying:      st.IsPlaying,
		IsBuffering:    st.IsBuffering,
	}
}

func writePlaybackError(w http.ResponseWriter, err error) {
	if errors.Is(err, walk.ErrNoActiveWalk) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "NO_ACTIVE_WALK", Message: err.Error()})
		return
	}
	var de *audio.DeviceError
	if errors.As(err, &de) {
		slog.Error("Playback device failed", "op", de.Op, "error", de.Err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "PLAYBACK_DEVICE", Message: err.Error()})
		return
	}
	slog.Error("Playback command failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL", Message: err.Error()})
}
