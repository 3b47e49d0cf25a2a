package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// WatermarkHandler exposes the sweep cursor of every watched address.
type WatermarkHandler struct {
	store   domain.WatermarkStore
	watched []domain.WatchedAddress
	logger  *slog.Logger
}

func NewWatermarkHandler(store domain.WatermarkStore, watched []domain.WatchedAddress, logger *slog.Logger) *WatermarkHandler {
	return &WatermarkHandler{store: store, watched: watched, logger: logger}
}

type watermarkView struct {
	Address   string     `json:"address"`
	Kind      string     `json:"kind"`
	Label     string     `json:"label,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Slot      uint64     `json:"slot,omitempty"`
	Processed int64      `json:"processed"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// List returns one entry per watched address; addresses never swept have no
// signature.
// GET /api/watermarks
func (h *WatermarkHandler) List(w http.ResponseWriter, r *http.Request) {
	marks, err := h.store.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list watermarks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list watermarks")
		return
	}
	byAddr := make(map[string]domain.Watermark, len(marks))
	for _, m := range marks {
		byAddr[m.Address] = m
	}

	out := make([]watermarkView, 0, len(h.watched))
	for _, a := range h.watched {
		v := watermarkView{Address: a.Address, Kind: string(a.Kind), Label: a.Label}
		if m, ok := byAddr[a.Address]; ok {
			v.Signature = m.Signature
			v.Slot = m.Slot
			v.Processed = m.Processed
			updated := m.UpdatedAt
			v.UpdatedAt = &updated
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"watermarks": out})
}
