package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kilianp07/cariot/infra/history"
)

// NewTrailHandler returns the latest stored coordinates, oldest first.
func NewTrailHandler(trail history.TrailReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if trail == nil {
			writeError(w, http.StatusServiceUnavailable, history.ErrDisabled.Error())
			return
		}
		limit := history.DefaultTrailLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		pts, err := trail.Trail(r.Context(), limit)
		if errors.Is(err, history.ErrDisabled) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if pts == nil {
			pts = []history.TrailPoint{}
		}
		writeJSON(w, http.StatusOK, pts)
	})
}
