package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/cariot/core/command"
)

const maxBodyBytes = 64 << 10

// NewActionHandler publishes {"value": ...} to <ns>/{id}/{action}.
func NewActionHandler(pub Publisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value any `json:"value"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		t := pub.CommandTopic(chi.URLParam(r, "id"), chi.URLParam(r, "action"))
		writeResult(w, pub.Publish(r.Context(), t, body.Value))
	})
}

// NewPublishHandler publishes {"topic": ..., "payload": ...} as-is after
// validation.
func NewPublishHandler(pub Publisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Topic   string `json:"topic"`
			Payload any    `json:"payload"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeResult(w, pub.Publish(r.Context(), body.Topic, body.Payload))
	})
}

// NewJournalHandler lists recorded commands via GET /commands?car_id=&limit=.
func NewJournalHandler(j JournalReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if j == nil {
			writeError(w, http.StatusServiceUnavailable, "command journal disabled")
			return
		}
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		entries, err := j.Recent(r.Context(), r.URL.Query().Get("car_id"), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if entries == nil {
			entries = []command.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeResult(w http.ResponseWriter, res command.Result) {
	writeJSON(w, resultStatus(res), res)
}

func resultStatus(res command.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case command.IsValidation(res.Err), errors.Is(res.Err, command.ErrNotConnected):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
