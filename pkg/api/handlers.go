package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alexedwards/flow"

	"github.com/openfroyo/durastep/pkg/cart"
	"github.com/openfroyo/durastep/pkg/engine"
	"github.com/openfroyo/durastep/pkg/telemetry"
	"github.com/openfroyo/durastep/pkg/washing"
)

const maxBodyBytes = 1 << 20

// jsonError encodes err's caller-facing message as {"error": ...}.
func jsonError(w http.ResponseWriter, err error, statusCode int) {
	jsonErr := &struct {
		Err string `json:"error"`
	}{Err: engine.MessageOf(err)}
	w.Header().Set("Content-Type", "application/json")
	if statusCode < 1 {
		statusCode = http.StatusInternalServerError
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(jsonErr)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		telemetry.FromContext(r.Context()).WithError(err).Warn("encoding json response")
	}
}

// statusCode maps classified errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsValidation(err):
		return http.StatusBadRequest
	case engine.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, code int) {
	s.telemetry.Metrics.RecordError(engine.CodeOf(err))
	logger := telemetry.FromContext(r.Context()).WithError(err)
	if code >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Debug("request rejected")
	}
	jsonError(w, err, code)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return engine.NewValidationError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func (s *Server) getCycle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.washers.Status(r.Context(), flow.Param(r.Context(), "id"))
		if err != nil {
			s.fail(w, r, err, statusCode(err))
			return
		}
		writeJSON(w, r, state)
	}
}

// startCycle answers 400 for every rejection, including a machine that
// already has a cycle.
func (s *Server) startCycle() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd washing.StartCommand
		if err := decodeBody(w, r, &cmd); err != nil {
			s.fail(w, r, err, http.StatusBadRequest)
			return
		}

		ack, err := s.washers.Start(r.Context(), flow.Param(r.Context(), "id"), cmd)
		if err != nil {
			code := statusCode(err)
			if code != http.StatusInternalServerError {
				code = http.StatusBadRequest
			}
			s.fail(w, r, err, code)
			return
		}
		writeJSON(w, r, ack)
	}
}

func (s *Server) cycleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		history, err := s.washers.History(r.Context(), flow.Param(r.Context(), "id"))
		if err != nil {
			s.fail(w, r, err, statusCode(err))
			return
		}
		writeJSON(w, r, history)
	}
}

func (s *Server) getCart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := s.carts.GetCart(r.Context(), flow.Param(r.Context(), "id"))
		if err != nil {
			s.fail(w, r, err, statusCode(err))
			return
		}
		writeJSON(w, r, state)
	}
}

func (s *Server) addItem() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item cart.LineItem
		if err := decodeBody(w, r, &item); err != nil {
			s.fail(w, r, err, http.StatusBadRequest)
			return
		}

		state, err := s.carts.AddItem(r.Context(), flow.Param(r.Context(), "id"), item)
		if err != nil {
			s.fail(w, r, err, statusCode(err))
			return
		}
		writeJSON(w, r, state)
	}
}
