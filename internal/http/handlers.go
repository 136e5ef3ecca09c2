package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"expensetracker/internal/core"
	applog "expensetracker/internal/log"
	"expensetracker/internal/tools"
)

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	args, err := decodeArgs(w, r)
	if err != nil {
		applog.FromContext(ctx).WarnContext(ctx, "Malformed tool call body",
			applog.NewFields().WithTool(name).WithError(err, applog.ErrorTypeBadRequest).ToSlice()...)
		writeJSON(w, r, http.StatusBadRequest, tools.ErrorPayload{
			Status:  tools.StatusError,
			Error:   applog.ErrorTypeBadRequest,
			Message: err.Error(),
		})
		return
	}

	result, err := s.tools.Call(ctx, name, args)
	if err != nil {
		writeJSON(w, r, statusFor(err), tools.Fault(err))
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.tools.Tools())
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, mime, err := s.tools.ReadResource(ctx, tools.CategoriesURI)
	if err != nil {
		applog.FromContext(ctx).ErrorContext(ctx, "Failed to read categories",
			applog.NewFields().WithError(err, applog.ErrorTypeInternal).ToSlice()...)
		writeJSON(w, r, http.StatusInternalServerError, tools.ErrorPayload{
			Status:  tools.StatusError,
			Error:   applog.ErrorTypeInternal,
			Message: "categories unavailable",
		})
		return
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil {
		if err := s.readiness.Ready(r.Context()); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// decodeArgs reads a JSON object of tool arguments. An empty body means no
// arguments. Numbers stay json.Number until the dispatcher coerces them.
func decodeArgs(w http.ResponseWriter, r *http.Request) (tools.Args, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var args tools.Args
	if err := dec.Decode(&args); err != nil {
		if errors.Is(err, io.EOF) {
			return tools.Args{}, nil
		}
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return args, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, core.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v before touching the status line, so an unencodable
// value becomes a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to encode response",
			applog.NewFields().WithError(err, applog.ErrorTypeInternal).ToSlice()...)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(tools.ErrorPayload{
			Status:  tools.StatusError,
			Error:   applog.ErrorTypeInternal,
			Message: "failed to encode response",
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}
