package runtime

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/loqalabs/loqa-padel/internal/protocol"
)

const maxBodyBytes = 1 << 16

type pointRequest struct {
	Team string `json:"team"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r *Runtime) routes(metricHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	mux.HandleFunc("GET /v1/match", r.handleGetMatch)
	mux.HandleFunc("POST /v1/match/points", r.handleAddPoint)
	mux.HandleFunc("POST /v1/match/undo", r.handleCommand(protocol.IntentUndoLastPoint))
	mux.HandleFunc("POST /v1/match/reset", r.handleCommand(protocol.IntentResetMatch))
	mux.HandleFunc("PUT /v1/match/config", r.handleConfig)
	mux.Handle("GET /v1/match/stream", r.hub)
	return mux
}

func (r *Runtime) handleGetMatch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.referee.Scoreboard())
}

func (r *Runtime) handleAddPoint(w http.ResponseWriter, req *http.Request) {
	var body pointRequest
	if err := decodeBody(req, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	r.execute(w, req, protocol.Command{Intent: protocol.IntentAddPoint, Team: body.Team, Source: "tap"})
}

func (r *Runtime) handleCommand(intent string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.execute(w, req, protocol.Command{Intent: intent, Source: "tap"})
	}
}

func (r *Runtime) execute(w http.ResponseWriter, req *http.Request, cmd protocol.Command) {
	reply, err := r.referee.Execute(req.Context(), cmd)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (r *Runtime) handleConfig(w http.ResponseWriter, req *http.Request) {
	var update protocol.ConfigUpdate
	if err := decodeBody(req, &update); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	reply, err := r.referee.Configure(req.Context(), update)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, reply)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func decodeBody(req *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.New("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
