package api

import (
	"errors"
	"net/http"

	"github.com/RobinCoderZhao/experience-kit/internal/enrich"
	"github.com/RobinCoderZhao/experience-kit/internal/flow"
	"github.com/RobinCoderZhao/experience-kit/pkg/segment"
)

type createSessionRequest struct {
	OriginalText string          `json:"originalText"`
	Category     string          `json:"category"`
	Attributes   map[string]any  `json:"attributes"`
	Answers      []enrich.Answer `json:"answers"`
}

type createSessionResponse struct {
	Session flow.Snapshot `json:"session"`
	Token   string        `json:"token"`
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleCreateSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.OriginalText == "" {
			respondError(w, http.StatusBadRequest, "originalText is required")
			return
		}

		f, err := s.newFlow(r.Context(), flow.Input{
			OriginalText: req.OriginalText,
			Category:     req.Category,
			Attributes:   req.Attributes,
			Answers:      req.Answers,
		})
		if err != nil {
			s.logger.Error("start session", "error", err)
			respondError(w, http.StatusInternalServerError, "failed to start session")
			return
		}

		token, err := s.issueToken(f.ID())
		if err != nil {
			f.Close()
			respondError(w, http.StatusInternalServerError, "failed to issue token")
			return
		}
		s.sessions.add(f)

		respondJSON(w, http.StatusCreated, createSessionResponse{Session: f.Snapshot(), Token: token})
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, getFlow(r).Snapshot())
	}
}

func (s *Server) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.sessions.remove(getFlow(r).ID())
		if !ok {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		err := f.Flush(r.Context())
		f.Close()
		s.hub.Disconnect(f.ID())
		if err != nil {
			s.logger.Error("flush session", "session", f.ID(), "error", err)
			respondError(w, http.StatusInternalServerError, "failed to save session")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleText forwards a keystroke-level edit to the detector.
func (s *Server) handleText() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if !decodeBody(w, r, &req) {
			return
		}
		f := getFlow(r)
		f.HandleTextChange(req.Text)
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleCommit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		if !decodeBody(w, r, &req) {
			return
		}
		f := getFlow(r)
		if _, err := f.Commit(req.Text); err != nil {
			s.respondFlowError(w, f, err)
			return
		}
		s.respondSnapshot(w, f)
	}
}

func (s *Server) handleAnalyze() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := getFlow(r)
		started := f.TriggerAnalysis()
		respondJSON(w, http.StatusOK, map[string]any{"started": started, "state": f.Snapshot().State})
	}
}

func (s *Server) handleRemoveSegment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := getFlow(r)
		if _, err := f.RemoveSegment(r.PathValue("segmentID")); err != nil {
			s.respondFlowError(w, f, err)
			return
		}
		s.respondSnapshot(w, f)
	}
}

func (s *Server) handleUndo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := getFlow(r)
		if _, err := f.Undo(); err != nil {
			s.respondFlowError(w, f, err)
			return
		}
		s.respondSnapshot(w, f)
	}
}

// handleReAnalysis answers the re-analysis prompt: accept, skip or dismiss.
func (s *Server) handleReAnalysis() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := getFlow(r)
		switch r.PathValue("action") {
		case "accept":
			if err := f.AcceptReAnalysis(r.Context()); err != nil {
				s.respondFlowError(w, f, err)
				return
			}
		case "skip":
			f.SkipReAnalysis()
		case "dismiss":
			f.DismissReAnalysis()
		default:
			respondError(w, http.StatusNotFound, "unknown action")
			return
		}
		s.respondSnapshot(w, f)
	}
}

func (s *Server) respondSnapshot(w http.ResponseWriter, f *flow.Flow) {
	snap := f.Snapshot()
	if err := s.hub.PublishSnapshot(snap); err != nil {
		s.logger.Warn("publish snapshot", "session", f.ID(), "error", err)
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) respondFlowError(w http.ResponseWriter, f *flow.Flow, err error) {
	switch {
	case errors.Is(err, flow.ErrReAnalysisInFlight):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, flow.ErrNoReAnalyzer):
		respondError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, flow.ErrClosed):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, segment.ErrInvariantViolation):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("session operation failed", "session", f.ID(), "error", err)
		respondError(w, http.StatusBadGateway, "upstream analysis failed")
	}
}
