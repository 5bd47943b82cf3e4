package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/RobinCoderZhao/experience-kit/internal/flow"
)

// registry holds the live sessions.
type registry struct {
	mu    sync.RWMutex
	flows map[string]*flow.Flow
}

func newRegistry() *registry {
	return &registry{flows: make(map[string]*flow.Flow)}
}

func (r *registry) add(f *flow.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.ID()] = f
}

func (r *registry) get(id string) (*flow.Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[id]
	return f, ok
}

func (r *registry) remove(id string) (*flow.Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[id]
	delete(r.flows, id)
	return f, ok
}

func (r *registry) drain() []*flow.Flow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*flow.Flow, 0, len(r.flows))
	for id, f := range r.flows {
		out = append(out, f)
		delete(r.flows, id)
	}
	return out
}

const flowContextKey = contextKey("flow")

// withFlow resolves the authenticated session and stores it in the context.
func (s *Server) withFlow(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.sessions.get(sessionID(r))
		if !ok {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), flowContextKey, f)))
	}
}

func getFlow(r *http.Request) *flow.Flow {
	f, _ := r.Context().Value(flowContextKey).(*flow.Flow)
	return f
}
