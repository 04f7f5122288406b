package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all session routes. The mode segment is an opaque
// namespace prefix; path segments carry the session address and everything
// after it the operation.
func (s *Server) setupRoutes() {
	s.router.Route("/{mode}/{applicationID}/{privacyKey}/{sessionID}", func(r chi.Router) {
		// Event streaming (SSE); opening the stream registers the agent.
		r.Get("/sse", s.streamEvents)

		// Agent registry snapshot
		r.Get("/agents", s.listAgents)

		// Threads and messages
		r.Route("/threads", func(r chi.Router) {
			r.Post("/", s.createThread)

			r.Route("/{threadID}", func(r chi.Router) {
				r.Get("/", s.getThread)
				r.Post("/participants", s.addParticipant)
				r.Delete("/participants/{agentID}", s.removeParticipant)
				r.Post("/messages", s.sendMessage)
				r.Post("/close", s.closeThread)
			})
		})
	})
}
