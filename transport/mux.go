package transport

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/agentmesh/agentmesh/server"
)

// AgentCardPath is the well-known discovery path for the agent card.
const AgentCardPath = "/.well-known/agent-card.json"

// NewMux mounts both transports plus the discovery route on one mux:
// the JSON-RPC endpoint at "/", the REST routes under "/v1/", and the agent
// card at its well-known path. throttle may be nil.
func NewMux(logger *zap.Logger, handler server.RequestHandler, throttle *Throttle) *http.ServeMux {
	if logger == nil {
		logger = zap.NewNop()
	}
	wrap := func(h http.Handler) http.Handler {
		if throttle == nil {
			return h
		}
		return throttle.Middleware(h)
	}

	mux := http.NewServeMux()
	mux.Handle(AgentCardPath, wrap(NewAgentCardHandler(logger, handler)))
	mux.Handle(RESTPrefix+"/", wrap(NewRESTTransport(logger, handler)))
	mux.Handle("/", wrap(NewJSONRPCTransport(logger, handler)))
	return mux
}

// AgentCardHandler serves the agent card document.
type AgentCardHandler struct {
	logger  *zap.Logger
	handler server.RequestHandler
}

// NewAgentCardHandler creates the discovery handler.
func NewAgentCardHandler(logger *zap.Logger, handler server.RequestHandler) *AgentCardHandler {
	return &AgentCardHandler{logger: logger.Named("agent-card"), handler: handler}
}

// ServeHTTP implements http.Handler.
func (h *AgentCardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	card := h.handler.AgentCard()
	if card == nil {
		http.Error(w, "agent card not configured", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(card); err != nil {
		h.logger.Error("Failed to write agent card", zap.Error(err))
	}
}
