package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/agentmesh/agentmesh/server"
)

// ExtensionsHeader carries requested or activated extension URIs as a
// comma-separated list.
const ExtensionsHeader = "X-A2A-Extensions"

// callContextFromRequest derives the per-call server context from transport
// headers and attaches it to the request context.
func callContextFromRequest(r *http.Request) context.Context {
	cc := &server.CallContext{
		RequestedExtensions: parseExtensionsHeader(r.Header.Get(ExtensionsHeader)),
	}
	return server.WithCallContext(r.Context(), cc)
}

func parseExtensionsHeader(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// echoExtensions reflects the requested extensions back on the response so
// clients can see which ones the server acknowledged.
func echoExtensions(w http.ResponseWriter, r *http.Request) {
	if value := r.Header.Get(ExtensionsHeader); value != "" {
		w.Header().Set(ExtensionsHeader, value)
	}
}
