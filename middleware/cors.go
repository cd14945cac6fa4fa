package middleware

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// AllowCORS permits the configured origins. An empty list behaves as a
// wildcard for ease of local development.
func AllowCORS(allowedOrigins []string) func(httprouter.Handle) httprouter.Handle {
	allowed := map[string]bool{}
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
				// Non-browser client, nothing to negotiate
			case len(allowed) == 0 || allowed["*"]:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")

			// If this is a preflight request, we don't need to call the next handler
			if r.Method == http.MethodOptions {
				w.Header().Set("Content-Length", "0")
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r, ps)
		}
	}
}
