package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/ogxcoders/videopress/errors"
)

// IsAuthorized gates a handler on the fixed API key carried in X-API-Key.
func IsAuthorized(apiKey string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		provided := r.Header.Get("X-API-Key")

		if provided == "" {
			errors.WriteHTTPUnauthorized(w, "Missing X-API-Key header", nil)
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			errors.WriteHTTPUnauthorized(w, "Invalid API key", nil)
			return
		}

		next(w, r, ps)
	}
}
