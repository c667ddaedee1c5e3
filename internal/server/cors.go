// CORS middleware (spec §4.K step 2) built on github.com/rs/cors, an
// out-of-pack dependency — no example repo imports a CORS library;
// justified in DESIGN.md since the spec needs configurable origin-list +
// credentials handling that's tedious and error-prone to hand-roll.
package server

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig configures the allowed origin list and credentials mode.
type CORSConfig struct {
	AllowedOrigins   []string // wildcard "*" allowed
	AllowCredentials bool
}

var corsMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodDelete, http.MethodPatch, http.MethodOptions,
}

func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   corsMethods,
		AllowCredentials: cfg.AllowCredentials,
	})
	return c.Handler
}
