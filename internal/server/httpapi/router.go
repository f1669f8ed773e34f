// Package httpapi serves the public emergency endpoints: the Tier E read
// behind a printed tag, the break-glass request and read, single field
// reveals, revocation and NFC verification.
package httpapi

import (
	"context"
	"net/http"

	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/disclosure"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/nfc"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 8 << 10

// Disclosure is the part of the disclosure engine the router calls.
type Disclosure interface {
	ReadPublicTier(ctx context.Context, publicID string, tag *nfc.Params, actor models.Actor) (*disclosure.PublicView, error)
	RequestAccess(ctx context.Context, publicID, reason string, actor models.Actor) (*disclosure.AccessGrant, error)
	Revoke(ctx context.Context, publicID, secret string, actor models.Actor) error
	ReadBreakGlass(ctx context.Context, token string, actor models.Actor) (*disclosure.Disclosure, error)
	RevealField(ctx context.Context, handle string, actor models.Actor) (*disclosure.RevealedField, error)
	VerifyNFC(ctx context.Context, tag nfc.Params, actor models.Actor) (nfc.Result, error)
}

type Handler struct {
	engine Disclosure
	logger logging.Logger
}

func NewRouter(engine Disclosure, l logging.Logger) http.Handler {
	h := &Handler{engine: engine, logger: l.With("module", "http")}

	r := chi.NewRouter()
	r.Use(h.recoverer, h.accessLog, securityHeaders)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest)
	})

	r.Get("/healthz", h.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(noStore)

		api.Get("/e/{publicId}", h.handlePublicRead)
		api.Post("/e/{publicId}/request", h.handleRequestAccess)
		api.Post("/e/{publicId}/revoke", h.handleRevoke)

		api.Get("/c/{token}", h.handleBreakGlassRead)
		api.Post("/c/reveal/{handle}", h.handleReveal)

		api.Post("/nfc/verify", h.handleNFCVerify)
	})

	return r
}
