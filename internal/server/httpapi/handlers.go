package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/nfc"
	"github.com/dmitrijs2005/vitaltags/internal/server/ratelimit"
	"github.com/go-chi/chi/v5"
)

const (
	codeBadJSON      = "bad_json"
	codeBadRequest   = "bad_request"
	codeNotFound     = "not_found"
	codeForbidden    = "forbidden"
	codeRateLimited  = "rate_limited"
	codeInvalidToken = "invalid_token"
	codeDuplicate    = "duplicate"
	codeInternal     = "internal"
)

type requestAccessRequest struct {
	Reason string `json:"reason"`
}

type requestAccessResponse struct {
	OK        bool      `json:"ok"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type revokeRequest struct {
	RevocationCode string `json:"revocationCode"`
}

type nfcVerifyRequest struct {
	PublicID string `json:"publicId"`
	CT       string `json:"ct"`
	SDM      string `json:"sdm"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handlePublicRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tag := &nfc.Params{CT: q.Get("ct"), SDM: q.Get("sdm")}

	view, err := h.engine.ReadPublicTier(r.Context(), chi.URLParam(r, "publicId"), tag, actorFrom(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	var req requestAccessRequest
	if !decodeBody(w, r, &req) {
		return
	}

	grant, err := h.engine.RequestAccess(r.Context(), chi.URLParam(r, "publicId"), req.Reason, actorFrom(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requestAccessResponse{OK: true, Token: grant.Token, ExpiresAt: grant.ExpiresAt})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.Revoke(r.Context(), chi.URLParam(r, "publicId"), req.RevocationCode, actorFrom(r)); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleBreakGlassRead(w http.ResponseWriter, r *http.Request) {
	d, err := h.engine.ReadBreakGlass(r.Context(), chi.URLParam(r, "token"), actorFrom(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	f, err := h.engine.RevealField(r.Context(), chi.URLParam(r, "handle"), actorFrom(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) handleNFCVerify(w http.ResponseWriter, r *http.Request) {
	var req nfcVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.engine.VerifyNFC(r.Context(), nfc.Params{PublicID: req.PublicID, CT: req.CT, SDM: req.SDM}, actorFrom(r))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if res.Flags == nil {
		res.Flags = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}

// actorFrom describes the caller for rate limiting and the audit trail.
func actorFrom(r *http.Request) models.Actor {
	country := r.Header.Get("CF-IPCountry")
	if country == "" {
		country = r.Header.Get("X-Country")
	}
	return models.Actor{
		IP:        ratelimit.ClientIP(r.Header),
		UserAgent: r.UserAgent(),
		Country:   strings.TrimSpace(country),
	}
}

// decodeBody reads a single JSON object into dst. It writes the bad_json
// response itself and reports false when the body is unusable.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeBadJSON)
		return false
	}
	return true
}

// writeFailure maps an engine error to its status and public code. Internal
// detail is logged, never returned.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var rl *common.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", retryAfter(rl.ResetAt, time.Now()))
		writeError(w, http.StatusTooManyRequests, codeRateLimited)
	case errors.Is(err, common.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, codeRateLimited)
	case errors.Is(err, common.ErrorValidation):
		writeError(w, http.StatusBadRequest, codeBadRequest)
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, codeNotFound)
	case errors.Is(err, common.ErrorForbidden):
		writeError(w, http.StatusForbidden, codeForbidden)
	case errors.Is(err, common.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, codeInvalidToken)
	case errors.Is(err, common.ErrorDuplicate):
		writeError(w, http.StatusConflict, codeDuplicate)
	default:
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "error", err)
		writeError(w, http.StatusInternalServerError, codeInternal)
	}
}

// retryAfter renders whole seconds until resetAt, at least one.
func retryAfter(resetAt, now time.Time) string {
	secs := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
