package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/services"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type createProfileRequest struct {
	Email              string         `json:"email"`
	Phone              string         `json:"phone"`
	Alias              string         `json:"alias"`
	AgeRange           string         `json:"ageRange"`
	CriticalAllergies  []string       `json:"criticalAllergies"`
	CriticalConditions []string       `json:"criticalConditions"`
	CriticalMeds       []string       `json:"criticalMeds"`
	ICEPhone           string         `json:"icePhone"`
	BreakGlassAllowed  bool           `json:"breakGlassAllowed"`
	TierC              map[string]any `json:"tierC"`
}

type sealRequest struct {
	ProfileID string         `json:"profileId"`
	TierC     map[string]any `json:"tierC"`
}

type termRequest struct {
	ProfileID   string  `json:"profileId"`
	ID          string  `json:"id"`
	Kind        string  `json:"kind"`
	Name        *string `json:"name"`
	System      *string `json:"system"`
	Code        *string `json:"code"`
	Note        *string `json:"note"`
	OnsetDate   *string `json:"onsetDate"`
	Dose        *string `json:"dose"`
	Criticality *string `json:"criticality"`
}

type profileRequest struct {
	ProfileID string `json:"profileId"`
	Since     string `json:"since"`
	Limit     int    `json:"limit"`
}

type termView struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	System      string     `json:"system,omitempty"`
	Code        string     `json:"code,omitempty"`
	Note        string     `json:"note,omitempty"`
	OnsetDate   *time.Time `json:"onsetDate,omitempty"`
	Dose        string     `json:"dose,omitempty"`
	Criticality string     `json:"criticality,omitempty"`
}

type auditView struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	Reason    string    `json:"reason,omitempty"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *GRPCServer) CreateProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createProfileRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}

	created, err := s.profiles.Create(ctx, ownerID, services.NewProfile{
		Email:              req.Email,
		Phone:              req.Phone,
		Alias:              req.Alias,
		AgeRange:           req.AgeRange,
		CriticalAllergies:  req.CriticalAllergies,
		CriticalConditions: req.CriticalConditions,
		CriticalMeds:       req.CriticalMeds,
		ICEPhone:           req.ICEPhone,
		BreakGlassAllowed:  req.BreakGlassAllowed,
		TierC:              req.TierC,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Profile created", "profile_id", created.Profile.ID)
	return encode(map[string]any{
		"id":             created.Profile.ID,
		"publicId":       created.Profile.PublicID,
		"revocationCode": created.RevocationCode,
	})
}

func (s *GRPCServer) SealTierC(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sealRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.SealTierC(ctx, ownerID, req.ProfileID, req.TierC); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return encode(map[string]any{"ok": true})
}

func (s *GRPCServer) AddTerm(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req termRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}

	t, err := s.terms.Add(ctx, ownerID, req.ProfileID, models.TermKind(req.Kind), services.TermInput{
		Name:        deref(req.Name),
		System:      deref(req.System),
		Code:        deref(req.Code),
		Note:        deref(req.Note),
		OnsetDate:   deref(req.OnsetDate),
		Dose:        deref(req.Dose),
		Criticality: deref(req.Criticality),
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return encode(newTermView(t))
}

func (s *GRPCServer) UpdateTerm(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req termRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}

	t, err := s.terms.Update(ctx, ownerID, req.ProfileID, req.ID, services.TermPatch{
		Name:        req.Name,
		System:      req.System,
		Code:        req.Code,
		Note:        req.Note,
		OnsetDate:   req.OnsetDate,
		Dose:        req.Dose,
		Criticality: req.Criticality,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return encode(newTermView(t))
}

func (s *GRPCServer) RemoveTerm(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req termRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	if err := s.terms.Remove(ctx, ownerID, req.ProfileID, req.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return encode(map[string]any{"ok": true})
}

func (s *GRPCServer) ListTerms(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req termRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}

	list, err := s.terms.List(ctx, ownerID, req.ProfileID, models.TermKind(req.Kind))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	views := make([]termView, 0, len(list))
	for _, t := range list {
		views = append(views, newTermView(t))
	}
	return encode(map[string]any{"terms": views})
}

func (s *GRPCServer) Reinstate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req profileRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}

	publicID, err := s.profiles.Reinstate(ctx, ownerID, req.ProfileID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	s.logger.Info(ctx, "Profile reinstated", "profile_id", req.ProfileID)
	return encode(map[string]any{"publicId": publicID})
}

func (s *GRPCServer) AuditTrail(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req profileRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	since, err := parseSince(req.Since)
	if err != nil {
		return nil, err
	}

	entries, err := s.profiles.AuditTrail(ctx, ownerID, req.ProfileID, since, req.Limit)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	views := make([]auditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditView{ID: e.ID, Event: string(e.Event), Reason: e.Reason, Country: e.Country, CreatedAt: e.CreatedAt})
	}
	return encode(map[string]any{"logs": views})
}

func (s *GRPCServer) ExportData(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ownerID, err := ownerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	url, err := s.exports.Export(ctx, ownerID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return encode(map[string]any{"url": url})
}

func (s *GRPCServer) SendAccessDigest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req profileRequest
	ownerID, err := s.begin(ctx, in, &req)
	if err != nil {
		return nil, err
	}
	since, err := parseSince(req.Since)
	if err != nil {
		return nil, err
	}

	res, err := s.profiles.SendAccessDigest(ctx, ownerID, req.ProfileID, since)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return encode(map[string]any{"ok": res.OK, "channel": string(res.Channel), "messageId": res.MessageID})
}

func (s *GRPCServer) Ping(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return encode(map[string]any{"status": "OK"})
}

// begin resolves the caller and decodes the request body into v.
func (s *GRPCServer) begin(ctx context.Context, in *structpb.Struct, v any) (string, error) {
	ownerID, err := ownerFromContext(ctx)
	if err != nil {
		return "", err
	}
	if err := decode(in, v); err != nil {
		return "", err
	}
	return ownerID, nil
}

// toStatus maps service errors to gRPC codes without leaking detail for
// internal failures.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrorDuplicate), errors.Is(err, common.ErrorAlreadyExists):
		return status.Error(codes.AlreadyExists, "duplicate")
	case errors.Is(err, common.ErrorForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, common.ErrorUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	}
	s.logger.Error(ctx, "owner request failed", "error", err)
	return status.Error(codes.Internal, "internal error")
}

func decode(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, "bad request")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Error(codes.InvalidArgument, fmt.Sprintf("bad request: %v", err))
	}
	return nil
}

func encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	return out, nil
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, status.Error(codes.InvalidArgument, "since must be RFC 3339")
	}
	return t, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func newTermView(t *models.Term) termView {
	return termView{
		ID:          t.ID,
		Kind:        string(t.Kind),
		Slug:        t.Slug,
		Name:        t.Name,
		System:      t.System,
		Code:        t.Code,
		Note:        t.Note,
		OnsetDate:   t.OnsetDate,
		Dose:        t.Dose,
		Criticality: t.Criticality,
	}
}
