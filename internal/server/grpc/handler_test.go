package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/server/audit"
	"github.com/dmitrijs2005/vitaltags/internal/server/auth"
	"github.com/dmitrijs2005/vitaltags/internal/server/notify"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vitaltags/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	testSecret = "owner-api-secret"
	testKEK    = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testSalt   = "00112233445566778899aabbccddeeff"
)

type client struct {
	conn  *grpc.ClientConn
	repos *repomanager.MemoryRepositoryManager
}

func newClient(t *testing.T) *client {
	t.Helper()

	envelope, err := cryptox.NewEnvelope(testKEK)
	require.NoError(t, err)
	hasher, err := cryptox.NewPIIHasher(testSalt)
	require.NoError(t, err)

	repos := repomanager.NewMemoryRepositoryManager()
	rec := audit.NewRecorder(repos.AuditLogs(), hasher, nopLogger{})
	dispatcher := notify.NewDispatcher(hasher, nopLogger{})

	s := NewGRPCServer("bufconn", nopLogger{},
		services.NewProfileService(repos, envelope, rec, dispatcher),
		services.NewTermService(repos),
		nil,
		testSecret,
	)

	lis := bufconn.Listen(1 << 20)
	srv := s.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &client{conn: conn, repos: repos}
}

func (c *client) call(t *testing.T, owner, method string, req map[string]any) (map[string]any, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if owner != "" {
		token, err := auth.GenerateToken(owner, []byte(testSecret), time.Minute)
		require.NoError(t, err)
		ctx = metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, token)
	}

	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func TestPing_NoToken(t *testing.T) {
	c := newClient(t)
	out, err := c.call(t, "", MethodPing, nil)
	require.NoError(t, err)
	assert.Equal(t, "OK", out["status"])
}

func TestOwnerFlow(t *testing.T) {
	c := newClient(t)

	_, err := c.call(t, "", MethodCreateProfile, map[string]any{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	created, err := c.call(t, "owner-1", MethodCreateProfile, map[string]any{
		"alias":             "J.",
		"ageRange":          "50-59",
		"criticalAllergies": []any{"Penicillin"},
		"breakGlassAllowed": true,
		"tierC":             map[string]any{"notes": "detail"},
	})
	require.NoError(t, err)
	profileID := created["id"].(string)
	assert.NotEmpty(t, created["publicId"])
	assert.Len(t, created["revocationCode"], 16)

	term, err := c.call(t, "owner-1", MethodAddTerm, map[string]any{
		"profileId": profileID, "kind": "allergy", "name": "Penicillin", "criticality": "high",
	})
	require.NoError(t, err)
	assert.Equal(t, "penicillin", term["slug"])

	_, err = c.call(t, "owner-1", MethodAddTerm, map[string]any{
		"profileId": profileID, "kind": "allergy", "name": "penicillin",
	})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = c.call(t, "owner-1", MethodAddTerm, map[string]any{
		"profileId": profileID, "kind": "allergy", "name": "x",
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	updated, err := c.call(t, "owner-1", MethodUpdateTerm, map[string]any{
		"profileId": profileID, "id": term["id"], "note": "anaphylaxis 2019",
	})
	require.NoError(t, err)
	assert.Equal(t, "anaphylaxis 2019", updated["note"])

	list, err := c.call(t, "owner-1", MethodListTerms, map[string]any{"profileId": profileID})
	require.NoError(t, err)
	assert.Len(t, list["terms"], 1)

	_, err = c.call(t, "owner-2", MethodListTerms, map[string]any{"profileId": profileID})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.call(t, "owner-1", MethodRemoveTerm, map[string]any{"profileId": profileID, "id": term["id"]})
	require.NoError(t, err)

	_, err = c.call(t, "owner-1", MethodSealTierC, map[string]any{"profileId": profileID, "tierC": map[string]any{"blood": "B+"}})
	require.NoError(t, err)

	_, err = c.call(t, "owner-1", MethodReinstate, map[string]any{"profileId": profileID})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	digest, err := c.call(t, "owner-1", MethodSendAccessDigest, map[string]any{"profileId": profileID})
	require.NoError(t, err)
	assert.Equal(t, "log", digest["channel"])

	_, err = c.call(t, "owner-1", MethodAuditTrail, map[string]any{"profileId": profileID, "since": "yesterday"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	trail, err := c.call(t, "owner-1", MethodAuditTrail, map[string]any{"profileId": profileID})
	require.NoError(t, err)
	assert.Empty(t, trail["logs"])
}
