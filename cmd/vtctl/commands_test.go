package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/vitaltags/internal/netx"
	"github.com/dmitrijs2005/vitaltags/internal/server/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newRootCommand(&out).Run(context.Background(), append([]string{"vtctl"}, args...))
	return out.String(), err
}

func parseEnv(t *testing.T, s string) map[string]string {
	t.Helper()
	m := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		k, v, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		m[k] = v
	}
	return m
}

func TestKeygen_Stdout(t *testing.T) {
	out, err := run(t, "keygen")
	require.NoError(t, err)

	env := parseEnv(t, out)
	assert.Len(t, env["KEK_HEX"], 64)
	assert.Len(t, env["TOKEN_KEY_HEX"], 64)
	assert.Len(t, env["PII_SALT_HEX"], 32)
	assert.Len(t, env["JWT_SECRET"], 64)
	assert.NotEqual(t, env["KEK_HEX"], env["TOKEN_KEY_HEX"])
}

func TestKeygen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vitaltags.env")

	out, err := run(t, "keygen", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "keys written")
	assert.NotContains(t, out, "KEK_HEX")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	first := parseEnv(t, string(b))

	_, err = run(t, "keygen", "--out", path)
	require.Error(t, err, "existing key file is not replaced silently")

	_, err = run(t, "keygen", "--out", path, "--force")
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEqual(t, first["KEK_HEX"], parseEnv(t, string(b))["KEK_HEX"])
}

func TestToken(t *testing.T) {
	out, err := run(t, "token", "--owner", "owner-7", "--secret", "s3cret", "--ttl", "5m")
	require.NoError(t, err)

	ownerID, err := auth.GetOwnerIDFromToken(strings.TrimSpace(out), []byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "owner-7", ownerID)

	_, err = run(t, "token", "--owner", "owner-7", "--secret", "s3cret", "--ttl=-1m")
	assert.Error(t, err)
}

func TestRevoke(t *testing.T) {
	var gotPath, gotCode string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotCode = body["revocationCode"]
		if gotCode != "right" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"forbidden"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	out, err := run(t, "revoke", "--server", ts.URL+"/", "--code", "right", "pub1")
	require.NoError(t, err)
	assert.Contains(t, out, "profile revoked")
	assert.Equal(t, "/api/e/pub1/revoke", gotPath)

	_, err = run(t, "revoke", "--server", ts.URL, "--code", "wrong", "pub1")
	var apiErr *netx.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "forbidden", apiErr.Code)

	_, err = run(t, "revoke", "--server", ts.URL, "--code", "right")
	assert.Error(t, err, "public id is required")
}

func TestRevoke_PromptsForCode(t *testing.T) {
	old := readSecret
	readSecret = func(int) ([]byte, error) { return []byte("right"), nil }
	defer func() { readSecret = old }()

	var gotCode string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotCode = body["revocationCode"]
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	out, err := run(t, "revoke", "--server", ts.URL, "pub1")
	require.NoError(t, err)
	assert.Equal(t, "right", gotCode)
	assert.Contains(t, out, "Revocation code: ")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Build version:")
}

func TestMigrate_RequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "unused")
	require.NoError(t, os.Unsetenv("DATABASE_URL"))
	_, err := run(t, "migrate")
	assert.Error(t, err)
}
