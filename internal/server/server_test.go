package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupbank/groupbank/internal/config"
	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/logging"
	"github.com/groupbank/groupbank/internal/metrics"
	"github.com/groupbank/groupbank/internal/middleware"
	"github.com/groupbank/groupbank/internal/protocol"
	"github.com/groupbank/groupbank/internal/routes"
	"github.com/groupbank/groupbank/internal/signing"
)

type harness struct {
	t      *testing.T
	app    *fiber.App
	server *signing.Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	serverKey, err := signing.GenerateSigner()
	require.NoError(t, err)

	srv, err := New(routes.Deps{
		Cfg: config.Config{
			AppName:            "GroupBank",
			AppEnv:             "development",
			RateLimitPerMinute: 1000,
		},
		Cache:   cache,
		Logger:  logging.Discard(),
		Signer:  serverKey,
		Metrics: metrics.New(),
		Ledger:  ledger.NewInMemory(),
	})
	require.NoError(t, err)
	return &harness{t: t, app: srv.App(), server: serverKey}
}

func newMember(t *testing.T) *signing.Signer {
	t.Helper()
	s, err := signing.GenerateSigner()
	require.NoError(t, err)
	return s
}

// send posts payload signed by author and checks the response signature.
func (h *harness) send(path string, author *signing.Signer, payload any) (int, map[string]any) {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(h.t, err)
	body, err := json.Marshal(map[string]string{
		"author":    author.Identity(),
		"signature": author.Sign(raw),
		"payload":   string(raw),
	})
	require.NoError(h.t, err)

	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return h.do(req)
}

func (h *harness) do(req *http.Request) (int, map[string]any) {
	h.t.Helper()
	resp, err := h.app.Test(req, -1)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)

	assert.Equal(h.t, h.server.Identity(), resp.Header.Get(middleware.HeaderAuthor))
	assert.NoError(h.t, signing.Ed25519Authenticator{}.Verify(h.server.Identity(), resp.Header.Get(middleware.HeaderSignature), respBody),
		"response signature for %s", req.URL.Path)

	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(h.t, json.Unmarshal(respBody, &out))
	}
	return resp.StatusCode, out
}

func authSig(s *signing.Signer, groupID string) string {
	return s.Sign(protocol.AuthClaim{GroupID: groupID, User: s.Identity()}.Canonical())
}

func termsSig(s *signing.Signer, claim protocol.TermsClaim) string {
	return s.Sign(claim.Canonical())
}

func TestLedgerFlowOverHTTP(t *testing.T) {
	h := newHarness(t)
	groupKey := newMember(t)
	alice := newMember(t)
	bob := newMember(t)

	status, body := h.send("/api/v1/groups/register", groupKey, map[string]any{
		"group_name": "flat", "group_key": groupKey.Identity(),
	})
	require.Equal(t, http.StatusCreated, status, body)
	groupID := body["group_uuid"].(string)

	for _, m := range []*signing.Signer{alice, bob} {
		status, body = h.send("/api/v1/groups/register-user", m, map[string]any{
			"group_uuid":      groupID,
			"user":            m.Identity(),
			"group_signature": groupKey.Sign(protocol.AuthClaim{GroupID: groupID, User: m.Identity()}.Canonical()),
		})
		require.Equal(t, http.StatusCreated, status, body)
	}

	status, body = h.send("/api/v1/uome/issue", alice, map[string]any{
		"group_uuid":     groupID,
		"user":           alice.Identity(),
		"borrower":       bob.Identity(),
		"value":          1000,
		"description":    "groceries",
		"user_signature": authSig(alice, groupID),
	})
	require.Equal(t, http.StatusCreated, status, body)
	uomeID := body["uome_uuid"].(string)
	assert.EqualValues(t, 1000, body["value"])

	terms := protocol.TermsClaim{
		GroupID:     groupID,
		Lender:      alice.Identity(),
		Borrower:    bob.Identity(),
		Value:       1000,
		Description: "groceries",
		UOMeID:      uomeID,
	}

	status, body = h.send("/api/v1/uome/confirm", alice, map[string]any{
		"group_uuid": groupID, "user": alice.Identity(), "uome_uuid": uomeID, "user_signature": termsSig(alice, terms),
	})
	require.Equal(t, http.StatusOK, status, body)

	status, body = h.send("/api/v1/uome/get-pending", bob, map[string]any{
		"group_uuid": groupID, "user": bob.Identity(), "user_signature": authSig(bob, groupID),
	})
	require.Equal(t, http.StatusOK, status, body)
	waiting := body["waiting_for_user"].([]any)
	require.Len(t, waiting, 1)
	assert.Equal(t, uomeID, waiting[0].(map[string]any)["uome_uuid"])
	assert.Empty(t, body["issued_by_user"])

	// bob cannot cancel alice's UOMe
	status, _ = h.send("/api/v1/uome/cancel", bob, map[string]any{
		"group_uuid": groupID, "user": bob.Identity(), "uome_uuid": uomeID,
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, body = h.send("/api/v1/uome/accept", bob, map[string]any{
		"group_uuid": groupID, "user": bob.Identity(), "uome_uuid": uomeID, "user_signature": termsSig(bob, terms),
	})
	require.Equal(t, http.StatusOK, status, body)

	status, body = h.send("/api/v1/uome/get-totals", alice, map[string]any{
		"group_uuid": groupID, "user": alice.Identity(), "user_signature": authSig(alice, groupID),
	})
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1000, body["user_balance"])
	assert.Equal(t, map[string]any{bob.Identity(): float64(1000)}, body["suggested_transactions"])

	status, body = h.send("/api/v1/groups/delete", groupKey, map[string]any{"group_uuid": groupID})
	assert.Equal(t, http.StatusConflict, status, body)
}

func TestRequestErrors(t *testing.T) {
	h := newHarness(t)
	groupKey := newMember(t)
	alice := newMember(t)
	bob := newMember(t)

	_, body := h.send("/api/v1/groups/register", groupKey, map[string]any{
		"group_name": "flat", "group_key": groupKey.Identity(),
	})
	groupID := body["group_uuid"].(string)

	cases := []struct {
		name    string
		path    string
		author  *signing.Signer
		payload map[string]any
		status  int
	}{
		{
			name:    "missing field",
			path:    "/api/v1/uome/get-totals",
			author:  alice,
			payload: map[string]any{"group_uuid": groupID, "user": alice.Identity()},
			status:  http.StatusBadRequest,
		},
		{
			name:    "malformed group id",
			path:    "/api/v1/uome/get-totals",
			author:  alice,
			payload: map[string]any{"group_uuid": "nope", "user": alice.Identity(), "user_signature": "x"},
			status:  http.StatusBadRequest,
		},
		{
			name:    "author speaks for someone else",
			path:    "/api/v1/uome/issue",
			author:  alice,
			payload: map[string]any{"group_uuid": groupID, "user": bob.Identity(), "borrower": alice.Identity(), "value": 5, "user_signature": authSig(bob, groupID)},
			status:  http.StatusUnauthorized,
		},
		{
			name:    "non-member",
			path:    "/api/v1/uome/get-pending",
			author:  alice,
			payload: map[string]any{"group_uuid": groupID, "user": alice.Identity(), "user_signature": authSig(alice, groupID)},
			status:  http.StatusBadRequest,
		},
		{
			name:    "group registered twice",
			path:    "/api/v1/groups/register",
			author:  groupKey,
			payload: map[string]any{"group_name": "again", "group_key": groupKey.Identity()},
			status:  http.StatusConflict,
		},
		{
			name:    "delete by non-owner",
			path:    "/api/v1/groups/delete",
			author:  alice,
			payload: map[string]any{"group_uuid": groupID},
			status:  http.StatusForbidden,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := h.send(tc.path, tc.author, tc.payload)
			assert.Equal(t, tc.status, status, body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestEnvelopeSignatureRequired(t *testing.T) {
	h := newHarness(t)
	alice := newMember(t)
	mallory := newMember(t)

	payload := `{"group_name":"flat","group_key":"` + alice.Identity() + `"}`
	body, err := json.Marshal(map[string]string{
		"author":    alice.Identity(),
		"signature": mallory.Sign([]byte(payload)),
		"payload":   payload,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/groups/register", strings.NewReader(string(body)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	status, out := h.do(req)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid author signature", out["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	status, body := h.do(httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, status)
	checks := body["status"].(map[string]any)
	assert.Equal(t, "ok", checks["redis"])
	assert.Equal(t, "disabled", checks["postgres"])

	resp, err := h.app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "groupbank_http_requests_total")
}
