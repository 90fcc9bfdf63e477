package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupbank/groupbank/internal/logging"
	"github.com/groupbank/groupbank/internal/signing"
)

type greetPayload struct {
	GroupID string `json:"group_uuid" validate:"required,uuid"`
	User    string `json:"user" validate:"required"`
}

func envelopeApp(t *testing.T) *fiber.App {
	t.Helper()
	app := fiber.New()
	app.Post("/greet", VerifyEnvelope(signing.Ed25519Authenticator{}, logging.Discard()), func(c *fiber.Ctx) error {
		var p greetPayload
		if err := BindPayload(c, &p); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"author": Author(c), "user": p.User})
	})
	return app
}

func signedJSON(t *testing.T, s *signing.Signer, payload string) *http.Request {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"author":    s.Identity(),
		"signature": s.Sign([]byte(payload)),
		"payload":   payload,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(fiber.MethodPost, "/greet", strings.NewReader(string(body)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func TestVerifyEnvelope_AcceptsSignedJSON(t *testing.T) {
	s, err := signing.GenerateSigner()
	require.NoError(t, err)
	app := envelopeApp(t)

	payload := `{"group_uuid":"1b4e28ba-2fa1-11d2-883f-0016d3cca427","user":"alice"}`
	resp, err := app.Test(signedJSON(t, s, payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, s.Identity(), out["author"])
	assert.Equal(t, "alice", out["user"])
}

func TestVerifyEnvelope_AcceptsSignedForm(t *testing.T) {
	s, err := signing.GenerateSigner()
	require.NoError(t, err)
	app := envelopeApp(t)

	payload := `{"group_uuid":"1b4e28ba-2fa1-11d2-883f-0016d3cca427","user":"alice"}`
	form := url.Values{}
	form.Set("author", s.Identity())
	form.Set("signature", s.Sign([]byte(payload)))
	form.Set("payload", payload)
	req := httptest.NewRequest(fiber.MethodPost, "/greet", strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVerifyEnvelope_Rejections(t *testing.T) {
	s, err := signing.GenerateSigner()
	require.NoError(t, err)
	other, err := signing.GenerateSigner()
	require.NoError(t, err)
	app := envelopeApp(t)

	t.Run("missing fields", func(t *testing.T) {
		req := httptest.NewRequest(fiber.MethodPost, "/greet", strings.NewReader(`{"author":"x"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("signature by someone else", func(t *testing.T) {
		payload := `{"group_uuid":"1b4e28ba-2fa1-11d2-883f-0016d3cca427","user":"alice"}`
		body, _ := json.Marshal(map[string]string{
			"author":    s.Identity(),
			"signature": other.Sign([]byte(payload)),
			"payload":   payload,
		})
		req := httptest.NewRequest(fiber.MethodPost, "/greet", strings.NewReader(string(body)))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("payload not json", func(t *testing.T) {
		resp, err := app.Test(signedJSON(t, s, "not json"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("payload fails validation", func(t *testing.T) {
		resp, err := app.Test(signedJSON(t, s, `{"group_uuid":"nope"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "group_uuid must be a uuid")
		assert.Contains(t, string(body), "user is required")
	})
}
