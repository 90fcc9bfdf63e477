package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/groupbank/groupbank/internal/signing"
)

func TestSignResponse_SignsSuccessAndErrors(t *testing.T) {
	server, err := signing.GenerateSigner()
	require.NoError(t, err)

	app := fiber.New()
	app.Use(SignResponse(server))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Get("/fail", func(c *fiber.Ctx) error { return fiber.NewError(http.StatusForbidden, "no") })

	for path, status := range map[string]int{"/ok": http.StatusOK, "/fail": http.StatusForbidden} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, status, resp.StatusCode, path)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, server.Identity(), resp.Header.Get(HeaderAuthor))
		assert.NoError(t, signing.Ed25519Authenticator{}.Verify(server.Identity(), resp.Header.Get(HeaderSignature), body), path)
	}
}
