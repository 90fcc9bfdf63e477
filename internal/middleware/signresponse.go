package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/groupbank/groupbank/internal/signing"
)

const (
	// HeaderAuthor carries the server identity on every response.
	HeaderAuthor = "X-Author"
	// HeaderSignature is the server signature over the response body.
	HeaderSignature = "X-Signature"
)

// SignResponse signs every response body, errors included, with the server
// key. Handler errors are rendered here so the signature covers them.
func SignResponse(signer *signing.Signer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := c.Next(); err != nil {
			if herr := c.App().Config().ErrorHandler(c, err); herr != nil {
				return herr
			}
		}
		c.Set(HeaderAuthor, signer.Identity())
		c.Set(HeaderSignature, signer.Sign(c.Response().Body()))
		return nil
	}
}
