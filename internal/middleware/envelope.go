package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/groupbank/groupbank/internal/signing"
)

const (
	authorLocal  = "author"
	payloadLocal = "payload"
)

// envelope is the outer request body. Payload is a JSON document carried as
// a string so the signature covers its exact bytes.
type envelope struct {
	Author    string `json:"author" form:"author"`
	Signature string `json:"signature" form:"signature"`
	Payload   string `json:"payload" form:"payload"`
}

// VerifyEnvelope checks that the request payload was signed by its author.
// It does not decide whether the author may perform the operation.
func VerifyEnvelope(auth signing.Authenticator, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var env envelope
		if err := c.BodyParser(&env); err != nil {
			return fiber.NewError(http.StatusBadRequest, "malformed request")
		}
		if env.Author == "" || env.Signature == "" || env.Payload == "" {
			logger.Info("request with missing author, signature or payload", "path", c.Path())
			return fiber.NewError(http.StatusBadRequest, "author, signature and payload are required")
		}

		payload := []byte(env.Payload)
		if err := auth.Verify(env.Author, env.Signature, payload); err != nil {
			logger.Info("request with invalid author key or signature", "path", c.Path(), "error", err)
			return fiber.NewError(http.StatusUnauthorized, "invalid author signature")
		}

		c.Locals(authorLocal, strings.Clone(env.Author))
		c.Locals(payloadLocal, payload)
		return c.Next()
	}
}

// Author returns the verified author of the current request.
func Author(c *fiber.Ctx) string {
	author, _ := c.Locals(authorLocal).(string)
	return author
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report payload field names in errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// BindPayload decodes the verified payload into dst and validates it.
func BindPayload(c *fiber.Ctx, dst any) error {
	raw, _ := c.Locals(payloadLocal).([]byte)
	if err := json.Unmarshal(raw, dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, "malformed payload")
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.NewError(http.StatusBadRequest, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid payload"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields = append(fields, fe.Field()+" is required")
		case "uuid":
			fields = append(fields, fe.Field()+" must be a uuid")
		case "max":
			fields = append(fields, fe.Field()+" is too long")
		default:
			fields = append(fields, fe.Field()+" is invalid")
		}
	}
	return strings.Join(fields, "; ")
}
