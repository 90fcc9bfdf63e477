package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/groupbank/groupbank/internal/group"
)

// RegisterGroupRoutes wires group registration endpoints.
func RegisterGroupRoutes(r fiber.Router, h *group.Handler) {
	r.Post("/register", h.Register)
	r.Post("/register-user", h.RegisterUser)
	r.Post("/delete", h.Delete)
}
