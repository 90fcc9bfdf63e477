package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/groupbank/groupbank/internal/uome"
)

// RegisterUOMeRoutes wires UOMe lifecycle endpoints.
func RegisterUOMeRoutes(r fiber.Router, h *uome.Handler) {
	r.Post("/issue", h.Issue)
	r.Post("/confirm", h.Confirm)
	r.Post("/cancel", h.Cancel)
	r.Post("/accept", h.Accept)
	r.Post("/get-pending", h.Pending)
	r.Post("/get-totals", h.Totals)
}
