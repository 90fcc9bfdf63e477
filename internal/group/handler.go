package group

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/middleware"
	"github.com/groupbank/groupbank/internal/protocol"
)

// Handler exposes group registration endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a group handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Name string `json:"group_name" validate:"required,max=80"`
	Key  string `json:"group_key" validate:"required"`
}

type registerUserRequest struct {
	GroupID        string `json:"group_uuid" validate:"required,uuid"`
	User           string `json:"user" validate:"required"`
	GroupSignature string `json:"group_signature" validate:"required"`
}

type deleteRequest struct {
	GroupID string `json:"group_uuid" validate:"required,uuid"`
}

// Register creates a group keyed by the author.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	g, err := h.service.Register(c.UserContext(), RegisterInput{
		Author: middleware.Author(c),
		Name:   req.Name,
		Key:    req.Key,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"group_uuid": g.ID,
		"group_name": g.Name,
		"group_key":  g.Key,
	})
}

// RegisterUser adds the author to a group.
func (h *Handler) RegisterUser(c *fiber.Ctx) error {
	var req registerUserRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	u, err := h.service.RegisterUser(c.UserContext(), RegisterUserInput{
		Author:         middleware.Author(c),
		GroupID:        req.GroupID,
		User:           req.User,
		GroupSignature: req.GroupSignature,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"group_uuid": u.GroupID,
		"user":       u.Key,
	})
}

// Delete removes a group without UOMes.
func (h *Handler) Delete(c *fiber.Ctx) error {
	var req deleteRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	if err := h.service.Delete(c.UserContext(), middleware.Author(c), req.GroupID); err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"group_uuid": req.GroupID})
}

func httpError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrIdentityMismatch):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrNotGroupKey), errors.Is(err, protocol.ErrGroupClaim):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrGroupExists),
		errors.Is(err, ledger.ErrUserExists),
		errors.Is(err, ledger.ErrGroupInUse):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		c.Set(fiber.HeaderRetryAfter, "1")
		return fiber.NewError(http.StatusServiceUnavailable, "store timeout, retry later")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
