package uome

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/middleware"
	"github.com/groupbank/groupbank/internal/protocol"
)

// Handler exposes UOMe endpoints. Every route expects a verified envelope.
type Handler struct {
	service *Service
}

// NewHandler constructs a UOMe handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type issueRequest struct {
	GroupID       string `json:"group_uuid" validate:"required,uuid"`
	User          string `json:"user" validate:"required"`
	Borrower      string `json:"borrower" validate:"required"`
	Value         int64  `json:"value"`
	Description   string `json:"description"`
	UserSignature string `json:"user_signature" validate:"required"`
}

type signedRequest struct {
	GroupID       string `json:"group_uuid" validate:"required,uuid"`
	User          string `json:"user" validate:"required"`
	UOMeID        string `json:"uome_uuid" validate:"required,uuid"`
	UserSignature string `json:"user_signature" validate:"required"`
}

type cancelRequest struct {
	GroupID string `json:"group_uuid" validate:"required,uuid"`
	User    string `json:"user" validate:"required"`
	UOMeID  string `json:"uome_uuid" validate:"required,uuid"`
}

type authRequest struct {
	GroupID       string `json:"group_uuid" validate:"required,uuid"`
	User          string `json:"user" validate:"required"`
	UserSignature string `json:"user_signature" validate:"required"`
}

type uomeView struct {
	GroupID     string `json:"group_uuid"`
	Lender      string `json:"lender"`
	Borrower    string `json:"borrower"`
	Value       int64  `json:"value"`
	Description string `json:"description"`
	UOMeID      string `json:"uome_uuid"`
}

func viewOf(u ledger.UOMe) uomeView {
	return uomeView{
		GroupID:     u.GroupID,
		Lender:      u.Lender,
		Borrower:    u.Borrower,
		Value:       u.Value,
		Description: u.Description,
		UOMeID:      u.ID,
	}
}

func viewsOf(list []ledger.UOMe) []uomeView {
	out := make([]uomeView, 0, len(list))
	for _, u := range list {
		out = append(out, viewOf(u))
	}
	return out
}

func caller(c *fiber.Ctx, groupID, user string) Caller {
	return Caller{Author: middleware.Author(c), GroupID: groupID, User: user}
}

// Issue creates a draft UOMe lent by the author.
func (h *Handler) Issue(c *fiber.Ctx) error {
	var req issueRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	u, err := h.service.Issue(c.UserContext(), IssueInput{
		Caller:        caller(c, req.GroupID, req.User),
		Borrower:      req.Borrower,
		Value:         req.Value,
		Description:   req.Description,
		UserSignature: req.UserSignature,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"group_uuid":  u.GroupID,
		"user":        u.Lender,
		"borrower":    u.Borrower,
		"value":       u.Value,
		"description": u.Description,
		"uome_uuid":   u.ID,
	})
}

// Confirm stores the lender's signature over the UOMe terms.
func (h *Handler) Confirm(c *fiber.Ctx) error {
	var req signedRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	u, err := h.service.Confirm(c.UserContext(), SignedInput{
		Caller:        caller(c, req.GroupID, req.User),
		UOMeID:        req.UOMeID,
		UserSignature: req.UserSignature,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"group_uuid": u.GroupID,
		"user":       u.Lender,
		"uome_uuid":  u.ID,
	})
}

// Cancel deletes an unaccepted UOMe.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	var req cancelRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	err := h.service.Cancel(c.UserContext(), CancelInput{
		Caller: caller(c, req.GroupID, req.User),
		UOMeID: req.UOMeID,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"group_uuid": req.GroupID,
		"user":       req.User,
		"uome_uuid":  req.UOMeID,
	})
}

// Accept stores the borrower's signature and settles the group.
func (h *Handler) Accept(c *fiber.Ctx) error {
	var req signedRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	acc, err := h.service.Accept(c.UserContext(), SignedInput{
		Caller:        caller(c, req.GroupID, req.User),
		UOMeID:        req.UOMeID,
		UserSignature: req.UserSignature,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"group_uuid":   acc.UOMe.GroupID,
		"user":         acc.UOMe.Borrower,
		"uome_uuid":    acc.UOMe.ID,
		"user_balance": acc.Balances[acc.UOMe.Borrower],
	})
}

// Pending lists confirmed UOMes issued by or waiting for the author.
func (h *Handler) Pending(c *fiber.Ctx) error {
	var req authRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	p, err := h.service.Pending(c.UserContext(), AuthInput{
		Caller:        caller(c, req.GroupID, req.User),
		UserSignature: req.UserSignature,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"group_uuid":       req.GroupID,
		"user":             req.User,
		"issued_by_user":   viewsOf(p.IssuedByUser),
		"waiting_for_user": viewsOf(p.WaitingForUser),
	})
}

// Totals reports the author's balance and suggested settlements.
func (h *Handler) Totals(c *fiber.Ctx) error {
	var req authRequest
	if err := middleware.BindPayload(c, &req); err != nil {
		return err
	}
	res, err := h.service.Totals(c.UserContext(), AuthInput{
		Caller:        caller(c, req.GroupID, req.User),
		UserSignature: req.UserSignature,
	})
	if err != nil {
		return httpError(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"group_uuid":             req.GroupID,
		"user":                   req.User,
		"user_balance":           res.Balance,
		"suggested_transactions": res.Suggested,
	})
}

func httpError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrIdentityMismatch),
		errors.Is(err, protocol.ErrAuthClaim):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, protocol.ErrTermsClaim),
		errors.Is(err, ledger.ErrTermsMismatch),
		errors.Is(err, ledger.ErrNotLender),
		errors.Is(err, ledger.ErrNotBorrower),
		errors.Is(err, ledger.ErrFinalized):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, ledger.ErrInvalidValue),
		errors.Is(err, ledger.ErrSelfLoan),
		errors.Is(err, ledger.ErrDescriptionTooLong),
		errors.Is(err, ledger.ErrBalanceOverflow),
		errors.Is(err, ledger.ErrAlreadyConfirmed),
		errors.Is(err, ledger.ErrNotConfirmed):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		c.Set(fiber.HeaderRetryAfter, "1")
		return fiber.NewError(http.StatusServiceUnavailable, "store timeout, retry later")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}
