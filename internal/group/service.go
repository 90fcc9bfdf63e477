// Package group registers groups and their members.
package group

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/protocol"
)

var (
	// ErrIdentityMismatch is returned when the request author is not the key
	// being registered.
	ErrIdentityMismatch = errors.New("author does not match registered key")
	// ErrNotGroupKey is returned when someone other than the group key tries
	// to administer the group.
	ErrNotGroupKey = errors.New("only the group key may do this")
)

// Service manages the group lifecycle.
type Service struct {
	ledger   ledger.Ledger
	verifier *protocol.Verifier
	logger   *slog.Logger
	timeout  time.Duration
}

// NewService creates a group service. A zero timeout leaves ledger calls unbounded.
func NewService(l ledger.Ledger, verifier *protocol.Verifier, logger *slog.Logger, timeout time.Duration) *Service {
	return &Service{ledger: l, verifier: verifier, logger: logger, timeout: timeout}
}

// RegisterInput describes a new group. The author must be the group key.
type RegisterInput struct {
	Author string
	Name   string
	Key    string
}

// Register creates a group owned by its key.
func (s *Service) Register(ctx context.Context, in RegisterInput) (ledger.Group, error) {
	if in.Author != in.Key {
		return ledger.Group{}, ErrIdentityMismatch
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	g, err := s.ledger.CreateGroup(ctx, in.Name, in.Key)
	if err != nil {
		return ledger.Group{}, err
	}
	s.logger.InfoContext(ctx, "group registered", "group_id", g.ID, "group_key", g.Key)
	return g, nil
}

// RegisterUserInput admits User to a group. GroupSignature is the group key's
// signature over the auth claim {group, user}.
type RegisterUserInput struct {
	Author         string
	GroupID        string
	User           string
	GroupSignature string
}

// RegisterUser adds the author to the group once the group key has admitted them.
func (s *Service) RegisterUser(ctx context.Context, in RegisterUserInput) (ledger.User, error) {
	if in.Author != in.User {
		return ledger.User{}, ErrIdentityMismatch
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	g, err := s.ledger.GetGroup(ctx, in.GroupID)
	if err != nil {
		return ledger.User{}, err
	}
	if err := s.verifier.VerifyMembership(g.Key, g.ID, in.User, in.GroupSignature); err != nil {
		s.logger.InfoContext(ctx, "membership claim rejected", "group_id", g.ID, "user", in.User)
		return ledger.User{}, err
	}
	u, err := s.ledger.AddUser(ctx, g.ID, in.User)
	if err != nil {
		return ledger.User{}, err
	}
	s.logger.InfoContext(ctx, "user registered", "group_id", g.ID, "user", u.Key)
	return u, nil
}

// Delete removes a group and its members. Groups with UOMes cannot be deleted.
func (s *Service) Delete(ctx context.Context, author, groupID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	g, err := s.ledger.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.Key != author {
		return ErrNotGroupKey
	}
	if err := s.ledger.DeleteGroup(ctx, g.ID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "group deleted", "group_id", g.ID)
	return nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
