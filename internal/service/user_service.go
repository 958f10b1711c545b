package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/digkill/WeddingAI/internal/models"
)

type UserService struct {
	log           zerolog.Logger
	users         UserStore
	ledger        Ledger
	signupCredits int
}

func NewUserService(log zerolog.Logger, users UserStore, ledger Ledger, signupCredits int) *UserService {
	return &UserService{log: log, users: users, ledger: ledger, signupCredits: signupCredits}
}

// Ensure returns the user behind an authenticated identity, creating it on
// first sight. New users start at zero and receive the signup grant through
// the ledger so the log explains the opening balance.
func (s *UserService) Ensure(ctx context.Context, id, email, name string) (*models.User, bool, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("find user: %w", err)
	}
	if user != nil {
		if (email != "" && email != user.Email) || (name != "" && name != user.Name) {
			if err := s.users.UpdateProfile(ctx, id, email, name); err != nil {
				s.log.Warn().Err(err).Str("user_id", id).Msg("failed to refresh profile")
			}
		}
		return user, false, nil
	}

	created, err := s.users.Create(ctx, &models.User{ID: id, Email: email, Name: name})
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}
	if created && s.signupCredits > 0 {
		_, err := s.ledger.Grant(ctx, id, s.signupCredits, models.TxBonus, Reference{
			Type:        models.RefSignup,
			ID:          id,
			Description: "signup bonus",
		})
		if err != nil && !errors.Is(err, models.ErrAlreadyApplied) {
			return nil, false, fmt.Errorf("signup grant: %w", err)
		}
	}

	user, err = s.users.FindByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("find user: %w", err)
	}
	if user == nil {
		return nil, false, models.ErrUserNotFound
	}
	if created {
		s.log.Info().Str("user_id", id).Int("credits", user.AICredits).Msg("user registered")
	}
	return user, created, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.ErrUserNotFound
	}
	return user, nil
}
