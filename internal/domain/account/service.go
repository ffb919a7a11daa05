package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ehr/clinic/internal/platform/apperr"
	"github.com/ehr/clinic/internal/platform/auth"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 6

// Service handles practitioner signup and login.
type Service struct {
	repo   UserRepository
	issuer *auth.Issuer
	cost   int
}

func NewService(repo UserRepository, issuer *auth.Issuer) *Service {
	return &Service{repo: repo, issuer: issuer, cost: bcrypt.DefaultCost}
}

// SetHashCost overrides the bcrypt cost.
func (s *Service) SetHashCost(cost int) { s.cost = cost }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Signup(ctx context.Context, in SignupInput) (*User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" || in.Role == "" {
		return nil, apperr.Validation("Email, password, and role are required")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.Validation("Password must be at least %d characters long", MinPasswordLength)
	}
	if !auth.ValidRole(in.Role) {
		return nil, apperr.Validation("Role must be %q or %q", auth.RoleDoctor, auth.RoleNurse)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, apperr.Validation("Password must be at most 72 bytes long")
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{Email: email, PasswordHash: string(hash), Role: in.Role}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, apperr.Validation("Email already exists")
		}
		return nil, apperr.Wrap(apperr.KindStorage, "Server error during signup", err)
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperr.Validation("Email and password are required")
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Validation("No account found with this email")
		}
		return nil, apperr.Wrap(apperr.KindStorage, "Server error during login", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, apperr.Validation("Invalid password")
	}

	token, err := s.issuer.Issue(auth.Identity{Subject: u.ID.String(), Email: u.Email, Role: u.Role})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Server error during login", err)
	}
	return &LoginResult{Token: token, User: u}, nil
}
