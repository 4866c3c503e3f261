package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/repositories"
)

const (
	minUserNameLength = 2
	maxUserNameLength = 80
)

var (
	// ErrUserInvalidInput indicates the caller provided invalid profile data.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates no profile exists for the given id.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserExists indicates a profile was already registered for the account.
	ErrUserExists = errors.New("user: profile already exists")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
)

// UserServiceDeps bundles collaborators required to construct the user service.
type UserServiceDeps struct {
	Users repositories.UserRepository
	Clock func() time.Time
}

type userService struct {
	users repositories.UserRepository
	clock func() time.Time
}

var _ UserService = (*userService)(nil)

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &userService{
		users: deps.Users,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// RegisterProfile creates the marketplace profile for a freshly authenticated
// account. The role is fixed at first write; admins are provisioned through
// custom claims, never through registration.
func (s *userService) RegisterProfile(ctx context.Context, cmd RegisterProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	name, err := validateUserName(cmd.Name)
	if err != nil {
		return User{}, err
	}

	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if !emailPattern.MatchString(email) {
		return User{}, fmt.Errorf("%w: invalid email address", ErrUserInvalidInput)
	}

	phone := strings.TrimSpace(cmd.Phone)
	if phone != "" && !phonePattern.MatchString(phone) {
		return User{}, fmt.Errorf("%w: invalid phone number", ErrUserInvalidInput)
	}

	if cmd.Role != domain.RoleFarmer && cmd.Role != domain.RoleCustomer {
		return User{}, fmt.Errorf("%w: role must be farmer or customer", ErrUserInvalidInput)
	}

	now := s.clock()
	user := domain.User{
		ID:        userID,
		Name:      name,
		Email:     email,
		Phone:     phone,
		Role:      cmd.Role,
		Address:   cmd.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

// UpdateProfile applies partial edits to a profile. The role and email are
// immutable after registration.
func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		userID = cmd.Actor.ID
	}
	if !cmd.Actor.CanAccess(userID) {
		return User{}, fmt.Errorf("%w: cannot edit another profile", ErrForbidden)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}

	if cmd.Name != nil {
		name, err := validateUserName(*cmd.Name)
		if err != nil {
			return User{}, err
		}
		user.Name = name
	}
	if cmd.Phone != nil {
		phone := strings.TrimSpace(*cmd.Phone)
		if phone != "" && !phonePattern.MatchString(phone) {
			return User{}, fmt.Errorf("%w: invalid phone number", ErrUserInvalidInput)
		}
		user.Phone = phone
	}
	if cmd.Address != nil {
		user.Address = *cmd.Address
	}
	user.UpdatedAt = s.clock()

	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrUserExists, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}
	return err
}

func validateUserName(input string) (string, error) {
	name := strings.Join(strings.Fields(input), " ")
	length := utf8.RuneCountInString(name)
	if length < minUserNameLength || length > maxUserNameLength {
		return "", fmt.Errorf("%w: name must be between %d and %d characters", ErrUserInvalidInput, minUserNameLength, maxUserNameLength)
	}
	return name, nil
}
