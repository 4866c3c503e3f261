package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/repositories"
)

type stubUserRepository struct {
	users   map[string]domain.User
	created []domain.User
	updated []domain.User
	err     error
}

func newStubUserRepository(users ...domain.User) *stubUserRepository {
	repo := &stubUserRepository{users: map[string]domain.User{}}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (s *stubUserRepository) Create(ctx context.Context, user domain.User) error {
	if s.err != nil {
		return s.err
	}
	if _, ok := s.users[user.ID]; ok {
		return fakeRepoError{conflict: true}
	}
	s.created = append(s.created, user)
	s.users[user.ID] = user
	return nil
}

func (s *stubUserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.err != nil {
		return domain.User{}, s.err
	}
	user, ok := s.users[userID]
	if !ok {
		return domain.User{}, fakeRepoError{notFound: true}
	}
	return user, nil
}

func (s *stubUserRepository) Update(ctx context.Context, user domain.User) (domain.User, error) {
	if s.err != nil {
		return domain.User{}, s.err
	}
	s.updated = append(s.updated, user)
	s.users[user.ID] = user
	return user, nil
}

var _ repositories.UserRepository = (*stubUserRepository)(nil)

func newTestUserService(t *testing.T, repo *stubUserRepository, now time.Time) UserService {
	t.Helper()
	svc, err := NewUserService(UserServiceDeps{
		Users: repo,
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	return svc
}

func TestRegisterProfile(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubUserRepository()
	svc := newTestUserService(t, repo, now)

	user, err := svc.RegisterProfile(context.Background(), RegisterProfileCommand{
		UserID: "uid-1",
		Name:   "  Amina   Bello ",
		Email:  "Amina@Example.com",
		Phone:  "+234 801 234 5678",
		Role:   domain.RoleFarmer,
	})
	if err != nil {
		t.Fatalf("RegisterProfile: %v", err)
	}

	if user.Name != "Amina Bello" {
		t.Fatalf("expected normalised name, got %q", user.Name)
	}
	if user.Email != "amina@example.com" {
		t.Fatalf("expected lowercased email, got %q", user.Email)
	}
	if user.CreatedAt != now || user.UpdatedAt != now {
		t.Fatalf("expected timestamps set to %s", now)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one create, got %d", len(repo.created))
	}
}

func TestRegisterProfileValidation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	valid := RegisterProfileCommand{
		UserID: "uid-1",
		Name:   "Amina Bello",
		Email:  "amina@example.com",
		Role:   domain.RoleCustomer,
	}

	cases := []struct {
		name   string
		mutate func(*RegisterProfileCommand)
	}{
		{"missing user id", func(c *RegisterProfileCommand) { c.UserID = " " }},
		{"short name", func(c *RegisterProfileCommand) { c.Name = "A" }},
		{"bad email", func(c *RegisterProfileCommand) { c.Email = "not-an-email" }},
		{"bad phone", func(c *RegisterProfileCommand) { c.Phone = "abc" }},
		{"admin role", func(c *RegisterProfileCommand) { c.Role = domain.RoleAdmin }},
		{"unknown role", func(c *RegisterProfileCommand) { c.Role = "vendor" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newStubUserRepository()
			svc := newTestUserService(t, repo, now)

			cmd := valid
			tc.mutate(&cmd)

			if _, err := svc.RegisterProfile(context.Background(), cmd); !errors.Is(err, ErrUserInvalidInput) {
				t.Fatalf("expected ErrUserInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterProfileRejectsDuplicates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubUserRepository(domain.User{ID: "uid-1", Role: domain.RoleCustomer})
	svc := newTestUserService(t, repo, now)

	_, err := svc.RegisterProfile(context.Background(), RegisterProfileCommand{
		UserID: "uid-1",
		Name:   "Amina Bello",
		Email:  "amina@example.com",
		Role:   domain.RoleCustomer,
	})
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestGetProfile(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubUserRepository(domain.User{ID: "uid-1", Name: "Amina Bello"})
	svc := newTestUserService(t, repo, now)

	user, err := svc.GetProfile(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if user.Name != "Amina Bello" {
		t.Fatalf("unexpected profile %+v", user)
	}

	if _, err := svc.GetProfile(context.Background(), "uid-9"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubUserRepository(domain.User{
		ID:   "uid-1",
		Name: "Amina Bello",
		Role: domain.RoleFarmer,
	})
	svc := newTestUserService(t, repo, now)

	phone := "+234 801 000 0000"
	address := domain.Location{City: "Ibadan", State: "Oyo"}
	user, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{
		Actor:   Actor{ID: "uid-1", Role: domain.RoleFarmer},
		Phone:   &phone,
		Address: &address,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Phone != phone || user.Address.City != "Ibadan" {
		t.Fatalf("unexpected profile %+v", user)
	}
	if user.UpdatedAt != now {
		t.Fatalf("expected updatedAt stamped")
	}
	if user.Role != domain.RoleFarmer {
		t.Fatalf("role must remain unchanged")
	}
}

func TestUpdateProfileRestrictsToOwnerOrAdmin(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newStubUserRepository(domain.User{ID: "uid-1", Name: "Amina Bello"})
	svc := newTestUserService(t, repo, now)

	_, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{
		Actor:  Actor{ID: "uid-2", Role: domain.RoleCustomer},
		UserID: "uid-1",
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	name := "Renamed By Admin"
	user, err := svc.UpdateProfile(context.Background(), UpdateProfileCommand{
		Actor:  Actor{ID: "admin-1", Role: domain.RoleAdmin},
		UserID: "uid-1",
		Name:   &name,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Name != name {
		t.Fatalf("expected admin edit applied, got %q", user.Name)
	}
}
