package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/agrilink/api/internal/domain"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
)

const usersCollection = "users"

// UserRepository persists marketplace profiles keyed by the Firebase UID.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, usersCollection, nil)
	return &UserRepository{base: base}, nil
}

// Create stores a new profile. Fails with a conflict when the UID already
// has a profile.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	if r == nil || r.base == nil {
		return errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return errors.New("user repository: user id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeUserDocument(user)); err != nil {
		return pfirestore.WrapError("users.create", err)
	}
	return nil
}

// FindByID loads the profile by UID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := doc.Data.toDomain(doc.ID)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = doc.CreateTime
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = doc.UpdateTime
	}
	return user, nil
}

// Update replaces the stored profile and returns the saved state.
func (r *UserRepository) Update(ctx context.Context, user domain.User) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return domain.User{}, errors.New("user repository: user id is required")
	}
	doc := encodeUserDocument(user)
	if _, err := r.base.Set(ctx, userID, doc); err != nil {
		return domain.User{}, err
	}
	return doc.toDomain(userID), nil
}

type userDocument struct {
	Name      string           `firestore:"name"`
	Email     string           `firestore:"email,omitempty"`
	Phone     string           `firestore:"phone,omitempty"`
	Role      string           `firestore:"role"`
	Address   locationDocument `firestore:"address"`
	CreatedAt time.Time        `firestore:"createdAt"`
	UpdatedAt time.Time        `firestore:"updatedAt"`
}

func encodeUserDocument(user domain.User) userDocument {
	return userDocument{
		Name:  strings.TrimSpace(user.Name),
		Email: strings.TrimSpace(user.Email),
		Phone: strings.TrimSpace(user.Phone),
		Role:  string(user.Role),
		Address: locationDocument{
			Street:     strings.TrimSpace(user.Address.Street),
			City:       strings.TrimSpace(user.Address.City),
			State:      strings.TrimSpace(user.Address.State),
			PostalCode: strings.TrimSpace(user.Address.PostalCode),
			Latitude:   user.Address.Latitude,
			Longitude:  user.Address.Longitude,
		},
		CreatedAt: user.CreatedAt.UTC(),
		UpdatedAt: user.UpdatedAt.UTC(),
	}
}

func (d userDocument) toDomain(id string) domain.User {
	return domain.User{
		ID:    id,
		Name:  d.Name,
		Email: d.Email,
		Phone: d.Phone,
		Role:  domain.Role(d.Role),
		Address: domain.Location{
			Street:     d.Address.Street,
			City:       d.Address.City,
			State:      d.Address.State,
			PostalCode: d.Address.PostalCode,
			Latitude:   d.Address.Latitude,
			Longitude:  d.Address.Longitude,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
