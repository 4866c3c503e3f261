package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/services"
)

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and unmarshals the request body, writing the error
// response itself. Returns false when the caller should stop.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	if err != nil {
		switch {
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// requireActor resolves the authenticated principal into a service actor and
// writes a 401 response when no usable identity is attached.
func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actorFromIdentity(identity), true
}

// optionalActor resolves the principal on public endpoints. Anonymous
// requests yield a zero actor.
func optionalActor(r *http.Request) services.Actor {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return services.Actor{}
	}
	return actorFromIdentity(identity)
}

// actorFromIdentity picks the strongest role an identity carries. Admin wins
// over farmer, farmer over customer.
func actorFromIdentity(identity *auth.Identity) services.Actor {
	actor := services.Actor{ID: strings.TrimSpace(identity.UID)}
	switch {
	case identity.HasRole(auth.RoleAdmin):
		actor.Role = domain.RoleAdmin
	case identity.HasRole(auth.RoleFarmer):
		actor.Role = domain.RoleFarmer
	case identity.HasRole(auth.RoleCustomer):
		actor.Role = domain.RoleCustomer
	}
	return actor
}

func parsePagination(query url.Values, defaultSize, maxSize int) (services.Pagination, error) {
	pager := services.Pagination{
		PageSize:  defaultSize,
		PageToken: strings.TrimSpace(query.Get("pageToken")),
	}
	raw := strings.TrimSpace(query.Get("pageSize"))
	if raw == "" {
		return pager, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil {
		return pager, errors.New("pageSize must be an integer")
	}
	switch {
	case size <= 0:
		pager.PageSize = defaultSize
	case size > maxSize:
		pager.PageSize = maxSize
	default:
		pager.PageSize = size
	}
	return pager, nil
}

func parseFilterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

type locationPayload struct {
	Street     string  `json:"street"`
	City       string  `json:"city"`
	State      string  `json:"state,omitempty"`
	PostalCode string  `json:"postal_code,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

func (p locationPayload) toDomain() domain.Location {
	return domain.Location{
		Street:     strings.TrimSpace(p.Street),
		City:       strings.TrimSpace(p.City),
		State:      strings.TrimSpace(p.State),
		PostalCode: strings.TrimSpace(p.PostalCode),
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
	}
}

func buildLocationPayload(loc domain.Location) locationPayload {
	return locationPayload{
		Street:     loc.Street,
		City:       loc.City,
		State:      loc.State,
		PostalCode: loc.PostalCode,
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
	}
}

type geoPointPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p geoPointPayload) toDomain() domain.GeoPoint {
	return domain.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}
