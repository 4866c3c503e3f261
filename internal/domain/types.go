package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Role enumerates the account roles recognised across the marketplace.
type Role string

const (
	// RoleFarmer identifies sellers who own product listings and fulfil orders.
	RoleFarmer Role = "farmer"
	// RoleCustomer identifies buyers who place orders and write reviews.
	RoleCustomer Role = "customer"
	// RoleAdmin identifies operators with unrestricted access.
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the recognised account roles.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleCustomer, RoleAdmin:
		return true
	}
	return false
}

// Location represents a postal address with an optional geographic point.
type Location struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Latitude   float64
	Longitude  float64
}

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// User captures the marketplace profile stored alongside the Firebase account.
type User struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Role      Role
	Address   Location
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductCategory enumerates the supported listing categories.
type ProductCategory string

const (
	CategoryCrops       ProductCategory = "crops"
	CategoryVegetables  ProductCategory = "vegetables"
	CategoryFruits      ProductCategory = "fruits"
	CategoryTools       ProductCategory = "tools"
	CategoryFertilizers ProductCategory = "fertilizers"
	CategorySeeds       ProductCategory = "seeds"
)

// Valid reports whether the category is one of the supported values.
func (c ProductCategory) Valid() bool {
	switch c {
	case CategoryCrops, CategoryVegetables, CategoryFruits, CategoryTools, CategoryFertilizers, CategorySeeds:
		return true
	}
	return false
}

// ProductUnit enumerates the units a product can be sold in.
type ProductUnit string

const (
	UnitKilogram ProductUnit = "kg"
	UnitGram     ProductUnit = "g"
	UnitPiece    ProductUnit = "piece"
	UnitPacket   ProductUnit = "packet"
	UnitLitre    ProductUnit = "litre"
)

// Valid reports whether the unit is one of the supported values.
func (u ProductUnit) Valid() bool {
	switch u {
	case UnitKilogram, UnitGram, UnitPiece, UnitPacket, UnitLitre:
		return true
	}
	return false
}

// Review captures customer feedback embedded on a product, newest first.
type Review struct {
	ID           string
	CustomerID   string
	CustomerName string
	Rating       int
	Comment      string
	CreatedAt    time.Time
}

// Product represents a farmer's listing. Quantity and IsAvailable move
// together: IsAvailable is true exactly when Quantity is positive.
type Product struct {
	ID          string
	FarmerID    string
	Name        string
	Description string
	Category    ProductCategory
	Unit        ProductUnit
	PriceCents  int64
	Quantity    int
	IsAvailable bool
	IsApproved  bool
	Images      []string
	Location    GeoPoint
	Reviews     []Review
	RatingAvg   float64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Deleted reports whether the product has been soft-deleted.
func (p Product) Deleted() bool {
	return p.DeletedAt != nil
}

// PaymentMethod enumerates accepted payment methods for an order.
type PaymentMethod string

const (
	// PaymentCash settles on delivery.
	PaymentCash PaymentMethod = "cash"
	// PaymentOnline settles through the configured PSP.
	PaymentOnline PaymentMethod = "online"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	return m == PaymentCash || m == PaymentOnline
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits farmer confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the farmer accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the farmer is preparing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the farm.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the customer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled and stock restored.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Valid reports whether the status is one of the recognised lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// OrderItem snapshots a product line at the time the order was placed.
// Later edits to the product never alter the snapshot.
type OrderItem struct {
	ProductID      string
	ProductName    string
	Unit           ProductUnit
	UnitPriceCents int64
	Quantity       int
}

// Subtotal returns the line total in minor currency units.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPriceCents * int64(i.Quantity)
}

// Order captures a customer's purchase from a single farmer.
type Order struct {
	ID               string
	Number           string
	CustomerID       string
	FarmerID         string
	Items            []OrderItem
	TotalCents       int64
	Status           OrderStatus
	PaymentMethod    PaymentMethod
	PaymentRef       *string
	DeliveryAddress  Location
	Note             string
	ExpectedDelivery time.Time
	ActualDelivery   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Participant reports whether the given user takes part in the order.
func (o Order) Participant(userID string) bool {
	return o.CustomerID == userID || o.FarmerID == userID
}

// CheckoutSession represents PSP checkout session metadata stored by services.
type CheckoutSession struct {
	SessionID    string
	PSP          string
	ClientSecret string
	RedirectURL  string
	ExpiresAt    time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SignedAssetResponse returns signed URL payloads for upload flows.
type SignedAssetResponse struct {
	AssetID   string
	URL       string
	ExpiresAt time.Time
	Method    string
	Headers   map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
