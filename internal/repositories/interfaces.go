package repositories

import (
	"context"
	"time"

	domain "github.com/agrilink/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Users() UserRepository
	Counters() CounterRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository persists product listings and their embedded reviews.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	SoftDelete(ctx context.Context, productID string, deletedAt time.Time) error
	SetApproval(ctx context.Context, productID string, approved bool, now time.Time) (domain.Product, error)
	AppendImage(ctx context.Context, productID string, imageRef string, now time.Time) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	ListByFarmer(ctx context.Context, farmerID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	AddReview(ctx context.Context, productID string, review domain.Review) (domain.Product, error)
}

// ProductListFilter controls public catalogue queries. Radius filtering is
// applied by the service after the page is fetched.
type ProductListFilter struct {
	Category      *domain.ProductCategory
	OnlyApproved  bool
	OnlyAvailable bool
	PriceCents    domain.RangeQuery[int64]
	Pagination    domain.Pagination
}

// OrderRepository persists orders with transactional stock bookkeeping.
type OrderRepository interface {
	Place(ctx context.Context, placement OrderPlacement) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, change OrderStatusChange) (domain.Order, error)
	Cancel(ctx context.Context, cancellation OrderCancellation) (domain.Order, error)
	SetPaymentRef(ctx context.Context, orderID string, paymentRef string, now time.Time) error
}

// OrderLine identifies a requested product and quantity before snapshotting.
type OrderLine struct {
	ProductID string
	Quantity  int
}

// OrderPlacement carries everything needed to create an order in one transaction.
// Product snapshots and the total are computed inside the transaction.
type OrderPlacement struct {
	OrderID          string
	Number           string
	CustomerID       string
	Lines            []OrderLine
	PaymentMethod    domain.PaymentMethod
	DeliveryAddress  domain.Location
	Note             string
	ExpectedDelivery time.Time
	Now              time.Time
}

// OrderStatusChange describes a lifecycle transition. Expected is the status
// the caller observed; the repository rejects the change when the stored
// status no longer matches.
type OrderStatusChange struct {
	OrderID        string
	Expected       domain.OrderStatus
	Next           domain.OrderStatus
	ActualDelivery *time.Time
	Now            time.Time
}

// OrderCancellation cancels an order and restores the reserved stock.
type OrderCancellation struct {
	OrderID  string
	Expected domain.OrderStatus
	Now      time.Time
}

// OrderListFilter scopes order queries to a participant and optional statuses.
type OrderListFilter struct {
	CustomerID string
	FarmerID   string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// UserRepository stores marketplace profiles keyed by the Firebase UID.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	Update(ctx context.Context, user domain.User) (domain.User, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
