package services

import (
	"context"
	"time"

	domain "github.com/agrilink/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination          = domain.Pagination
	Product             = domain.Product
	ProductCategory     = domain.ProductCategory
	ProductUnit         = domain.ProductUnit
	Review              = domain.Review
	Order               = domain.Order
	OrderItem           = domain.OrderItem
	OrderStatus         = domain.OrderStatus
	PaymentMethod       = domain.PaymentMethod
	User                = domain.User
	Role                = domain.Role
	Location            = domain.Location
	GeoPoint            = domain.GeoPoint
	CheckoutSession     = domain.CheckoutSession
	SystemHealthReport  = domain.SystemHealthReport
	SignedAssetResponse = domain.SignedAssetResponse
)

// CatalogService manages product listings, approval, embedded reviews, and image uploads.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	ListProducts(ctx context.Context, query ProductQuery) (domain.CursorPage[Product], error)
	ListMyProducts(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Product], error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error
	ApproveProduct(ctx context.Context, cmd ApproveProductCommand) (Product, error)
	AddReview(ctx context.Context, cmd AddReviewCommand) (Product, error)
	IssueImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (SignedAssetResponse, error)
}

// OrderService encapsulates order placement, lifecycle transitions, and cancellation.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// UserService manages the marketplace profile attached to each Firebase account.
type UserService interface {
	RegisterProfile(ctx context.Context, cmd RegisterProfileCommand) (User, error)
	GetProfile(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error)
}

// SystemService aggregates utility endpoints such as dependency health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

// CreateProductCommand captures a new listing. Price is expressed in major
// currency units and converted to cents before persistence.
type CreateProductCommand struct {
	Actor       Actor
	FarmerID    string
	Name        string
	Description string
	Category    ProductCategory
	Unit        ProductUnit
	Price       float64
	Quantity    int
	Location    GeoPoint
}

type UpdateProductCommand struct {
	Actor       Actor
	ProductID   string
	Name        *string
	Description *string
	Category    *ProductCategory
	Unit        *ProductUnit
	Price       *float64
	Quantity    *int
	Location    *GeoPoint
}

type DeleteProductCommand struct {
	Actor     Actor
	ProductID string
}

type ApproveProductCommand struct {
	Actor     Actor
	ProductID string
	Approved  bool
}

type AddReviewCommand struct {
	Actor     Actor
	ActorName string
	ProductID string
	Rating    int
	Comment   string
}

type ProductImageUploadCommand struct {
	Actor       Actor
	ProductID   string
	FileName    string
	ContentType string
	ContentMD5  string
	SizeBytes   int64
}

// ProductQuery filters the public catalogue. Price bounds are in cents.
// When Near is set, results are trimmed to the given radius after the page
// is fetched.
type ProductQuery struct {
	Actor             Actor
	Category          *ProductCategory
	MinPriceCents     *int64
	MaxPriceCents     *int64
	OnlyAvailable     bool
	IncludeUnapproved bool
	Near              *GeoPoint
	RadiusMeters      float64
	Pagination        Pagination
}

// OrderLineInput identifies one requested product line.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

type PlaceOrderCommand struct {
	Actor           Actor
	Lines           []OrderLineInput
	PaymentMethod   PaymentMethod
	DeliveryAddress Location
	Note            string
	SuccessURL      string
	CancelURL       string
	IdempotencyKey  string
}

// PlacedOrder bundles the stored order with the optional checkout session
// created for online payments.
type PlacedOrder struct {
	Order    Order
	Checkout *CheckoutSession
}

// ListOrdersQuery scopes order listings to the caller. CustomerID and
// FarmerID are honoured for admins only.
type ListOrdersQuery struct {
	Actor      Actor
	Status     []OrderStatus
	CustomerID string
	FarmerID   string
	Pagination Pagination
}

type UpdateOrderStatusCommand struct {
	Actor   Actor
	OrderID string
	Next    OrderStatus
}

type CancelOrderCommand struct {
	Actor   Actor
	OrderID string
}

type RegisterProfileCommand struct {
	UserID  string
	Name    string
	Email   string
	Phone   string
	Role    Role
	Address Location
}

type UpdateProfileCommand struct {
	Actor   Actor
	UserID  string
	Name    *string
	Phone   *string
	Address *Location
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
