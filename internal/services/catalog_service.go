package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/agrilink/api/internal/domain"
	pstorage "github.com/agrilink/api/internal/platform/storage"
	"github.com/agrilink/api/internal/repositories"
)

const (
	productIDPrefix = "prd_"
	reviewIDPrefix  = "rev_"
	imageIDPrefix   = "img_"

	minReviewRating = 1
	maxReviewRating = 5

	maxProductNameLength    = 120
	maxProductDescLength    = 4000
	maxReviewCommentLength  = 2000
	maxProductImageSize     = int64(10 * 1024 * 1024) // 10 MiB
	productImageUploadTTL   = 15 * time.Minute
	catalogEventImageIssued = "catalog.image.upload.issued"
)

var (
	// ErrCatalogInvalidInput indicates the caller provided invalid data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrProductNotFound indicates the product does not exist or was removed.
	ErrProductNotFound = errors.New("catalog: product not found")
	// ErrCatalogConflict indicates a duplicate insert or concurrent modification.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// UploadURLSigner issues signed upload URLs for product images.
type UploadURLSigner interface {
	SignedUploadURL(ctx context.Context, bucket, object string, spec pstorage.UploadSpec) (pstorage.SignedURLResult, error)
}

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Products    repositories.ProductRepository
	Storage     UploadURLSigner
	ImageBucket string
	Clock       func() time.Time
	IDGenerator func() string
	Sanitizer   func(string) string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	products    repositories.ProductRepository
	storage     UploadURLSigner
	imageBucket string
	clock       func() time.Time
	newID       func() string
	sanitize    func(string) string
	logger      func(context.Context, string, map[string]any)
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return strings.ToLower(ulid.Make().String())
		}
	}

	sanitize := deps.Sanitizer
	if sanitize == nil {
		sanitize = newCommentSanitizer()
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &catalogService{
		products:    deps.Products,
		storage:     deps.Storage,
		imageBucket: strings.TrimSpace(deps.ImageBucket),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		sanitize: sanitize,
		logger:   logger,
	}, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	if !cmd.Actor.Is(domain.RoleFarmer) {
		return Product{}, fmt.Errorf("%w: only farmers may create listings", ErrForbidden)
	}

	farmerID := strings.TrimSpace(cmd.FarmerID)
	if farmerID == "" {
		farmerID = cmd.Actor.ID
	}
	if farmerID != cmd.Actor.ID && !cmd.Actor.Admin() {
		return Product{}, fmt.Errorf("%w: cannot create listings for another farmer", ErrForbidden)
	}

	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrCatalogInvalidInput)
	}
	if len(name) > maxProductNameLength {
		return Product{}, fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	}
	description := strings.TrimSpace(s.sanitize(cmd.Description))
	if len(description) > maxProductDescLength {
		return Product{}, fmt.Errorf("%w: description exceeds %d characters", ErrCatalogInvalidInput, maxProductDescLength)
	}
	if !cmd.Category.Valid() {
		return Product{}, fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, cmd.Category)
	}
	if !cmd.Unit.Valid() {
		return Product{}, fmt.Errorf("%w: unknown unit %q", ErrCatalogInvalidInput, cmd.Unit)
	}
	priceCents, err := toCents(cmd.Price)
	if err != nil {
		return Product{}, err
	}
	if cmd.Quantity < 0 {
		return Product{}, fmt.Errorf("%w: quantity must not be negative", ErrCatalogInvalidInput)
	}
	if err := validateGeoPoint(cmd.Location); err != nil {
		return Product{}, err
	}

	now := s.clock()
	product := domain.Product{
		ID:          productIDPrefix + s.newID(),
		FarmerID:    farmerID,
		Name:        name,
		Description: description,
		Category:    cmd.Category,
		Unit:        cmd.Unit,
		PriceCents:  priceCents,
		Quantity:    cmd.Quantity,
		IsAvailable: cmd.Quantity > 0,
		IsApproved:  false,
		Location:    cmd.Location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.findProduct(ctx, productID)
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, query ProductQuery) (domain.CursorPage[Product], error) {
	if query.Category != nil && !query.Category.Valid() {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, *query.Category)
	}
	if query.MinPriceCents != nil && query.MaxPriceCents != nil && *query.MinPriceCents > *query.MaxPriceCents {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: price range is inverted", ErrCatalogInvalidInput)
	}
	if query.Near != nil {
		if err := validateGeoPoint(*query.Near); err != nil {
			return domain.CursorPage[Product]{}, err
		}
		if query.RadiusMeters <= 0 {
			return domain.CursorPage[Product]{}, fmt.Errorf("%w: radius must be positive", ErrCatalogInvalidInput)
		}
	}

	filter := repositories.ProductListFilter{
		Category:      query.Category,
		OnlyApproved:  !(query.IncludeUnapproved && query.Actor.Admin()),
		OnlyAvailable: query.OnlyAvailable || !query.Actor.Admin(),
		PriceCents: domain.RangeQuery[int64]{
			From: query.MinPriceCents,
			To:   query.MaxPriceCents,
		},
		Pagination: query.Pagination,
	}

	page, err := s.products.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}

	if query.Near != nil {
		page.Items = filterByRadius(page.Items, *query.Near, query.RadiusMeters)
	}
	return page, nil
}

func (s *catalogService) ListMyProducts(ctx context.Context, actor Actor, pager Pagination) (domain.CursorPage[Product], error) {
	if !actor.Is(domain.RoleFarmer) {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: only farmers have listings", ErrForbidden)
	}
	page, err := s.products.ListByFarmer(ctx, actor.ID, pager)
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	product, err := s.findProduct(ctx, cmd.ProductID)
	if err != nil {
		return Product{}, err
	}
	if !cmd.Actor.CanAccess(product.FarmerID) {
		return Product{}, fmt.Errorf("%w: listing belongs to another farmer", ErrForbidden)
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name must not be empty", ErrCatalogInvalidInput)
		}
		if len(name) > maxProductNameLength {
			return Product{}, fmt.Errorf("%w: name exceeds %d characters", ErrCatalogInvalidInput, maxProductNameLength)
		}
		product.Name = name
	}
	if cmd.Description != nil {
		description := strings.TrimSpace(s.sanitize(*cmd.Description))
		if len(description) > maxProductDescLength {
			return Product{}, fmt.Errorf("%w: description exceeds %d characters", ErrCatalogInvalidInput, maxProductDescLength)
		}
		product.Description = description
	}
	if cmd.Category != nil {
		if !cmd.Category.Valid() {
			return Product{}, fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, *cmd.Category)
		}
		product.Category = *cmd.Category
	}
	if cmd.Unit != nil {
		if !cmd.Unit.Valid() {
			return Product{}, fmt.Errorf("%w: unknown unit %q", ErrCatalogInvalidInput, *cmd.Unit)
		}
		product.Unit = *cmd.Unit
	}
	if cmd.Price != nil {
		priceCents, err := toCents(*cmd.Price)
		if err != nil {
			return Product{}, err
		}
		product.PriceCents = priceCents
	}
	if cmd.Quantity != nil {
		if *cmd.Quantity < 0 {
			return Product{}, fmt.Errorf("%w: quantity must not be negative", ErrCatalogInvalidInput)
		}
		product.Quantity = *cmd.Quantity
	}
	if cmd.Location != nil {
		if err := validateGeoPoint(*cmd.Location); err != nil {
			return Product{}, err
		}
		product.Location = *cmd.Location
	}

	product.IsAvailable = product.Quantity > 0
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, cmd DeleteProductCommand) error {
	product, err := s.findProduct(ctx, cmd.ProductID)
	if err != nil {
		return err
	}
	if !cmd.Actor.CanAccess(product.FarmerID) {
		return fmt.Errorf("%w: listing belongs to another farmer", ErrForbidden)
	}

	if err := s.products.SoftDelete(ctx, product.ID, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) ApproveProduct(ctx context.Context, cmd ApproveProductCommand) (Product, error) {
	if !cmd.Actor.Admin() {
		return Product{}, fmt.Errorf("%w: approval requires the admin role", ErrForbidden)
	}

	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.SetApproval(ctx, productID, cmd.Approved, s.clock())
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) AddReview(ctx context.Context, cmd AddReviewCommand) (Product, error) {
	if !cmd.Actor.Is(domain.RoleCustomer) {
		return Product{}, fmt.Errorf("%w: only customers may review products", ErrForbidden)
	}
	if cmd.Rating < minReviewRating || cmd.Rating > maxReviewRating {
		return Product{}, fmt.Errorf("%w: rating must be between %d and %d", ErrCatalogInvalidInput, minReviewRating, maxReviewRating)
	}

	comment := s.sanitize(cmd.Comment)
	if len(comment) > maxReviewCommentLength {
		return Product{}, fmt.Errorf("%w: comment exceeds %d characters", ErrCatalogInvalidInput, maxReviewCommentLength)
	}

	product, err := s.findProduct(ctx, cmd.ProductID)
	if err != nil {
		return Product{}, err
	}
	if !product.IsApproved {
		return Product{}, fmt.Errorf("%w: product is not approved", ErrCatalogInvalidInput)
	}
	if product.FarmerID == cmd.Actor.ID {
		return Product{}, fmt.Errorf("%w: farmers may not review their own listings", ErrForbidden)
	}

	review := domain.Review{
		ID:           reviewIDPrefix + s.newID(),
		CustomerID:   cmd.Actor.ID,
		CustomerName: strings.TrimSpace(cmd.ActorName),
		Rating:       cmd.Rating,
		Comment:      comment,
		CreatedAt:    s.clock(),
	}

	updated, err := s.products.AddReview(ctx, product.ID, review)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return updated, nil
}

func (s *catalogService) IssueImageUpload(ctx context.Context, cmd ProductImageUploadCommand) (SignedAssetResponse, error) {
	if s.storage == nil || s.imageBucket == "" {
		return SignedAssetResponse{}, errors.New("catalog service: image storage not configured")
	}

	product, err := s.findProduct(ctx, cmd.ProductID)
	if err != nil {
		return SignedAssetResponse{}, err
	}
	if !cmd.Actor.CanAccess(product.FarmerID) {
		return SignedAssetResponse{}, fmt.Errorf("%w: listing belongs to another farmer", ErrForbidden)
	}

	fileName := strings.TrimSpace(cmd.FileName)
	if fileName == "" {
		return SignedAssetResponse{}, fmt.Errorf("%w: file name is required", ErrCatalogInvalidInput)
	}
	if cmd.SizeBytes <= 0 || cmd.SizeBytes > maxProductImageSize {
		return SignedAssetResponse{}, fmt.Errorf("%w: image size must be between 1 and %d bytes", ErrCatalogInvalidInput, maxProductImageSize)
	}

	imageID := imageIDPrefix + s.newID()
	object, err := pstorage.ProductImagePath(product.ID, imageID, fileName)
	if err != nil {
		return SignedAssetResponse{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	signed, err := s.storage.SignedUploadURL(ctx, s.imageBucket, object, pstorage.UploadSpec{
		ContentType: cmd.ContentType,
		ContentMD5:  cmd.ContentMD5,
		MaxSize:     maxProductImageSize,
		ExpiresIn:   productImageUploadTTL,
	})
	if err != nil {
		return SignedAssetResponse{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	if err := s.products.AppendImage(ctx, product.ID, object, s.clock()); err != nil {
		return SignedAssetResponse{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, catalogEventImageIssued, map[string]any{
		"productId": product.ID,
		"imageId":   imageID,
		"actorId":   cmd.Actor.ID,
		"expiresAt": signed.ExpiresAt,
	})

	return SignedAssetResponse{
		AssetID:   imageID,
		URL:       signed.URL,
		ExpiresAt: signed.ExpiresAt,
		Method:    signed.Method,
		Headers:   signed.Headers,
	}, nil
}

func (s *catalogService) findProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if product.Deleted() {
		return Product{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return product, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}
	return err
}

// toCents converts a price in major currency units to cents, rejecting
// values that do not survive the conversion.
func toCents(price float64) (int64, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	}
	cents := math.Round(price * 100)
	if cents > math.MaxInt64/2 {
		return 0, fmt.Errorf("%w: price is too large", ErrCatalogInvalidInput)
	}
	return int64(cents), nil
}

func validateGeoPoint(point GeoPoint) error {
	if point.Latitude < -90 || point.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrCatalogInvalidInput)
	}
	if point.Longitude < -180 || point.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrCatalogInvalidInput)
	}
	return nil
}

func filterByRadius(products []Product, origin GeoPoint, radiusMeters float64) []Product {
	filtered := make([]Product, 0, len(products))
	for _, product := range products {
		if domain.WithinRadius(origin, product.Location, radiusMeters) {
			filtered = append(filtered, product)
		}
	}
	return filtered
}

// newCommentSanitizer strips markup, drops control characters, and collapses
// runaway whitespace while keeping intentional newlines.
func newCommentSanitizer() func(string) string {
	policy := bluemonday.StrictPolicy()
	return func(input string) string {
		cleaned := policy.Sanitize(input)
		normalized := strings.ReplaceAll(strings.ReplaceAll(cleaned, "\r\n", "\n"), "\r", "\n")
		lines := strings.Split(normalized, "\n")
		for i, line := range lines {
			line = strings.Map(func(r rune) rune {
				if unicode.IsControl(r) && r != '\n' {
					return -1
				}
				return r
			}, line)
			lines[i] = strings.Join(strings.Fields(line), " ")
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	}
}
