package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/repositories"
	"github.com/agrilink/api/internal/services"
)

const (
	maxProductBodySize     = 64 * 1024
	maxReviewBodySize      = 32 * 1024
	maxImageUploadBodySize = 16 * 1024

	defaultProductPageSize = 20
	maxProductPageSize     = 100

	reviewRateLimit  = 5
	reviewRateWindow = time.Minute
)

// ProductHandlers exposes catalogue endpoints for listings, reviews, and
// image uploads.
type ProductHandlers struct {
	authn         *auth.Authenticator
	catalog       services.CatalogService
	reviewLimiter rateLimiter
}

// ProductOption customises ProductHandlers construction.
type ProductOption func(*ProductHandlers)

// WithReviewRateLimiter overrides the limiter applied to review submission.
func WithReviewRateLimiter(limiter rateLimiter) ProductOption {
	return func(h *ProductHandlers) {
		h.reviewLimiter = limiter
	}
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, catalog services.CatalogService, opts ...ProductOption) *ProductHandlers {
	h := &ProductHandlers{
		authn:         authn,
		catalog:       catalog,
		reviewLimiter: newSimpleRateLimiter(reviewRateLimit, reviewRateWindow, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /products endpoints. Catalogue reads stay public;
// everything that mutates requires a verified identity.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth())
		}
		r.Post("/", h.createProduct)
		r.Get("/mine", h.listMyProducts)
		r.Put("/{productID}", h.updateProduct)
		r.Delete("/{productID}", h.deleteProduct)
		r.Post("/{productID}/reviews", h.addReview)
		r.Post("/{productID}/images", h.issueImageUpload)
	})

	r.Group(func(r chi.Router) {
		if h.authn != nil {
			r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
		}
		r.Put("/{productID}/approve", h.approveProduct)
	})
}

// AdminRoutes registers the moderation overview mounted under the admin group.
func (h *ProductHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/products", h.listProducts)
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	query, err := parseProductQuery(r, optionalActor(r))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListProducts(ctx, query)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductListResponse(page))
}

func (h *ProductHandlers) listMyProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	pager, err := parsePagination(r.URL.Query(), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.catalog.ListMyProducts(ctx, actor, pager)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductListResponse(page))
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}

	cmd := services.CreateProductCommand{
		Actor:       actor,
		FarmerID:    strings.TrimSpace(req.FarmerID),
		Name:        req.Name,
		Description: req.Description,
		Category:    domain.ProductCategory(strings.TrimSpace(req.Category)),
		Unit:        domain.ProductUnit(strings.TrimSpace(req.Unit)),
		Price:       req.Price,
		Quantity:    req.Quantity,
	}
	if req.Location != nil {
		cmd.Location = req.Location.toDomain()
	}

	product, err := h.catalog.CreateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req updateProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}

	cmd := services.UpdateProductCommand{
		Actor:       actor,
		ProductID:   productID,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
	}
	if req.Category != nil {
		category := domain.ProductCategory(strings.TrimSpace(*req.Category))
		cmd.Category = &category
	}
	if req.Unit != nil {
		unit := domain.ProductUnit(strings.TrimSpace(*req.Unit))
		cmd.Unit = &unit
	}
	if req.Location != nil {
		point := req.Location.toDomain()
		cmd.Location = &point
	}

	product, err := h.catalog.UpdateProduct(ctx, cmd)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteProduct(ctx, services.DeleteProductCommand{Actor: actor, ProductID: productID}); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandlers) approveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req approveProductRequest
	if !decodeJSONBody(w, r, maxProductBodySize, &req) {
		return
	}
	if req.Approved == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "approved is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.ApproveProduct(ctx, services.ApproveProductCommand{
		Actor:     actor,
		ProductID: productID,
		Approved:  *req.Approved,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) addReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if h.reviewLimiter != nil && !h.reviewLimiter.Allow(actor.ID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many review submissions, retry later", http.StatusTooManyRequests))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req addReviewRequest
	if !decodeJSONBody(w, r, maxReviewBodySize, &req) {
		return
	}

	actorName := strings.TrimSpace(req.CustomerName)
	if actorName == "" {
		if identity, ok := auth.IdentityFromContext(ctx); ok {
			actorName = strings.TrimSpace(identity.Email)
		}
	}

	product, err := h.catalog.AddReview(ctx, services.AddReviewCommand{
		Actor:     actor,
		ActorName: actorName,
		ProductID: productID,
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) issueImageUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req imageUploadRequest
	if !decodeJSONBody(w, r, maxImageUploadBodySize, &req) {
		return
	}

	signed, err := h.catalog.IssueImageUpload(ctx, services.ProductImageUploadCommand{
		Actor:       actor,
		ProductID:   productID,
		FileName:    req.FileName,
		ContentType: req.ContentType,
		ContentMD5:  req.ContentMD5,
		SizeBytes:   req.SizeBytes,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, signedUploadResponse{
		AssetID:   signed.AssetID,
		URL:       signed.URL,
		Method:    signed.Method,
		Headers:   signed.Headers,
		ExpiresAt: formatTime(signed.ExpiresAt),
	})
}

type createProductRequest struct {
	FarmerID    string           `json:"farmer_id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Unit        string           `json:"unit"`
	Price       float64          `json:"price"`
	Quantity    int              `json:"quantity"`
	Location    *geoPointPayload `json:"location"`
}

type updateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Unit        *string          `json:"unit"`
	Price       *float64         `json:"price"`
	Quantity    *int             `json:"quantity"`
	Location    *geoPointPayload `json:"location"`
}

type approveProductRequest struct {
	Approved *bool `json:"approved"`
}

type addReviewRequest struct {
	Rating       int    `json:"rating"`
	Comment      string `json:"comment"`
	CustomerName string `json:"customer_name"`
}

type imageUploadRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	ContentMD5  string `json:"content_md5"`
	SizeBytes   int64  `json:"size_bytes"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type signedUploadResponse struct {
	AssetID   string            `json:"asset_id"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt string            `json:"expires_at"`
}

type productPayload struct {
	ID          string          `json:"id"`
	FarmerID    string          `json:"farmer_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	Unit        string          `json:"unit"`
	PriceCents  int64           `json:"price_cents"`
	Quantity    int             `json:"quantity"`
	IsAvailable bool            `json:"is_available"`
	IsApproved  bool            `json:"is_approved"`
	Images      []string        `json:"images,omitempty"`
	Location    geoPointPayload `json:"location"`
	RatingAvg   float64         `json:"rating_avg"`
	Reviews     []reviewPayload `json:"reviews,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
}

type reviewPayload struct {
	ID           string `json:"id"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name,omitempty"`
	Rating       int    `json:"rating"`
	Comment      string `json:"comment,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func buildProductListResponse(page domain.CursorPage[services.Product]) productListResponse {
	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	return productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	}
}

func buildProductPayload(product services.Product) productPayload {
	payload := productPayload{
		ID:          product.ID,
		FarmerID:    product.FarmerID,
		Name:        product.Name,
		Description: product.Description,
		Category:    string(product.Category),
		Unit:        string(product.Unit),
		PriceCents:  product.PriceCents,
		Quantity:    product.Quantity,
		IsAvailable: product.IsAvailable,
		IsApproved:  product.IsApproved,
		Images:      append([]string(nil), product.Images...),
		Location: geoPointPayload{
			Latitude:  product.Location.Latitude,
			Longitude: product.Location.Longitude,
		},
		RatingAvg: product.RatingAvg,
		CreatedAt: formatTime(product.CreatedAt),
		UpdatedAt: formatTime(product.UpdatedAt),
	}
	for _, review := range product.Reviews {
		payload.Reviews = append(payload.Reviews, reviewPayload{
			ID:           review.ID,
			CustomerID:   review.CustomerID,
			CustomerName: review.CustomerName,
			Rating:       review.Rating,
			Comment:      review.Comment,
			CreatedAt:    formatTime(review.CreatedAt),
		})
	}
	return payload
}

// parsePriceCents converts a decimal price in major units to cents.
func parsePriceCents(raw string) (int64, error) {
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return 0, errors.New("invalid price")
	}
	return int64(math.Round(value * 100)), nil
}

func parseProductQuery(r *http.Request, actor services.Actor) (services.ProductQuery, error) {
	values := r.URL.Query()
	query := services.ProductQuery{Actor: actor}

	if raw := strings.TrimSpace(values.Get("category")); raw != "" {
		category := domain.ProductCategory(strings.ToLower(raw))
		if !category.Valid() {
			return query, errors.New("category is not recognised")
		}
		query.Category = &category
	}
	if raw := strings.TrimSpace(values.Get("minPrice")); raw != "" {
		cents, err := parsePriceCents(raw)
		if err != nil {
			return query, errors.New("minPrice must be a non-negative number")
		}
		query.MinPriceCents = &cents
	}
	if raw := strings.TrimSpace(values.Get("maxPrice")); raw != "" {
		cents, err := parsePriceCents(raw)
		if err != nil {
			return query, errors.New("maxPrice must be a non-negative number")
		}
		query.MaxPriceCents = &cents
	}
	if query.MinPriceCents != nil && query.MaxPriceCents != nil && *query.MinPriceCents > *query.MaxPriceCents {
		return query, errors.New("minPrice must not exceed maxPrice")
	}
	// Out-of-stock listings are hidden unless the caller opts out.
	query.OnlyAvailable = true
	if raw := strings.TrimSpace(values.Get("available")); raw != "" {
		onlyAvailable, err := strconv.ParseBool(raw)
		if err != nil {
			return query, errors.New("available must be a boolean")
		}
		query.OnlyAvailable = onlyAvailable
	}
	if raw := strings.TrimSpace(values.Get("includeUnapproved")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return query, errors.New("includeUnapproved must be a boolean")
		}
		query.IncludeUnapproved = include
	}

	latRaw := strings.TrimSpace(values.Get("lat"))
	lngRaw := strings.TrimSpace(values.Get("lng"))
	radiusRaw := strings.TrimSpace(values.Get("radius"))
	if latRaw != "" || lngRaw != "" || radiusRaw != "" {
		if latRaw == "" || lngRaw == "" || radiusRaw == "" {
			return query, errors.New("lat, lng, and radius must be provided together")
		}
		lat, err := strconv.ParseFloat(latRaw, 64)
		if err != nil {
			return query, errors.New("lat must be a number")
		}
		lng, err := strconv.ParseFloat(lngRaw, 64)
		if err != nil {
			return query, errors.New("lng must be a number")
		}
		radiusKM, err := strconv.ParseFloat(radiusRaw, 64)
		if err != nil || radiusKM <= 0 {
			return query, errors.New("radius must be a positive number of kilometres")
		}
		query.Near = &domain.GeoPoint{Latitude: lat, Longitude: lng}
		query.RadiusMeters = radiusKM * 1000
	}

	pager, err := parsePagination(values, defaultProductPageSize, maxProductPageSize)
	if err != nil {
		return query, err
	}
	query.Pagination = pager
	return query, nil
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "insufficient permissions", http.StatusForbidden))
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	default:
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog repository unavailable", http.StatusServiceUnavailable))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}
