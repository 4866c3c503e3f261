package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/services"
)

type stubCatalogService struct {
	createFn  func(context.Context, services.CreateProductCommand) (services.Product, error)
	getFn     func(context.Context, string) (services.Product, error)
	listFn    func(context.Context, services.ProductQuery) (domain.CursorPage[services.Product], error)
	listMineFn func(context.Context, services.Actor, services.Pagination) (domain.CursorPage[services.Product], error)
	updateFn  func(context.Context, services.UpdateProductCommand) (services.Product, error)
	deleteFn  func(context.Context, services.DeleteProductCommand) error
	approveFn func(context.Context, services.ApproveProductCommand) (services.Product, error)
	reviewFn  func(context.Context, services.AddReviewCommand) (services.Product, error)
	uploadFn  func(context.Context, services.ProductImageUploadCommand) (services.SignedAssetResponse, error)
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) ListProducts(ctx context.Context, query services.ProductQuery) (domain.CursorPage[services.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) ListMyProducts(ctx context.Context, actor services.Actor, pager services.Pagination) (domain.CursorPage[services.Product], error) {
	if s.listMineFn != nil {
		return s.listMineFn(ctx, actor, pager)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, cmd services.DeleteProductCommand) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubCatalogService) ApproveProduct(ctx context.Context, cmd services.ApproveProductCommand) (services.Product, error) {
	if s.approveFn != nil {
		return s.approveFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) AddReview(ctx context.Context, cmd services.AddReviewCommand) (services.Product, error) {
	if s.reviewFn != nil {
		return s.reviewFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) IssueImageUpload(ctx context.Context, cmd services.ProductImageUploadCommand) (services.SignedAssetResponse, error) {
	if s.uploadFn != nil {
		return s.uploadFn(ctx, cmd)
	}
	return services.SignedAssetResponse{}, errors.New("not implemented")
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) bool { return true }

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) bool { return false }

func newProductRouter(service services.CatalogService, opts ...ProductOption) chi.Router {
	handler := NewProductHandlers(nil, service, opts...)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	router.Route("/admin", handler.AdminRoutes)
	return router
}

func withTestIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	identity := &auth.Identity{UID: uid, Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestProductHandlersCreateProduct(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var captured services.CreateProductCommand
	service := &stubCatalogService{
		createFn: func(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{
				ID:         "prd_1",
				FarmerID:   cmd.Actor.ID,
				Name:       cmd.Name,
				Category:   cmd.Category,
				Unit:       cmd.Unit,
				PriceCents: 1250,
				Quantity:   cmd.Quantity,
				IsAvailable: true,
				Location:   cmd.Location,
				CreatedAt:  now,
			}, nil
		},
	}
	router := newProductRouter(service)

	body := `{"name":"Tomatoes","description":"Fresh","category":"vegetables","unit":"kg","price":12.5,"quantity":40,"location":{"latitude":6.52,"longitude":3.37}}`
	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewBufferString(body))
	req = withTestIdentity(req, "farmer-1", auth.RoleFarmer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "farmer-1" || captured.Actor.Role != domain.RoleFarmer {
		t.Fatalf("unexpected actor: %#v", captured.Actor)
	}
	if captured.Price != 12.5 || captured.Quantity != 40 {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.Location.Latitude != 6.52 || captured.Location.Longitude != 3.37 {
		t.Fatalf("unexpected location: %#v", captured.Location)
	}

	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Product.ID != "prd_1" || resp.Product.PriceCents != 1250 {
		t.Fatalf("unexpected product payload: %#v", resp.Product)
	}
}

func TestProductHandlersCreateProductRequiresAuth(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})

	req := httptest.NewRequest(http.MethodPost, "/products", bytes.NewBufferString(`{"name":"x"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestProductHandlersListProductsParsesFilters(t *testing.T) {
	var captured services.ProductQuery
	service := &stubCatalogService{
		listFn: func(ctx context.Context, query services.ProductQuery) (domain.CursorPage[services.Product], error) {
			captured = query
			return domain.CursorPage[services.Product]{
				Items:         []services.Product{{ID: "prd_1", Name: "Yam"}},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newProductRouter(service)

	target := "/products?category=vegetables&minPrice=1&maxPrice=5&available=true&lat=6.5&lng=3.4&radius=5&pageSize=10&pageToken=tok123"
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = withTestIdentity(req, "cust-1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Category == nil || *captured.Category != domain.CategoryVegetables {
		t.Fatalf("expected vegetables category, got %#v", captured.Category)
	}
	if captured.MinPriceCents == nil || *captured.MinPriceCents != 100 {
		t.Fatalf("expected min price 100, got %#v", captured.MinPriceCents)
	}
	if captured.MaxPriceCents == nil || *captured.MaxPriceCents != 500 {
		t.Fatalf("expected max price 500, got %#v", captured.MaxPriceCents)
	}
	if !captured.OnlyAvailable {
		t.Fatalf("expected only available filter")
	}
	if captured.Near == nil || captured.Near.Latitude != 6.5 || captured.RadiusMeters != 5000 {
		t.Fatalf("unexpected geo filter: %#v radius %v", captured.Near, captured.RadiusMeters)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %#v", captured.Pagination)
	}

	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected list response: %#v", resp)
	}
}

func TestProductHandlersListProductsAllowsAnonymous(t *testing.T) {
	var captured services.ProductQuery
	service := &stubCatalogService{
		listFn: func(ctx context.Context, query services.ProductQuery) (domain.CursorPage[services.Product], error) {
			captured = query
			return domain.CursorPage[services.Product]{}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products", nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.Known() {
		t.Fatalf("expected anonymous actor, got %#v", captured.Actor)
	}
	if !captured.OnlyAvailable {
		t.Fatalf("expected anonymous listing to filter to available products, got %#v", captured)
	}
}

func TestProductHandlersListProductsRejectsPartialGeo(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})

	req := httptest.NewRequest(http.MethodGet, "/products?lat=6.5", nil)
	req = withTestIdentity(req, "cust-1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersGetProductNotFound(t *testing.T) {
	service := &stubCatalogService{
		getFn: func(ctx context.Context, productID string) (services.Product, error) {
			return services.Product{}, services.ErrProductNotFound
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/prd_missing", nil)
	req = withTestIdentity(req, "cust-1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestProductHandlersUpdateProductForbidden(t *testing.T) {
	service := &stubCatalogService{
		updateFn: func(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
			return services.Product{}, services.ErrForbidden
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodPut, "/products/prd_1", bytes.NewBufferString(`{"quantity":5}`))
	req = withTestIdentity(req, "farmer-2", auth.RoleFarmer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestProductHandlersDeleteProduct(t *testing.T) {
	var captured services.DeleteProductCommand
	service := &stubCatalogService{
		deleteFn: func(ctx context.Context, cmd services.DeleteProductCommand) error {
			captured = cmd
			return nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodDelete, "/products/prd_1", nil)
	req = withTestIdentity(req, "farmer-1", auth.RoleFarmer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if captured.ProductID != "prd_1" || captured.Actor.ID != "farmer-1" {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestProductHandlersApproveProduct(t *testing.T) {
	var captured services.ApproveProductCommand
	service := &stubCatalogService{
		approveFn: func(ctx context.Context, cmd services.ApproveProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{ID: cmd.ProductID, IsApproved: cmd.Approved}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodPut, "/products/prd_1/approve", bytes.NewBufferString(`{"approved":true}`))
	req = withTestIdentity(req, "admin-1", auth.RoleAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_1" || !captured.Approved {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if captured.Actor.Role != domain.RoleAdmin {
		t.Fatalf("expected admin actor, got %#v", captured.Actor)
	}
}

func TestProductHandlersApproveProductRequiresFlag(t *testing.T) {
	router := newProductRouter(&stubCatalogService{})

	req := httptest.NewRequest(http.MethodPut, "/products/prd_1/approve", bytes.NewBufferString(`{}`))
	req = withTestIdentity(req, "admin-1", auth.RoleAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestProductHandlersAddReview(t *testing.T) {
	var captured services.AddReviewCommand
	service := &stubCatalogService{
		reviewFn: func(ctx context.Context, cmd services.AddReviewCommand) (services.Product, error) {
			captured = cmd
			return services.Product{
				ID:        cmd.ProductID,
				RatingAvg: float64(cmd.Rating),
				Reviews: []services.Review{{
					ID:         "rev_1",
					CustomerID: cmd.Actor.ID,
					Rating:     cmd.Rating,
					Comment:    cmd.Comment,
				}},
			}, nil
		},
	}
	router := newProductRouter(service, WithReviewRateLimiter(allowAllLimiter{}))

	body := `{"rating":4,"comment":"Very fresh","customer_name":"Amina"}`
	req := httptest.NewRequest(http.MethodPost, "/products/prd_1/reviews", bytes.NewBufferString(body))
	req = withTestIdentity(req, "cust-1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Rating != 4 || captured.Comment != "Very fresh" || captured.ActorName != "Amina" {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Product.Reviews) != 1 || resp.Product.Reviews[0].Rating != 4 {
		t.Fatalf("unexpected review payload: %#v", resp.Product.Reviews)
	}
}

func TestProductHandlersAddReviewRateLimited(t *testing.T) {
	router := newProductRouter(&stubCatalogService{}, WithReviewRateLimiter(denyAllLimiter{}))

	req := httptest.NewRequest(http.MethodPost, "/products/prd_1/reviews", bytes.NewBufferString(`{"rating":4}`))
	req = withTestIdentity(req, "cust-1", auth.RoleCustomer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestProductHandlersListProductsAvailableOptOut(t *testing.T) {
	var captured services.ProductQuery
	service := &stubCatalogService{
		listFn: func(ctx context.Context, query services.ProductQuery) (domain.CursorPage[services.Product], error) {
			captured = query
			return domain.CursorPage[services.Product]{}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products?available=false", nil)
	req = withTestIdentity(req, "admin-1", auth.RoleAdmin)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.OnlyAvailable {
		t.Fatalf("expected available=false to lift the availability filter, got %#v", captured)
	}
}

func TestProductHandlersIssueImageUpload(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	var captured services.ProductImageUploadCommand
	service := &stubCatalogService{
		uploadFn: func(ctx context.Context, cmd services.ProductImageUploadCommand) (services.SignedAssetResponse, error) {
			captured = cmd
			return services.SignedAssetResponse{
				AssetID:   "img_1",
				URL:       "https://storage.example.com/upload",
				Method:    http.MethodPut,
				Headers:   map[string]string{"Content-Type": cmd.ContentType},
				ExpiresAt: expiry,
			}, nil
		},
	}
	router := newProductRouter(service)

	body := `{"file_name":"tomatoes.jpg","content_type":"image/jpeg","size_bytes":2048}`
	req := httptest.NewRequest(http.MethodPost, "/products/prd_1/images", bytes.NewBufferString(body))
	req = withTestIdentity(req, "farmer-1", auth.RoleFarmer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.FileName != "tomatoes.jpg" || captured.SizeBytes != 2048 {
		t.Fatalf("unexpected command: %#v", captured)
	}

	var resp signedUploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.AssetID != "img_1" || resp.Method != http.MethodPut {
		t.Fatalf("unexpected upload response: %#v", resp)
	}
	if resp.ExpiresAt != "2026-03-01T12:15:00Z" {
		t.Fatalf("unexpected expiry: %s", resp.ExpiresAt)
	}
}

func TestProductHandlersListMyProducts(t *testing.T) {
	var capturedActor services.Actor
	service := &stubCatalogService{
		listMineFn: func(ctx context.Context, actor services.Actor, pager services.Pagination) (domain.CursorPage[services.Product], error) {
			capturedActor = actor
			return domain.CursorPage[services.Product]{Items: []services.Product{{ID: "prd_1"}}}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/mine", nil)
	req = withTestIdentity(req, "farmer-1", auth.RoleFarmer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if capturedActor.ID != "farmer-1" || capturedActor.Role != domain.RoleFarmer {
		t.Fatalf("unexpected actor: %#v", capturedActor)
	}
}
