package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/agrilink/api/internal/domain"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
	"github.com/agrilink/api/internal/platform/pagination"
	"github.com/agrilink/api/internal/repositories"
)

const productsCollection = "products"

// ProductRepository persists product listings with embedded reviews.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository: firestore provider is required")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil)
	return &ProductRepository{provider: provider, base: base}, nil
}

// Insert stores a new product document. The ID must be unique.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	docRef, err := r.base.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	if _, err := docRef.Create(ctx, encodeProductDocument(product)); err != nil {
		return pfirestore.WrapError("products.insert", err)
	}
	return nil
}

// Update replaces the persisted product state with the provided snapshot.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	if _, err := r.base.Set(ctx, productID, encodeProductDocument(product)); err != nil {
		return err
	}
	return nil
}

// SoftDelete marks the product as deleted while retaining the record so that
// order snapshots keep resolving.
func (r *ProductRepository) SoftDelete(ctx context.Context, productID string, deletedAt time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return errors.New("product repository: product id is required")
	}
	deletedAt = deletedAt.UTC()
	updates := []firestore.Update{
		{Path: "deletedAt", Value: deletedAt},
		{Path: "isAvailable", Value: false},
		{Path: "updatedAt", Value: deletedAt},
	}
	if _, err := r.base.Update(ctx, productID, updates); err != nil {
		return err
	}
	return nil
}

// SetApproval flips the admin approval flag and returns the updated product.
func (r *ProductRepository) SetApproval(ctx context.Context, productID string, approved bool, now time.Time) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	updates := []firestore.Update{
		{Path: "isApproved", Value: approved},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := r.base.Update(ctx, productID, updates); err != nil {
		return domain.Product{}, err
	}
	return r.FindByID(ctx, productID)
}

// AppendImage records an uploaded image reference on the product.
func (r *ProductRepository) AppendImage(ctx context.Context, productID string, imageRef string, now time.Time) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	imageRef = strings.TrimSpace(imageRef)
	if productID == "" || imageRef == "" {
		return errors.New("product repository: product id and image ref are required")
	}
	updates := []firestore.Update{
		{Path: "images", Value: firestore.ArrayUnion(imageRef)},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := r.base.Update(ctx, productID, updates); err != nil {
		return err
	}
	return nil
}

// FindByID fetches a single product, including soft-deleted ones. Callers
// decide whether deleted products are visible.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns the public catalogue page ordered by newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	return r.listPage(ctx, filter.Pagination, func(q firestore.Query) firestore.Query {
		if filter.OnlyApproved {
			q = q.Where("isApproved", "==", true)
		}
		if filter.OnlyAvailable {
			q = q.Where("isAvailable", "==", true)
		}
		if filter.Category != nil {
			q = q.Where("category", "==", string(*filter.Category))
		}
		if filter.PriceCents.From != nil {
			q = q.Where("priceCents", ">=", *filter.PriceCents.From)
		}
		if filter.PriceCents.To != nil {
			q = q.Where("priceCents", "<=", *filter.PriceCents.To)
		}
		return q
	})
}

// ListByFarmer returns every product owned by the farmer, including
// unapproved and out-of-stock listings.
func (r *ProductRepository) ListByFarmer(ctx context.Context, farmerID string, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}
	farmerID = strings.TrimSpace(farmerID)
	if farmerID == "" {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository: farmer id is required")
	}

	return r.listPage(ctx, pager, func(q firestore.Query) firestore.Query {
		return q.Where("farmerId", "==", farmerID)
	})
}

func (r *ProductRepository) listPage(ctx context.Context, pager domain.Pagination, narrow func(firestore.Query) firestore.Query) (domain.CursorPage[domain.Product], error) {
	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("product repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = narrow(q)
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListCursor(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		// Soft-deleted products never appear in listings.
		if doc.Data.DeletedAt != nil {
			continue
		}
		items = append(items, doc.Data.toDomain(doc.ID))
	}

	return domain.CursorPage[domain.Product]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// AddReview prepends the review and recomputes the mean rating in a single
// transaction.
func (r *ProductRepository) AddReview(ctx context.Context, productID string, review domain.Review) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docRef, err := r.base.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}

		reviews := make([]reviewDocument, 0, len(doc.Reviews)+1)
		reviews = append(reviews, encodeReviewDocument(review))
		reviews = append(reviews, doc.Reviews...)
		doc.Reviews = reviews

		var sum int64
		for _, rev := range doc.Reviews {
			sum += int64(rev.Rating)
		}
		doc.RatingAvg = float64(sum) / float64(len(doc.Reviews))
		doc.UpdatedAt = review.CreatedAt.UTC()

		if err := tx.Set(docRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) {
			return domain.Product{}, err
		}
		return domain.Product{}, pfirestore.WrapError("products.add_review", err)
	}
	return updated, nil
}

// Document mapping -----------------------------------------------------------

type productDocument struct {
	FarmerID    string           `firestore:"farmerId"`
	Name        string           `firestore:"name"`
	Description string           `firestore:"description,omitempty"`
	Category    string           `firestore:"category"`
	Unit        string           `firestore:"unit"`
	PriceCents  int64            `firestore:"priceCents"`
	Quantity    int              `firestore:"quantity"`
	IsAvailable bool             `firestore:"isAvailable"`
	IsApproved  bool             `firestore:"isApproved"`
	Images      []string         `firestore:"images,omitempty"`
	Location    geoPointDocument `firestore:"location"`
	Reviews     []reviewDocument `firestore:"reviews,omitempty"`
	RatingAvg   float64          `firestore:"ratingAvg"`
	CreatedAt   time.Time        `firestore:"createdAt"`
	UpdatedAt   time.Time        `firestore:"updatedAt"`
	DeletedAt   *time.Time       `firestore:"deletedAt,omitempty"`
}

type geoPointDocument struct {
	Latitude  float64 `firestore:"lat"`
	Longitude float64 `firestore:"lng"`
}

type reviewDocument struct {
	ID           string    `firestore:"id"`
	CustomerID   string    `firestore:"customerId"`
	CustomerName string    `firestore:"customerName,omitempty"`
	Rating       int       `firestore:"rating"`
	Comment      string    `firestore:"comment,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func encodeProductDocument(product domain.Product) productDocument {
	reviews := make([]reviewDocument, len(product.Reviews))
	for i, review := range product.Reviews {
		reviews[i] = encodeReviewDocument(review)
	}
	var deletedAt *time.Time
	if product.DeletedAt != nil {
		value := product.DeletedAt.UTC()
		deletedAt = &value
	}
	return productDocument{
		FarmerID:    strings.TrimSpace(product.FarmerID),
		Name:        strings.TrimSpace(product.Name),
		Description: strings.TrimSpace(product.Description),
		Category:    string(product.Category),
		Unit:        string(product.Unit),
		PriceCents:  product.PriceCents,
		Quantity:    product.Quantity,
		IsAvailable: product.IsAvailable,
		IsApproved:  product.IsApproved,
		Images:      append([]string(nil), product.Images...),
		Location: geoPointDocument{
			Latitude:  product.Location.Latitude,
			Longitude: product.Location.Longitude,
		},
		Reviews:   reviews,
		RatingAvg: product.RatingAvg,
		CreatedAt: product.CreatedAt.UTC(),
		UpdatedAt: product.UpdatedAt.UTC(),
		DeletedAt: deletedAt,
	}
}

func encodeReviewDocument(review domain.Review) reviewDocument {
	return reviewDocument{
		ID:           strings.TrimSpace(review.ID),
		CustomerID:   strings.TrimSpace(review.CustomerID),
		CustomerName: strings.TrimSpace(review.CustomerName),
		Rating:       review.Rating,
		Comment:      strings.TrimSpace(review.Comment),
		CreatedAt:    review.CreatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	reviews := make([]domain.Review, len(d.Reviews))
	for i, review := range d.Reviews {
		reviews[i] = domain.Review{
			ID:           review.ID,
			CustomerID:   review.CustomerID,
			CustomerName: review.CustomerName,
			Rating:       review.Rating,
			Comment:      review.Comment,
			CreatedAt:    review.CreatedAt,
		}
	}
	return domain.Product{
		ID:          id,
		FarmerID:    d.FarmerID,
		Name:        d.Name,
		Description: d.Description,
		Category:    domain.ProductCategory(d.Category),
		Unit:        domain.ProductUnit(d.Unit),
		PriceCents:  d.PriceCents,
		Quantity:    d.Quantity,
		IsAvailable: d.IsAvailable,
		IsApproved:  d.IsApproved,
		Images:      append([]string(nil), d.Images...),
		Location: domain.GeoPoint{
			Latitude:  d.Location.Latitude,
			Longitude: d.Location.Longitude,
		},
		Reviews:   reviews,
		RatingAvg: d.RatingAvg,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
		DeletedAt: d.DeletedAt,
	}
}

func encodeListCursor(createdAt time.Time, docID string) string {
	token, err := pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
	if err != nil {
		return ""
	}
	return token
}

func decodeListCursor(token string) (time.Time, string, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", err
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", errors.New("page token missing cursor values")
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", errors.New("page token has malformed timestamp")
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok || docID == "" {
		return time.Time{}, "", errors.New("page token missing document id")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", err
	}
	return createdAt, docID, nil
}
