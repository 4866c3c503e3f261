package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/agrilink/api/internal/domain"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
	"github.com/agrilink/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists orders and keeps product stock in step with the
// order lifecycle. Every mutation that touches stock runs in one Firestore
// transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	products *pfirestore.BaseRepository[productDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
	}, nil
}

// Place creates the order and decrements stock for every line atomically.
// All product reads happen before any write, as Firestore transactions
// require.
func (r *OrderRepository) Place(ctx context.Context, placement repositories.OrderPlacement) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(placement.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if len(placement.Lines) == 0 {
		return domain.Order{}, errors.New("order repository: at least one line is required")
	}

	now := placement.Now.UTC()
	var placed domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}

		type lineRead struct {
			ref *firestore.DocumentRef
			doc productDocument
			qty int
		}
		reads := make([]lineRead, 0, len(placement.Lines))
		farmerID := ""

		for _, line := range placement.Lines {
			productID := strings.TrimSpace(line.ProductID)
			if productID == "" {
				return repositories.NewOrderError(repositories.OrderErrorProductNotFound, "order place: product id is required", nil)
			}
			if line.Quantity <= 0 {
				return repositories.NewOrderLineError(repositories.OrderErrorUnknown, productID, fmt.Sprintf("order place: quantity for %s must be > 0", productID), nil)
			}

			productRef, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return repositories.NewOrderLineError(repositories.OrderErrorProductNotFound, productID, fmt.Sprintf("product %s not found", productID), err)
				}
				return err
			}
			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode product %s: %w", productID, err)
			}

			if doc.DeletedAt != nil || !doc.IsApproved || !doc.IsAvailable {
				return repositories.NewOrderLineError(repositories.OrderErrorProductUnavailable, productID, fmt.Sprintf("product %s is not available", productID), nil)
			}
			if doc.Quantity < line.Quantity {
				return repositories.NewOrderLineError(repositories.OrderErrorInsufficientStock, productID, fmt.Sprintf("insufficient stock for %s", productID), nil)
			}
			if farmerID == "" {
				farmerID = doc.FarmerID
			} else if farmerID != doc.FarmerID {
				return repositories.NewOrderError(repositories.OrderErrorMultipleFarmers, "order place: items belong to multiple farmers", nil)
			}

			reads = append(reads, lineRead{ref: productRef, doc: doc, qty: line.Quantity})
		}

		items := make([]orderItemDocument, 0, len(reads))
		var total int64
		for i := range reads {
			read := &reads[i]
			read.doc.Quantity -= read.qty
			read.doc.IsAvailable = read.doc.Quantity > 0
			read.doc.UpdatedAt = now
			if err := tx.Set(read.ref, read.doc); err != nil {
				return err
			}

			items = append(items, orderItemDocument{
				ProductID:      read.ref.ID,
				ProductName:    read.doc.Name,
				Unit:           read.doc.Unit,
				UnitPriceCents: read.doc.PriceCents,
				Quantity:       read.qty,
			})
			total += read.doc.PriceCents * int64(read.qty)
		}

		orderDoc := orderDocument{
			Number:     strings.TrimSpace(placement.Number),
			CustomerID: strings.TrimSpace(placement.CustomerID),
			FarmerID:   farmerID,
			Items:      items,
			TotalCents: total,
			Status:     string(domain.OrderStatusPending),
			Payment:    string(placement.PaymentMethod),
			Delivery: locationDocument{
				Street:     strings.TrimSpace(placement.DeliveryAddress.Street),
				City:       strings.TrimSpace(placement.DeliveryAddress.City),
				State:      strings.TrimSpace(placement.DeliveryAddress.State),
				PostalCode: strings.TrimSpace(placement.DeliveryAddress.PostalCode),
				Latitude:   placement.DeliveryAddress.Latitude,
				Longitude:  placement.DeliveryAddress.Longitude,
			},
			Note:             strings.TrimSpace(placement.Note),
			ExpectedDelivery: placement.ExpectedDelivery.UTC(),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.Create(orderRef, orderDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorUnknown, fmt.Sprintf("order %s already exists", orderID), err)
			}
			return err
		}

		placed = orderDoc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.place", err)
	}
	return placed, nil
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders scoped to the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.orders == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("order repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		if s.Valid() {
			statuses = append(statuses, string(s))
		}
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if farmerID := strings.TrimSpace(filter.FarmerID); farmerID != "" {
			q = q.Where("farmerId", "==", farmerID)
		}
		if len(statuses) == 1 {
			q = q.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			q = q.Where("status", "in", statuses)
		}
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
		return domain.CursorPage[domain.Order]{}, err
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

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}

	return domain.CursorPage[domain.Order]{
		Items:         items,
		NextPageToken: nextToken,
	}, nil
}

// UpdateStatus applies a lifecycle transition, re-reading the order inside
// the transaction and rejecting the change when the stored status no longer
// matches the expected one.
func (r *OrderRepository) UpdateStatus(ctx context.Context, change repositories.OrderStatusChange) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(change.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	now := change.Now.UTC()
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		doc, err := r.getOrderTx(tx, orderRef, orderID)
		if err != nil {
			return err
		}
		if doc.Status != string(change.Expected) {
			return repositories.NewOrderError(repositories.OrderErrorStatusConflict, fmt.Sprintf("order %s is %s, expected %s", orderID, doc.Status, change.Expected), nil)
		}

		doc.Status = string(change.Next)
		doc.UpdatedAt = now
		if change.ActualDelivery != nil {
			value := change.ActualDelivery.UTC()
			doc.ActualDelivery = &value
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.update_status", err)
	}
	return updated, nil
}

// Cancel marks the order cancelled and restores each item quantity onto its
// product in the same transaction. Products that no longer exist are skipped.
func (r *OrderRepository) Cancel(ctx context.Context, cancellation repositories.OrderCancellation) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(cancellation.OrderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}

	now := cancellation.Now.UTC()
	var cancelled domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		doc, err := r.getOrderTx(tx, orderRef, orderID)
		if err != nil {
			return err
		}
		if doc.Status != string(cancellation.Expected) {
			return repositories.NewOrderError(repositories.OrderErrorStatusConflict, fmt.Sprintf("order %s is %s, expected %s", orderID, doc.Status, cancellation.Expected), nil)
		}

		type restock struct {
			ref *firestore.DocumentRef
			doc productDocument
		}
		restocks := make([]restock, 0, len(doc.Items))
		for _, item := range doc.Items {
			productRef, err := r.products.DocumentRef(ctx, item.ProductID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(productRef)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					continue
				}
				return err
			}
			var productDoc productDocument
			if err := snap.DataTo(&productDoc); err != nil {
				return fmt.Errorf("decode product %s: %w", item.ProductID, err)
			}
			productDoc.Quantity += item.Quantity
			productDoc.IsAvailable = productDoc.DeletedAt == nil && productDoc.Quantity > 0
			productDoc.UpdatedAt = now
			restocks = append(restocks, restock{ref: productRef, doc: productDoc})
		}

		for _, rs := range restocks {
			if err := tx.Set(rs.ref, rs.doc); err != nil {
				return err
			}
		}

		doc.Status = string(domain.OrderStatusCancelled)
		doc.UpdatedAt = now
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		cancelled = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.cancel", err)
	}
	return cancelled, nil
}

// SetPaymentRef stores the PSP session reference after checkout creation.
func (r *OrderRepository) SetPaymentRef(ctx context.Context, orderID string, paymentRef string, now time.Time) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	paymentRef = strings.TrimSpace(paymentRef)
	if orderID == "" || paymentRef == "" {
		return errors.New("order repository: order id and payment ref are required")
	}
	updates := []firestore.Update{
		{Path: "paymentRef", Value: paymentRef},
		{Path: "updatedAt", Value: now.UTC()},
	}
	if _, err := r.orders.Update(ctx, orderID, updates); err != nil {
		return err
	}
	return nil
}

func (r *OrderRepository) getOrderTx(tx *firestore.Transaction, ref *firestore.DocumentRef, orderID string) (orderDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return orderDocument{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return orderDocument{}, err
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return doc, nil
}

// Document mapping -----------------------------------------------------------

type orderDocument struct {
	Number           string              `firestore:"number"`
	CustomerID       string              `firestore:"customerId"`
	FarmerID         string              `firestore:"farmerId"`
	Items            []orderItemDocument `firestore:"items"`
	TotalCents       int64               `firestore:"totalCents"`
	Status           string              `firestore:"status"`
	Payment          string              `firestore:"paymentMethod"`
	PaymentRef       string              `firestore:"paymentRef,omitempty"`
	Delivery         locationDocument    `firestore:"deliveryAddress"`
	Note             string              `firestore:"note,omitempty"`
	ExpectedDelivery time.Time           `firestore:"expectedDelivery"`
	ActualDelivery   *time.Time          `firestore:"actualDelivery,omitempty"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ProductID      string `firestore:"productId"`
	ProductName    string `firestore:"productName"`
	Unit           string `firestore:"unit"`
	UnitPriceCents int64  `firestore:"unitPriceCents"`
	Quantity       int    `firestore:"qty"`
}

type locationDocument struct {
	Street     string  `firestore:"street,omitempty"`
	City       string  `firestore:"city,omitempty"`
	State      string  `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode,omitempty"`
	Latitude   float64 `firestore:"lat,omitempty"`
	Longitude  float64 `firestore:"lng,omitempty"`
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Unit:           domain.ProductUnit(item.Unit),
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
		}
	}
	var paymentRef *string
	if d.PaymentRef != "" {
		value := d.PaymentRef
		paymentRef = &value
	}
	return domain.Order{
		ID:            id,
		Number:        d.Number,
		CustomerID:    d.CustomerID,
		FarmerID:      d.FarmerID,
		Items:         items,
		TotalCents:    d.TotalCents,
		Status:        domain.OrderStatus(d.Status),
		PaymentMethod: domain.PaymentMethod(d.Payment),
		PaymentRef:    paymentRef,
		DeliveryAddress: domain.Location{
			Street:     d.Delivery.Street,
			City:       d.Delivery.City,
			State:      d.Delivery.State,
			PostalCode: d.Delivery.PostalCode,
			Latitude:   d.Delivery.Latitude,
			Longitude:  d.Delivery.Longitude,
		},
		Note:             d.Note,
		ExpectedDelivery: d.ExpectedDelivery,
		ActualDelivery:   d.ActualDelivery,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return err
	}
	return pfirestore.WrapError(op, err)
}
