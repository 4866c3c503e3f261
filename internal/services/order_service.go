package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/payments"
	"github.com/agrilink/api/internal/platform/events"
	"github.com/agrilink/api/internal/repositories"
)

const (
	orderIDPrefix         = "ord_"
	orderNumberPrefix     = "AG"
	orderCounterScope     = "orders"
	defaultDeliveryWindow = 7 * 24 * time.Hour
	maxOrderNoteLength    = 1000

	orderLoggerEventPublishFailed  = "order.event.publish.failed"
	orderLoggerEventCheckoutFailed = "order.checkout.create.failed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed concurrently.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderProductNotFound indicates a requested product does not exist.
	ErrOrderProductNotFound = errors.New("order: product not found")
	// ErrOrderProductUnavailable indicates a requested product cannot be ordered.
	ErrOrderProductUnavailable = errors.New("order: product unavailable")
	// ErrOrderInsufficientStock indicates a requested quantity exceeds availability.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderMultipleFarmers indicates the order lines span more than one farmer.
	ErrOrderMultipleFarmers = errors.New("order: items must belong to a single farmer")
)

// orderStatusSuccessor maps each status to the only state it may advance to.
// Cancellation is handled separately and never flows through here.
var orderStatusSuccessor = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusPending:    domain.OrderStatusConfirmed,
	domain.OrderStatusConfirmed:  domain.OrderStatusProcessing,
	domain.OrderStatusProcessing: domain.OrderStatusShipped,
	domain.OrderStatusShipped:    domain.OrderStatusDelivered,
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event events.OrderEvent) (string, error)
}

// CheckoutStarter creates PSP checkout sessions for online payments.
// *payments.Manager satisfies it.
type CheckoutStarter interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Checkout    CheckoutStarter
	Currency    string
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	counters repositories.CounterRepository
	checkout CheckoutStarter
	currency string
	events   OrderEventPublisher
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	return &orderService{
		orders:   deps.Orders,
		counters: deps.Counters,
		checkout: deps.Checkout,
		currency: currency,
		events:   deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlacedOrder, error) {
	if !cmd.Actor.Is(domain.RoleCustomer) {
		return PlacedOrder{}, fmt.Errorf("%w: only customers may place orders", ErrForbidden)
	}

	lines, err := normalizeOrderLines(cmd.Lines)
	if err != nil {
		return PlacedOrder{}, err
	}
	if !cmd.PaymentMethod.Valid() {
		return PlacedOrder{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	note := strings.TrimSpace(cmd.Note)
	if len(note) > maxOrderNoteLength {
		return PlacedOrder{}, fmt.Errorf("%w: note exceeds %d characters", ErrOrderInvalidInput, maxOrderNoteLength)
	}

	now := s.clock()

	// The sequence is allocated outside the placement transaction, so a
	// failed placement leaves a gap in the numbering. That is acceptable.
	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return PlacedOrder{}, err
	}

	order, err := s.orders.Place(ctx, repositories.OrderPlacement{
		OrderID:          orderIDPrefix + s.newID(),
		Number:           number,
		CustomerID:       cmd.Actor.ID,
		Lines:            lines,
		PaymentMethod:    cmd.PaymentMethod,
		DeliveryAddress:  cmd.DeliveryAddress,
		Note:             note,
		ExpectedDelivery: now.Add(defaultDeliveryWindow),
		Now:              now,
	})
	if err != nil {
		return PlacedOrder{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, events.OrderEvent{
		Type:        events.TypeOrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		CustomerID:  order.CustomerID,
		FarmerID:    order.FarmerID,
		Status:      string(order.Status),
		TotalCents:  order.TotalCents,
		OccurredAt:  now,
	})

	placed := PlacedOrder{Order: order}
	if order.PaymentMethod == domain.PaymentOnline {
		placed.Checkout = s.startCheckout(ctx, &placed.Order, cmd)
	}
	return placed, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !actor.CanAccess(order.CustomerID, order.FarmerID) {
		return Order{}, fmt.Errorf("%w: not a participant of this order", ErrForbidden)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	for _, status := range query.Status {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}

	filter := repositories.OrderListFilter{
		Status:     query.Status,
		Pagination: query.Pagination,
	}

	switch {
	case query.Actor.Admin():
		filter.CustomerID = strings.TrimSpace(query.CustomerID)
		filter.FarmerID = strings.TrimSpace(query.FarmerID)
	case query.Actor.Role == domain.RoleFarmer:
		filter.FarmerID = query.Actor.ID
	case query.Actor.Role == domain.RoleCustomer:
		filter.CustomerID = query.Actor.ID
	default:
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown caller role", ErrForbidden)
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Next.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Next)
	}
	if cmd.Next == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: cancellation uses the cancel operation", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.Actor.CanAccess(order.FarmerID) {
		return Order{}, fmt.Errorf("%w: only the fulfilling farmer may advance the order", ErrForbidden)
	}

	successor, ok := orderStatusSuccessor[order.Status]
	if !ok || successor != cmd.Next {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, cmd.Next)
	}

	now := s.clock()
	change := repositories.OrderStatusChange{
		OrderID:  orderID,
		Expected: order.Status,
		Next:     cmd.Next,
		Now:      now,
	}
	if cmd.Next == domain.OrderStatusDelivered {
		change.ActualDelivery = &now
	}

	updated, err := s.orders.UpdateStatus(ctx, change)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, events.OrderEvent{
		Type:           events.TypeOrderStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.Number,
		CustomerID:     updated.CustomerID,
		FarmerID:       updated.FarmerID,
		Status:         string(updated.Status),
		PreviousStatus: string(order.Status),
		TotalCents:     updated.TotalCents,
		OccurredAt:     now,
	})

	return updated, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.Actor.CanAccess(order.CustomerID, order.FarmerID) {
		return Order{}, fmt.Errorf("%w: not a participant of this order", ErrForbidden)
	}
	if order.Status.Terminal() {
		return Order{}, fmt.Errorf("%w: order is already %s", ErrOrderInvalidState, order.Status)
	}

	now := s.clock()
	cancelled, err := s.orders.Cancel(ctx, repositories.OrderCancellation{
		OrderID:  orderID,
		Expected: order.Status,
		Now:      now,
	})
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, events.OrderEvent{
		Type:           events.TypeOrderCancelled,
		OrderID:        cancelled.ID,
		OrderNumber:    cancelled.Number,
		CustomerID:     cancelled.CustomerID,
		FarmerID:       cancelled.FarmerID,
		Status:         string(cancelled.Status),
		PreviousStatus: string(order.Status),
		TotalCents:     cancelled.TotalCents,
		OccurredAt:     now,
	})

	return cancelled, nil
}

// startCheckout creates the PSP session for an online order. The order is
// already committed; a session failure is reported to the caller through a
// nil checkout rather than failing the placement.
func (s *orderService) startCheckout(ctx context.Context, order *Order, cmd PlaceOrderCommand) *CheckoutSession {
	if s.checkout == nil {
		return nil
	}

	items := make([]payments.CheckoutLineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.ProductName,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPriceCents,
			Currency: s.currency,
		})
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, payments.PaymentContext{Currency: s.currency}, payments.CheckoutSessionRequest{
		Amount:         order.TotalCents,
		Currency:       s.currency,
		CustomerID:     order.CustomerID,
		SuccessURL:     cmd.SuccessURL,
		CancelURL:      cmd.CancelURL,
		IdempotencyKey: cmd.IdempotencyKey,
		Items:          items,
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.Number,
		},
	})
	if err != nil {
		s.logger(ctx, orderLoggerEventCheckoutFailed, map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return nil
	}

	if err := s.orders.SetPaymentRef(ctx, order.ID, session.ID, s.clock()); err != nil {
		s.logger(ctx, orderLoggerEventCheckoutFailed, map[string]any{
			"orderId":   order.ID,
			"sessionId": session.ID,
			"error":     err.Error(),
		})
	} else {
		ref := session.ID
		order.PaymentRef = &ref
	}

	return &domain.CheckoutSession{
		SessionID:    session.ID,
		PSP:          session.Provider,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
		ExpiresAt:    session.ExpiresAt,
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	counterID := fmt.Sprintf("%s:%d", orderCounterScope, now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", fmt.Errorf("order: allocate number: %w", err)
	}
	return fmt.Sprintf("%s-%04d-%06d", orderNumberPrefix, now.Year(), seq), nil
}

func (s *orderService) publishEvent(ctx context.Context, event events.OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, orderLoggerEventPublishFailed, map[string]any{
			"type":    event.Type,
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrOrderProductNotFound, err)
		case repositories.OrderErrorProductUnavailable:
			return fmt.Errorf("%w: %v", ErrOrderProductUnavailable, err)
		case repositories.OrderErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrOrderInsufficientStock, err)
		case repositories.OrderErrorMultipleFarmers:
			return fmt.Errorf("%w: %v", ErrOrderMultipleFarmers, err)
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repositories.OrderErrorStatusConflict:
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

// normalizeOrderLines validates the requested lines and merges duplicate
// product references.
func normalizeOrderLines(lines []OrderLineInput) ([]repositories.OrderLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}

	merged := make([]repositories.OrderLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required on every line", ErrOrderInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive for product %s", ErrOrderInvalidInput, productID)
		}
		if at, ok := index[productID]; ok {
			merged[at].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, repositories.OrderLine{ProductID: productID, Quantity: line.Quantity})
	}
	return merged, nil
}
