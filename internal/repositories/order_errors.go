package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorProductNotFound indicates a requested product does not exist.
	OrderErrorProductNotFound OrderErrorCode = "order_product_not_found"
	// OrderErrorProductUnavailable indicates the product is deleted, unapproved or out of stock.
	OrderErrorProductUnavailable OrderErrorCode = "order_product_unavailable"
	// OrderErrorInsufficientStock indicates the requested quantity exceeds availability.
	OrderErrorInsufficientStock OrderErrorCode = "order_insufficient_stock"
	// OrderErrorMultipleFarmers indicates order lines span more than one farmer.
	OrderErrorMultipleFarmers OrderErrorCode = "order_multiple_farmers"
	// OrderErrorNotFound indicates the order document is missing.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorStatusConflict indicates the stored status no longer matches the expected one.
	OrderErrorStatusConflict OrderErrorCode = "order_status_conflict"
)

// OrderError wraps order-specific failures with machine readable codes.
// ProductID names the offending product for line-level failures.
type OrderError struct {
	Op        string
	Code      OrderErrorCode
	ProductID string
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewOrderLineError constructs a typed order error tied to a specific product.
func NewOrderLineError(code OrderErrorCode, productID string, message string, err error) *OrderError {
	e := NewOrderError(code, message, err)
	e.ProductID = productID
	return e
}
