package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrOutOfStock             = errors.New("out of stock")
	ErrEmptyCart              = errors.New("cart is empty, nothing to checkout")
	ErrInvalidStateTransition = errors.New("illegal transition of order status")
	ErrTransactionAborted     = errors.New("transaction aborted")
	ErrInvalidRequest         = errors.New("invalid request")
)

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func ProductNotFound(id int64) error {
	return &NotFoundError{Entity: "product", ID: id}
}

func OrderNotFound(id int64) error {
	return &NotFoundError{Entity: "order", ID: id}
}

type OutOfStockError struct {
	ProductID   int64
	ProductName string
	Requested   int32
	Available   int32
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (product %d): requested %d, only %d available",
		e.ProductName, e.ProductID, e.Requested, e.Available)
}

func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}

func InvalidTransition(from, to OrderStatus) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}

func invalidRequest(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, msg)
}

func InvalidRequest(msg string) error {
	return invalidRequest(msg)
}
