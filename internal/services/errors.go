package services

import "errors"

var (
	ErrMissingUserID   = errors.New("missing user id")
	ErrEmptyOrder      = errors.New("order has no items")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrUnknownProduct  = errors.New("unknown product")
	ErrUnknownService  = errors.New("unknown service")
	ErrInvalidTarget   = errors.New("invalid target")
	ErrPaymentInit     = errors.New("payment initialization failed")
)
