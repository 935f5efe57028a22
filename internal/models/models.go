package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderPaid       OrderStatus = "paid"
	OrderProcessing OrderStatus = "processing"
	OrderCompleted  OrderStatus = "completed"
	OrderFailed     OrderStatus = "failed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderFailed || s == OrderCancelled
}

type OrderType string

const (
	OrderTypeInventory OrderType = "inventory_purchase"
	OrderTypeProvider  OrderType = "provider_service"
)

type Order struct {
	ID                 uuid.UUID
	OrderNumber        string
	UserID             string
	Type               OrderType
	TotalCents         int64
	Status             OrderStatus
	PaymentReference   *string
	PaymentURL         *string
	ExpiresAt          *time.Time
	AutoCancelledAt    *time.Time
	CancellationReason *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type OrderLineItem struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ProductID       uuid.UUID
	InventoryUnitID *uuid.UUID
	UnitPriceCents  int64
	CreatedAt       time.Time
}

type ProviderOrderItem struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	ServiceRef      string
	Target          string
	Quantity        int
	ProviderOrderID *string
	ProviderStatus  *string
	StartCount      *int64
	Remaining       *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type InventoryStatus string

const (
	UnitAvailable InventoryStatus = "available"
	UnitReserved  InventoryStatus = "reserved"
	UnitSold      InventoryStatus = "sold"
)

// InventoryUnit is one sellable credential. CredentialCipher is the
// sealed payload; the plaintext never touches the database.
type InventoryUnit struct {
	ID                 uuid.UUID
	ProductID          uuid.UUID
	CredentialCipher   []byte
	Status             InventoryStatus
	ReservedForOrderID *uuid.UUID
	SoldOrderID        *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Product struct {
	ID         uuid.UUID
	Name       string
	PriceCents int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Service is a catalog entry for provider-fulfilled engagement orders.
// ServiceRef is the id the fulfillment provider knows the service by.
type Service struct {
	ID                uuid.UUID
	Name              string
	ServiceRef        string
	PricePerUnitCents int64
	MinQuantity       int
	MaxQuantity       int
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OrderCancellation is the audit row written whenever an order is
// cancelled or failed with its reservation released.
type OrderCancellation struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	Reason        string
	ReleasedUnits int
	CreatedAt     time.Time
}
