package services

import (
	"context"

	"digistore/internal/models"

	"go.uber.org/zap"
)

type CredentialView struct {
	ProductID string `json:"productId"`
	Payload   string `json:"payload"`
}

type OrderView struct {
	Order         *models.Order
	LineItems     []models.OrderLineItem
	ProviderItems []models.ProviderOrderItem
	Credentials   []CredentialView
}

// View returns an order with its items. Credentials are unsealed and
// included only once the order is completed; before that the buyer has
// nothing to see.
func (s *OrderService) View(ctx context.Context, orderNumber string) (*OrderView, error) {
	order, err := s.Store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	view := &OrderView{Order: order}
	switch order.Type {
	case models.OrderTypeInventory:
		view.LineItems, err = s.Store.ListLineItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		if order.Status == models.OrderCompleted {
			sold, err := s.Store.CredentialsForOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			for _, c := range sold {
				plain, err := s.Box.Open(c.CredentialCipher)
				if err != nil {
					s.Log.Error("credential unseal failed",
						zap.String("order_id", order.ID.String()),
						zap.String("unit_id", c.UnitID.String()),
						zap.Error(err))
					continue
				}
				view.Credentials = append(view.Credentials, CredentialView{
					ProductID: c.ProductID.String(),
					Payload:   string(plain),
				})
			}
		}
	case models.OrderTypeProvider:
		view.ProviderItems, err = s.Store.ListProviderItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
	}
	return view, nil
}
