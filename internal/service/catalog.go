package service

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/autocheckout/internal/domain"
	"github.com/punchamoorthee/autocheckout/internal/gateway"
)

// validatePurchase checks the descriptor and, for engagement orders, the
// quantity and price against the provider's current catalog.
func validatePurchase(ctx context.Context, engagement EngagementProvider, desc domain.PurchaseDescriptor) error {
	if err := desc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if desc.Kind != domain.KindEngagement {
		return nil
	}

	services, err := engagement.Services(ctx)
	if err != nil {
		return fmt.Errorf("%w: load catalog: %v", ErrUpstream, err)
	}
	svc, ok := gateway.FindService(services, desc.ServiceID)
	if !ok {
		return fmt.Errorf("%w: unknown service %s", ErrValidation, desc.ServiceID)
	}
	if svc.Min > 0 && desc.Quantity < svc.Min {
		return fmt.Errorf("%w: quantity %d below minimum %d", ErrValidation, desc.Quantity, svc.Min)
	}
	if svc.Max > 0 && desc.Quantity > svc.Max {
		return fmt.Errorf("%w: quantity %d above maximum %d", ErrValidation, desc.Quantity, svc.Max)
	}
	// the sale price must cover the catalog cost
	if cost := svc.PriceFor(desc.Quantity); desc.Price.LessThan(cost) {
		return fmt.Errorf("%w: price %s below provider cost %s", ErrValidation, desc.Price.StringFixed(2), cost.StringFixed(2))
	}
	return nil
}
