// Package allocation moves quantity between a product's general stock row
// and its per-variant rows within one store.
package allocation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ErrAllocation indicates a split or recall exceeding the available
// quantity on the source row.
var ErrAllocation = errors.New("allocation: insufficient stock")

// ErrInvalidInput indicates missing identifiers or a non-positive quantity.
var ErrInvalidInput = errors.New("allocation: product, store, variant and a positive quantity required")

// LedgerPort is the slice of the stock ledger the manager drives.
type LedgerPort interface {
	GetQuantity(ctx context.Context, productID, storeID, variantID int64) (float64, error)
	MutateBatch(ctx context.Context, actorID int64, muts []ledger.Mutation) ([]ledger.Entry, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates allocation moves. Both legs of a move run in one
// ledger batch, so a half-applied split is never observable.
type Service struct {
	ledger LedgerPort
	audit  AuditPort
}

// NewService builds Service.
func NewService(ledgerPort LedgerPort, audit AuditPort) *Service {
	return &Service{ledger: ledgerPort, audit: audit}
}

// SplitToVariant moves quantity from the general row to the variant row.
func (s *Service) SplitToVariant(ctx context.Context, actorID, productID, storeID, variantID int64, quantity float64) error {
	if err := validateInput(productID, storeID, variantID, quantity); err != nil {
		return err
	}
	_, err := s.ledger.MutateBatch(ctx, actorID, []ledger.Mutation{
		{ProductID: productID, StoreID: storeID, Delta: -quantity, Type: ledger.TypeAllocate, RefModule: "ALLOCATION"},
		{ProductID: productID, StoreID: storeID, VariantID: variantID, Delta: quantity, Type: ledger.TypeAllocate, RefModule: "ALLOCATION"},
	})
	if err != nil {
		return wrapShortfall(err)
	}
	s.recordAudit(ctx, actorID, "allocation:SPLIT", productID, storeID, variantID, quantity)
	return nil
}

// RecallFromVariant moves quantity from the variant row back to general.
func (s *Service) RecallFromVariant(ctx context.Context, actorID, productID, storeID, variantID int64, quantity float64) error {
	if err := validateInput(productID, storeID, variantID, quantity); err != nil {
		return err
	}
	_, err := s.ledger.MutateBatch(ctx, actorID, []ledger.Mutation{
		{ProductID: productID, StoreID: storeID, VariantID: variantID, Delta: -quantity, Type: ledger.TypeRecall, RefModule: "ALLOCATION"},
		{ProductID: productID, StoreID: storeID, Delta: quantity, Type: ledger.TypeRecall, RefModule: "ALLOCATION"},
	})
	if err != nil {
		return wrapShortfall(err)
	}
	s.recordAudit(ctx, actorID, "allocation:RECALL", productID, storeID, variantID, quantity)
	return nil
}

// SetVariantStock adjusts the variant row to the target value by splitting
// from or recalling to the general row. Used by the administrative
// stock-setting surface.
func (s *Service) SetVariantStock(ctx context.Context, actorID, productID, storeID, variantID int64, target float64) error {
	if productID == 0 || storeID == 0 || variantID == 0 || target < 0 {
		return ErrInvalidInput
	}
	current, err := s.ledger.GetQuantity(ctx, productID, storeID, variantID)
	if err != nil {
		return err
	}
	delta := target - current
	switch {
	case math.Abs(delta) < 1e-9:
		return nil
	case delta > 0:
		return s.SplitToVariant(ctx, actorID, productID, storeID, variantID, delta)
	default:
		return s.RecallFromVariant(ctx, actorID, productID, storeID, variantID, -delta)
	}
}

func validateInput(productID, storeID, variantID int64, quantity float64) error {
	if productID == 0 || storeID == 0 || variantID == 0 || quantity <= 0 {
		return ErrInvalidInput
	}
	return nil
}

func wrapShortfall(err error) error {
	var insufficient *ledger.InsufficientStockError
	if errors.As(err, &insufficient) {
		return fmt.Errorf("%w: %w", ErrAllocation, err)
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, productID, storeID, variantID int64, quantity float64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "allocation",
		EntityID: fmt.Sprintf("%d:%d:%d", productID, storeID, variantID),
		Meta:     map[string]any{"quantity": quantity},
	})
}
