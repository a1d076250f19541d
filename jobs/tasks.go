package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity verifies that every stock row equals the sum of
	// its ledger entries.
	TaskLedgerIntegrity = "ledger:integrity_scan"
	// TaskStockSnapshot persists a dated copy of all stock rows.
	TaskStockSnapshot = "stock:snapshot"
)

// IntegrityPayload parameterises an integrity scan run.
type IntegrityPayload struct {
	StoreID int64 `json:"storeId,omitempty"`
}

// NewLedgerIntegrityTask constructs the integrity scan task.
func NewLedgerIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// NewStockSnapshotTask constructs the snapshot task.
func NewStockSnapshotTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskStockSnapshot, nil), nil
}

// IntegrityHandler builds the Asynq handler for TaskLedgerIntegrity.
func IntegrityHandler(scanner *Scanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IntegrityPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		drifts, err := scanner.Scan(ctx, payload.StoreID)
		if err != nil {
			return err
		}
		if len(drifts) == 0 {
			logger.Info("ledger integrity scan clean", slog.Int64("store_id", payload.StoreID))
			return nil
		}
		for _, d := range drifts {
			logger.Error("stock row drifted from its ledger",
				slog.Int64("product_id", d.ProductID),
				slog.Int64("store_id", d.StoreID),
				slog.Int64("variant_id", d.VariantID),
				slog.Float64("row_quantity", d.RowQuantity),
				slog.Float64("ledger_sum", d.LedgerSum))
		}
		return nil
	}
}

// SnapshotHandler builds the Asynq handler for TaskStockSnapshot.
func SnapshotHandler(scanner *Scanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		count, err := scanner.Snapshot(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		logger.Info("stock snapshot written", slog.Int64("rows", count))
		return nil
	}
}
