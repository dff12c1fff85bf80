// internal/harvest/implementation.go
package harvest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"farmledger/internal/crops"
	"farmledger/internal/gate"
	"farmledger/internal/ledger"
)

// Config carries the orchestration knobs.
type Config struct {
	LockTimeout time.Duration
	MaxRetries  int
}

// service implements the Service interface.
type service struct {
	db     *sql.DB
	ledger *ledger.Ledger
	crops  *crops.Registry
	cache  ledger.Cache
	cfg    Config
	log    *zap.Logger
}

// NewService creates a new harvest service instance. cache may be nil.
func NewService(db *sql.DB, led *ledger.Ledger, registry *crops.Registry, cache ledger.Cache, cfg Config, log *zap.Logger) Service {
	return &service{
		db:     db,
		ledger: led,
		crops:  registry,
		cache:  cache,
		cfg:    cfg,
		log:    log,
	}
}

// RecordHarvest stores a single harvest event.
func (s *service) RecordHarvest(ctx context.Context, actor string, params RecordParams) (*Harvest, error) {
	recorded, err := s.RecordBatch(ctx, actor, []RecordParams{params})
	if err != nil {
		return nil, err
	}
	return recorded[0], nil
}

// RecordBatch applies a multi-row harvest as one transaction. The deltas are
// collected up front and applied in a single loop so a failure on any row
// rolls back the whole batch.
func (s *service) RecordBatch(ctx context.Context, actor string, batch []RecordParams) ([]*Harvest, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	for _, params := range batch {
		if err := gate.HarvestYield(params.Yield); err != nil {
			return nil, err
		}
	}

	recorded := make([]*Harvest, 0, len(batch))
	var applied map[uuid.UUID]ledger.Result

	now := time.Now().UTC()
	err := ledger.RunInTx(ctx, s.db, s.cfg.LockTimeout, s.cfg.MaxRetries, func(tx *sql.Tx) error {
		// A retried attempt starts from scratch: nothing recorded, nothing
		// applied.
		recorded = recorded[:0]
		applied = make(map[uuid.UUID]ledger.Result, len(batch))
		rows := ledger.NewTxRows(tx)
		for _, params := range batch {
			if err := s.crops.Require(ctx, tx, params.CropID); err != nil {
				return err
			}

			result, err := s.ledger.ApplyByCrop(ctx, rows, params.CropID, params.Yield)
			if err != nil {
				return err
			}
			applied[result.ItemID] = result

			h := &Harvest{
				ID:            uuid.New(),
				CropID:        params.CropID,
				FarmID:        params.FarmID,
				HarvestedAt:   now,
				Yield:         params.Yield,
				QualityRating: params.QualityRating,
			}
			if err := insertHarvest(ctx, tx, h); err != nil {
				return err
			}
			recorded = append(recorded, h)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, result := range applied {
		s.refreshCache(ctx, result)
	}
	s.log.Info("harvest recorded",
		zap.Int("events", len(recorded)),
		zap.String("actor", actor),
	)
	return recorded, nil
}

// AmendYield corrects a harvest's yield. Inventory receives the difference
// from the previously recorded yield: correcting 20 to 25 adds 5, not 25.
func (s *service) AmendYield(ctx context.Context, actor string, id uuid.UUID, yield int) (*Harvest, error) {
	if err := gate.HarvestYield(yield); err != nil {
		return nil, err
	}

	var amended *Harvest
	var applied ledger.Result
	err := ledger.RunInTx(ctx, s.db, s.cfg.LockTimeout, s.cfg.MaxRetries, func(tx *sql.Tx) error {
		h, err := getHarvestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		rows := ledger.NewTxRows(tx)
		applied, err = s.ledger.ApplyByCrop(ctx, rows, h.CropID, yield-h.Yield)
		if err != nil {
			return err
		}

		h.Yield = yield
		if err := updateHarvestYield(ctx, tx, h.ID, yield); err != nil {
			return err
		}
		amended = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, applied)
	s.log.Info("harvest yield amended",
		zap.String("harvest_id", id.String()),
		zap.Int("yield", yield),
		zap.String("actor", actor),
	)
	return amended, nil
}

// GetHarvest retrieves a harvest by id.
func (s *service) GetHarvest(ctx context.Context, id uuid.UUID) (*Harvest, error) {
	h, err := scanHarvest(s.db.QueryRowContext(ctx, `
		SELECT id, crop_id, farm_id, harvested_at, yield, quality_rating
		FROM harvests
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHarvest, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query harvest: %w", err)
	}
	return h, nil
}

func (s *service) refreshCache(ctx context.Context, applied ledger.Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetQuantity(ctx, applied.ItemID, applied.Quantity); err != nil {
		s.log.Warn("stock cache refresh failed",
			zap.String("item_id", applied.ItemID.String()),
			zap.Error(err),
		)
	}
}

func insertHarvest(ctx context.Context, tx *sql.Tx, h *Harvest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO harvests (id, crop_id, farm_id, harvested_at, yield, quality_rating)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, h.ID, h.CropID, h.FarmID, h.HarvestedAt, h.Yield, h.QualityRating)
	if err != nil {
		return fmt.Errorf("insert harvest: %w", err)
	}
	return nil
}

func getHarvestForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Harvest, error) {
	h, err := scanHarvest(tx.QueryRowContext(ctx, `
		SELECT id, crop_id, farm_id, harvested_at, yield, quality_rating
		FROM harvests
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHarvest, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query harvest: %w", err)
	}
	return h, nil
}

func updateHarvestYield(ctx context.Context, tx *sql.Tx, id uuid.UUID, yield int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE harvests SET yield = $2 WHERE id = $1
	`, id, yield)
	if err != nil {
		return fmt.Errorf("update harvest: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanHarvest(row rowScanner) (*Harvest, error) {
	var h Harvest
	if err := row.Scan(&h.ID, &h.CropID, &h.FarmID, &h.HarvestedAt, &h.Yield, &h.QualityRating); err != nil {
		return nil, err
	}
	return &h, nil
}
