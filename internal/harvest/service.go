// internal/harvest/service.go
package harvest

import (
	"context"

	"github.com/google/uuid"
)

// RecordParams carries a new harvest event.
type RecordParams struct {
	CropID        uuid.UUID
	FarmID        uuid.UUID
	Yield         int
	QualityRating int
}

// Service defines the interface for the harvest service.
type Service interface {
	// RecordHarvest stores the event and adds its yield to the crop's
	// inventory row.
	RecordHarvest(ctx context.Context, actor string, params RecordParams) (*Harvest, error)

	// RecordBatch records several harvests as one atomic unit: either every
	// yield lands in inventory or none does.
	RecordBatch(ctx context.Context, actor string, batch []RecordParams) ([]*Harvest, error)

	// AmendYield corrects a recorded yield, propagating the difference
	// (newYield - oldYield) into inventory rather than the raw new value.
	AmendYield(ctx context.Context, actor string, id uuid.UUID, yield int) (*Harvest, error)

	GetHarvest(ctx context.Context, id uuid.UUID) (*Harvest, error)
}
