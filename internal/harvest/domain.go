// internal/harvest/domain.go
package harvest

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownHarvest is returned when no harvest matches the given id.
var ErrUnknownHarvest = errors.New("unknown harvest")

// Harvest is one recorded picking of a crop on a farm. It is immutable once
// recorded except for yield correction, which propagates only the difference
// between the corrected and the original yield into inventory.
type Harvest struct {
	ID            uuid.UUID `json:"id"`
	CropID        uuid.UUID `json:"crop_id"`
	FarmID        uuid.UUID `json:"farm_id"`
	HarvestedAt   time.Time `json:"harvested_at"`
	Yield         int       `json:"yield"`
	QualityRating int       `json:"quality_rating"`
}
