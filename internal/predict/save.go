package predict

import (
	"context"
	"fmt"

	"github.com/withObsrvr/obsrvr-tile-predictor/internal/raster"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/storage"
	"github.com/withObsrvr/obsrvr-tile-predictor/internal/tables"
)

// PositiveThreshold is the cleaned value from which a pixel counts as
// positive.
const PositiveThreshold = 125

// SaveResult describes a written prediction.
type SaveResult struct {
	Written  bool
	Key      string
	URI      string
	Checksum string
	Size     int
}

// SavePrediction writes mask as a GeoTIFF under key. Nothing is written
// when no pixel reaches PositiveThreshold.
func SavePrediction(ctx context.Context, store storage.Store, key string, mask *raster.Mask, crs string, gt *raster.GeoTransform) (SaveResult, error) {
	if gt.Degenerate() {
		return SaveResult{}, fmt.Errorf("%w: %+v", ErrDegenerateTransform, gt)
	}
	if mask.CountAtLeast(PositiveThreshold) == 0 {
		return SaveResult{Key: key}, nil
	}

	data, err := raster.EncodeGeoTIFF(mask, crs, gt)
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode prediction: %w", err)
	}
	if err := store.Write(ctx, key, data); err != nil {
		return SaveResult{}, fmt.Errorf("write prediction: %w", err)
	}

	return SaveResult{
		Written:  true,
		Key:      key,
		URI:      store.URI(key),
		Checksum: tables.Checksum(data),
		Size:     len(data),
	}, nil
}
