package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"bootmedia/pkg/bus"
	"bootmedia/services/catalog/ingest"
)

const mirrorConsumerDurable = "catalog-mirror"

// StartMirrorConsumer subscribes to completed-ingest events and mirrors each
// finished artifact to object storage, so operators get an off-host copy
// without calling the mirror endpoint per asset. Returns a nil closer when
// the bus or the mirror is not configured.
func (a *API) StartMirrorConsumer(ctx context.Context) (io.Closer, error) {
	if a.store.Bus == nil || a.store.Mirror == nil || a.config.MirrorBucket == "" {
		return nil, nil
	}
	return a.store.Bus.Subscribe(ctx, bus.SubjectAssetCompleted, mirrorConsumerDurable, a.onAssetCompleted)
}

// onAssetCompleted mirrors the asset named by one completed event. A nil
// return acks the message; only transient catalog-read failures are left for
// redelivery.
func (a *API) onAssetCompleted(ctx context.Context, data []byte) error {
	var ev bus.AssetEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		a.log.Warn().Err(err).Msg("discarding malformed asset event")
		return nil
	}

	asset, err := a.store.GetAsset(ctx, ev.AssetID)
	if errors.Is(err, ingest.ErrNotFound) {
		// Deleted between completion and delivery; nothing to mirror.
		return nil
	}
	if err != nil {
		return err
	}

	if !asset.Available || ingest.IsSentinel(asset.Checksum) {
		return nil
	}
	if _, mirrored := asset.Meta["s3_key"]; mirrored {
		return nil
	}

	a.mirror(asset, mirrorKey(asset))
	return nil
}
