package lwm2m

import (
	"github.com/klauspost/compress/zstd"
)

// DiscoverCache holds the zstd-compressed CoRE-Link snapshot served for
// Bootstrap-Discover (§4.7: "Bootstrap-Discover (if enabled) is served on
// demand"). The snapshot changes only when the registered data-model
// shape changes (object/instance added or removed), so it is rebuilt
// lazily and cached compressed between those events rather than
// re-encoded on every Discover. Like every other core table, it is only
// ever touched from the single Step() call path (§5), so it carries no
// lock of its own.
type DiscoverCache struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder

	validFor   uint64
	compressed []byte
}

// NewDiscoverCache builds an empty cache; Snapshot must be called once a
// shape has been observed before Link can return anything.
func NewDiscoverCache() (*DiscoverCache, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &DiscoverCache{encoder: enc, decoder: dec}, nil
}

// Snapshot stores a freshly-rendered CoRE-Link payload for the given
// shape id, compressing it with zstd.
func (c *DiscoverCache) Snapshot(shapeID uint64, coreLink []byte) {
	c.compressed = c.encoder.EncodeAll(coreLink, nil)
	c.validFor = shapeID
}

// Link returns the cached CoRE-Link payload if it is still valid for
// currentShapeID, decompressing it on demand.
func (c *DiscoverCache) Link(currentShapeID uint64) ([]byte, bool) {
	if c.compressed == nil || c.validFor != currentShapeID {
		return nil, false
	}
	out, err := c.decoder.DecodeAll(c.compressed, nil)
	if err != nil {
		return nil, false
	}
	return out, true
}

// Close releases the zstd encoder/decoder's resources.
func (c *DiscoverCache) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
