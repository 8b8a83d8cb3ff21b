package driver

import (
	"fmt"
	"path/filepath"

	"github.com/otama-go/otama/pkg/feature"
	"github.com/otama-go/otama/pkg/store/inverted"
)

// familySpec describes one entry of spec §4.9's family table: how many
// bits/dims its records carry and which color sidecar (if any) rides
// along. Grounded on otama_config.c's family-name-to-driver-table
// dispatch (feature_name string switch).
type familySpec struct {
	kind  string // "bit", "dense", "inverted"
	bits  int    // bit-vector width, "bit" kind only
	dims  int    // float dimensionality, "dense" kind only
	color ColorKind
}

// families enumerates every name spec §4.9 lists. Bit widths/dims
// follow the GLOSSARY's bovw{2k,8k,512k} vocabulary sizes and the
// original's NV_VLAD_DIM / NV_LMCA_*_DIM constants.
var families = map[string]familySpec{
	"bovw2k":              {kind: "bit", bits: 2048, color: ColorNone},
	"bovw2k_boc":          {kind: "bit", bits: 2048, color: ColorBOC},
	"bovw2k_sboc":         {kind: "bit", bits: 2048, color: ColorSBOC},
	"bovw8k":              {kind: "bit", bits: 8192, color: ColorNone},
	"bovw8k_boc":          {kind: "bit", bits: 8192, color: ColorBOC},
	"bovw8k_sboc":         {kind: "bit", bits: 8192, color: ColorSBOC},
	"bovw512k":            {kind: "bit", bits: 524288, color: ColorNone},
	"bovw512k_boc":        {kind: "bit", bits: 524288, color: ColorBOC},
	"bovw512k_sboc":       {kind: "bit", bits: 524288, color: ColorSBOC},
	"bovw512k_iv":         {kind: "inverted"},
	"sboc":                {kind: "bit", bits: 0, color: ColorSBOC},
	"vlad128":             {kind: "dense", dims: 128, color: ColorNone},
	"vlad128_boc":         {kind: "dense", dims: 128, color: ColorBOC},
	"vlad512":             {kind: "dense", dims: 512, color: ColorNone},
	"vlad512_boc":         {kind: "dense", dims: 512, color: ColorBOC},
	"lmca_vlad":           {kind: "dense", dims: 128, color: ColorNone},
	"lmca_hsv":            {kind: "dense", dims: 64, color: ColorNone},
	"lmca_vladhsv":        {kind: "dense", dims: 192, color: ColorNone},
	"lmca_vlad_hsv":       {kind: "dense", dims: 192, color: ColorNone},
	"lmca_vlad_colorcode": {kind: "dense", dims: 128, color: ColorBOC},
}

// StorageKind selects the backend for the inverted family, the only
// family with a choice of backend (spec §4.4: "bucket (in-memory) or
// disk (persistent key-value)").
type StorageKind int

const (
	StorageBucket StorageKind = iota
	StorageDisk
)

// New constructs the Driver registered under name, wiring it to cfg
// (spec §4.9's "the driver registry maps a family name to a
// constructor closure over shared Config"). invertedStorage only
// matters for the bovw512k_iv family.
func New(name string, cfg Config, invertedStorage StorageKind) (Driver, error) {
	spec, ok := families[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, name)
	}

	switch spec.kind {
	case "bit":
		return NewFixedBitDriver(cfg, name, spec.bits, spec.color), nil
	case "dense":
		return NewDenseFixedDriver(cfg, name, spec.dims, spec.color), nil
	case "inverted":
		store := newIDFWeightedStore(invertedStorage, cfg)
		return NewInvertedDriver(cfg, name, store), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, name)
	}
}

// newIDFWeightedStore builds a Bucket or Disk whose ScoreFunc closes
// back over the store itself, so word weight always reflects the
// store's live Count/HashCount rather than a snapshot taken at
// construction time.
func newIDFWeightedStore(kind StorageKind, cfg Config) inverted.Store {
	threshold := cfg.hitThreshold()
	switch kind {
	case StorageDisk:
		var store *inverted.Disk
		path := filepath.Join(cfg.DataDir, cfg.Namespace+"bovw512k_iv.db")
		store = inverted.NewDisk(path, threshold, func(w uint32) float32 {
			return feature.IDF(store.Count(), store.HashCount(w))
		})
		return store
	default:
		var store *inverted.Bucket
		store = inverted.NewBucket(threshold, func(w uint32) float32 {
			return feature.IDF(store.Count(), store.HashCount(w))
		})
		return store
	}
}
