package market

import (
	"fmt"

	"kerdos/domain/blob"
	"kerdos/domain/eventq"
	"kerdos/domain/slab"
)

const (
	// BootNodes and BootEvents are formatted at creation; the rest arrives
	// through Grow or on demand during placement.
	BootNodes  = 64
	BootEvents = 128

	// growNodes is how many slots an on-demand book extension adds.
	growNodes = 64

	BpsDenominator = 10_000

	DefaultCollateralAsset = "native"
)

// Params are fixed at market creation.
type Params struct {
	BaseAsset          string `yaml:"base_asset" json:"base_asset"`
	QuoteAsset         string `yaml:"quote_asset" json:"quote_asset"`
	CollateralAsset    string `yaml:"collateral_asset" json:"collateral_asset"`
	BidsCapacity       uint32 `yaml:"bids_capacity" json:"bids_capacity"`
	AsksCapacity       uint32 `yaml:"asks_capacity" json:"asks_capacity"`
	EventQueueCapacity uint32 `yaml:"event_queue_capacity" json:"event_queue_capacity"`
	TickSize           uint64 `yaml:"tick_size" json:"tick_size"`
	MinBaseQty         uint64 `yaml:"min_base_qty" json:"min_base_qty"`
	FeesBps            uint16 `yaml:"fees_bps" json:"fees_bps"`
}

const (
	maxBookSlots  = (1<<32 - 1 - slab.HeaderLen) / slab.NodeLen
	maxEventSlots = (1<<32 - 1) / eventq.EventLen
)

func (p Params) Validate() error {
	switch {
	case p.BaseAsset == "" || p.QuoteAsset == "":
		return fmt.Errorf("%w: base and quote assets are required", ErrInvalidParams)
	case p.BaseAsset == p.QuoteAsset:
		return fmt.Errorf("%w: base and quote must differ", ErrInvalidParams)
	case p.BidsCapacity == 0 || p.AsksCapacity == 0 || p.EventQueueCapacity == 0:
		return fmt.Errorf("%w: capacities must be positive", ErrInvalidParams)
	case p.BidsCapacity > maxBookSlots || p.AsksCapacity > maxBookSlots:
		return fmt.Errorf("%w: book capacity above %d", ErrInvalidParams, maxBookSlots)
	case p.EventQueueCapacity > maxEventSlots:
		return fmt.Errorf("%w: event queue capacity above %d", ErrInvalidParams, maxEventSlots)
	case p.TickSize == 0:
		return fmt.Errorf("%w: tick size must be positive", ErrInvalidParams)
	case p.MinBaseQty == 0:
		return fmt.Errorf("%w: min base qty must be positive", ErrInvalidParams)
	case p.FeesBps > BpsDenominator:
		return fmt.Errorf("%w: fees_bps %d above %d", ErrInvalidParams, p.FeesBps, BpsDenominator)
	}
	return nil
}

func (p Params) withDefaults() Params {
	if p.CollateralAsset == "" {
		p.CollateralAsset = DefaultCollateralAsset
	}
	return p
}

// Ceiling is the hard payload limit of the given region.
func (p Params) Ceiling(k blob.Kind) uint32 {
	switch k {
	case blob.KindBids:
		return slab.RegionLen(p.BidsCapacity)
	case blob.KindAsks:
		return slab.RegionLen(p.AsksCapacity)
	default:
		return p.EventQueueCapacity * eventq.EventLen
	}
}

// MaxSlots is the target node capacity of a book region.
func (p Params) MaxSlots(k blob.Kind) uint32 {
	if k == blob.KindBids {
		return p.BidsCapacity
	}
	return p.AsksCapacity
}

// Named presets; assets still have to be filled in.
var profiles = map[string]Params{
	"lite": {BidsCapacity: 1024, AsksCapacity: 1024, EventQueueCapacity: 512, TickSize: 10_000, MinBaseQty: 100, FeesBps: 10},
	"std":  {BidsCapacity: 4096, AsksCapacity: 4096, EventQueueCapacity: 2048, TickSize: 1_000, MinBaseQty: 50, FeesBps: 10},
	"deep": {BidsCapacity: 8192, AsksCapacity: 8192, EventQueueCapacity: 4096, TickSize: 100, MinBaseQty: 10, FeesBps: 8},
}

func Profile(name string) (Params, bool) {
	p, ok := profiles[name]
	return p, ok
}
