package grpcserver

import (
	"kerdos/domain/eventq"
	"kerdos/domain/market"
	"kerdos/domain/types"
)

// Owner ids travel as 64-char hex strings.

type Empty struct{}

type CreateMarketRequest struct {
	Name      string        `json:"name"`
	Authority types.OwnerID `json:"authority"`
	Profile   string        `json:"profile,omitempty"`
	Params    market.Params `json:"params"`
}

type MarketReply struct {
	Market market.Market `json:"market"`
}

type ListMarketsReply struct {
	Markets []market.Market `json:"markets"`
}

type PlaceOrderRequest struct {
	Market           string        `json:"market"`
	Owner            types.OwnerID `json:"owner"`
	Side             string        `json:"side"`
	PriceTicks       uint64        `json:"price_ticks"`
	BaseQty          uint64        `json:"base_qty"`
	MaxSlippageTicks uint64        `json:"max_slippage_ticks"`
	Collateral       uint64        `json:"collateral"`
}

type PlaceOrderReply struct {
	Result *market.PlaceResult `json:"result"`
}

type OwnerRequest struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Owner  types.OwnerID `json:"owner"`
}

type CancelOrderReply struct {
	Refund uint64 `json:"refund"`
}

type SettleEventsRequest struct {
	Market    string          `json:"market"`
	Caller    types.OwnerID   `json:"caller"`
	MaxEvents int             `json:"max_events"`
	Accounts  []types.OwnerID `json:"accounts"`
}

type SettleEventsReply struct {
	Result *market.SettleResult `json:"result"`
}

type TransferRequest struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Owner  types.OwnerID `json:"owner"`
	Leg    string        `json:"leg"`
	Amount uint64        `json:"amount"`
}

type BalanceReply struct {
	Balance market.UserBalance `json:"balance"`
}

type GrowRequest struct {
	Market string `json:"market"`
	Region string `json:"region"`
	Step   uint32 `json:"step"`
}

type RegionReply struct {
	Region market.RegionInfo `json:"region"`
}

type AuthorityRequest struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Paused bool          `json:"paused,omitempty"`
}

type ClearEventQueueReply struct {
	Cleared int `json:"cleared"`
}

type MarketRequest struct {
	Market string `json:"market"`
	Side   string `json:"side,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type DepthReply struct {
	Levels []market.Level `json:"levels"`
}

type OpenOrdersReply struct {
	OpenOrders market.OpenOrders `json:"open_orders"`
}

type EventsReply struct {
	Events []eventq.Event `json:"events"`
}

type RegionsReply struct {
	Regions []market.RegionInfo `json:"regions"`
}
