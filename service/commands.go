package service

import (
	"context"

	"kerdos/domain/blob"
	"kerdos/domain/market"
	"kerdos/domain/types"
	"kerdos/infra/ledger"
	entrywal "kerdos/infra/wal/entry"
)

// The structs below are the journal payloads. Field names are part of the
// on-disk format.

// abortCmd voids record Seq of Market. Replay skips both records.
type abortCmd struct {
	Market string `json:"market"`
	Seq    uint64 `json:"seq"`
	Reason string `json:"reason"`
}

type createCmd struct {
	Name      string        `json:"name"`
	Authority types.OwnerID `json:"authority"`
	Params    market.Params `json:"params"`
}

func (c createCmd) build() (*market.State, error) {
	return market.New(c.Name, c.Authority, c.Params)
}

type placeCmd struct {
	Market string            `json:"market"`
	Order  market.PlaceOrder `json:"order"`
}

func (c placeCmd) target() string            { return c.Market }
func (c placeCmd) kind() entrywal.RecordType { return entrywal.RecordPlace }

func (c placeCmd) apply(st *market.State) (*market.PlaceResult, change, error) {
	res, err := st.PlaceOrder(c.Order)
	if err != nil {
		return nil, change{}, err
	}
	asset := st.Market.Params.CollateralAsset
	escrow := ledger.EscrowOf(c.Market)
	var ch change
	if res.Locked > 0 {
		ch.transfers = append(ch.transfers, ledger.Transfer{
			From: ledger.WalletOf(c.Order.Owner), To: escrow, Asset: asset, Amount: res.Locked,
		})
	}
	for _, r := range res.Refunds {
		if r.Amount == 0 {
			continue
		}
		ch.transfers = append(ch.transfers, ledger.Transfer{
			From: escrow, To: ledger.WalletOf(r.Owner), Asset: asset, Amount: r.Amount,
		})
	}
	ch.fills = res.Fills
	return res, ch, nil
}

type cancelCmd struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Owner  types.OwnerID `json:"owner"`
}

func (c cancelCmd) target() string            { return c.Market }
func (c cancelCmd) kind() entrywal.RecordType { return entrywal.RecordCancel }

func (c cancelCmd) apply(st *market.State) (uint64, change, error) {
	refund, err := st.CancelOrder(c.Caller, c.Owner)
	if err != nil {
		return 0, change{}, err
	}
	var ch change
	if refund > 0 {
		ch.transfers = []ledger.Transfer{{
			From:   ledger.EscrowOf(c.Market),
			To:     ledger.WalletOf(c.Owner),
			Asset:  st.Market.Params.CollateralAsset,
			Amount: refund,
		}}
	}
	return refund, ch, nil
}

type closeCmd struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Owner  types.OwnerID `json:"owner"`
}

func (c closeCmd) target() string            { return c.Market }
func (c closeCmd) kind() entrywal.RecordType { return entrywal.RecordClose }

func (c closeCmd) apply(st *market.State) (struct{}, change, error) {
	return struct{}{}, change{}, st.CloseOrder(c.Caller, c.Owner)
}

type settleCmd struct {
	Market    string          `json:"market"`
	Caller    types.OwnerID   `json:"caller"`
	MaxEvents int             `json:"max_events"`
	Accounts  []types.OwnerID `json:"accounts"`
}

func (c settleCmd) target() string            { return c.Market }
func (c settleCmd) kind() entrywal.RecordType { return entrywal.RecordSettle }

func (c settleCmd) apply(st *market.State) (*market.SettleResult, change, error) {
	res, err := st.SettleEvents(c.Caller, c.MaxEvents, c.Accounts)
	return res, change{}, err
}

type depositCmd struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Owner  types.OwnerID `json:"owner"`
	Leg    market.Leg    `json:"leg"`
	Amount uint64        `json:"amount"`
}

func (c depositCmd) target() string            { return c.Market }
func (c depositCmd) kind() entrywal.RecordType { return entrywal.RecordDeposit }

func (c depositCmd) apply(st *market.State) (market.UserBalance, change, error) {
	bal, err := st.Deposit(c.Caller, c.Owner, c.Leg, c.Amount)
	if err != nil {
		return bal, change{}, err
	}
	return bal, change{transfers: []ledger.Transfer{{
		From:   ledger.WalletOf(c.Owner),
		To:     ledger.VaultOf(c.Market),
		Asset:  legAsset(st, c.Leg),
		Amount: c.Amount,
	}}}, nil
}

type withdrawCmd struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Owner  types.OwnerID `json:"owner"`
	Leg    market.Leg    `json:"leg"`
	Amount uint64        `json:"amount"`
}

func (c withdrawCmd) target() string            { return c.Market }
func (c withdrawCmd) kind() entrywal.RecordType { return entrywal.RecordWithdraw }

func (c withdrawCmd) apply(st *market.State) (market.UserBalance, change, error) {
	bal, err := st.Withdraw(c.Caller, c.Owner, c.Leg, c.Amount)
	if err != nil {
		return bal, change{}, err
	}
	return bal, change{transfers: []ledger.Transfer{{
		From:   ledger.VaultOf(c.Market),
		To:     ledger.WalletOf(c.Owner),
		Asset:  legAsset(st, c.Leg),
		Amount: c.Amount,
	}}}, nil
}

func legAsset(st *market.State, leg market.Leg) string {
	if leg == market.LegBase {
		return st.Market.Params.BaseAsset
	}
	return st.Market.Params.QuoteAsset
}

type growCmd struct {
	Market string    `json:"market"`
	Kind   blob.Kind `json:"kind"`
	Step   uint32    `json:"step"`
}

func (c growCmd) target() string            { return c.Market }
func (c growCmd) kind() entrywal.RecordType { return entrywal.RecordGrow }

func (c growCmd) apply(st *market.State) (market.RegionInfo, change, error) {
	info, err := st.Grow(c.Kind, c.Step)
	return info, change{}, err
}

type clearCmd struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
}

func (c clearCmd) target() string            { return c.Market }
func (c clearCmd) kind() entrywal.RecordType { return entrywal.RecordClearQueue }

func (c clearCmd) apply(st *market.State) (int, change, error) {
	n, err := st.ClearEventQueue(c.Caller)
	return n, change{}, err
}

type pauseCmd struct {
	Market string        `json:"market"`
	Caller types.OwnerID `json:"caller"`
	Paused bool          `json:"paused"`
}

func (c pauseCmd) target() string            { return c.Market }
func (c pauseCmd) kind() entrywal.RecordType { return entrywal.RecordPause }

func (c pauseCmd) apply(st *market.State) (struct{}, change, error) {
	return struct{}{}, change{}, st.SetPaused(c.Caller, c.Paused)
}

// PlaceOrder matches req against the opposite book and rests what is left.
// Collateral is moved to the market escrow only when the order rests.
func (s *MarketService) PlaceOrder(ctx context.Context, name string, req market.PlaceOrder) (*market.PlaceResult, error) {
	res, err := execute[*market.PlaceResult](ctx, s, placeCmd{Market: name, Order: req})
	if err == nil {
		s.metrics.OrderPlaced(name, req.Side.String())
	}
	return res, err
}

// CancelOrder returns the refunded collateral.
func (s *MarketService) CancelOrder(ctx context.Context, name string, caller, owner types.OwnerID) (uint64, error) {
	return execute[uint64](ctx, s, cancelCmd{Market: name, Caller: caller, Owner: owner})
}

func (s *MarketService) CloseOrder(ctx context.Context, name string, caller, owner types.OwnerID) error {
	_, err := execute[struct{}](ctx, s, closeCmd{Market: name, Caller: caller, Owner: owner})
	return err
}

func (s *MarketService) SettleEvents(ctx context.Context, name string, caller types.OwnerID, maxEvents int, accounts []types.OwnerID) (*market.SettleResult, error) {
	res, err := execute[*market.SettleResult](ctx, s, settleCmd{Market: name, Caller: caller, MaxEvents: maxEvents, Accounts: accounts})
	if err == nil {
		s.metrics.Settled(name, len(res.Settled))
	}
	return res, err
}

func (s *MarketService) Deposit(ctx context.Context, name string, caller, owner types.OwnerID, leg market.Leg, amount uint64) (market.UserBalance, error) {
	return execute[market.UserBalance](ctx, s, depositCmd{Market: name, Caller: caller, Owner: owner, Leg: leg, Amount: amount})
}

func (s *MarketService) Withdraw(ctx context.Context, name string, caller, owner types.OwnerID, leg market.Leg, amount uint64) (market.UserBalance, error) {
	return execute[market.UserBalance](ctx, s, withdrawCmd{Market: name, Caller: caller, Owner: owner, Leg: leg, Amount: amount})
}

func (s *MarketService) Grow(ctx context.Context, name string, kind blob.Kind, step uint32) (market.RegionInfo, error) {
	return execute[market.RegionInfo](ctx, s, growCmd{Market: name, Kind: kind, Step: step})
}

func (s *MarketService) ClearEventQueue(ctx context.Context, name string, caller types.OwnerID) (int, error) {
	return execute[int](ctx, s, clearCmd{Market: name, Caller: caller})
}

func (s *MarketService) SetPaused(ctx context.Context, name string, caller types.OwnerID, paused bool) error {
	_, err := execute[struct{}](ctx, s, pauseCmd{Market: name, Caller: caller, Paused: paused})
	return err
}
