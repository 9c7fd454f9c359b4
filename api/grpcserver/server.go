// Package grpcserver exposes the market service over gRPC.
package grpcserver

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"kerdos/domain/blob"
	"kerdos/domain/market"
	"kerdos/domain/types"
	"kerdos/service"
)

// Server adapts MarketService to gRPC.
type Server struct {
	svc *service.MarketService
}

func NewServer(svc *service.MarketService) *Server {
	return &Server{svc: svc}
}

// -------------------- Commands --------------------

func (s *Server) CreateMarket(ctx context.Context, req *CreateMarketRequest) (*MarketReply, error) {
	p := req.Params
	if req.Profile != "" {
		prof, ok := market.Profile(req.Profile)
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "unknown profile %q", req.Profile)
		}
		prof.BaseAsset, prof.QuoteAsset, prof.CollateralAsset = p.BaseAsset, p.QuoteAsset, p.CollateralAsset
		p = prof
	}
	m, err := s.svc.CreateMarket(ctx, req.Name, req.Authority, p)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MarketReply{Market: m}, nil
}

func (s *Server) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderReply, error) {
	side, err := types.ParseSide(req.Side)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.svc.PlaceOrder(ctx, req.Market, market.PlaceOrder{
		Owner:            req.Owner,
		Side:             side,
		PriceTicks:       req.PriceTicks,
		BaseQty:          req.BaseQty,
		MaxSlippageTicks: req.MaxSlippageTicks,
		Collateral:       req.Collateral,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &PlaceOrderReply{Result: res}, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *OwnerRequest) (*CancelOrderReply, error) {
	refund, err := s.svc.CancelOrder(ctx, req.Market, req.Caller, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CancelOrderReply{Refund: refund}, nil
}

func (s *Server) CloseOrder(ctx context.Context, req *OwnerRequest) (*Empty, error) {
	if err := s.svc.CloseOrder(ctx, req.Market, req.Caller, req.Owner); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *Server) SettleEvents(ctx context.Context, req *SettleEventsRequest) (*SettleEventsReply, error) {
	res, err := s.svc.SettleEvents(ctx, req.Market, req.Caller, req.MaxEvents, req.Accounts)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SettleEventsReply{Result: res}, nil
}

func (s *Server) Deposit(ctx context.Context, req *TransferRequest) (*BalanceReply, error) {
	leg, err := market.ParseLeg(req.Leg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	bal, err := s.svc.Deposit(ctx, req.Market, req.Caller, req.Owner, leg, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceReply{Balance: bal}, nil
}

func (s *Server) Withdraw(ctx context.Context, req *TransferRequest) (*BalanceReply, error) {
	leg, err := market.ParseLeg(req.Leg)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	bal, err := s.svc.Withdraw(ctx, req.Market, req.Caller, req.Owner, leg, req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceReply{Balance: bal}, nil
}

func (s *Server) Grow(ctx context.Context, req *GrowRequest) (*RegionReply, error) {
	kind, err := blob.ParseKind(req.Region)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	info, err := s.svc.Grow(ctx, req.Market, kind, req.Step)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegionReply{Region: info}, nil
}

func (s *Server) ClearEventQueue(ctx context.Context, req *AuthorityRequest) (*ClearEventQueueReply, error) {
	n, err := s.svc.ClearEventQueue(ctx, req.Market, req.Caller)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ClearEventQueueReply{Cleared: n}, nil
}

func (s *Server) SetPaused(ctx context.Context, req *AuthorityRequest) (*Empty, error) {
	if err := s.svc.SetPaused(ctx, req.Market, req.Caller, req.Paused); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

// -------------------- Queries --------------------

func (s *Server) ListMarkets(context.Context, *Empty) (*ListMarketsReply, error) {
	return &ListMarketsReply{Markets: s.svc.Markets()}, nil
}

func (s *Server) GetDepth(_ context.Context, req *MarketRequest) (*DepthReply, error) {
	side, err := types.ParseSide(req.Side)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	levels, err := s.svc.Depth(req.Market, side, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DepthReply{Levels: levels}, nil
}

func (s *Server) GetBalance(_ context.Context, req *OwnerRequest) (*BalanceReply, error) {
	bal, err := s.svc.Balance(req.Market, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceReply{Balance: bal}, nil
}

func (s *Server) GetOpenOrders(_ context.Context, req *OwnerRequest) (*OpenOrdersReply, error) {
	oo, err := s.svc.OpenOrders(req.Market, req.Owner)
	if err != nil {
		return nil, toStatus(err)
	}
	return &OpenOrdersReply{OpenOrders: oo}, nil
}

func (s *Server) PendingEvents(_ context.Context, req *MarketRequest) (*EventsReply, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	evs, err := s.svc.PendingEvents(req.Market, limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &EventsReply{Events: evs}, nil
}

func (s *Server) GetRegions(_ context.Context, req *MarketRequest) (*RegionsReply, error) {
	regions, err := s.svc.Regions(req.Market)
	if err != nil {
		return nil, toStatus(err)
	}
	return &RegionsReply{Regions: regions}, nil
}

// -------------------- Errors --------------------

var codeByReason = map[string]codes.Code{
	"market_not_found":     codes.NotFound,
	"order_not_active":     codes.NotFound,
	"market_exists":        codes.AlreadyExists,
	"order_already_active": codes.AlreadyExists,
	"unauthorized":         codes.PermissionDenied,
	"queue_full":           codes.ResourceExhausted,
	"invalid_capacity":     codes.ResourceExhausted,
	"insufficient_balance": codes.FailedPrecondition,
	"market_paused":        codes.FailedPrecondition,
	"unsettled_events":     codes.FailedPrecondition,
	"ledger":               codes.FailedPrecondition,
	"account_mismatch":     codes.InvalidArgument,
	"invalid_tick":         codes.InvalidArgument,
	"qty_too_small":        codes.InvalidArgument,
	"invalid_qty_step":     codes.InvalidArgument,
	"invalid_amount":       codes.InvalidArgument,
	"invalid_side":         codes.InvalidArgument,
	"invalid_params":       codes.InvalidArgument,
	"overflow":             codes.InvalidArgument,
	"journal":              codes.Unavailable,
	"corrupt":              codes.DataLoss,
}

// toStatus maps a service error to a status whose message starts with the
// stable reason label, e.g. "queue_full: event queue full".
func toStatus(err error) error {
	reason := service.Reason(err)
	code, ok := codeByReason[reason]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, fmt.Sprintf("%s: %v", reason, err))
}

// ReasonOf extracts the reason label from an error returned by a Client.
// It is empty for errors that did not come from the service.
func ReasonOf(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	reason, _, found := strings.Cut(st.Message(), ": ")
	if !found {
		return ""
	}
	if _, known := codeByReason[reason]; known || reason == "internal" {
		return reason
	}
	return ""
}
