package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "kerdos.v1.Markets"

// MarketsServer is the RPC surface registered under ServiceName.
type MarketsServer interface {
	CreateMarket(context.Context, *CreateMarketRequest) (*MarketReply, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderReply, error)
	CancelOrder(context.Context, *OwnerRequest) (*CancelOrderReply, error)
	CloseOrder(context.Context, *OwnerRequest) (*Empty, error)
	SettleEvents(context.Context, *SettleEventsRequest) (*SettleEventsReply, error)
	Deposit(context.Context, *TransferRequest) (*BalanceReply, error)
	Withdraw(context.Context, *TransferRequest) (*BalanceReply, error)
	Grow(context.Context, *GrowRequest) (*RegionReply, error)
	ClearEventQueue(context.Context, *AuthorityRequest) (*ClearEventQueueReply, error)
	SetPaused(context.Context, *AuthorityRequest) (*Empty, error)

	ListMarkets(context.Context, *Empty) (*ListMarketsReply, error)
	GetDepth(context.Context, *MarketRequest) (*DepthReply, error)
	GetBalance(context.Context, *OwnerRequest) (*BalanceReply, error)
	GetOpenOrders(context.Context, *OwnerRequest) (*OpenOrdersReply, error)
	PendingEvents(context.Context, *MarketRequest) (*EventsReply, error)
	GetRegions(context.Context, *MarketRequest) (*RegionsReply, error)
}

var _ MarketsServer = (*Server)(nil)

func unary[Req, Resp any](name string, call func(MarketsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MarketsServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MarketsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateMarket", MarketsServer.CreateMarket),
		unary("PlaceOrder", MarketsServer.PlaceOrder),
		unary("CancelOrder", MarketsServer.CancelOrder),
		unary("CloseOrder", MarketsServer.CloseOrder),
		unary("SettleEvents", MarketsServer.SettleEvents),
		unary("Deposit", MarketsServer.Deposit),
		unary("Withdraw", MarketsServer.Withdraw),
		unary("Grow", MarketsServer.Grow),
		unary("ClearEventQueue", MarketsServer.ClearEventQueue),
		unary("SetPaused", MarketsServer.SetPaused),
		unary("ListMarkets", MarketsServer.ListMarkets),
		unary("GetDepth", MarketsServer.GetDepth),
		unary("GetBalance", MarketsServer.GetBalance),
		unary("GetOpenOrders", MarketsServer.GetOpenOrders),
		unary("PendingEvents", MarketsServer.PendingEvents),
		unary("GetRegions", MarketsServer.GetRegions),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kerdos/v1/markets",
}
