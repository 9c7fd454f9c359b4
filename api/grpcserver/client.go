package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens a plaintext connection that speaks the JSON codec.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, opts...)
	return grpc.NewClient(target, opts...)
}

// Client is a typed client for MarketsServer.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Req, Resp any](ctx context.Context, c *Client, method string, in *Req) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, grpc.ForceCodec(Codec{})); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateMarket(ctx context.Context, in *CreateMarketRequest) (*MarketReply, error) {
	return invoke[CreateMarketRequest, MarketReply](ctx, c, "CreateMarket", in)
}

func (c *Client) PlaceOrder(ctx context.Context, in *PlaceOrderRequest) (*PlaceOrderReply, error) {
	return invoke[PlaceOrderRequest, PlaceOrderReply](ctx, c, "PlaceOrder", in)
}

func (c *Client) CancelOrder(ctx context.Context, in *OwnerRequest) (*CancelOrderReply, error) {
	return invoke[OwnerRequest, CancelOrderReply](ctx, c, "CancelOrder", in)
}

func (c *Client) CloseOrder(ctx context.Context, in *OwnerRequest) (*Empty, error) {
	return invoke[OwnerRequest, Empty](ctx, c, "CloseOrder", in)
}

func (c *Client) SettleEvents(ctx context.Context, in *SettleEventsRequest) (*SettleEventsReply, error) {
	return invoke[SettleEventsRequest, SettleEventsReply](ctx, c, "SettleEvents", in)
}

func (c *Client) Deposit(ctx context.Context, in *TransferRequest) (*BalanceReply, error) {
	return invoke[TransferRequest, BalanceReply](ctx, c, "Deposit", in)
}

func (c *Client) Withdraw(ctx context.Context, in *TransferRequest) (*BalanceReply, error) {
	return invoke[TransferRequest, BalanceReply](ctx, c, "Withdraw", in)
}

func (c *Client) Grow(ctx context.Context, in *GrowRequest) (*RegionReply, error) {
	return invoke[GrowRequest, RegionReply](ctx, c, "Grow", in)
}

func (c *Client) ClearEventQueue(ctx context.Context, in *AuthorityRequest) (*ClearEventQueueReply, error) {
	return invoke[AuthorityRequest, ClearEventQueueReply](ctx, c, "ClearEventQueue", in)
}

func (c *Client) SetPaused(ctx context.Context, in *AuthorityRequest) (*Empty, error) {
	return invoke[AuthorityRequest, Empty](ctx, c, "SetPaused", in)
}

func (c *Client) ListMarkets(ctx context.Context) (*ListMarketsReply, error) {
	return invoke[Empty, ListMarketsReply](ctx, c, "ListMarkets", &Empty{})
}

func (c *Client) GetDepth(ctx context.Context, in *MarketRequest) (*DepthReply, error) {
	return invoke[MarketRequest, DepthReply](ctx, c, "GetDepth", in)
}

func (c *Client) GetBalance(ctx context.Context, in *OwnerRequest) (*BalanceReply, error) {
	return invoke[OwnerRequest, BalanceReply](ctx, c, "GetBalance", in)
}

func (c *Client) GetOpenOrders(ctx context.Context, in *OwnerRequest) (*OpenOrdersReply, error) {
	return invoke[OwnerRequest, OpenOrdersReply](ctx, c, "GetOpenOrders", in)
}

func (c *Client) PendingEvents(ctx context.Context, in *MarketRequest) (*EventsReply, error) {
	return invoke[MarketRequest, EventsReply](ctx, c, "PendingEvents", in)
}

func (c *Client) GetRegions(ctx context.Context, in *MarketRequest) (*RegionsReply, error) {
	return invoke[MarketRequest, RegionsReply](ctx, c, "GetRegions", in)
}
