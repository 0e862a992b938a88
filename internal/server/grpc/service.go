package grpcserver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/and161185/clinic-credit/internal/api"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clinicredit.v1.Redemption"

// RedemptionServer is the server API of the Redemption service.
type RedemptionServer interface {
	GenerateToken(context.Context, *api.GenerateTokenRequest) (*api.GenerateTokenResponse, error)
	RedeemToken(context.Context, *api.RedeemTokenRequest) (*api.RedeemTokenResponse, error)
	CancelTransaction(context.Context, *api.CancelTransactionRequest) (*api.CancelTransactionResponse, error)
	GetAccount(context.Context, *api.GetAccountRequest) (*api.AccountSnapshot, error)
	GetTransaction(context.Context, *api.GetTransactionRequest) (*api.Transaction, error)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

func unary[Req, Resp any](name string, call func(RedemptionServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(RedemptionServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RedemptionServer), ctx, req.(*Req))
			}
			return ic(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Redemption service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RedemptionServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GenerateToken", RedemptionServer.GenerateToken),
		unary("RedeemToken", RedemptionServer.RedeemToken),
		unary("CancelTransaction", RedemptionServer.CancelTransaction),
		unary("GetAccount", RedemptionServer.GetAccount),
		unary("GetTransaction", RedemptionServer.GetTransaction),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "clinicredit/v1/redemption",
}

// Register attaches srv to gs.
func Register(gs grpc.ServiceRegistrar, srv RedemptionServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

// Client is the client API of the Redemption service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection. Calls are sent with the JSON content-subtype.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GenerateToken(ctx context.Context, in *api.GenerateTokenRequest, opts ...grpc.CallOption) (*api.GenerateTokenResponse, error) {
	return invoke[api.GenerateTokenResponse](ctx, c.cc, "GenerateToken", in, opts)
}

func (c *Client) RedeemToken(ctx context.Context, in *api.RedeemTokenRequest, opts ...grpc.CallOption) (*api.RedeemTokenResponse, error) {
	return invoke[api.RedeemTokenResponse](ctx, c.cc, "RedeemToken", in, opts)
}

func (c *Client) CancelTransaction(ctx context.Context, in *api.CancelTransactionRequest, opts ...grpc.CallOption) (*api.CancelTransactionResponse, error) {
	return invoke[api.CancelTransactionResponse](ctx, c.cc, "CancelTransaction", in, opts)
}

func (c *Client) GetAccount(ctx context.Context, in *api.GetAccountRequest, opts ...grpc.CallOption) (*api.AccountSnapshot, error) {
	return invoke[api.AccountSnapshot](ctx, c.cc, "GetAccount", in, opts)
}

func (c *Client) GetTransaction(ctx context.Context, in *api.GetTransactionRequest, opts ...grpc.CallOption) (*api.Transaction, error) {
	return invoke[api.Transaction](ctx, c.cc, "GetTransaction", in, opts)
}
