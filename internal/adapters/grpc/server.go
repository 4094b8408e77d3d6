package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/application"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "viralforge.affiliate.v1.AffiliateLedgerInternalService"

// LedgerService is the slice of the application the internal RPCs need.
type LedgerService interface {
	BalancesFor(ctx context.Context, affiliateID string) (application.BalanceView, error)
	ResolveCheckoutReferral(ctx context.Context, visitorToken string, now time.Time) (application.CheckoutReferral, error)
	RunMaturationSweep(ctx context.Context) (application.SweepResult, error)
}

// ReadinessCheck backs the health service; nil means always serving.
type ReadinessCheck func(ctx context.Context) error

type AffiliateInternalServer struct {
	grpc_health_v1.UnimplementedHealthServer
	service LedgerService
	ready   ReadinessCheck
}

func NewAffiliateInternalServer(service LedgerService, ready ReadinessCheck) *AffiliateInternalServer {
	return &AffiliateInternalServer{service: service, ready: ready}
}

type ledgerInternalServer interface {
	GetBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResolveReferral(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunMaturationSweep(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// The request and response messages are structpb.Struct values, so the
// descriptor is declared here instead of generated.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ledgerInternalServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalances", Handler: unaryStruct("GetBalances", ledgerInternalServer.GetBalances)},
		{MethodName: "ResolveReferral", Handler: unaryStruct("ResolveReferral", ledgerInternalServer.ResolveReferral)},
		{MethodName: "RunMaturationSweep", Handler: runMaturationSweepHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "affiliate/v1/ledger_internal.proto",
}

func unaryStruct(method string, call func(ledgerInternalServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ledgerInternalServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ledgerInternalServer), ctx, req.(*structpb.Struct))
		})
	}
}

func runMaturationSweepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ledgerInternalServer).RunMaturationSweep(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RunMaturationSweep"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ledgerInternalServer).RunMaturationSweep(ctx, req.(*emptypb.Empty))
	})
}

func Register(server grpc.ServiceRegistrar, svc *AffiliateInternalServer) {
	grpc_health_v1.RegisterHealthServer(server, svc)
	server.RegisterService(&serviceDesc, svc)
}

func (s *AffiliateInternalServer) Check(ctx context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	return &grpc_health_v1.HealthCheckResponse{Status: s.servingStatus(ctx)}, nil
}

func (s *AffiliateInternalServer) Watch(_ *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: s.servingStatus(stream.Context())})
}

func (s *AffiliateInternalServer) servingStatus(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if s.ready != nil && s.ready(ctx) != nil {
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_SERVING
}

func (s *AffiliateInternalServer) GetBalances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	view, err := s.service.BalancesFor(ctx, stringField(req, "affiliate_id"))
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"affiliate_id":      view.AffiliateID,
		"currency":          view.Currency,
		"total_earnings":    view.TotalEarnings.StringFixed(2),
		"pending_balance":   view.PendingBalance.StringFixed(2),
		"reserved_balance":  view.ReservedBalance.StringFixed(2),
		"withdrawn_balance": view.WithdrawnBalance.StringFixed(2),
		"available_balance": view.AvailableBalance.StringFixed(2),
		"open_debt_flags":   view.OpenDebtFlags,
	})
}

func (s *AffiliateInternalServer) ResolveReferral(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out, err := s.service.ResolveCheckoutReferral(ctx, stringField(req, "visitor_token"), time.Time{})
	if err != nil {
		return nil, toStatus(err)
	}
	fields := map[string]any{
		"visitor_token": out.VisitorToken,
		"attributed":    out.Attributed,
	}
	if out.Attributed {
		fields["referral_code"] = out.ReferralCode
		fields["affiliate_id"] = out.AffiliateID
		fields["tier"] = out.Tier
	}
	if out.ExpiresAt != nil {
		fields["expires_at"] = out.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return structpb.NewStruct(fields)
}

func (s *AffiliateInternalServer) RunMaturationSweep(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	res, err := s.service.RunMaturationSweep(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"scanned":   res.Scanned,
		"confirmed": res.Confirmed,
		"failed":    res.Failed,
	})
}

func stringField(req *structpb.Struct, key string) string {
	if req == nil {
		return ""
	}
	if v, ok := req.GetFields()[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrInvariantViolation):
		return status.Error(codes.DataLoss, "ledger invariant violation")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
