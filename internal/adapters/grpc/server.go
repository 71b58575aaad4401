package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/google/uuid"

	"github.com/l0kol/IPledge/internal/application"
	"github.com/l0kol/IPledge/internal/domain"
)

const serviceName = "ipledge.funding.v1.FundingEngineInternal"

// FundingEngineInternal is the struct-typed RPC surface other platform
// services call for escrow reads, releases and revenue settlement.
type FundingEngineInternal interface {
	GetEscrow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CommitRelease(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DistributeRevenue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCollateralHealth(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type FundingEngineServer struct {
	service *application.Service
}

func NewFundingEngineServer(service *application.Service) *FundingEngineServer {
	return &FundingEngineServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc FundingEngineInternal) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*FundingEngineInternal)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "GetEscrow", Handler: unaryHandler("GetEscrow", svc.GetEscrow)},
			{MethodName: "CommitRelease", Handler: unaryHandler("CommitRelease", svc.CommitRelease)},
			{MethodName: "DistributeRevenue", Handler: unaryHandler("DistributeRevenue", svc.DistributeRevenue)},
			{MethodName: "GetCollateralHealth", Handler: unaryHandler("GetCollateralHealth", svc.GetCollateralHealth)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "contracts/proto/funding/v1/funding_internal.proto",
	}, svc)
}

func (s *FundingEngineServer) GetEscrow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	projectID, err := requiredString(req, "project_id")
	if err != nil {
		return nil, err
	}
	escrow, err := s.service.CurrentEscrow(ctx, callerActor(ctx), projectID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(escrow)
}

func (s *FundingEngineServer) CommitRelease(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var input application.CommitReleaseInput
	if err := decodeStruct(req, &input); err != nil {
		return nil, err
	}
	actor := callerActor(ctx)
	actor.IdempotencyKey = metadataValue(ctx, "idempotency-key")
	result, err := s.service.CommitRelease(ctx, actor, input)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(result)
}

func (s *FundingEngineServer) DistributeRevenue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var event domain.RevenueEvent
	if err := decodeStruct(req, &event); err != nil {
		return nil, err
	}
	result, err := s.service.DistributeRevenue(ctx, callerActor(ctx), application.DistributeRevenueInput{Event: event})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(result)
}

func (s *FundingEngineServer) GetCollateralHealth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	projectID, err := requiredString(req, "project_id")
	if err != nil {
		return nil, err
	}
	health, err := s.service.GetCollateralHealth(ctx, callerActor(ctx), projectID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(health)
}

// callerActor trusts the mesh: internal callers act with the service role,
// identified by x-caller-id when present.
func callerActor(ctx context.Context) application.Actor {
	caller := metadataValue(ctx, "x-caller-id")
	if caller == "" {
		caller = "internal"
	}
	requestID := metadataValue(ctx, "x-request-id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return application.Actor{SubjectID: caller, Role: application.RoleService, RequestID: requestID}
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func requiredString(req *structpb.Struct, field string) (string, error) {
	v := strings.TrimSpace(req.GetFields()[field].GetStringValue())
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "missing %s", field)
	}
	return v, nil
}

// decodeStruct maps a struct request onto a JSON-tagged input type.
func decodeStruct(req *structpb.Struct, out any) error {
	b, err := json.Marshal(req.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	resp, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidTierConfig):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrIdempotencyConflict),
		errors.Is(err, domain.ErrVersionConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrInsufficientEscrow),
		errors.Is(err, domain.ErrOverAllocation),
		errors.Is(err, domain.ErrCollateralBreach),
		errors.Is(err, domain.ErrInvalidMilestoneTransition),
		errors.Is(err, domain.ErrUndefinedRatio):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrOracleUnavailable),
		errors.Is(err, domain.ErrVerificationTimeout):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type structMethod func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, fn structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return fn(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
