package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"autocare/internal/domain"
	"autocare/internal/models"
	"autocare/internal/pricing"
	"autocare/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The ledger service speaks protobuf well-known types only, so it needs no
// generated stubs: requests and responses are Structs with the same camelCase
// fields as the JSON API.
const (
	ledgerServiceName      = "autocare.ledger.v1.LedgerService"
	ledgerMethodGet        = "/" + ledgerServiceName + "/GetRequest"
	ledgerMethodList       = "/" + ledgerServiceName + "/ListRequests"
	ledgerMethodCreate     = "/" + ledgerServiceName + "/CreateRequest"
	ledgerMethodTransition = "/" + ledgerServiceName + "/TransitionRequest"
	ledgerMethodQuote      = "/" + ledgerServiceName + "/QuotePrice"
)

type LedgerServiceServer interface {
	GetRequest(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
	ListRequests(ctx context.Context, in *structpb.Struct) (*structpb.ListValue, error)
	CreateRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	TransitionRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	QuotePrice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler[Req proto.Message, Resp proto.Message](
	fullMethod string,
	newReq func() Req,
	call func(LedgerServiceServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func newStruct() *structpb.Struct              { return new(structpb.Struct) }
func newStringValue() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }

var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetRequest", Handler: unaryHandler(ledgerMethodGet, newStringValue, LedgerServiceServer.GetRequest)},
		{MethodName: "ListRequests", Handler: unaryHandler(ledgerMethodList, newStruct, LedgerServiceServer.ListRequests)},
		{MethodName: "CreateRequest", Handler: unaryHandler(ledgerMethodCreate, newStruct, LedgerServiceServer.CreateRequest)},
		{MethodName: "TransitionRequest", Handler: unaryHandler(ledgerMethodTransition, newStruct, LedgerServiceServer.TransitionRequest)},
		{MethodName: "QuotePrice", Handler: unaryHandler(ledgerMethodQuote, newStruct, LedgerServiceServer.QuotePrice)},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerService serves the ledger over gRPC.
type LedgerService struct {
	deps Deps
}

func NewLedgerService(deps Deps) *LedgerService {
	return &LedgerService{deps: deps}
}

func (s *LedgerService) GetRequest(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	req, err := s.deps.Ledger.Get(in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(req)
}

type listFilter struct {
	CustomerID string `json:"customerId"`
	MechanicID string `json:"mechanicId"`
	Status     string `json:"status"`
}

func (s *LedgerService) ListRequests(_ context.Context, in *structpb.Struct) (*structpb.ListValue, error) {
	var f listFilter
	if err := fromStruct(in, &f); err != nil {
		return nil, err
	}

	filter := models.RequestFilter{CustomerID: strings.TrimSpace(f.CustomerID), MechanicID: strings.TrimSpace(f.MechanicID)}
	if f.Status != "" {
		st, err := models.ParseStatus(f.Status)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		filter.Status = st
	}

	requests := s.deps.Ledger.List(filter)
	values := make([]*structpb.Value, 0, len(requests))
	for _, r := range requests {
		st, err := toStruct(r)
		if err != nil {
			return nil, err
		}
		values = append(values, structpb.NewStructValue(st))
	}
	return &structpb.ListValue{Values: values}, nil
}

func (s *LedgerService) CreateRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var draft models.RequestDraft
	if err := fromStruct(in, &draft); err != nil {
		return nil, err
	}
	req, err := s.deps.Ledger.Create(ctx, draft)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(req)
}

type transitionInput struct {
	ID         string `json:"id"`
	Action     string `json:"action"`
	MechanicID string `json:"mechanicId"`
	Version    int64  `json:"version"`
}

func (s *LedgerService) TransitionRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var t transitionInput
	if err := fromStruct(in, &t); err != nil {
		return nil, err
	}
	actionType, ok := service.ParseAction(strings.ToLower(strings.TrimSpace(t.Action)))
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown action %q", t.Action)
	}

	req, err := s.deps.Ledger.Dispatch(ctx, service.Action{
		Type:            actionType,
		RequestID:       t.ID,
		MechanicID:      strings.TrimSpace(t.MechanicID),
		ExpectedVersion: t.Version,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(req)
}

type quoteInput struct {
	BasePrice   *float64 `json:"basePrice"`
	ServiceType string   `json:"serviceType"`
	Distance    float64  `json:"distance"`
	Urgency     string   `json:"urgency"`
}

func (s *LedgerService) QuotePrice(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var q quoteInput
	if err := fromStruct(in, &q); err != nil {
		return nil, err
	}

	var basePrice float64
	switch {
	case q.ServiceType != "":
		if s.deps.Catalog == nil {
			return nil, status.Error(codes.FailedPrecondition, "no service catalog configured")
		}
		entry, err := s.deps.Catalog.Lookup(q.ServiceType)
		if err != nil {
			return nil, toStatus(err)
		}
		basePrice = entry.BasePrice
	case q.BasePrice != nil:
		basePrice = *q.BasePrice
	default:
		return nil, status.Error(codes.InvalidArgument, "basePrice or serviceType is required")
	}

	return toStruct(pricing.Itemize(basePrice, q.Distance, q.Urgency))
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// toStruct converts v through its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

// LedgerClient is a thin client for LedgerService.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) GetRequest(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ledgerMethodGet, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerClient) ListRequests(ctx context.Context, filter map[string]any, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invokeStruct[*structpb.ListValue](ctx, c.cc, ledgerMethodList, filter, new(structpb.ListValue), opts...)
}

func (c *LedgerClient) CreateRequest(ctx context.Context, draft map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invokeStruct[*structpb.Struct](ctx, c.cc, ledgerMethodCreate, draft, new(structpb.Struct), opts...)
}

func (c *LedgerClient) TransitionRequest(ctx context.Context, input map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invokeStruct[*structpb.Struct](ctx, c.cc, ledgerMethodTransition, input, new(structpb.Struct), opts...)
}

func (c *LedgerClient) QuotePrice(ctx context.Context, input map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invokeStruct[*structpb.Struct](ctx, c.cc, ledgerMethodQuote, input, new(structpb.Struct), opts...)
}

func invokeStruct[Resp proto.Message](ctx context.Context, cc grpc.ClientConnInterface, method string, input map[string]any, out Resp, opts ...grpc.CallOption) (Resp, error) {
	var zero Resp
	in, err := structpb.NewStruct(input)
	if err != nil {
		return zero, err
	}
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return zero, err
	}
	return out, nil
}
