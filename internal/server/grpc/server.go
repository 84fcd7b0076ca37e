// Package grpc is the gRPC adapter over the changeset service.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/dmitrijs2005/changesetd/internal/logging"
	"github.com/dmitrijs2005/changesetd/internal/server/api"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/dmitrijs2005/changesetd/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChangesetService is the part of services.ChangesetService the adapter calls.
type ChangesetService interface {
	Get(ctx context.Context, actor authz.Actor, uuid, view string) (*models.Changeset, error)
	List(ctx context.Context, actor authz.Actor, view string, statuses ...string) ([]*models.Changeset, error)
	Update(ctx context.Context, actor authz.Actor, uuid string, req services.UpdateRequest) (*services.UpdateResult, error)
	Delete(ctx context.Context, actor authz.Actor, uuid string, force bool) (*services.DeleteResult, error)
}

type GRPCServer struct {
	address   string
	svc       ChangesetService
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, svc ChangesetService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		svc:       svc,
		jwtSecret: []byte(secretKey),
	}
}

// NewServer returns a grpc.Server with the service and interceptors registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ChangesetServiceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

func actor(ctx context.Context) authz.Actor {
	a, _ := authz.ActorFromContext(ctx)
	return a
}

func (s *GRPCServer) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	c, err := s.svc.Get(ctx, actor(ctx), stringField(in, "uuid"), stringField(in, "context"))
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(api.FromChangeset(c))
}

func (s *GRPCServer) List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var statuses []string
	for _, v := range in.GetFields()["status"].GetListValue().GetValues() {
		statuses = append(statuses, v.GetStringValue())
	}

	list, err := s.svc.List(ctx, actor(ctx), stringField(in, "context"), statuses...)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(map[string]any{"changesets": api.FromChangesets(list)})
}

func (s *GRPCServer) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	var body api.UpdateBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, status.Error(codes.InvalidArgument, "request is not a changeset update")
	}

	res, err := s.svc.Update(ctx, actor(ctx), stringField(in, "uuid"), body.Request())
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(api.FromUpdateResult(res))
}

func (s *GRPCServer) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	force := in.GetFields()["force"].GetBoolValue()

	res, err := s.svc.Delete(ctx, actor(ctx), stringField(in, "uuid"), force)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return toStruct(api.FromDeleteResult(res))
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// toStruct converts a JSON-shaped value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

var grpcCodes = map[string]codes.Code{
	services.CodeForbidden:           codes.PermissionDenied,
	services.CodePublishUnauthorized: codes.PermissionDenied,
	services.CodeCannotEditSlug:      codes.PermissionDenied,
	services.CodeInvalidData:         codes.PermissionDenied,
	services.CodeForbiddenContext:    codes.Unauthenticated,
	services.CodeInvalidUUID:         codes.NotFound,
	services.CodeNotFound:            codes.NotFound,
	services.CodeBadStatus:           codes.InvalidArgument,
	services.CodeBadDate:             codes.InvalidArgument,
	services.CodeNotFutureDate:       codes.InvalidArgument,
	services.CodeAutoDraftDate:       codes.InvalidArgument,
	services.CodeTransactionFail:     codes.InvalidArgument,
	services.CodeInvalidContext:      codes.InvalidArgument,
	services.CodeAlreadyPublished:    codes.FailedPrecondition,
	services.CodeAlreadyTrashed:      codes.FailedPrecondition,
	services.CodeConflict:            codes.Aborted,
	services.CodeSaveFailure:         codes.Internal,
}

// toStatus maps a service error to a status whose detail is the REST error
// body as a Struct.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	var e *services.Error
	if !errors.As(err, &e) {
		s.logger.Error(ctx, "request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}

	code, ok := grpcCodes[e.Code]
	if !ok {
		code = codes.Internal
	}
	st := status.New(code, e.Message)

	detail, derr := toStruct(api.ErrorFrom(err))
	if derr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(protoadapt.MessageV1Of(detail)); derr == nil {
		st = withDetail
	}
	return st.Err()
}
