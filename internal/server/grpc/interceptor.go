package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/changesetd/internal/common"
	"github.com/dmitrijs2005/changesetd/internal/server/auth"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// writeMethods require a token; reads fall back to the anonymous actor.
var writeMethods = map[string]bool{
	MethodUpdate: true,
	MethodDelete: true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}

	if len(accessToken) == 0 {
		if writeMethods[info.FullMethod] {
			return nil, status.Error(codes.Unauthenticated, "missing token")
		}
		return handler(ctx, req)
	}

	actor, err := auth.ParseToken(accessToken, s.jwtSecret)
	if errors.Is(err, common.ErrTokenExpired) {
		return nil, status.Error(codes.Unauthenticated, "token expired")
	}
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(authz.WithActor(ctx, actor), req)
}
