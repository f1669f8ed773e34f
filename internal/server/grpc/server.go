// Package grpc serves the owner API: profile provisioning, Tier C sealing,
// medical terms, reinstatement, export and access digests.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/services"
	"google.golang.org/grpc"
)

type GRPCServer struct {
	address   string
	profiles  *services.ProfileService
	terms     *services.TermService
	exports   *services.ExportService
	logger    logging.Logger
	jwtSecret []byte
}

func NewGRPCServer(a string, l logging.Logger, ps *services.ProfileService, ts *services.TermService, es *services.ExportService, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		logger:    l.With("module", "grpc_server"),
		profiles:  ps,
		terms:     ts,
		exports:   es,
		jwtSecret: []byte(secretKey),
	}
}

// NewServer builds the grpc.Server with the access token interceptor and
// the owner service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)
	RegisterOwnerServiceServer(srv, s)
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
