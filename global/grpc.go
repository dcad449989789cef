package global

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/toolink/single/singleton"
)

// ErrGRPCNotConfigured is returned by GRPCConn before ConfigureGRPC has
// bound a target.
var ErrGRPCNotConfigured = errors.New("global: grpc not configured")

func unconfiguredGRPC(context.Context) (*grpc.ClientConn, error) {
	return nil, ErrGRPCNotConfigured
}

var grpcRegistry = singleton.New(unconfiguredGRPC, singleton.WithName("grpc"))

// ConfigureGRPC binds the target and dial options for the process-wide
// client connection. When no dial options are given, insecure transport
// credentials are used. Like ConfigureRedis, the binding is final once the
// connection has been built.
func ConfigureGRPC(target string, opts ...grpc.DialOption) error {
	if target == "" {
		return errors.New("grpc config: target must not be empty")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return grpcRegistry.Rebind(func(ctx context.Context) (*grpc.ClientConn, error) {
		conn, err := grpc.NewClient(target, opts...)
		if err != nil {
			return nil, err
		}
		// The connection dials lazily; first RPC pays the connect cost.
		log.Debug().Str("target", target).Msg("grpc client connection built")
		return conn, nil
	})
}

// GRPCConn returns the process-wide client connection, building it on
// first demand. Fails with ErrGRPCNotConfigured until ConfigureGRPC is
// called; a failed build leaves the slot empty for retry.
func GRPCConn(ctx context.Context) (*grpc.ClientConn, error) {
	return grpcRegistry.Get(ctx)
}

// SetGRPCConn replaces the process-wide connection.
func SetGRPCConn(conn *grpc.ClientConn) {
	grpcRegistry.Replace(conn)
}

// ResetGRPC empties the slot and clears the bound target. Test-only.
func ResetGRPC() {
	grpcRegistry.Reset()
	if err := grpcRegistry.Rebind(unconfiguredGRPC); err != nil {
		log.Error().Err(err).Msg("failed to reset grpc registry")
	}
}
