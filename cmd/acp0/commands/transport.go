package commands

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/acp0/acp0/config"
	"github.com/acp0/acp0/internal/transport"
	"github.com/acp0/acp0/internal/transport/memory"
	"github.com/acp0/acp0/internal/transport/redis"
	"github.com/acp0/acp0/internal/transport/wsrelay"
	"github.com/acp0/acp0/libs/log"
	"github.com/acp0/acp0/libs/service"
)

// newTransport starts the transport selected by the [transport] section.
// The returned service must be stopped by the caller.
func newTransport(ctx context.Context, conf *config.Config, logger log.Logger) (transport.Transport, service.Service, error) {
	tc := conf.Transport
	switch tc.Backend {
	case config.TransportMemory:
		metrics := memory.NopMetrics()
		if conf.Instrumentation.Prometheus {
			metrics = memory.PrometheusMetrics(conf.Instrumentation.Namespace)
		}
		bus, broker, err := memory.NewTransport(ctx, logger,
			memory.WithMailboxCapacity(tc.MailboxCapacity),
			memory.WithMetrics(metrics),
		)
		if err != nil {
			return nil, nil, err
		}
		return bus, broker, nil

	case config.TransportRedis:
		bus, broker, err := redis.NewTransport(ctx, &goredis.Options{
			Addr:     tc.RedisAddr,
			Password: tc.RedisPassword,
			DB:       tc.RedisDB,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return bus, broker, nil

	case config.TransportWebsocket:
		bus, client, err := wsrelay.NewTransport(ctx, tc.RelayURL, logger,
			wsrelay.MailboxCapacity(tc.MailboxCapacity),
		)
		if err != nil {
			return nil, nil, err
		}
		return bus, client, nil

	default:
		return nil, nil, fmt.Errorf("unknown transport backend %q", tc.Backend)
	}
}
