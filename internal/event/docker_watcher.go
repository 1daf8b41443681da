package event

import (
	"context"
	"time"

	"github.com/auto-dns/docker-proxy/internal/domain"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/rs/zerolog"
)

type dockerClient interface {
	Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error)
}

// DockerWatcher reports containers joining or leaving a scope.
type DockerWatcher struct {
	logger zerolog.Logger
	cli    dockerClient
	scope  domain.Scope
}

func NewDockerWatcher(cli dockerClient, scope domain.Scope, logger zerolog.Logger) *DockerWatcher {
	return &DockerWatcher{
		logger: logger.With().Str("component", "docker_watcher").Logger(),
		cli:    cli,
		scope:  scope,
	}
}

// filters selects container lifecycle events for a project and attach or
// detach events for a network.
func (dw *DockerWatcher) filters() filters.Args {
	args := filters.NewArgs()
	switch dw.scope.Kind {
	case domain.ScopeNetwork:
		args.Add("type", string(events.NetworkEventType))
		args.Add("network", dw.scope.NetworkName())
		args.Add("event", string(KindConnect))
		args.Add("event", string(KindDisconnect))
	default:
		args.Add("type", string(events.ContainerEventType))
		args.Add("label", domain.ComposeProjectLabel+"="+dw.scope.Name)
		args.Add("event", string(KindStart))
		args.Add("event", string(KindStop))
		args.Add("event", string(KindDie))
	}
	return args
}

func (dw *DockerWatcher) Subscribe(ctx context.Context) (<-chan ContainerEvent, error) {
	const bufferSize = 100
	out := make(chan ContainerEvent, bufferSize)

	options := events.ListOptions{
		Filters: dw.filters(),
		Since:   time.Now().Format(time.RFC3339Nano),
	}
	eventCh, errCh := dw.cli.Events(ctx, options)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				dw.logger.Debug().Msg("Docker watcher cancelled by context")
				return
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if err != nil && ctx.Err() == nil {
					dw.logger.Error().Err(err).Msg("Error from Docker events stream")
					return
				}
			case msg, ok := <-eventCh:
				if !ok {
					dw.logger.Info().Msg("Docker events channel closed")
					return
				}

				event, convErr := fromEventsMessage(msg)
				if convErr != nil {
					dw.logger.Debug().Err(convErr).Msg("Skipping docker event")
					continue
				}

				dw.logger.Debug().Msgf("Received Docker event: %+v", event)
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
