package dashboard

import (
	"context"

	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/local"
	engine "github.com/fieldops/preshift/internal/sync"
)

// Bridge forwards store, engine, and connectivity changes to a Server.
type Bridge struct {
	server *Server
	logger *zap.Logger
}

func NewBridge(server *Server, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{server: server, logger: logger}
}

// Run relays stats and sync status until ctx is done or both channels close.
func (b *Bridge) Run(ctx context.Context, stats <-chan local.Stats, status <-chan engine.Status) {
	for stats != nil || status != nil {
		select {
		case <-ctx.Done():
			return

		case st, ok := <-stats:
			if !ok {
				stats = nil
				continue
			}
			b.publish(MessageTypeStats, st)

		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			b.publish(MessageTypeSyncStatus, st)
		}
	}
}

// Connectivity matches the connectivity.Monitor OnChange callback.
func (b *Bridge) Connectivity(online bool) {
	b.publish(MessageTypeConnectivity, ConnectivityData{Online: online})
}

func (b *Bridge) publish(t MessageType, data any) {
	if err := b.server.Publish(t, data); err != nil {
		b.logger.Warn("Dashboard publish failed", zap.Error(err))
	}
}
