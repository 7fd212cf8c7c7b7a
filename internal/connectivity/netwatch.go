package connectivity

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultInterfacePoll is how often WatchInterfaces samples the host's network
// interfaces.
const DefaultInterfacePoll = 5 * time.Second

// fingerprintFunc summarizes the host's network state as a comparable string.
type fingerprintFunc func() (string, error)

// WatchInterfaces samples the host's network interfaces every interval and
// calls NotifyNetworkChange whenever the set of up interfaces or their
// addresses changes. It blocks until ctx is done.
func (m *Monitor) WatchInterfaces(ctx context.Context, interval time.Duration) error {
	return m.watch(ctx, interval, interfaceFingerprint)
}

func (m *Monitor) watch(ctx context.Context, interval time.Duration, fingerprint fingerprintFunc) error {
	if interval <= 0 {
		interval = DefaultInterfacePoll
	}

	last, err := fingerprint()
	if err != nil {
		return fmt.Errorf("failed to read network interfaces: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			cur, err := fingerprint()
			if err != nil {
				m.config.Logger.Debug("Failed to read network interfaces", zap.Error(err))
				continue
			}
			if cur == last {
				continue
			}
			last = cur
			m.config.Logger.Debug("Network interfaces changed, rechecking connectivity")
			m.NotifyNetworkChange()
		}
	}
}

// interfaceFingerprint lists every up, non-loopback interface with its
// addresses in a stable order.
func interfaceFingerprint() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var parts []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			return "", err
		}
		list := make([]string, len(addrs))
		for i, a := range addrs {
			list[i] = a.String()
		}
		sort.Strings(list)
		parts = append(parts, iface.Name+"="+strings.Join(list, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";"), nil
}
