package router

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/memohai/relay/internal/metrics"
	"github.com/memohai/relay/internal/network"
)

// ErrUnknownNetwork indicates a network id that no router owns.
var ErrUnknownNetwork = errors.New("unknown network")

// Status describes one network router for health reporting.
type Status struct {
	NetworkID     string
	Name          string
	Host          string
	Nick          string
	Running       bool
	Backlog       int
	Conversations int
}

// Manager owns the routers of every configured network.
type Manager struct {
	logger  *slog.Logger
	routers map[string]*Router
	byOwner map[string][]*Router
}

// NewManager creates one router per network.
func NewManager(log *slog.Logger, networks []*network.Network, sink Sink, notifier Notifier, previewer Previewer, m *metrics.Metrics) *Manager {
	if log == nil {
		log = slog.Default()
	}
	mgr := &Manager{
		logger:  log.With(slog.String("component", "router_manager")),
		routers: make(map[string]*Router, len(networks)),
		byOwner: map[string][]*Router{},
	}
	for _, net := range networks {
		if net == nil {
			continue
		}
		r := New(log, net, sink, notifier, previewer, m)
		mgr.routers[net.ID()] = r
		mgr.byOwner[net.Owner()] = append(mgr.byOwner[net.Owner()], r)
	}
	for owner := range mgr.byOwner {
		routers := mgr.byOwner[owner]
		sort.SliceStable(routers, func(i, j int) bool {
			return routers[i].network.Name() < routers[j].network.Name()
		})
	}
	return mgr
}

// Start launches every router loop.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("manager start", slog.Int("networks", len(m.routers)))
	for _, r := range m.routers {
		go r.Run(ctx)
	}
}

// Router returns the router of networkID.
func (m *Manager) Router(networkID string) (*Router, bool) {
	r, ok := m.routers[networkID]
	return r, ok
}

// Networks returns the networks owned by user, ordered by name.
func (m *Manager) Networks(user string) []*network.Network {
	routers := m.byOwner[user]
	out := make([]*network.Network, 0, len(routers))
	for _, r := range routers {
		out = append(out, r.network)
	}
	return out
}

// Dispatch queues ev on the router of networkID.
func (m *Manager) Dispatch(ctx context.Context, networkID string, ev Event) error {
	r, ok := m.routers[networkID]
	if !ok {
		return ErrUnknownNetwork
	}
	return r.Dispatch(ctx, ev)
}

// NetworkStatuses reports the routers of user, ordered by network name.
func (m *Manager) NetworkStatuses(user string) []Status {
	routers := m.byOwner[user]
	out := make([]Status, 0, len(routers))
	for _, r := range routers {
		net := r.network
		out = append(out, Status{
			NetworkID:     net.ID(),
			Name:          net.Name(),
			Host:          net.Host(),
			Nick:          net.Nick(),
			Running:       r.Running(),
			Backlog:       r.Backlog(),
			Conversations: len(net.Conversations()),
		})
	}
	return out
}

// Backlog returns the number of queued tasks across routers.
func (m *Manager) Backlog() int {
	n := 0
	for _, r := range m.routers {
		n += r.Backlog()
	}
	return n
}

// Network returns the network of networkID.
func (m *Manager) Network(networkID string) (*network.Network, bool) {
	r, ok := m.routers[networkID]
	if !ok {
		return nil, false
	}
	return r.network, true
}
