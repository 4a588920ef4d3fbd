package roster

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ernie/hlstatsd/internal/config"
	"github.com/ernie/hlstatsd/internal/domain"
	"github.com/ernie/hlstatsd/internal/session"
	"github.com/ernie/hlstatsd/internal/storage"
)

// Publisher pushes synthetic lifecycle events onto the transport. Optional.
type Publisher interface {
	Publish(ev *domain.GameEvent) error
}

// Poller periodically queries every configured server for its roster and
// synchronizes the session table with what comes back.
type Poller struct {
	cfg    *config.Config
	store  *storage.Store
	table  *session.Table
	client *Client
	pub    Publisher

	mu      sync.RWMutex
	servers map[int64]*serverState
	done    chan struct{}
	wg      sync.WaitGroup
}

// serverState tracks one monitored server between polls.
type serverState struct {
	server     domain.Server
	rcon       string
	ignoreBots bool
	online     bool
	lastRoster *domain.RosterSnapshot
}

// NewPoller creates a poller over the configured game servers.
func NewPoller(cfg *config.Config, store *storage.Store, table *session.Table, pub Publisher) *Poller {
	return &Poller{
		cfg:     cfg,
		store:   store,
		table:   table,
		client:  NewClient(),
		pub:     pub,
		servers: make(map[int64]*serverState),
		done:    make(chan struct{}),
	}
}

// Start registers the configured servers in storage and begins polling.
func (p *Poller) Start(ctx context.Context) error {
	for _, sc := range p.cfg.GameServers {
		srv := &domain.Server{
			Name:    sc.Name,
			Address: sc.Address,
			Game:    domain.NormalizeGameCode(sc.Game, p.cfg.Games.Default),
		}
		if err := p.store.UpsertServer(ctx, srv); err != nil {
			return fmt.Errorf("registering server %s: %w", sc.Name, err)
		}
		p.servers[srv.ID] = &serverState{
			server:     *srv,
			rcon:       sc.RconPassword,
			ignoreBots: sc.IgnoreBots,
		}
		log.Printf("Poller: monitoring %s (%s) as server %d", sc.Name, sc.Address, srv.ID)
	}

	p.wg.Add(1)
	go p.pollLoop(ctx)
	return nil
}

// Stop halts polling and waits for in-flight polls to finish.
func (p *Poller) Stop() {
	log.Println("Poller: stopping...")
	close(p.done)
	p.wg.Wait()
	log.Println("Poller: shutdown complete")
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Server.PollInterval)
	defer ticker.Stop()

	p.pollAll(ctx)

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for serverID, state := range p.servers {
		roster, err := p.client.QueryRoster(state.server.Address, state.rcon)
		if err != nil {
			if state.online {
				log.Printf("Poller: %s went offline: %v", state.server.Name, err)
			}
			state.online = false
			// A dead server keeps its sessions until it answers again;
			// a restart will replace them wholesale on the next sync.
			continue
		}

		if !state.online {
			log.Printf("Poller: %s is online (map %s, %d players)", state.server.Name, roster.Map, roster.Players)
		}
		state.online = true
		state.server.ActiveMap = roster.Map
		state.server.LastPolledAt = roster.PolledAt

		n, err := p.table.Synchronize(ctx, serverID, state.server.Game, roster, state.ignoreBots)
		if err != nil {
			log.Printf("Poller: session sync failed for %s: %v", state.server.Name, err)
			continue
		}

		if state.lastRoster == nil || n != len(state.lastRoster.PlayerList) {
			log.Printf("Poller: %s has %d tracked sessions", state.server.Name, n)
		}
		p.publishStatsUpdate(serverID, state, roster)
		state.lastRoster = roster
	}
}

// publishStatsUpdate emits a per-poll STATS_UPDATE event so downstream
// consumers (feed, journal) see roster changes between log events.
func (p *Poller) publishStatsUpdate(serverID int64, state *serverState, roster *domain.RosterSnapshot) {
	if p.pub == nil {
		return
	}
	ev := &domain.GameEvent{
		Type:      domain.EventStatsUpdate,
		ServerID:  serverID,
		Game:      state.server.Game,
		Timestamp: roster.PolledAt,
		Map:       roster.Map,
	}
	if err := p.pub.Publish(ev); err != nil {
		log.Printf("Poller: publishing stats update for server %d: %v", serverID, err)
	}
}

// ServerStatus is the poller's live view of one server, for the status API.
type ServerStatus struct {
	Server  domain.Server          `json:"server"`
	Online  bool                   `json:"online"`
	Roster  *domain.RosterSnapshot `json:"roster,omitempty"`
	Players int                    `json:"players"`
}

// Statuses returns the current view of every monitored server.
func (p *Poller) Statuses() []ServerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]ServerStatus, 0, len(p.servers))
	for serverID, state := range p.servers {
		st := ServerStatus{
			Server: state.server,
			Online: state.online,
			Roster: state.lastRoster,
		}
		st.Players = p.table.Count(serverID)
		statuses = append(statuses, st)
	}
	return statuses
}

// MessagePlayers sends a message to each of the given players on a server,
// addressed by their live slot. Players with no addressable session are
// skipped. Returns how many messages went out.
func (p *Poller) MessagePlayers(ctx context.Context, serverID int64, playerIDs []int64, message string) (int, error) {
	p.mu.RLock()
	state, ok := p.servers[serverID]
	p.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("server %d not monitored", serverID)
	}
	if state.rcon == "" {
		return 0, fmt.Errorf("rcon not configured for %s", state.server.Name)
	}

	targets := make([]int64, 0, len(playerIDs))
	for _, playerID := range playerIDs {
		if p.table.CanTarget(ctx, serverID, playerID) {
			targets = append(targets, playerID)
		}
	}

	slots := p.table.MapPlayerIDsToSlots(ctx, serverID, targets)
	sent := 0
	for _, slot := range slots {
		if err := p.client.Say(state.server.Address, state.rcon, slot, message); err != nil {
			log.Printf("Poller: message to slot %d on %s failed: %v", slot, state.server.Name, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// Resync forces an immediate poll of every server. Used by the admin API.
func (p *Poller) Resync(ctx context.Context) {
	p.pollAll(ctx)
}
