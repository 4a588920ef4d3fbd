// Package ingest moves game events from the NATS transport into the
// dispatcher. Log parsers and the roster poller publish normalized events on
// a subject; the consumer drains them in batches and hands each batch to the
// router.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/ernie/hlstatsd/internal/config"
	"github.com/ernie/hlstatsd/internal/domain"
)

// Dispatcher is the routing surface the consumer feeds.
type Dispatcher interface {
	ProcessMany(ctx context.Context, events []*domain.GameEvent, concurrency int) error
}

// Journal receives every event the consumer accepts, before dispatch.
// Optional; a nil journal disables it.
type Journal interface {
	Append(ev *domain.GameEvent) error
}

// Broadcaster receives every successfully dispatched event, for live feeds.
// Optional; a nil broadcaster disables it.
type Broadcaster interface {
	Broadcast(ev *domain.GameEvent)
}

const (
	batchSize     = 64
	drainInterval = 250 * time.Millisecond
)

// Consumer subscribes to the event subject and dispatches what arrives.
type Consumer struct {
	cfg        config.NATSConfig
	dispatcher Dispatcher
	journal    Journal

	bmu         sync.Mutex
	broadcaster Broadcaster

	nc       *nats.Conn
	sub      *nats.Subscription
	embedded *natsserver.Server

	pending chan *domain.GameEvent
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer creates a consumer for the configured transport. The connection
// is established by Start.
func NewConsumer(cfg config.NATSConfig, dispatcher Dispatcher, journal Journal) *Consumer {
	return &Consumer{
		cfg:        cfg,
		dispatcher: dispatcher,
		journal:    journal,
		pending:    make(chan *domain.GameEvent, 1024),
		done:       make(chan struct{}),
	}
}

// SetBroadcaster attaches a live-feed sink. Safe to call after Start.
func (c *Consumer) SetBroadcaster(b Broadcaster) {
	c.bmu.Lock()
	c.broadcaster = b
	c.bmu.Unlock()
}

// Start connects to NATS (launching the embedded broker first if configured),
// subscribes to the event subject, and begins dispatching.
func (c *Consumer) Start(ctx context.Context) error {
	url := c.cfg.URL
	if c.cfg.Embedded {
		srv, err := startEmbeddedServer(c.cfg.Port)
		if err != nil {
			return fmt.Errorf("starting embedded broker: %w", err)
		}
		c.embedded = srv
		url = srv.ClientURL()
		log.Printf("Ingest: embedded NATS broker listening on %s", url)
	}

	nc, err := nats.Connect(url,
		nats.Name("hlstatsd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("Ingest: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("Ingest: NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		c.shutdownEmbedded()
		return fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	c.nc = nc

	sub, err := nc.Subscribe(c.cfg.Subject, c.handleMessage)
	if err != nil {
		nc.Close()
		c.shutdownEmbedded()
		return fmt.Errorf("subscribing to %s: %w", c.cfg.Subject, err)
	}
	c.sub = sub

	c.wg.Add(1)
	go c.dispatchLoop(ctx)

	log.Printf("Ingest: consuming events from subject %s", c.cfg.Subject)
	return nil
}

// Stop drains the subscription, dispatches what is buffered, and shuts the
// transport down.
func (c *Consumer) Stop() {
	log.Println("Ingest: stopping...")
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Printf("Ingest: drain failed: %v", err)
		}
	}
	close(c.done)
	c.wg.Wait()
	if c.nc != nil {
		c.nc.Close()
	}
	c.shutdownEmbedded()
	log.Println("Ingest: shutdown complete")
}

// handleMessage decodes one wire message and queues it for dispatch. Bad
// payloads are logged and dropped; the stream must keep moving.
func (c *Consumer) handleMessage(msg *nats.Msg) {
	var ev domain.GameEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Printf("Ingest: dropping undecodable event on %s: %v", msg.Subject, err)
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case c.pending <- &ev:
	default:
		log.Printf("Ingest: event buffer full, dropping %s from server %d", ev.Type, ev.ServerID)
	}
}

// dispatchLoop collects queued events into batches and hands them to the
// router. A batch goes out when it is full or when the drain interval fires.
func (c *Consumer) dispatchLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	batch := make([]*domain.GameEvent, 0, batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.journalBatch(batch)
		if err := c.dispatcher.ProcessMany(ctx, batch, 0); err != nil {
			log.Printf("Ingest: batch dispatch failed: %v", err)
		} else {
			c.broadcastBatch(batch)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-c.done:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case ev := <-c.pending:
					batch = append(batch, ev)
					if len(batch) == batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case <-ctx.Done():
			flush()
			return
		case ev := <-c.pending:
			batch = append(batch, ev)
			if len(batch) == batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (c *Consumer) broadcastBatch(batch []*domain.GameEvent) {
	c.bmu.Lock()
	b := c.broadcaster
	c.bmu.Unlock()
	if b == nil {
		return
	}
	for _, ev := range batch {
		b.Broadcast(ev)
	}
}

func (c *Consumer) journalBatch(batch []*domain.GameEvent) {
	if c.journal == nil {
		return
	}
	for _, ev := range batch {
		if err := c.journal.Append(ev); err != nil {
			log.Printf("Ingest: journal append failed: %v", err)
			return
		}
	}
}

func (c *Consumer) shutdownEmbedded() {
	if c.embedded != nil {
		c.embedded.Shutdown()
		c.embedded = nil
	}
}

// startEmbeddedServer runs an in-process NATS broker. port 0 picks a random
// free port.
func startEmbeddedServer(port int) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}
	if port == 0 {
		opts.Port = natsserver.RANDOM_PORT
	}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, err
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded broker did not become ready")
	}
	return srv, nil
}

// Publisher pushes events onto the transport. The roster poller uses it for
// synthetic lifecycle events; external log parsers speak the same wire format.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher connects a publisher to the given NATS URL.
func NewPublisher(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("hlstatsd-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &Publisher{nc: nc, subject: subject}, nil
}

// PublisherFromConn wraps an existing connection, as when the daemon publishes
// onto its own embedded broker.
func PublisherFromConn(nc *nats.Conn, subject string) *Publisher {
	return &Publisher{nc: nc, subject: subject}
}

// Publish assigns the event an id if it lacks one and sends it.
func (p *Publisher) Publish(ev *domain.GameEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}
	return p.nc.Publish(p.subject, data)
}

// Conn exposes the underlying connection for sharing with a publisher.
func (c *Consumer) Conn() *nats.Conn { return c.nc }
