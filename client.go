// Package kalium wires the inbound reception pipeline to its local collaborators: the
// encrypted database, the message store and the pairwise ratchet engine. The group
// engine, presence, calling and conversation-state collaborators are injected, with
// construction order resolved here rather than through lazy references.
package kalium

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/wireapp/kalium-sub009/clock"
	"github.com/wireapp/kalium-sub009/config"
	"github.com/wireapp/kalium-sub009/internal/db"
	"github.com/wireapp/kalium-sub009/message"
	"github.com/wireapp/kalium-sub009/ratchet"
	"github.com/wireapp/kalium-sub009/reception"
	"github.com/wireapp/kalium-sub009/store"
	"go.uber.org/zap"
)

// Collaborators holds the externally implemented engines and sinks the pipeline
// depends on.
type Collaborators struct {
	Groups        reception.GroupEngine
	Scheduler     reception.ProposalScheduler
	Presence      reception.PresenceSink
	Calls         reception.CallRelay
	Conversations reception.ConversationSink
}

type Client struct {
	Store   *store.Store
	Ratchet *ratchet.Engine

	config        *config.Config
	log           *zap.SugaredLogger
	clock         clock.Clock
	db            *db.Database
	self          message.UserID
	collaborators *Collaborators
	reception     *reception.Manager
}

func NewClient(c *config.Config, self message.UserID, collaborators *Collaborators) (*Client, error) {
	d, err := db.NewDatabase(c, filepath.Join(c.RootDir, "kalium.db"))
	if err != nil {
		return nil, fmt.Errorf("kalium: error making database: %w", err)
	}
	return &Client{
		config:        c,
		log:           c.Logger("client"),
		clock:         clock.NewSystemClock(),
		db:            d,
		self:          self,
		collaborators: collaborators,
	}, nil
}

func (c *Client) Initialized() bool {
	return c.db.Initialized()
}

func (c *Client) Initialize(key []byte) error {
	return c.db.Initialize(key)
}

// Open unlocks the database and builds the pipeline. The store is constructed before the
// ratchet engine and the router before the manager, so every handle exists by the time
// it is needed.
func (c *Client) Open(key []byte) error {
	if err := c.db.Open(key); err != nil {
		return err
	}

	s, err := store.NewStore(c.config, c.db)
	if err != nil {
		return err
	}
	engine, err := ratchet.NewEngine(c.config, c.db)
	if err != nil {
		return err
	}
	router := reception.NewRouter(
		c.config,
		c.clock,
		c.self,
		s,
		c.collaborators.Presence,
		c.collaborators.Calls,
		c.collaborators.Conversations,
	)

	c.Store = s
	c.Ratchet = engine
	c.reception = reception.NewManager(
		c.config,
		c.clock,
		engine,
		c.collaborators.Groups,
		s,
		c.collaborators.Scheduler,
		s,
		reception.NewJSONCodec(),
		router,
	)
	return nil
}

func (c *Client) Shutdown() error {
	return c.db.Shutdown()
}

// HandleEnvelope processes one inbound event from the transport.
func (c *Client) HandleEnvelope(ctx context.Context, env *reception.InboundEnvelope) error {
	if c.reception == nil {
		return fmt.Errorf("kalium: client is not open")
	}
	return c.reception.HandleEnvelope(ctx, env)
}

// HandleGroupBatch processes a same-conversation batch of group envelopes in arrival
// order.
func (c *Client) HandleGroupBatch(ctx context.Context, batch *reception.GroupEnvelopeBatch) error {
	if c.reception == nil {
		return fmt.Errorf("kalium: client is not open")
	}
	return c.reception.HandleGroupBatch(ctx, batch)
}
