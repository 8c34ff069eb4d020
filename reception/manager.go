package reception

import (
	"context"
	"fmt"

	"github.com/wireapp/kalium-sub009/clock"
	"github.com/wireapp/kalium-sub009/config"
	"github.com/wireapp/kalium-sub009/message"
	"go.uber.org/zap"
)

// Manager is the top-level entry point for inbound events. Envelopes for one
// conversation must be handed to it in arrival order; distinct conversations may be
// processed concurrently. Decryption failures are resolved internally, only transport
// and storage failures surface to the caller.
type Manager struct {
	config        *config.Config
	log           *zap.SugaredLogger
	clock         clock.Clock
	sessions      PairwiseSession
	conversations ConversationStore
	router        *Router
	pairwise      *pairwiseUnpacker
	group         *groupUnpacker
	epochs        *epochRecovery
}

func NewManager(
	c *config.Config,
	cl clock.Clock,
	sessions PairwiseSession,
	groups GroupEngine,
	conversations ConversationStore,
	scheduler ProposalScheduler,
	system SystemMessageInserter,
	codec ContentCodec,
	router *Router,
) *Manager {
	log := c.Logger("reception/manager")
	return &Manager{
		config:        c,
		log:           log,
		clock:         cl,
		sessions:      sessions,
		conversations: conversations,
		router:        router,
		pairwise:      newPairwiseUnpacker(log, sessions, codec),
		group:         newGroupUnpacker(log, cl, groups, scheduler, codec),
		epochs:        newEpochRecovery(log, cl, conversations, groups, system),
	}
}

// HandleEnvelope processes one inbound event. A failed decryption never blocks the
// conversation's subsequent events; an unrecoverable one becomes a visible
// failed-decryption placeholder instead of a silently dropped message.
func (m *Manager) HandleEnvelope(ctx context.Context, env *InboundEnvelope) error {
	switch env.Protocol {
	case ProtocolPairwise:
		result, err := m.pairwise.unpack(ctx, env)
		if err != nil {
			return m.handleFailure(ctx, env, err, ClassifyPairwiseFailure)
		}
		return m.routeResult(ctx, env, result)
	case ProtocolGroup:
		info, err := m.conversations.ProtocolInfo(ctx, env.ConversationID)
		if err != nil {
			return fmt.Errorf("reception: error resolving protocol info for %s: %w", env.ConversationID, err)
		}
		result, err := m.group.unpack(ctx, env, info.GroupID)
		if err != nil {
			return m.handleFailure(ctx, env, err, ClassifyGroupFailure)
		}
		return m.routeResult(ctx, env, result)
	default:
		return fmt.Errorf("reception: unknown protocol tag %d", env.Protocol)
	}
}

// HandleGroupBatch processes a same-conversation batch of group envelopes in arrival
// order. One message's recoverable failure never aborts the rest of the batch.
func (m *Manager) HandleGroupBatch(ctx context.Context, batch *GroupEnvelopeBatch) error {
	var groupID GroupID
	if batch.SubConversationID != "" {
		gid, ok, err := m.conversations.SubConversationGroupID(ctx, batch.ConversationID, batch.SubConversationID)
		if err != nil {
			return fmt.Errorf("reception: error resolving sub-conversation %s/%s: %w", batch.ConversationID, batch.SubConversationID, err)
		}
		if !ok {
			// the sub-group was already removed, the whole sub-batch is a harmless no-op
			m.log.Debugf("sub-conversation %s/%s not found, skipping batch of %d", batch.ConversationID, batch.SubConversationID, len(batch.Envelopes))
			return nil
		}
		groupID = gid
	} else {
		info, err := m.conversations.ProtocolInfo(ctx, batch.ConversationID)
		if err != nil {
			return fmt.Errorf("reception: error resolving protocol info for %s: %w", batch.ConversationID, err)
		}
		groupID = info.GroupID
	}

	// the timer resets after each message so durations reflect per-message latency
	started := m.clock.Now()
	for _, env := range batch.Envelopes {
		result, err := m.group.unpack(ctx, env, groupID)
		if err != nil {
			if err := m.handleFailure(ctx, env, err, ClassifyGroupFailure); err != nil {
				return err
			}
		} else if err := m.routeResult(ctx, env, result); err != nil {
			return err
		}
		m.log.Debugf("processed group event %s in %s", env.ID, m.clock.Now().Sub(started))
		started = m.clock.Now()
	}
	return nil
}

func (m *Manager) routeResult(ctx context.Context, env *InboundEnvelope, result UnpackResult) error {
	switch res := result.(type) {
	case *ProtocolSignal:
		// protocol state already advanced inside the engine call, nothing to persist
		m.log.Debugf("absorbed protocol signal for conversation %s", env.ConversationID)
		return nil
	case *ApplicationMessage:
		return m.router.Route(ctx, res.toMessage())
	default:
		return fmt.Errorf("reception: unknown unpack result %T", result)
	}
}

// handleFailure classifies a decryption failure and executes its resolution. Non-crypto
// failures are propagated raw for the caller's retry policy.
func (m *Manager) handleFailure(ctx context.Context, env *InboundEnvelope, err error, classify func(*CryptoError) Resolution) error {
	ce, ok := asCryptoError(err)
	if !ok {
		return err
	}
	resolution := classify(ce)
	m.log.Debugf("classified failure for event %s as %s: %s", env.ID, resolution, ce)

	switch resolution {
	case ResolutionIgnore:
		return nil
	case ResolutionRecoverSession:
		m.log.Warnf("recovering pairwise session with %s/%s after %s", env.SenderUserID, env.SenderClientID, ce)
		return m.sessions.DiscardSession(ctx, SessionID{UserID: env.SenderUserID, ClientID: env.SenderClientID})
	case ResolutionOutOfSync:
		return m.epochs.recover(ctx, env.ConversationID)
	case ResolutionInformUser:
		return m.router.Route(ctx, m.failedDecryptionMessage(env, ce))
	default:
		return fmt.Errorf("reception: unknown resolution %d", resolution)
	}
}

// failedDecryptionMessage synthesizes the placeholder shown when an event could not be
// read. It carries the original event id, sender and timestamp, plus any raw encrypted
// side-channel bytes for later forensic use. The placeholder is not marked resolved.
func (m *Manager) failedDecryptionMessage(env *InboundEnvelope, ce *CryptoError) *message.Message {
	return message.NewInbound(
		env.ID,
		env.ConversationID,
		env.SenderUserID,
		env.SenderClientID,
		env.Timestamp,
		&message.FailedDecryption{
			EncodedData: env.ExternalData,
			ErrorCode:   int(ce.Code),
		},
	)
}
