package reception

import (
	"context"
	"fmt"

	"github.com/wireapp/kalium-sub009/clock"
	"github.com/wireapp/kalium-sub009/message"
	"go.uber.org/zap"
)

// epochRecovery resynchronizes a conversation whose local group epoch fell behind the
// sender's. The order of its steps is mandatory: refreshing stale protocol metadata
// first, then confirming the epoch is still behind, avoids spurious duplicate rejoins
// when the epoch advanced between the failure being raised and recovery running.
type epochRecovery struct {
	log           *zap.SugaredLogger
	clock         clock.Clock
	conversations ConversationStore
	engine        GroupEngine
	system        SystemMessageInserter
}

func newEpochRecovery(log *zap.SugaredLogger, cl clock.Clock, conversations ConversationStore, engine GroupEngine, system SystemMessageInserter) *epochRecovery {
	return &epochRecovery{log: log, clock: cl, conversations: conversations, engine: engine, system: system}
}

func (r *epochRecovery) recover(ctx context.Context, conversationID message.ConversationID) error {
	info, err := r.conversations.RefreshProtocolInfo(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("reception: error refreshing protocol info for %s: %w", conversationID, err)
	}
	if info.Protocol != ProtocolGroup {
		// a wrong-epoch signal should never arrive for a non-group conversation
		return fmt.Errorf("reception: protocol not supported for conversation %s", conversationID)
	}

	behind, err := r.engine.IsGroupOutOfSync(ctx, info.GroupID, info.Epoch)
	if err != nil {
		return fmt.Errorf("reception: error checking epoch for group %s: %w", info.GroupID, err)
	}
	if !behind {
		r.log.Debugf("epoch already current for conversation %s, skipping rejoin", conversationID)
		return nil
	}

	if err := r.engine.Rejoin(ctx, conversationID); err != nil {
		return fmt.Errorf("reception: error rejoining conversation %s: %w", conversationID, err)
	}
	return r.system.InsertHistoryLossNotice(ctx, conversationID, r.clock.Now())
}
