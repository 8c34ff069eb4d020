package reception

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/wireapp/kalium-sub009/clock"
	"go.uber.org/zap"
)

type groupUnpacker struct {
	log       *zap.SugaredLogger
	clock     clock.Clock
	engine    GroupEngine
	scheduler ProposalScheduler
	codec     ContentCodec
}

func newGroupUnpacker(log *zap.SugaredLogger, cl clock.Clock, engine GroupEngine, scheduler ProposalScheduler, codec ContentCodec) *groupUnpacker {
	return &groupUnpacker{log: log, clock: cl, engine: engine, scheduler: scheduler, codec: codec}
}

func (u *groupUnpacker) unpack(ctx context.Context, env *InboundEnvelope, groupID GroupID) (UnpackResult, error) {
	raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, NewCryptoError(ErrCodeDecodeError, fmt.Errorf("error decoding transport base64: %w", err))
	}

	res, err := u.engine.DecryptMessage(ctx, groupID, raw)
	if err != nil {
		if _, ok := asCryptoError(err); ok {
			return nil, err
		}
		return nil, NewCryptoError(ErrCodeUnknown, err)
	}

	// A commit delay and an application payload can arrive from the same engine call,
	// both have to be honored.
	if res.CommitDelaySec != nil {
		fireAt := u.clock.Now().Add(time.Duration(*res.CommitDelaySec) * time.Second)
		if err := u.scheduler.ScheduleCommit(ctx, groupID, fireAt); err != nil {
			return nil, fmt.Errorf("reception: error scheduling pending commit for group %s: %w", groupID, err)
		}
		u.log.Debugf("scheduled pending commit for group %s at %s", groupID, fireAt)
	}

	if len(res.Message) == 0 {
		return &ProtocolSignal{}, nil
	}

	decoded, err := u.codec.Decode(res.Message)
	if err != nil {
		return nil, NewCryptoError(ErrCodeDecodeError, err)
	}

	senderClientID := env.SenderClientID
	if res.SenderClientID != "" {
		senderClientID = res.SenderClientID
	}
	return &ApplicationMessage{
		MessageID:      decoded.MessageID,
		ConversationID: env.ConversationID,
		SenderUserID:   env.SenderUserID,
		SenderClientID: senderClientID,
		Timestamp:      env.Timestamp,
		Content:        decoded.Content,
	}, nil
}
