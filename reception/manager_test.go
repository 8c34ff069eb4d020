package reception

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wireapp/kalium-sub009/ids"
	"github.com/wireapp/kalium-sub009/message"
)

func TestPairwiseMessageRoutesToStore(t *testing.T) {
	p := newPipeline()
	id := ids.NewID()
	env := pairwiseEnvelope(encodePlaintext(id, &message.Text{Value: "hello"}))

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), env))

	msg, ok, err := p.store.MessageByID(context.Background(), testConv, id)
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, &message.Text{Value: "hello"}, msg.Content)
	require.Equal(t, otherUser, msg.SenderUserID)
	require.Equal(t, message.VisibilityVisible, msg.Visibility)
	require.Equal(t, message.StatusSent, msg.Status.Kind)
}

func TestPairwiseUnrecoverableFailureInformsUser(t *testing.T) {
	p := newPipeline()
	p.sessions.decrypt = func(id SessionID, ciphertext []byte) ([]byte, error) {
		return nil, NewCryptoError(ErrCodeInvalidMessage, errors.New("mac mismatch"))
	}
	env := pairwiseEnvelope([]byte("garbled"))
	env.ExternalData = []byte{0xde, 0xad}

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), env))

	msg, ok, err := p.store.MessageByID(context.Background(), testConv, env.ID)
	require.Nil(t, err)
	require.True(t, ok)
	failed, isFailed := msg.Content.(*message.FailedDecryption)
	require.True(t, isFailed)
	require.Equal(t, int(ErrCodeInvalidMessage), failed.ErrorCode)
	require.Equal(t, []byte{0xde, 0xad}, failed.EncodedData)
	require.False(t, failed.Resolved)
	require.Equal(t, message.VisibilityVisible, msg.Visibility)
	require.Equal(t, env.Timestamp, msg.Timestamp)
	require.Empty(t, p.sessions.discarded)
}

func TestPairwiseSessionFailureDiscardsSession(t *testing.T) {
	p := newPipeline()
	p.sessions.decrypt = func(id SessionID, ciphertext []byte) ([]byte, error) {
		return nil, NewCryptoError(ErrCodeSessionNotFound, errors.New("no state"))
	}
	env := pairwiseEnvelope([]byte("garbled"))

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), env))

	require.Equal(t, []SessionID{{UserID: otherUser, ClientID: otherClient}}, p.sessions.discarded)
	_, ok, err := p.store.MessageByID(context.Background(), testConv, env.ID)
	require.Nil(t, err)
	require.False(t, ok)
}

func TestPairwiseDuplicateIsIgnored(t *testing.T) {
	p := newPipeline()
	p.sessions.decrypt = func(id SessionID, ciphertext []byte) ([]byte, error) {
		return nil, NewCryptoError(ErrCodeDuplicateMessage, errors.New("seen before"))
	}
	env := pairwiseEnvelope([]byte("garbled"))

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), env))

	require.Empty(t, p.sessions.discarded)
	require.Empty(t, p.store.messages)
}

func TestPairwiseUntypedFailureBecomesUnknown(t *testing.T) {
	p := newPipeline()
	p.sessions.decrypt = func(id SessionID, ciphertext []byte) ([]byte, error) {
		return nil, errors.New("something went sideways")
	}
	env := pairwiseEnvelope([]byte("garbled"))

	// untyped engine failures get the unknown code and surface to the user
	require.Nil(t, p.manager.HandleEnvelope(context.Background(), env))
	msg, ok, err := p.store.MessageByID(context.Background(), testConv, env.ID)
	require.Nil(t, err)
	require.True(t, ok)
	failed := msg.Content.(*message.FailedDecryption)
	require.Equal(t, int(ErrCodeUnknown), failed.ErrorCode)
}

func TestWrongEpochTriggersSingleRejoin(t *testing.T) {
	p := newPipeline()
	p.groups.outOfSync = true
	p.groups.decrypt = func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
		return nil, NewCryptoError(ErrCodeWrongEpoch, errors.New("epoch 4, message at 6"))
	}
	env := groupEnvelope()

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), env))

	require.Equal(t, 1, p.conversations.refreshed)
	require.Equal(t, 1, p.groups.rejoins)
	require.Equal(t, []time.Time{p.clock.Now()}, p.system.notices)
}

func TestWrongEpochSkipsRejoinWhenCurrent(t *testing.T) {
	p := newPipeline()
	p.groups.outOfSync = false
	p.groups.decrypt = func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
		return nil, NewCryptoError(ErrCodeWrongEpoch, errors.New("epoch 4, message at 6"))
	}

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), groupEnvelope()))

	require.Equal(t, 1, p.conversations.refreshed)
	require.Zero(t, p.groups.rejoins)
	require.Empty(t, p.system.notices)
}

func TestGroupProtocolSignalIsAbsorbed(t *testing.T) {
	p := newPipeline()
	p.groups.decrypt = func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
		return &GroupDecryptResult{}, nil
	}

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), groupEnvelope()))
	require.Empty(t, p.store.messages)
}

func TestGroupCommitDelayAndPayloadBothHonored(t *testing.T) {
	p := newPipeline()
	id := ids.NewID()
	delay := uint64(30)
	p.groups.decrypt = func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
		return &GroupDecryptResult{
			Message:        encodePlaintext(id, &message.Text{Value: "from group"}),
			SenderClientID: "device-7",
			CommitDelaySec: &delay,
		}, nil
	}

	require.Nil(t, p.manager.HandleEnvelope(context.Background(), groupEnvelope()))

	require.Len(t, p.scheduler.commits, 1)
	require.Equal(t, GroupID("group-1"), p.scheduler.commits[0].groupID)
	require.Equal(t, p.clock.Now().Add(30*time.Second), p.scheduler.commits[0].fireAt)

	msg, ok, err := p.store.MessageByID(context.Background(), testConv, id)
	require.Nil(t, err)
	require.True(t, ok)
	require.Equal(t, message.ClientID("device-7"), msg.SenderClientID)
	require.Equal(t, &message.Text{Value: "from group"}, msg.Content)
}

func TestGroupBatchIsolatesFailures(t *testing.T) {
	p := newPipeline()
	goodID := ids.NewID()
	calls := 0
	p.groups.decrypt = func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
		calls++
		switch calls {
		case 1:
			return nil, NewCryptoError(ErrCodeDuplicateMessage, errors.New("seen before"))
		case 2:
			return &GroupDecryptResult{Message: encodePlaintext(goodID, &message.Text{Value: "second"})}, nil
		default:
			return nil, NewCryptoError(ErrCodeInvalidMessage, errors.New("garbage"))
		}
	}
	batch := &GroupEnvelopeBatch{
		ConversationID: testConv,
		Envelopes:      []*InboundEnvelope{groupEnvelope(), groupEnvelope(), groupEnvelope()},
	}

	require.Nil(t, p.manager.HandleGroupBatch(context.Background(), batch))

	require.Equal(t, 3, calls)
	_, ok, err := p.store.MessageByID(context.Background(), testConv, goodID)
	require.Nil(t, err)
	require.True(t, ok)
	// duplicate produced nothing, the garbage one a placeholder
	require.Len(t, p.store.messages, 2)
	_, ok, err = p.store.MessageByID(context.Background(), testConv, batch.Envelopes[2].ID)
	require.Nil(t, err)
	require.True(t, ok)
}

func TestGroupBatchUnknownSubConversationIsNoop(t *testing.T) {
	p := newPipeline()
	p.groups.decrypt = func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
		t.Fatal("decrypt must not be called")
		return nil, nil
	}
	batch := &GroupEnvelopeBatch{
		ConversationID:    testConv,
		SubConversationID: "call-123",
		Envelopes:         []*InboundEnvelope{groupEnvelope()},
	}

	require.Nil(t, p.manager.HandleGroupBatch(context.Background(), batch))
	require.Empty(t, p.store.messages)
}

func TestGroupBatchUsesSubConversationGroup(t *testing.T) {
	p := newPipeline()
	p.conversations.subGroups[string(testConv)+"/call-123"] = "sub-group-9"
	var seen GroupID
	p.groups.decrypt = func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
		seen = groupID
		return &GroupDecryptResult{}, nil
	}
	batch := &GroupEnvelopeBatch{
		ConversationID:    testConv,
		SubConversationID: "call-123",
		Envelopes:         []*InboundEnvelope{groupEnvelope()},
	}

	require.Nil(t, p.manager.HandleGroupBatch(context.Background(), batch))
	require.Equal(t, GroupID("sub-group-9"), seen)
}

func TestUnknownProtocolTagFails(t *testing.T) {
	p := newPipeline()
	env := pairwiseEnvelope([]byte("x"))
	env.Protocol = Protocol(42)
	require.Error(t, p.manager.HandleEnvelope(context.Background(), env))
}
