package reception

import (
	"context"
	"fmt"
	"time"

	"github.com/wireapp/kalium-sub009/ids"
	"github.com/wireapp/kalium-sub009/message"
)

// SessionID identifies a pairwise cryptographic session by sender user and device.
type SessionID struct {
	UserID   message.UserID
	ClientID message.ClientID
}

func (s SessionID) String() string {
	return fmt.Sprintf("%s_%s", s.UserID, s.ClientID)
}

// GroupID identifies the key tree of a group-protocol conversation.
type GroupID string

// PairwiseSession decrypts ratchet-encrypted payloads. Engine failures are reported as
// *CryptoError, anything else is a storage failure.
type PairwiseSession interface {
	Decrypt(ctx context.Context, id SessionID, ciphertext []byte) ([]byte, error)
	DiscardSession(ctx context.Context, id SessionID) error
}

type GroupDecryptResult struct {
	// Message holds the decrypted application payload, nil for pure control messages.
	Message        []byte
	SenderClientID message.ClientID
	// CommitDelaySec requests that a pending proposal be committed after this delay.
	CommitDelaySec *uint64
}

// GroupEngine is the group-protocol engine. A single DecryptMessage call may yield both
// an application payload and a commit delay.
type GroupEngine interface {
	DecryptMessage(ctx context.Context, groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error)
	IsGroupOutOfSync(ctx context.Context, groupID GroupID, epoch uint64) (bool, error)
	Rejoin(ctx context.Context, conversationID message.ConversationID) error
}

type ProtocolInfo struct {
	Protocol Protocol
	GroupID  GroupID
	Epoch    uint64
}

// ConversationStore resolves conversation protocol metadata. RefreshProtocolInfo re-fetches
// from the authoritative source; SubConversationGroupID reports ok=false for a sub-group
// that has already been removed.
type ConversationStore interface {
	ProtocolInfo(ctx context.Context, id message.ConversationID) (*ProtocolInfo, error)
	RefreshProtocolInfo(ctx context.Context, id message.ConversationID) (*ProtocolInfo, error)
	SubConversationGroupID(ctx context.Context, id message.ConversationID, subID string) (GroupID, bool, error)
}

type ProposalScheduler interface {
	ScheduleCommit(ctx context.Context, groupID GroupID, fireAt time.Time) error
}

// MessageStore is the persistence boundary. All operations are idempotent under retry
// with the same message id.
type MessageStore interface {
	MessageByID(ctx context.Context, conversationID message.ConversationID, id ids.ID) (*message.Message, bool, error)
	Persist(ctx context.Context, msg *message.Message) error
	MarkDeleted(ctx context.Context, conversationID message.ConversationID, id ids.ID) error
	Delete(ctx context.Context, conversationID message.ConversationID, id ids.ID) error
}

type SystemMessageInserter interface {
	InsertHistoryLossNotice(ctx context.Context, conversationID message.ConversationID, at time.Time) error
}

type PresenceSink interface {
	SetAvailability(ctx context.Context, userID message.UserID, status message.AvailabilityStatus) error
}

type CallRelay interface {
	OnCallingMessage(ctx context.Context, msg *message.Message, payload string) error
}

// ConversationSink receives conversation-scoped signaling state that is never persisted
// as a message.
type ConversationSink interface {
	SetLastRead(ctx context.Context, conversationID message.ConversationID, at time.Time) error
	SetCleared(ctx context.Context, conversationID message.ConversationID, at time.Time) error
}

// ExternalInstructions point at a symmetric key for an external-content payload instead
// of carrying inline content.
type ExternalInstructions struct {
	OTRKey []byte
	SHA256 []byte
}

type DecodedEnvelope struct {
	MessageID ids.ID
	Content   message.Content
	External  *ExternalInstructions
}

// ContentCodec decodes decrypted plaintext into typed content. The wire layout is
// externally defined; the default implementation lives in codec.go.
type ContentCodec interface {
	Decode(plaintext []byte) (*DecodedEnvelope, error)
}
