// Package reception implements the inbound event pipeline: it routes encrypted envelopes
// to the pairwise or group unpacker, classifies decryption failures into recovery actions,
// resynchronizes stale group epochs and hands verified content to the router.
package reception

import (
	"errors"
	"fmt"
	"time"

	"github.com/wireapp/kalium-sub009/ids"
	"github.com/wireapp/kalium-sub009/message"
)

type Protocol int

const (
	ProtocolPairwise Protocol = iota
	ProtocolGroup
)

// InboundEnvelope is one encrypted event as received from the transport. It is
// consumed exactly once by an unpacker.
type InboundEnvelope struct {
	ID             ids.ID
	ConversationID message.ConversationID
	SenderUserID   message.UserID
	SenderClientID message.ClientID
	Timestamp      time.Time
	Protocol       Protocol
	// Ciphertext is the transport base64 encoding of the encrypted payload.
	Ciphertext string
	// ExternalData carries the symmetrically-encrypted large-message payload when the
	// content is delivered via external-content indirection.
	ExternalData []byte
}

// GroupEnvelopeBatch is an ordered run of group-encrypted envelopes for one
// conversation, delivered by the transport as a single batch.
type GroupEnvelopeBatch struct {
	ConversationID    message.ConversationID
	SubConversationID string
	Envelopes         []*InboundEnvelope
}

// UnpackResult is what an unpacker produces: either readable application content or
// a pure protocol signal whose effect was already applied inside the engine call.
type UnpackResult interface {
	isUnpackResult()
}

type ApplicationMessage struct {
	MessageID      ids.ID
	ConversationID message.ConversationID
	SenderUserID   message.UserID
	SenderClientID message.ClientID
	Timestamp      time.Time
	Content        message.Content
}

type ProtocolSignal struct{}

func (*ApplicationMessage) isUnpackResult() {}
func (*ProtocolSignal) isUnpackResult()     {}

func (am *ApplicationMessage) toMessage() *message.Message {
	return message.NewInbound(am.MessageID, am.ConversationID, am.SenderUserID, am.SenderClientID, am.Timestamp, am.Content)
}

type ErrorCode int

const (
	// pairwise engine codes
	ErrCodeDuplicateMessage ErrorCode = iota + 1
	ErrCodeTooDistantFuture
	ErrCodeOutdatedMessage
	ErrCodeSessionNotFound
	ErrCodeStorageError
	ErrCodePrekeyNotFound
	ErrCodeLocalFilesNotFound
	ErrCodePanic
	ErrCodeRemoteIdentityChanged
	ErrCodeInvalidSignature
	ErrCodeInvalidMessage
	ErrCodeDecodeError
	ErrCodeIdentityError
	ErrCodeUnknown

	// group engine codes
	ErrCodeWrongEpoch
	ErrCodeBufferedFutureMessage
	ErrCodeSelfCommitIgnored
	ErrCodeUnmergedPendingGroup
	ErrCodeStaleProposal
	ErrCodeStaleCommit
	ErrCodeMessageEpochTooOld
)

// CryptoError is a typed decryption failure. Raw engine errors never travel through the
// pipeline, they are wrapped with a code and classified by the failure classifiers.
type CryptoError struct {
	Code  ErrorCode
	Cause error
}

func NewCryptoError(code ErrorCode, cause error) *CryptoError {
	return &CryptoError{Code: code, Cause: cause}
}

func (e *CryptoError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("reception: crypto error %d", e.Code)
	}
	return fmt.Sprintf("reception: crypto error %d: %s", e.Code, e.Cause)
}

func (e *CryptoError) Unwrap() error {
	return e.Cause
}

// asCryptoError pulls a typed crypto failure out of an error chain. Anything else is a
// transport or storage failure and must be propagated raw.
func asCryptoError(err error) (*CryptoError, bool) {
	var ce *CryptoError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
