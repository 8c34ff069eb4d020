package reception

import (
	"context"

	"github.com/wireapp/kalium-sub009/clock"
	"github.com/wireapp/kalium-sub009/config"
	"github.com/wireapp/kalium-sub009/message"
	"go.uber.org/zap"
)

// Router receives successfully unpacked, readable content and decides persistence
// visibility, resolves two-phase asset delivery and fans out to per-content handlers.
// Every handler is idempotent with respect to reprocessing the same message id.
type Router struct {
	config        *config.Config
	log           *zap.SugaredLogger
	clock         clock.Clock
	self          message.UserID
	store         MessageStore
	presence      PresenceSink
	calls         CallRelay
	conversations ConversationSink
}

func NewRouter(c *config.Config, cl clock.Clock, self message.UserID, store MessageStore, presence PresenceSink, calls CallRelay, conversations ConversationSink) *Router {
	return &Router{
		config:        c,
		log:           c.Logger("reception/router"),
		clock:         cl,
		self:          self,
		store:         store,
		presence:      presence,
		calls:         calls,
		conversations: conversations,
	}
}

func (r *Router) Route(ctx context.Context, msg *message.Message) error {
	switch content := msg.Content.(type) {
	case *message.Availability:
		return r.presence.SetAvailability(ctx, msg.SenderUserID, content.Status)
	case *message.Ignored:
		r.log.Debugf("absorbing ignored content %q in conversation %s", content.TypeName, msg.ConversationID)
		return nil
	case *message.DataTransfer:
		r.log.Debugf("absorbing data transfer %s in conversation %s", content.TrackingID, msg.ConversationID)
		return nil
	case *message.InCallEmoji:
		r.log.Debugf("absorbing in-call emoji in conversation %s", msg.ConversationID)
		return nil
	case *message.Calling:
		return r.calls.OnCallingMessage(ctx, msg, content.Payload)
	case *message.LastRead:
		return r.conversations.SetLastRead(ctx, msg.ConversationID, content.At)
	case *message.Cleared:
		return r.conversations.SetCleared(ctx, msg.ConversationID, content.At)
	case *message.Receipt:
		return r.handleReceipt(ctx, msg, content)
	case *message.Reaction:
		return r.handleReaction(ctx, msg, content)
	case *message.Edit:
		return r.handleEdit(ctx, msg, content)
	case *message.Delete:
		return r.handleDelete(ctx, msg, content)
	case *message.DeleteForMe:
		return r.handleDeleteForMe(ctx, msg, content)
	case *message.Asset:
		return r.handleAsset(ctx, msg, content)
	default:
		// Text, Knock, Location, Composite, RestrictedAsset, FailedDecryption, Unknown
		return r.persistNew(ctx, msg)
	}
}

// persistNew stores a message unless one with the same id already exists, making
// reprocessing of the same envelope a no-op.
func (r *Router) persistNew(ctx context.Context, msg *message.Message) error {
	_, ok, err := r.store.MessageByID(ctx, msg.ConversationID, msg.ID)
	if err != nil {
		return err
	}
	if ok {
		r.log.Debugf("message %s already persisted, skipping", msg.ID)
		return nil
	}
	return r.store.Persist(ctx, msg)
}

// handleAsset applies the file-sharing policy gate, then the two-phase merge: a first
// envelope persists a preview, a later same-id envelope from the same sender completes
// it with the remote keys and makes it visible.
func (r *Router) handleAsset(ctx context.Context, msg *message.Message, asset *message.Asset) error {
	if !r.config.FileSharingEnabled {
		msg.Content = &message.RestrictedAsset{
			Name:      asset.Name,
			MimeType:  asset.MimeType,
			SizeBytes: asset.SizeBytes,
		}
		msg.Visibility = message.VisibilityVisible
		return r.persistNew(ctx, msg)
	}

	existing, ok, err := r.store.MessageByID(ctx, msg.ConversationID, msg.ID)
	if err != nil {
		return err
	}
	if !ok {
		if !asset.IsDataComplete() && !asset.HasValidImage() {
			msg.Visibility = message.VisibilityHidden
		} else {
			msg.Visibility = message.VisibilityVisible
		}
		return r.store.Persist(ctx, msg)
	}

	// Refuse to let a third party complete someone else's asset.
	if existing.SenderUserID != msg.SenderUserID {
		r.log.Warnf("rejecting asset update for %s: sender %s does not match original sender %s",
			msg.ID, msg.SenderUserID, existing.SenderUserID)
		return nil
	}
	// Only an envelope actually carrying the remote keys completes the asset. A replayed
	// preview must neither reveal the message nor clobber keys from an earlier completion.
	if len(asset.Remote.OTRKey) == 0 {
		r.log.Debugf("asset update for %s carries no remote keys, skipping", msg.ID)
		return nil
	}
	prior, ok := existing.Content.(*message.Asset)
	if !ok {
		r.log.Warnf("rejecting asset update for %s: existing message is %T", msg.ID, existing.Content)
		return nil
	}

	prior.Remote = asset.Remote
	existing.Visibility = message.VisibilityVisible
	return r.store.Persist(ctx, existing)
}

func (r *Router) handleDelete(ctx context.Context, msg *message.Message, del *message.Delete) error {
	orig, ok, err := r.store.MessageByID(ctx, msg.ConversationID, del.TargetID)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Debugf("delete for unknown message %s in conversation %s", del.TargetID, msg.ConversationID)
		return nil
	}

	selfDeleting := orig.Expiration != nil
	if msg.SenderUserID == orig.SenderUserID || selfDeleting {
		return r.store.Delete(ctx, msg.ConversationID, del.TargetID)
	}
	r.log.Warnf("delete request for %s from %s does not match original sender %s, hiding instead",
		del.TargetID, msg.SenderUserID, orig.SenderUserID)
	return r.store.MarkDeleted(ctx, msg.ConversationID, del.TargetID)
}

// handleDeleteForMe removes a message locally. Only requests authored by this user's own
// other devices are honored.
func (r *Router) handleDeleteForMe(ctx context.Context, msg *message.Message, del *message.DeleteForMe) error {
	if msg.SenderUserID != r.self {
		r.log.Warnf("delete-for-me from foreign user %s, ignoring", msg.SenderUserID)
		return nil
	}
	conversationID := del.ConversationID
	if conversationID == "" {
		conversationID = msg.ConversationID
	}
	return r.store.Delete(ctx, conversationID, del.TargetID)
}

func (r *Router) handleEdit(ctx context.Context, msg *message.Message, edit *message.Edit) error {
	orig, ok, err := r.store.MessageByID(ctx, msg.ConversationID, edit.TargetID)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Debugf("edit for unknown message %s in conversation %s", edit.TargetID, msg.ConversationID)
		return nil
	}
	if orig.SenderUserID != msg.SenderUserID {
		r.log.Warnf("edit for %s from %s does not match original sender %s, ignoring",
			edit.TargetID, msg.SenderUserID, orig.SenderUserID)
		return nil
	}

	updated, applied := orig.EditStatus.Apply(msg.Timestamp)
	if !applied {
		r.log.Debugf("stale edit for message %s at %s, ignoring", edit.TargetID, msg.Timestamp)
		return nil
	}
	orig.EditStatus = updated
	orig.Content = &message.Text{Value: edit.NewText}
	return r.store.Persist(ctx, orig)
}

// handleReaction persists the reaction as a hidden message keyed by its own id, which
// keeps reprocessing idempotent without a dedicated reaction table.
func (r *Router) handleReaction(ctx context.Context, msg *message.Message, reaction *message.Reaction) error {
	_, ok, err := r.store.MessageByID(ctx, msg.ConversationID, reaction.TargetID)
	if err != nil {
		return err
	}
	if !ok {
		r.log.Debugf("reaction for unknown message %s in conversation %s", reaction.TargetID, msg.ConversationID)
		return nil
	}
	msg.Visibility = message.VisibilityHidden
	return r.persistNew(ctx, msg)
}

func (r *Router) handleReceipt(ctx context.Context, msg *message.Message, receipt *message.Receipt) error {
	for _, id := range receipt.MessageIDs {
		target, ok, err := r.store.MessageByID(ctx, msg.ConversationID, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		next := message.Status{Kind: message.StatusDelivered}
		if receipt.Type == message.ReceiptRead {
			next = message.Status{Kind: message.StatusRead, ReadCount: target.Status.ReadCount + 1}
		}
		advanced, err := target.Status.Advance(next)
		if err != nil {
			r.log.Debugf("skipping receipt for %s: %s", id, err)
			continue
		}
		target.Status = advanced

		if receipt.Type == message.ReceiptRead && target.Expiration != nil {
			if err := target.Expiration.StartSelfDeletion(r.clock.Now()); err != nil {
				r.log.Warnf("error starting self-deletion for %s: %s", id, err)
			}
		}
		if err := r.store.Persist(ctx, target); err != nil {
			return err
		}
	}
	return nil
}
