// Package store persists messages, system markers and conversation protocol metadata in
// the local SQLCipher database. It backs the reception pipeline's MessageStore,
// SystemMessageInserter and ConversationStore contracts; every write is idempotent under
// retry with the same message id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wireapp/kalium-sub009/config"
	"github.com/wireapp/kalium-sub009/ids"
	"github.com/wireapp/kalium-sub009/internal/db"
	"github.com/wireapp/kalium-sub009/message"
	"github.com/wireapp/kalium-sub009/reception"
	"go.uber.org/zap"
)

type Store struct {
	log *zap.SugaredLogger
	db  *db.Database
}

func NewStore(c *config.Config, d *db.Database) (*Store, error) {
	if err := d.Migrate("_store", migrations); err != nil {
		return nil, fmt.Errorf("store: error migrating: %w", err)
	}
	return &Store{
		log: c.Logger("store"),
		db:  d,
	}, nil
}

func (s *Store) MessageByID(ctx context.Context, conversationID message.ConversationID, id ids.ID) (*message.Message, bool, error) {
	var msg *message.Message
	var found bool
	if err := s.db.Run(fmt.Sprintf("getting message %s", id), func() error {
		row := &messageRow{}
		if err := s.db.Tx.Get(row, "select * from _messages where conversation_id = $1 and id = $2", string(conversationID), id[:]); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		m, err := row.toMessage()
		if err != nil {
			return err
		}
		msg = m
		found = true
		return nil
	}); err != nil {
		return nil, false, err
	}
	return msg, found, nil
}

func (s *Store) Persist(ctx context.Context, msg *message.Message) error {
	row, err := rowFromMessage(msg)
	if err != nil {
		return fmt.Errorf("store: error encoding message %s: %w", msg.ID, err)
	}
	return s.db.Run(fmt.Sprintf("persisting message %s", msg.ID), func() error {
		if _, err := s.db.Tx.NamedExec(`
			INSERT INTO _messages
				(id, conversation_id, sender_user_id, sender_client_id, ts_ms, kind, content, visibility, status_kind, read_count, edited, last_edit_ms, expire_after_ms, self_delete_started, self_delete_end_ms, delivery_complete, failed_recipients, deleted)
			VALUES
				(:id, :conversation_id, :sender_user_id, :sender_client_id, :ts_ms, :kind, :content, :visibility, :status_kind, :read_count, :edited, :last_edit_ms, :expire_after_ms, :self_delete_started, :self_delete_end_ms, :delivery_complete, :failed_recipients, :deleted)
			ON CONFLICT (conversation_id, id) DO UPDATE SET
				kind=:kind, content=:content, visibility=:visibility, status_kind=:status_kind, read_count=:read_count,
				edited=:edited, last_edit_ms=:last_edit_ms, expire_after_ms=:expire_after_ms,
				self_delete_started=:self_delete_started, self_delete_end_ms=:self_delete_end_ms,
				delivery_complete=:delivery_complete, failed_recipients=:failed_recipients
		`, row); err != nil {
			return fmt.Errorf("store: error upserting message %s: %w", msg.ID, err)
		}
		return nil
	})
}

// MarkDeleted hides a message and replaces nothing; the row remains as a tombstone.
func (s *Store) MarkDeleted(ctx context.Context, conversationID message.ConversationID, id ids.ID) error {
	return s.db.Run(fmt.Sprintf("marking message %s deleted", id), func() error {
		if _, err := s.db.Tx.Exec("UPDATE _messages SET deleted = 1, visibility = $1 WHERE conversation_id = $2 AND id = $3",
			int(message.VisibilityHidden), string(conversationID), id[:]); err != nil {
			return fmt.Errorf("store: error marking message %s deleted: %w", id, err)
		}
		return nil
	})
}

// Delete removes the message row permanently, including any local asset payload held in
// its content column.
func (s *Store) Delete(ctx context.Context, conversationID message.ConversationID, id ids.ID) error {
	return s.db.Run(fmt.Sprintf("deleting message %s", id), func() error {
		if _, err := s.db.Tx.Exec("DELETE FROM _messages WHERE conversation_id = $1 AND id = $2", string(conversationID), id[:]); err != nil {
			return fmt.Errorf("store: error deleting message %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) InsertHistoryLossNotice(ctx context.Context, conversationID message.ConversationID, at time.Time) error {
	return s.db.Run(fmt.Sprintf("inserting history loss notice for %s", conversationID), func() error {
		id := ids.NewID()
		row := &systemMessageRow{ID: id[:], ConversationID: string(conversationID), Kind: systemMessageHistoryLoss, TsMs: at.UnixMilli()}
		if _, err := s.db.Tx.NamedExec("INSERT INTO _system_messages (id, conversation_id, kind, ts_ms) VALUES (:id, :conversation_id, :kind, :ts_ms)", row); err != nil {
			return fmt.Errorf("store: error inserting system message: %w", err)
		}
		return nil
	})
}

// HistoryLossNotices reports the history-loss markers recorded for a conversation in
// insertion order.
func (s *Store) HistoryLossNotices(ctx context.Context, conversationID message.ConversationID) ([]time.Time, error) {
	var notices []time.Time
	if err := s.db.Run(fmt.Sprintf("listing history loss notices for %s", conversationID), func() error {
		rows := []*systemMessageRow{}
		if err := s.db.Tx.Select(&rows, "select * from _system_messages where conversation_id = $1 and kind = $2 order by ts_ms", string(conversationID), systemMessageHistoryLoss); err != nil {
			return err
		}
		for _, r := range rows {
			notices = append(notices, time.UnixMilli(r.TsMs).UTC())
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return notices, nil
}

func (s *Store) ProtocolInfo(ctx context.Context, id message.ConversationID) (*reception.ProtocolInfo, error) {
	return s.protocolInfo(id)
}

// RefreshProtocolInfo re-reads the conversation row. In a full client this consults the
// backend before reading; locally the row is the authoritative source.
func (s *Store) RefreshProtocolInfo(ctx context.Context, id message.ConversationID) (*reception.ProtocolInfo, error) {
	return s.protocolInfo(id)
}

func (s *Store) protocolInfo(id message.ConversationID) (*reception.ProtocolInfo, error) {
	var info *reception.ProtocolInfo
	if err := s.db.Run(fmt.Sprintf("getting protocol info for %s", id), func() error {
		row := &conversationRow{}
		if err := s.db.Tx.Get(row, "select * from _conversations where id = $1", string(id)); err != nil {
			return err
		}
		info = &reception.ProtocolInfo{
			Protocol: reception.Protocol(row.Protocol),
			GroupID:  reception.GroupID(row.GroupID),
			Epoch:    row.Epoch,
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("store: error getting protocol info for %s: %w", id, err)
	}
	return info, nil
}

func (s *Store) SubConversationGroupID(ctx context.Context, id message.ConversationID, subID string) (reception.GroupID, bool, error) {
	var groupID reception.GroupID
	var found bool
	if err := s.db.Run(fmt.Sprintf("getting sub-conversation %s/%s", id, subID), func() error {
		var gid string
		if err := s.db.Tx.Get(&gid, "select group_id from _sub_conversations where conversation_id = $1 and sub_id = $2", string(id), subID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		groupID = reception.GroupID(gid)
		found = true
		return nil
	}); err != nil {
		return "", false, err
	}
	return groupID, found, nil
}

func (s *Store) UpsertConversation(ctx context.Context, id message.ConversationID, info *reception.ProtocolInfo) error {
	return s.db.Run(fmt.Sprintf("upserting conversation %s", id), func() error {
		row := &conversationRow{ID: string(id), Protocol: int(info.Protocol), GroupID: string(info.GroupID), Epoch: info.Epoch}
		if _, err := s.db.Tx.NamedExec(`
			INSERT INTO _conversations (id, protocol, group_id, epoch) VALUES (:id, :protocol, :group_id, :epoch)
			ON CONFLICT (id) DO UPDATE SET protocol=:protocol, group_id=:group_id, epoch=:epoch
		`, row); err != nil {
			return fmt.Errorf("store: error upserting conversation %s: %w", id, err)
		}
		return nil
	})
}

func (s *Store) UpsertSubConversation(ctx context.Context, id message.ConversationID, subID string, groupID reception.GroupID) error {
	return s.db.Run(fmt.Sprintf("upserting sub-conversation %s/%s", id, subID), func() error {
		if _, err := s.db.Tx.Exec(`
			INSERT INTO _sub_conversations (conversation_id, sub_id, group_id) VALUES ($1, $2, $3)
			ON CONFLICT (conversation_id, sub_id) DO UPDATE SET group_id=$3
		`, string(id), subID, string(groupID)); err != nil {
			return fmt.Errorf("store: error upserting sub-conversation %s/%s: %w", id, subID, err)
		}
		return nil
	})
}

func (s *Store) DeleteSubConversation(ctx context.Context, id message.ConversationID, subID string) error {
	return s.db.Run(fmt.Sprintf("deleting sub-conversation %s/%s", id, subID), func() error {
		if _, err := s.db.Tx.Exec("DELETE FROM _sub_conversations WHERE conversation_id = $1 AND sub_id = $2", string(id), subID); err != nil {
			return fmt.Errorf("store: error deleting sub-conversation %s/%s: %w", id, subID, err)
		}
		return nil
	})
}
