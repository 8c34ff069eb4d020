package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wireapp/kalium-sub009/ids"
	"github.com/wireapp/kalium-sub009/message"
	"github.com/wireapp/kalium-sub009/migration"
)

const systemMessageHistoryLoss = "history_loss"

var migrations = []*migration.Migration{
	{
		Name: "Create initial tables",
		Func: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE _messages (
					id BLOB NOT NULL,
					conversation_id TEXT NOT NULL,
					sender_user_id TEXT NOT NULL,
					sender_client_id TEXT NOT NULL,
					ts_ms INT8 NOT NULL,
					kind TEXT NOT NULL,
					content BLOB NOT NULL,
					visibility INTEGER NOT NULL,
					status_kind INTEGER NOT NULL,
					read_count INT8 NOT NULL DEFAULT 0,
					edited INTEGER NOT NULL DEFAULT 0,
					last_edit_ms INT8 NOT NULL DEFAULT 0,
					expire_after_ms INT8 NOT NULL DEFAULT 0,
					self_delete_started INTEGER NOT NULL DEFAULT 0,
					self_delete_end_ms INT8 NOT NULL DEFAULT 0,
					delivery_complete INTEGER NOT NULL DEFAULT 1,
					failed_recipients BLOB,
					deleted INTEGER NOT NULL DEFAULT 0,
					PRIMARY KEY (conversation_id, id)
				);

				CREATE TABLE _system_messages (
					id BLOB NOT NULL PRIMARY KEY,
					conversation_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					ts_ms INT8 NOT NULL
				);
				CREATE INDEX system_messages_conversation_id on _system_messages (conversation_id);

				CREATE TABLE _conversations (
					id TEXT NOT NULL PRIMARY KEY,
					protocol INTEGER NOT NULL,
					group_id TEXT NOT NULL DEFAULT '',
					epoch INT8 NOT NULL DEFAULT 0
				);

				CREATE TABLE _sub_conversations (
					conversation_id TEXT NOT NULL,
					sub_id TEXT NOT NULL,
					group_id TEXT NOT NULL,
					PRIMARY KEY (conversation_id, sub_id)
				);
				`)
			return err
		},
	},
}

type messageRow struct {
	ID                []byte `db:"id"`
	ConversationID    string `db:"conversation_id"`
	SenderUserID      string `db:"sender_user_id"`
	SenderClientID    string `db:"sender_client_id"`
	TsMs              int64  `db:"ts_ms"`
	Kind              string `db:"kind"`
	Content           []byte `db:"content"`
	Visibility        int    `db:"visibility"`
	StatusKind        int    `db:"status_kind"`
	ReadCount         uint64 `db:"read_count"`
	Edited            bool   `db:"edited"`
	LastEditMs        int64  `db:"last_edit_ms"`
	ExpireAfterMs     int64  `db:"expire_after_ms"`
	SelfDeleteStarted bool   `db:"self_delete_started"`
	SelfDeleteEndMs   int64  `db:"self_delete_end_ms"`
	DeliveryComplete  bool   `db:"delivery_complete"`
	FailedRecipients  []byte `db:"failed_recipients"`
	Deleted           bool   `db:"deleted"`
}

type systemMessageRow struct {
	ID             []byte `db:"id"`
	ConversationID string `db:"conversation_id"`
	Kind           string `db:"kind"`
	TsMs           int64  `db:"ts_ms"`
}

type conversationRow struct {
	ID       string `db:"id"`
	Protocol int    `db:"protocol"`
	GroupID  string `db:"group_id"`
	Epoch    uint64 `db:"epoch"`
}

type failedRecipients struct {
	FailedToConfirm []message.UserID `json:"failed_to_confirm,omitempty"`
	FailedToSend    []message.UserID `json:"failed_to_send,omitempty"`
}

func rowFromMessage(msg *message.Message) (*messageRow, error) {
	content, err := message.EncodeContent(msg.Content)
	if err != nil {
		return nil, err
	}

	row := &messageRow{
		ID:               msg.ID[:],
		ConversationID:   string(msg.ConversationID),
		SenderUserID:     string(msg.SenderUserID),
		SenderClientID:   string(msg.SenderClientID),
		TsMs:             msg.Timestamp.UnixMilli(),
		Kind:             message.KindOf(msg.Content),
		Content:          content,
		Visibility:       int(msg.Visibility),
		StatusKind:       int(msg.Status.Kind),
		ReadCount:        msg.Status.ReadCount,
		Edited:           msg.EditStatus.Edited,
		DeliveryComplete: msg.Delivery.Complete,
	}
	if msg.EditStatus.Edited {
		row.LastEditMs = msg.EditStatus.LastEditAt.UnixMilli()
	}
	if msg.Expiration != nil {
		row.ExpireAfterMs = msg.Expiration.ExpireAfter.Milliseconds()
		row.SelfDeleteStarted = msg.Expiration.SelfDeletion.Started
		if msg.Expiration.SelfDeletion.Started {
			row.SelfDeleteEndMs = msg.Expiration.SelfDeletion.EndAt.UnixMilli()
		}
	}
	if !msg.Delivery.Complete {
		fr, err := json.Marshal(&failedRecipients{
			FailedToConfirm: msg.Delivery.FailedToConfirm,
			FailedToSend:    msg.Delivery.FailedToSend,
		})
		if err != nil {
			return nil, err
		}
		row.FailedRecipients = fr
	}
	return row, nil
}

func (r *messageRow) toMessage() (*message.Message, error) {
	content, err := message.DecodeContent(r.Kind, r.Content)
	if err != nil {
		return nil, fmt.Errorf("store: error decoding content for %x: %w", r.ID, err)
	}

	msg := &message.Message{
		ID:             ids.IDFromBytes(r.ID),
		ConversationID: message.ConversationID(r.ConversationID),
		SenderUserID:   message.UserID(r.SenderUserID),
		SenderClientID: message.ClientID(r.SenderClientID),
		Timestamp:      time.UnixMilli(r.TsMs).UTC(),
		Content:        content,
		Status:         message.Status{Kind: message.StatusKind(r.StatusKind), ReadCount: r.ReadCount},
		Visibility:     message.Visibility(r.Visibility),
		Delivery:       message.CompleteDelivery(),
	}
	if r.Edited {
		msg.EditStatus = message.EditStatus{Edited: true, LastEditAt: time.UnixMilli(r.LastEditMs).UTC()}
	}
	if r.ExpireAfterMs > 0 {
		exp := &message.ExpirationData{ExpireAfter: time.Duration(r.ExpireAfterMs) * time.Millisecond}
		if r.SelfDeleteStarted {
			exp.SelfDeletion = message.SelfDeletionStatus{Started: true, EndAt: time.UnixMilli(r.SelfDeleteEndMs).UTC()}
		}
		msg.Expiration = exp
	}
	if !r.DeliveryComplete {
		var fr failedRecipients
		if len(r.FailedRecipients) > 0 {
			if err := json.Unmarshal(r.FailedRecipients, &fr); err != nil {
				return nil, fmt.Errorf("store: error decoding failed recipients for %x: %w", r.ID, err)
			}
		}
		msg.Delivery = message.PartialDelivery(fr.FailedToConfirm, fr.FailedToSend)
	}
	return msg, nil
}
