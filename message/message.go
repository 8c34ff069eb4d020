package message

import (
	"fmt"
	"time"

	"github.com/wireapp/kalium-sub009/ids"
)

type StatusKind int

const (
	StatusPending StatusKind = iota
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed
	StatusFailedRemotely
)

// Failures share the sent rank: a message reported sent can still fail, but a
// delivery or read confirmation is final.
var statusRank = map[StatusKind]int{
	StatusPending:        0,
	StatusSent:           1,
	StatusFailed:         1,
	StatusFailedRemotely: 1,
	StatusDelivered:      2,
	StatusRead:           3,
}

type Status struct {
	Kind      StatusKind
	ReadCount uint64
}

// Advance moves the status forward. Regressions are refused, the read count only
// ever grows. Use Correct for an explicit override.
func (s Status) Advance(next Status) (Status, error) {
	if statusRank[next.Kind] < statusRank[s.Kind] {
		return s, fmt.Errorf("message: status cannot regress from %d to %d", s.Kind, next.Kind)
	}
	if next.Kind == StatusRead && s.Kind == StatusRead && next.ReadCount < s.ReadCount {
		next.ReadCount = s.ReadCount
	}
	return next, nil
}

func (s Status) Correct(next Status) Status {
	return next
}

type EditStatus struct {
	Edited     bool
	LastEditAt time.Time
}

// Apply records an edit instant. The edit timestamp is a high-water mark, a stale
// edit reports false and leaves the status untouched.
func (e EditStatus) Apply(at time.Time) (EditStatus, bool) {
	if e.Edited && !at.After(e.LastEditAt) {
		return e, false
	}
	return EditStatus{Edited: true, LastEditAt: at}, true
}

type SelfDeletionStatus struct {
	Started bool
	EndAt   time.Time
}

type ExpirationData struct {
	ExpireAfter  time.Duration
	SelfDeletion SelfDeletionStatus
}

// StartSelfDeletion arms the countdown. The end date must be strictly in the future.
func (e *ExpirationData) StartSelfDeletion(now time.Time) error {
	if e.SelfDeletion.Started {
		return nil
	}
	end := now.Add(e.ExpireAfter)
	if !end.After(now) {
		return fmt.Errorf("message: self-deletion end date %s is not in the future", end)
	}
	e.SelfDeletion = SelfDeletionStatus{Started: true, EndAt: end}
	return nil
}

type DeliveryStatus struct {
	Complete        bool
	FailedToConfirm []UserID
	FailedToSend    []UserID
}

func CompleteDelivery() DeliveryStatus {
	return DeliveryStatus{Complete: true}
}

func PartialDelivery(failedToConfirm, failedToSend []UserID) DeliveryStatus {
	return DeliveryStatus{FailedToConfirm: failedToConfirm, FailedToSend: failedToSend}
}

type Message struct {
	ID             ids.ID
	ConversationID ConversationID
	SenderUserID   UserID
	SenderClientID ClientID
	Timestamp      time.Time
	Content        Content
	Status         Status
	EditStatus     EditStatus
	Expiration     *ExpirationData
	Delivery       DeliveryStatus
	Visibility     Visibility
}

// NewInbound builds a message for content that arrived from the network. Such messages
// start out as sent with their default visibility.
func NewInbound(id ids.ID, conversationID ConversationID, senderUserID UserID, senderClientID ClientID, ts time.Time, content Content) *Message {
	return &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderUserID:   senderUserID,
		SenderClientID: senderClientID,
		Timestamp:      ts,
		Content:        content,
		Status:         Status{Kind: StatusSent},
		Delivery:       CompleteDelivery(),
		Visibility:     DefaultVisibility(content),
	}
}
