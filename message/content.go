// Package message defines the domain entities handled by the reception pipeline: decoded
// message content, the persisted message entity and its status state machines.
package message

import (
	"time"

	"github.com/wireapp/kalium-sub009/ids"
)

type (
	ConversationID string
	UserID         string
	ClientID       string
)

type Visibility int

const (
	VisibilityVisible Visibility = iota
	VisibilityHidden
)

// Content is a closed union. Regular content is persisted as a standalone message,
// signaling content only ever mutates other state.
type Content interface {
	isContent()
}

type Regular interface {
	Content
	isRegular()
}

type Signaling interface {
	Content
	isSignaling()
}

type Text struct {
	Value           string  `json:"value"`
	QuotedMessageID *ids.ID `json:"quoted_message_id,omitempty"`
}

type AssetRemoteData struct {
	OTRKey      []byte `json:"otr_key"`
	SHA256      []byte `json:"sha256"`
	AssetID     string `json:"asset_id"`
	AssetDomain string `json:"asset_domain"`
	AssetToken  string `json:"asset_token"`
}

type ImageMetadata struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Asset struct {
	Name      string          `json:"name"`
	MimeType  string          `json:"mime_type"`
	SizeBytes uint64          `json:"size_bytes"`
	Remote    AssetRemoteData `json:"remote"`
	Image     *ImageMetadata  `json:"image,omitempty"`
	// InlineData holds small assets delivered inside the envelope itself, in which
	// case no remote keys are ever required.
	InlineData []byte `json:"inline_data,omitempty"`
}

// IsDataComplete reports whether this asset can be fetched and decrypted, that is,
// it was delivered inline or carries an encryption key, a content hash and a remote id.
func (a *Asset) IsDataComplete() bool {
	if len(a.InlineData) > 0 {
		return true
	}
	return len(a.Remote.OTRKey) > 0 && len(a.Remote.SHA256) > 0 && a.Remote.AssetID != ""
}

func (a *Asset) HasValidImage() bool {
	return a.Image != nil && a.Image.Width > 0 && a.Image.Height > 0
}

type Knock struct {
	Hot bool `json:"hot"`
}

type RestrictedAsset struct {
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes uint64 `json:"size_bytes"`
}

type FailedDecryption struct {
	// EncodedData keeps the raw encrypted side-channel bytes for later forensic use.
	EncodedData []byte `json:"encoded_data,omitempty"`
	ErrorCode   int    `json:"error_code"`
	Resolved    bool   `json:"resolved"`
}

type Location struct {
	Latitude  float32 `json:"latitude"`
	Longitude float32 `json:"longitude"`
	Name      string  `json:"name"`
	Zoom      int     `json:"zoom"`
}

type Composite struct {
	Text         *Text    `json:"text,omitempty"`
	ButtonLabels []string `json:"button_labels,omitempty"`
}

type Unknown struct {
	TypeName    string `json:"type_name"`
	EncodedData []byte `json:"encoded_data,omitempty"`
	Hidden      bool   `json:"hidden"`
}

type AvailabilityStatus int

const (
	AvailabilityNone AvailabilityStatus = iota
	AvailabilityAvailable
	AvailabilityBusy
	AvailabilityAway
)

type Availability struct {
	Status AvailabilityStatus `json:"status"`
}

type Calling struct {
	Payload string `json:"payload"`
}

type Reaction struct {
	TargetID ids.ID   `json:"target_id"`
	Emoji    []string `json:"emoji"`
}

type Edit struct {
	TargetID ids.ID `json:"target_id"`
	NewText  string `json:"new_text"`
}

type Delete struct {
	TargetID ids.ID `json:"target_id"`
}

type DeleteForMe struct {
	TargetID       ids.ID         `json:"target_id"`
	ConversationID ConversationID `json:"conversation_id"`
}

type LastRead struct {
	At time.Time `json:"at"`
}

type ReceiptType int

const (
	ReceiptDelivered ReceiptType = iota
	ReceiptRead
)

type Receipt struct {
	Type       ReceiptType `json:"type"`
	MessageIDs []ids.ID    `json:"message_ids"`
}

type Cleared struct {
	At time.Time `json:"at"`
}

type DataTransfer struct {
	TrackingID ids.ID `json:"tracking_id"`
}

type InCallEmoji struct {
	Emoji []string `json:"emoji"`
}

type Ignored struct {
	TypeName string `json:"type_name"`
}

func (*Text) isContent()             {}
func (*Text) isRegular()             {}
func (*Asset) isContent()            {}
func (*Asset) isRegular()            {}
func (*Knock) isContent()            {}
func (*Knock) isRegular()            {}
func (*RestrictedAsset) isContent()  {}
func (*RestrictedAsset) isRegular()  {}
func (*FailedDecryption) isContent() {}
func (*FailedDecryption) isRegular() {}
func (*Location) isContent()         {}
func (*Location) isRegular()         {}
func (*Composite) isContent()        {}
func (*Composite) isRegular()        {}
func (*Unknown) isContent()          {}
func (*Unknown) isRegular()          {}

func (*Availability) isContent()   {}
func (*Availability) isSignaling() {}
func (*Calling) isContent()        {}
func (*Calling) isSignaling()      {}
func (*Reaction) isContent()       {}
func (*Reaction) isSignaling()     {}
func (*Edit) isContent()           {}
func (*Edit) isSignaling()         {}
func (*Delete) isContent()         {}
func (*Delete) isSignaling()       {}
func (*DeleteForMe) isContent()    {}
func (*DeleteForMe) isSignaling()  {}
func (*LastRead) isContent()       {}
func (*LastRead) isSignaling()     {}
func (*Receipt) isContent()        {}
func (*Receipt) isSignaling()      {}
func (*Cleared) isContent()        {}
func (*Cleared) isSignaling()      {}
func (*DataTransfer) isContent()   {}
func (*DataTransfer) isSignaling() {}
func (*InCallEmoji) isContent()    {}
func (*InCallEmoji) isSignaling()  {}
func (*Ignored) isContent()        {}
func (*Ignored) isSignaling()      {}

// DefaultVisibility decides whether content is shown in a conversation by default.
// Asset previews may override this at persistence time.
func DefaultVisibility(c Content) Visibility {
	switch v := c.(type) {
	case *Text, *Calling, *Asset, *Knock, *RestrictedAsset, *FailedDecryption, *Location, *Composite:
		return VisibilityVisible
	case *Unknown:
		if v.Hidden {
			return VisibilityHidden
		}
		return VisibilityVisible
	case *Delete, *DeleteForMe, *Edit, *Reaction, *LastRead, *Cleared, *Availability,
		*Receipt, *DataTransfer, *InCallEmoji, *Ignored:
		return VisibilityHidden
	default:
		return VisibilityHidden
	}
}
