package message

import (
	"encoding/json"
	"fmt"
)

// Content kind tags used when serializing content for storage or the default
// plaintext codec.
const (
	KindText             = "text"
	KindAsset            = "asset"
	KindKnock            = "knock"
	KindRestrictedAsset  = "restricted_asset"
	KindFailedDecryption = "failed_decryption"
	KindLocation         = "location"
	KindComposite        = "composite"
	KindUnknown          = "unknown"
	KindAvailability     = "availability"
	KindCalling          = "calling"
	KindReaction         = "reaction"
	KindEdit             = "edit"
	KindDelete           = "delete"
	KindDeleteForMe      = "delete_for_me"
	KindLastRead         = "last_read"
	KindReceipt          = "receipt"
	KindCleared          = "cleared"
	KindDataTransfer     = "data_transfer"
	KindInCallEmoji      = "in_call_emoji"
	KindIgnored          = "ignored"
)

func KindOf(c Content) string {
	switch c.(type) {
	case *Text:
		return KindText
	case *Asset:
		return KindAsset
	case *Knock:
		return KindKnock
	case *RestrictedAsset:
		return KindRestrictedAsset
	case *FailedDecryption:
		return KindFailedDecryption
	case *Location:
		return KindLocation
	case *Composite:
		return KindComposite
	case *Unknown:
		return KindUnknown
	case *Availability:
		return KindAvailability
	case *Calling:
		return KindCalling
	case *Reaction:
		return KindReaction
	case *Edit:
		return KindEdit
	case *Delete:
		return KindDelete
	case *DeleteForMe:
		return KindDeleteForMe
	case *LastRead:
		return KindLastRead
	case *Receipt:
		return KindReceipt
	case *Cleared:
		return KindCleared
	case *DataTransfer:
		return KindDataTransfer
	case *InCallEmoji:
		return KindInCallEmoji
	case *Ignored:
		return KindIgnored
	default:
		return ""
	}
}

func emptyContent(kind string) Content {
	switch kind {
	case KindText:
		return &Text{}
	case KindAsset:
		return &Asset{}
	case KindKnock:
		return &Knock{}
	case KindRestrictedAsset:
		return &RestrictedAsset{}
	case KindFailedDecryption:
		return &FailedDecryption{}
	case KindLocation:
		return &Location{}
	case KindComposite:
		return &Composite{}
	case KindUnknown:
		return &Unknown{}
	case KindAvailability:
		return &Availability{}
	case KindCalling:
		return &Calling{}
	case KindReaction:
		return &Reaction{}
	case KindEdit:
		return &Edit{}
	case KindDelete:
		return &Delete{}
	case KindDeleteForMe:
		return &DeleteForMe{}
	case KindLastRead:
		return &LastRead{}
	case KindReceipt:
		return &Receipt{}
	case KindCleared:
		return &Cleared{}
	case KindDataTransfer:
		return &DataTransfer{}
	case KindInCallEmoji:
		return &InCallEmoji{}
	case KindIgnored:
		return &Ignored{}
	default:
		return nil
	}
}

func EncodeContent(c Content) ([]byte, error) {
	kind := KindOf(c)
	if kind == "" {
		return nil, fmt.Errorf("message: cannot encode content of type %T", c)
	}
	return json.Marshal(c)
}

func DecodeContent(kind string, b []byte) (Content, error) {
	c := emptyContent(kind)
	if c == nil {
		// an unrecognized kind still yields a routable message
		return &Unknown{TypeName: kind, EncodedData: b}, nil
	}
	if err := json.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("message: error decoding %s content: %w", kind, err)
	}
	return c, nil
}
