package reception

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/wireapp/kalium-sub009/crypto"
	"go.uber.org/zap"
)

type pairwiseUnpacker struct {
	log      *zap.SugaredLogger
	sessions PairwiseSession
	codec    ContentCodec
}

func newPairwiseUnpacker(log *zap.SugaredLogger, sessions PairwiseSession, codec ContentCodec) *pairwiseUnpacker {
	return &pairwiseUnpacker{log: log, sessions: sessions, codec: codec}
}

func (u *pairwiseUnpacker) unpack(ctx context.Context, env *InboundEnvelope) (UnpackResult, error) {
	raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, NewCryptoError(ErrCodeDecodeError, fmt.Errorf("error decoding transport base64: %w", err))
	}

	plaintext, err := u.sessions.Decrypt(ctx, SessionID{UserID: env.SenderUserID, ClientID: env.SenderClientID}, raw)
	if err != nil {
		if _, ok := asCryptoError(err); ok {
			return nil, err
		}
		return nil, NewCryptoError(ErrCodeUnknown, err)
	}

	decoded, err := u.codec.Decode(plaintext)
	if err != nil {
		return nil, NewCryptoError(ErrCodeDecodeError, err)
	}

	if decoded.External != nil {
		decoded, err = u.unpackExternal(env, decoded.External)
		if err != nil {
			return nil, err
		}
	}

	return &ApplicationMessage{
		MessageID:      decoded.MessageID,
		ConversationID: env.ConversationID,
		SenderUserID:   env.SenderUserID,
		SenderClientID: env.SenderClientID,
		Timestamp:      env.Timestamp,
		Content:        decoded.Content,
	}, nil
}

// unpackExternal resolves external-content indirection: the envelope carried only a
// symmetric key, the real payload travels once in the side channel. A second level of
// indirection inside the decrypted payload is a protocol violation.
func (u *pairwiseUnpacker) unpackExternal(env *InboundEnvelope, ext *ExternalInstructions) (*DecodedEnvelope, error) {
	if len(env.ExternalData) == 0 {
		return nil, NewCryptoError(ErrCodeInvalidMessage, errors.New("external content instructions without side-channel payload"))
	}
	if len(ext.SHA256) > 0 {
		digest := sha256.Sum256(env.ExternalData)
		if !bytes.Equal(digest[:], ext.SHA256) {
			return nil, NewCryptoError(ErrCodeInvalidSignature, errors.New("external content digest mismatch"))
		}
	}

	plain, err := crypto.DecryptWithKey(ext.OTRKey, env.ExternalData, nil)
	if err != nil {
		return nil, NewCryptoError(ErrCodeInvalidMessage, fmt.Errorf("error decrypting external content: %w", err))
	}

	decoded, err := u.codec.Decode(plain)
	if err != nil {
		return nil, NewCryptoError(ErrCodeDecodeError, err)
	}
	if decoded.External != nil {
		return nil, NewCryptoError(ErrCodeInvalidMessage, errors.New("external content must not nest"))
	}
	return decoded, nil
}
