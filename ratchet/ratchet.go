// Package ratchet implements the pairwise session engine on top of a double ratchet
// with SQLCipher-backed session state. It satisfies the reception pipeline's
// PairwiseSession contract, reporting failures as typed crypto errors.
package ratchet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kevinburke/nacl/scalarmult"
	"github.com/status-im/doubleratchet"
	"github.com/wireapp/kalium-sub009/config"
	"github.com/wireapp/kalium-sub009/crypto"
	"github.com/wireapp/kalium-sub009/internal/db"
	"github.com/wireapp/kalium-sub009/reception"
	"go.uber.org/zap"
)

type Engine struct {
	log    *zap.SugaredLogger
	config *config.Config
	db     *database
}

func NewEngine(c *config.Config, d *db.Database) (*Engine, error) {
	rd, err := newDatabase(d)
	if err != nil {
		return nil, fmt.Errorf("ratchet: error making engine: %w", err)
	}
	return &Engine{
		log:    c.Logger("ratchet/engine"),
		config: c,
		db:     rd,
	}, nil
}

// wireMessage is the serialized form of one ratchet message as carried inside the
// envelope ciphertext.
type wireMessage struct {
	DH   []byte `json:"dh"`
	N    uint32 `json:"n"`
	PN   uint32 `json:"pn"`
	Body []byte `json:"body"`
}

// CreateSession establishes a session from a shared secret. The initiator passes its
// private scalar as initialKey, the other side passes the initiator's public key.
func (e *Engine) CreateSession(id reception.SessionID, secret, initialKey []byte, initiator bool) error {
	return e.db.Run(fmt.Sprintf("creating session %s", id), func() error {
		sid := []byte(id.String())
		if initiator {
			k := crypto.SliceToKey(initialKey)
			publicKey := scalarmult.Base(k)
			pair := dhPair{privateKey: [32]byte(*k), publicKey: *publicKey}
			if _, err := doubleratchet.New(sid, secret, pair, e.db.sessionStorage(), doubleratchet.WithCrypto(e.db.crypto()), doubleratchet.WithKeysStorage(e.db.keysStorage(sid))); err != nil {
				return fmt.Errorf("ratchet: error initializing session: %w", err)
			}
			return nil
		}
		if _, err := doubleratchet.NewWithRemoteKey(sid, secret, initialKey, e.db.sessionStorage(), doubleratchet.WithCrypto(e.db.crypto()), doubleratchet.WithKeysStorage(e.db.keysStorage(sid))); err != nil {
			return fmt.Errorf("ratchet: error initializing session: %w", err)
		}
		return nil
	})
}

func (e *Engine) Encrypt(ctx context.Context, id reception.SessionID, plaintext []byte) ([]byte, error) {
	var out []byte
	if err := e.db.Run(fmt.Sprintf("encrypting message for %s", id), func() error {
		sid := []byte(id.String())
		sess, err := doubleratchet.Load(sid, e.db.sessionStorage(), doubleratchet.WithCrypto(e.db.crypto()), doubleratchet.WithKeysStorage(e.db.keysStorage(sid)))
		if err != nil {
			return fmt.Errorf("ratchet: error loading session: %w", err)
		}
		msg, err := sess.RatchetEncrypt(plaintext, nil)
		if err != nil {
			return fmt.Errorf("ratchet: error encrypting: %w", err)
		}
		out, err = json.Marshal(&wireMessage{DH: msg.Header.DH, N: msg.Header.N, PN: msg.Header.PN, Body: msg.Ciphertext})
		return err
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) Decrypt(ctx context.Context, id reception.SessionID, ciphertext []byte) ([]byte, error) {
	var plaintext []byte
	err := e.db.Run(fmt.Sprintf("decrypting message from %s", id), func() error {
		var wm wireMessage
		if err := json.Unmarshal(ciphertext, &wm); err != nil {
			return reception.NewCryptoError(reception.ErrCodeDecodeError, err)
		}

		sid := []byte(id.String())
		exists, err := e.db.hasState(sid)
		if err != nil {
			return reception.NewCryptoError(reception.ErrCodeStorageError, err)
		}
		if !exists {
			return reception.NewCryptoError(reception.ErrCodeSessionNotFound, fmt.Errorf("no session for %s", id))
		}

		seen, err := e.db.hasSeen(sid, wm.DH, wm.N)
		if err != nil {
			return reception.NewCryptoError(reception.ErrCodeStorageError, err)
		}
		if seen {
			return reception.NewCryptoError(reception.ErrCodeDuplicateMessage, fmt.Errorf("message %d already processed", wm.N))
		}

		sess, err := doubleratchet.Load(sid, e.db.sessionStorage(), doubleratchet.WithCrypto(e.db.crypto()), doubleratchet.WithKeysStorage(e.db.keysStorage(sid)))
		if err != nil {
			return reception.NewCryptoError(reception.ErrCodeStorageError, err)
		}
		out, err := sess.RatchetDecrypt(doubleratchet.Message{
			Header:     doubleratchet.MessageHeader{DH: wm.DH, N: wm.N, PN: wm.PN},
			Ciphertext: wm.Body,
		}, nil)
		if err != nil {
			return reception.NewCryptoError(reception.ErrCodeInvalidMessage, err)
		}
		if err := e.db.markSeen(sid, wm.DH, wm.N); err != nil {
			return reception.NewCryptoError(reception.ErrCodeStorageError, err)
		}
		plaintext = out
		return nil
	})
	if err != nil {
		var ce *reception.CryptoError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, err
	}
	return plaintext, nil
}

// DiscardSession drops all local state for a session so it can be re-established. This
// is the target of the recover-session failure resolution.
func (e *Engine) DiscardSession(ctx context.Context, id reception.SessionID) error {
	e.log.Warnf("discarding session %s", id)
	return e.db.Run(fmt.Sprintf("discarding session %s", id), func() error {
		return e.db.deleteSession([]byte(id.String()))
	})
}
