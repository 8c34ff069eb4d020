package ratchet

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"

	crypto_rand "crypto/rand"

	"github.com/kevinburke/nacl/box"
	"github.com/status-im/doubleratchet"
	"github.com/wireapp/kalium-sub009/crypto"
	"github.com/wireapp/kalium-sub009/internal/db"
	"github.com/wireapp/kalium-sub009/migration"
)

type database struct {
	*db.Database
}

func newDatabase(d *db.Database) (*database, error) {
	rd := &database{d}
	if err := d.Migrate("_ratchet", []*migration.Migration{
		{
			Name: "Create initial tables",
			Func: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE _ratchet_states (
						id BLOB NOT NULL PRIMARY KEY,
						dhr BLOB,
						dhs_pub BLOB NOT NULL,
						dhs_priv BLOB NOT NULL,
						root_ch_key BLOB NOT NULL,
						send_ch_key BLOB NOT NULL,
						send_ch_count INTEGER NOT NULL,
						recv_ch_key BLOB NOT NULL,
						recv_ch_count INTEGER NOT NULL,
						pn INTEGER NOT NULL,
						max_skip INTEGER NOT NULL,
						hkr BLOB,
						nhkr BLOB,
						hks BLOB,
						nhks BLOB,
						max_keep INTEGER NOT NULL,
						mmk_per_session INTEGER NOT NULL,
						step INTEGER NOT NULL,
						keys_count INTEGER NOT NULL
					);

					CREATE TABLE _ratchet_keys (
						pub_key BLOB NOT NULL,
						message_key BLOB NOT NULL,
						msg_num INTEGER NOT NULL,
						session_id BLOB NOT NULL,
						seq_num INTEGER NOT NULL
					);
					CREATE UNIQUE INDEX ratchet_keys_pubkey_msg_num on _ratchet_keys (pub_key, msg_num);
					CREATE UNIQUE INDEX ratchet_keys_session_id_seq_num on _ratchet_keys (session_id, seq_num);

					CREATE TABLE _ratchet_seen (
						session_id BLOB NOT NULL,
						dh BLOB NOT NULL,
						n INTEGER NOT NULL,
						PRIMARY KEY (session_id, dh, n)
					);
					`)
				return err
			},
		},
	}); err != nil {
		return nil, fmt.Errorf("ratchet: error migrating: %w", err)
	}
	return rd, nil
}

type ratchetState struct {
	ID                       []byte `db:"id"`
	Dhr                      []byte `db:"dhr"`
	DhsPub                   []byte `db:"dhs_pub"`
	DhsPriv                  []byte `db:"dhs_priv"`
	RootChKey                []byte `db:"root_ch_key"`
	SendChKey                []byte `db:"send_ch_key"`
	SendChCount              uint32 `db:"send_ch_count"`
	RecvChKey                []byte `db:"recv_ch_key"`
	RecvChCount              uint32 `db:"recv_ch_count"`
	PN                       uint32 `db:"pn"`
	MaxSkip                  uint   `db:"max_skip"`
	HKr                      []byte `db:"hkr"`
	NHKr                     []byte `db:"nhkr"`
	HKs                      []byte `db:"hks"`
	NHKs                     []byte `db:"nhks"`
	MaxKeep                  uint   `db:"max_keep"`
	MaxMessageKeysPerSession int    `db:"mmk_per_session"`
	Step                     uint   `db:"step"`
	KeysCount                uint   `db:"keys_count"`
}

type ratchetKey struct {
	PubKey     []byte `db:"pub_key"`
	MessageKey []byte `db:"message_key"`
	MsgNum     uint   `db:"msg_num"`
	SessionID  []byte `db:"session_id"`
	SeqNum     uint   `db:"seq_num"`
}

func (d *database) state(id []byte) (*ratchetState, error) {
	s := &ratchetState{}
	if err := d.Tx.Get(s, "select * from _ratchet_states where id = $1", id); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *database) hasState(id []byte) (bool, error) {
	if _, err := d.state(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *database) upsertState(s *ratchetState) error {
	if _, err := d.Tx.NamedExec(`
		INSERT INTO _ratchet_states
			(id, dhr, dhs_pub, dhs_priv, root_ch_key, send_ch_key, send_ch_count, recv_ch_key, recv_ch_count, pn, max_skip, hkr, nhkr, hks, nhks, max_keep, mmk_per_session, step, keys_count)
		VALUES
			(:id, :dhr, :dhs_pub, :dhs_priv, :root_ch_key, :send_ch_key, :send_ch_count, :recv_ch_key, :recv_ch_count, :pn, :max_skip, :hkr, :nhkr, :hks, :nhks, :max_keep, :mmk_per_session, :step, :keys_count)
		ON CONFLICT (id) DO UPDATE SET
			dhr=:dhr, dhs_pub=:dhs_pub, dhs_priv=:dhs_priv, root_ch_key=:root_ch_key, send_ch_key=:send_ch_key, send_ch_count=:send_ch_count,
			recv_ch_key=:recv_ch_key, recv_ch_count=:recv_ch_count, pn=:pn, max_skip=:max_skip, hkr=:hkr, nhkr=:nhkr, hks=:hks, nhks=:nhks,
			max_keep=:max_keep, mmk_per_session=:mmk_per_session, step=:step, keys_count=:keys_count
	`, s); err != nil {
		return fmt.Errorf("ratchet: error upserting state: %w", err)
	}
	return nil
}

func (d *database) deleteSession(id []byte) error {
	if _, err := d.Tx.Exec("DELETE FROM _ratchet_states WHERE id = $1", id); err != nil {
		return fmt.Errorf("ratchet: error deleting state: %w", err)
	}
	if _, err := d.Tx.Exec("DELETE FROM _ratchet_keys WHERE session_id = $1", id); err != nil {
		return fmt.Errorf("ratchet: error deleting keys: %w", err)
	}
	if _, err := d.Tx.Exec("DELETE FROM _ratchet_seen WHERE session_id = $1", id); err != nil {
		return fmt.Errorf("ratchet: error deleting seen markers: %w", err)
	}
	return nil
}

func (d *database) hasSeen(sessionID, dh []byte, n uint32) (bool, error) {
	var count int
	if err := d.Tx.Get(&count, "select count(*) from _ratchet_seen where session_id = $1 and dh = $2 and n = $3", sessionID, dh, n); err != nil {
		return false, err
	}
	return count != 0, nil
}

func (d *database) markSeen(sessionID, dh []byte, n uint32) error {
	if _, err := d.Tx.Exec("INSERT OR IGNORE INTO _ratchet_seen (session_id, dh, n) VALUES ($1, $2, $3)", sessionID, dh, n); err != nil {
		return fmt.Errorf("ratchet: error marking message seen: %w", err)
	}
	return nil
}

func (d *database) keyByMsgNum(sessionID, pubKey []byte, msgNum uint) (*ratchetKey, bool, error) {
	k := &ratchetKey{}
	if err := d.Tx.Get(k, "select * from _ratchet_keys where session_id = $1 and pub_key = $2 and msg_num = $3", sessionID, pubKey, msgNum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return k, true, nil
}

func (d *database) upsertKeyByMsgNum(sessionID, pubKey []byte, msgNum uint, messageKey []byte, seqNum uint) error {
	k := &ratchetKey{PubKey: pubKey, MessageKey: messageKey, MsgNum: msgNum, SessionID: sessionID, SeqNum: seqNum}
	if _, err := d.Tx.NamedExec(`
		INSERT INTO _ratchet_keys (pub_key, message_key, msg_num, session_id, seq_num)
		VALUES (:pub_key, :message_key, :msg_num, :session_id, :seq_num)
		ON CONFLICT (pub_key, msg_num) DO UPDATE SET message_key=:message_key, session_id=:session_id, seq_num=:seq_num
	`, k); err != nil {
		return fmt.Errorf("ratchet: error upserting key: %w", err)
	}
	return nil
}

func (d *database) deleteKeyByMsgNum(sessionID, pubKey []byte, msgNum uint) error {
	if _, err := d.Tx.Exec("DELETE FROM _ratchet_keys WHERE session_id = $1 AND pub_key = $2 AND msg_num = $3", sessionID, pubKey, msgNum); err != nil {
		return fmt.Errorf("ratchet: error deleting key: %w", err)
	}
	return nil
}

func (d *database) deleteOldKeys(sessionID []byte, deleteUntilSeq uint) error {
	if _, err := d.Tx.Exec("DELETE FROM _ratchet_keys WHERE session_id = $1 AND seq_num < $2", sessionID, deleteUntilSeq); err != nil {
		return fmt.Errorf("ratchet: error deleting old keys: %w", err)
	}
	return nil
}

func (d *database) truncateKeys(sessionID []byte, maxKeys int) error {
	if _, err := d.Tx.Exec(`
		DELETE FROM _ratchet_keys WHERE session_id = $1 AND seq_num NOT IN (
			SELECT seq_num FROM _ratchet_keys WHERE session_id = $1 ORDER BY seq_num DESC LIMIT $2
		)`, sessionID, maxKeys); err != nil {
		return fmt.Errorf("ratchet: error truncating keys: %w", err)
	}
	return nil
}

func (d *database) countKeys(pubKey []byte) (uint, error) {
	var count uint
	if err := d.Tx.Get(&count, "select count(*) from _ratchet_keys where pub_key = $1", pubKey); err != nil {
		return 0, err
	}
	return count, nil
}

func (d *database) sessionStorage() doubleratchet.SessionStorage {
	return &sessionStorageImpl{db: d}
}

func (d *database) keysStorage(sessionID []byte) doubleratchet.KeysStorage {
	return keysStorageImpl{sessionID: sessionID, db: d}
}

func (d *database) crypto() doubleratchet.Crypto {
	return &cryptoImpl{}
}

type dhPair struct {
	privateKey [32]byte
	publicKey  [32]byte
}

func (pair dhPair) PrivateKey() doubleratchet.Key {
	return pair.privateKey[:]
}

func (pair dhPair) PublicKey() doubleratchet.Key {
	return pair.publicKey[:]
}

type sessionStorageImpl struct {
	db *database
}

func (ss *sessionStorageImpl) Load(id []byte) (*doubleratchet.State, error) {
	s, err := ss.db.state(id)
	if err != nil {
		return nil, err
	}

	drc := ss.db.crypto()

	return &doubleratchet.State{
		Crypto: drc,
		DHr:    s.Dhr,
		DHs:    dhPair{privateKey: *crypto.SliceToKey(s.DhsPriv), publicKey: *crypto.SliceToKey(s.DhsPub)},
		RootCh: struct {
			Crypto doubleratchet.KDFer
			CK     doubleratchet.Key
		}{Crypto: drc, CK: s.RootChKey},
		SendCh: struct {
			Crypto doubleratchet.KDFer
			CK     doubleratchet.Key
			N      uint32
		}{Crypto: drc, CK: s.SendChKey, N: s.SendChCount},
		RecvCh: struct {
			Crypto doubleratchet.KDFer
			CK     doubleratchet.Key
			N      uint32
		}{Crypto: drc, CK: s.RecvChKey, N: s.RecvChCount},
		PN:                       s.PN,
		MkSkipped:                keysStorageImpl{sessionID: id, db: ss.db},
		MaxSkip:                  s.MaxSkip,
		HKr:                      s.HKr,
		NHKr:                     s.NHKr,
		HKs:                      s.HKs,
		NHKs:                     s.NHKs,
		MaxKeep:                  s.MaxKeep,
		MaxMessageKeysPerSession: s.MaxMessageKeysPerSession,
		Step:                     s.Step,
		KeysCount:                s.KeysCount,
	}, nil
}

func (ss *sessionStorageImpl) Save(id []byte, state *doubleratchet.State) error {
	s := &ratchetState{
		ID:                       id,
		Dhr:                      state.DHr,
		DhsPub:                   state.DHs.PublicKey(),
		DhsPriv:                  state.DHs.PrivateKey(),
		RootChKey:                state.RootCh.CK,
		SendChKey:                state.SendCh.CK,
		SendChCount:              state.SendCh.N,
		RecvChKey:                state.RecvCh.CK,
		RecvChCount:              state.RecvCh.N,
		PN:                       state.PN,
		MaxSkip:                  state.MaxSkip,
		HKr:                      state.HKr,
		NHKr:                     state.NHKr,
		HKs:                      state.HKs,
		NHKs:                     state.NHKs,
		MaxKeep:                  state.MaxKeep,
		MaxMessageKeysPerSession: state.MaxMessageKeysPerSession,
		Step:                     state.Step,
		KeysCount:                state.KeysCount,
	}
	return ss.db.upsertState(s)
}

type cryptoImpl struct {
	defaultCrypto doubleratchet.DefaultCrypto
}

func (c *cryptoImpl) GenerateDH() (doubleratchet.DHPair, error) {
	pubk, privk, err := box.GenerateKey(crypto_rand.Reader)
	if err != nil {
		return nil, err
	}

	return dhPair{privateKey: *privk, publicKey: *pubk}, nil
}

func (c *cryptoImpl) DH(pair doubleratchet.DHPair, dhPub doubleratchet.Key) (doubleratchet.Key, error) {
	pairKey := crypto.SliceToKey(pair.PrivateKey())
	pubKey := crypto.SliceToKey(dhPub)
	out := box.Precompute(pubKey, pairKey)
	return out[:], nil
}

func (c *cryptoImpl) Encrypt(mk doubleratchet.Key, plaintext, ad []byte) ([]byte, error) {
	return crypto.EncryptWithKey(mk, plaintext, ad)
}

func (c *cryptoImpl) Decrypt(mk doubleratchet.Key, ciphertext, ad []byte) ([]byte, error) {
	return crypto.DecryptWithKey(mk, ciphertext, ad)
}

func (c *cryptoImpl) KdfRK(rk, dhOut doubleratchet.Key) (doubleratchet.Key, doubleratchet.Key, doubleratchet.Key) {
	return c.defaultCrypto.KdfRK(rk, dhOut)
}

func (c *cryptoImpl) KdfCK(ck doubleratchet.Key) (doubleratchet.Key, doubleratchet.Key) {
	return c.defaultCrypto.KdfCK(ck)
}

type keysStorageImpl struct {
	sessionID []byte
	db        *database
}

func (ks keysStorageImpl) Get(k doubleratchet.Key, msgNum uint) (doubleratchet.Key, bool, error) {
	kr, ok, err := ks.db.keyByMsgNum(ks.sessionID, k, msgNum)
	if !ok || err != nil {
		return doubleratchet.Key{}, ok, err
	}
	return kr.MessageKey, ok, err
}

func (ks keysStorageImpl) Put(sessionID []byte, k doubleratchet.Key, msgNum uint, mk doubleratchet.Key, keySeqNum uint) error {
	if !bytes.Equal(sessionID, ks.sessionID) {
		return fmt.Errorf("expected %x to equal %x", sessionID, ks.sessionID)
	}
	return ks.db.upsertKeyByMsgNum(sessionID, k, msgNum, mk, keySeqNum)
}

func (ks keysStorageImpl) DeleteMk(k doubleratchet.Key, msgNum uint) error {
	return ks.db.deleteKeyByMsgNum(ks.sessionID, k, msgNum)
}

func (ks keysStorageImpl) DeleteOldMks(sessionID []byte, deleteUntilSeqKey uint) error {
	if !bytes.Equal(sessionID, ks.sessionID) {
		return fmt.Errorf("expected %x to equal %x", sessionID, ks.sessionID)
	}
	return ks.db.deleteOldKeys(sessionID, deleteUntilSeqKey)
}

func (ks keysStorageImpl) TruncateMks(sessionID []byte, maxKeys int) error {
	if !bytes.Equal(sessionID, ks.sessionID) {
		return fmt.Errorf("expected %x to equal %x", sessionID, ks.sessionID)
	}
	return ks.db.truncateKeys(sessionID, maxKeys)
}

func (ks keysStorageImpl) Count(k doubleratchet.Key) (uint, error) {
	return ks.db.countKeys(k)
}

func (ks keysStorageImpl) All() (map[string]map[uint]doubleratchet.Key, error) {
	return nil, errors.New("not implemented")
}
