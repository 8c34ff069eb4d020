package reception

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wireapp/kalium-sub009/config"
	"github.com/wireapp/kalium-sub009/ids"
	"github.com/wireapp/kalium-sub009/message"
)

const (
	selfUser    = message.UserID("self@local")
	otherUser   = message.UserID("alice@remote")
	otherClient = message.ClientID("client-1")
	testConv    = message.ConversationID("conv-1")
)

type testClock struct {
	now time.Time
}

func (tc *testClock) CurrentTimeMs() uint64 {
	return uint64(tc.now.UnixMilli())
}

func (tc *testClock) Now() time.Time {
	return tc.now
}

type fakeStore struct {
	messages map[string]*message.Message
	marked   map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]*message.Message), marked: make(map[string]bool)}
}

func storeKey(conversationID message.ConversationID, id ids.ID) string {
	return fmt.Sprintf("%s/%s", conversationID, id)
}

func (f *fakeStore) MessageByID(ctx context.Context, conversationID message.ConversationID, id ids.ID) (*message.Message, bool, error) {
	msg, ok := f.messages[storeKey(conversationID, id)]
	return msg, ok, nil
}

func (f *fakeStore) Persist(ctx context.Context, msg *message.Message) error {
	f.messages[storeKey(msg.ConversationID, msg.ID)] = msg
	return nil
}

func (f *fakeStore) MarkDeleted(ctx context.Context, conversationID message.ConversationID, id ids.ID) error {
	f.marked[storeKey(conversationID, id)] = true
	if msg, ok := f.messages[storeKey(conversationID, id)]; ok {
		msg.Visibility = message.VisibilityHidden
	}
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, conversationID message.ConversationID, id ids.ID) error {
	delete(f.messages, storeKey(conversationID, id))
	return nil
}

type fakeSessions struct {
	decrypt   func(id SessionID, ciphertext []byte) ([]byte, error)
	discarded []SessionID
}

func (f *fakeSessions) Decrypt(ctx context.Context, id SessionID, ciphertext []byte) ([]byte, error) {
	return f.decrypt(id, ciphertext)
}

func (f *fakeSessions) DiscardSession(ctx context.Context, id SessionID) error {
	f.discarded = append(f.discarded, id)
	return nil
}

type fakeGroupEngine struct {
	decrypt   func(groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error)
	outOfSync bool
	rejoins   int
}

func (f *fakeGroupEngine) DecryptMessage(ctx context.Context, groupID GroupID, ciphertext []byte) (*GroupDecryptResult, error) {
	return f.decrypt(groupID, ciphertext)
}

func (f *fakeGroupEngine) IsGroupOutOfSync(ctx context.Context, groupID GroupID, epoch uint64) (bool, error) {
	return f.outOfSync, nil
}

func (f *fakeGroupEngine) Rejoin(ctx context.Context, conversationID message.ConversationID) error {
	f.rejoins++
	return nil
}

type fakeConversations struct {
	info      map[message.ConversationID]*ProtocolInfo
	subGroups map[string]GroupID
	refreshed int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{info: make(map[message.ConversationID]*ProtocolInfo), subGroups: make(map[string]GroupID)}
}

func (f *fakeConversations) ProtocolInfo(ctx context.Context, id message.ConversationID) (*ProtocolInfo, error) {
	info, ok := f.info[id]
	if !ok {
		return nil, fmt.Errorf("no conversation %s", id)
	}
	return info, nil
}

func (f *fakeConversations) RefreshProtocolInfo(ctx context.Context, id message.ConversationID) (*ProtocolInfo, error) {
	f.refreshed++
	return f.ProtocolInfo(ctx, id)
}

func (f *fakeConversations) SubConversationGroupID(ctx context.Context, id message.ConversationID, subID string) (GroupID, bool, error) {
	gid, ok := f.subGroups[fmt.Sprintf("%s/%s", id, subID)]
	return gid, ok, nil
}

type scheduledCommit struct {
	groupID GroupID
	fireAt  time.Time
}

type fakeScheduler struct {
	commits []scheduledCommit
}

func (f *fakeScheduler) ScheduleCommit(ctx context.Context, groupID GroupID, fireAt time.Time) error {
	f.commits = append(f.commits, scheduledCommit{groupID: groupID, fireAt: fireAt})
	return nil
}

type fakeSystem struct {
	notices []time.Time
}

func (f *fakeSystem) InsertHistoryLossNotice(ctx context.Context, conversationID message.ConversationID, at time.Time) error {
	f.notices = append(f.notices, at)
	return nil
}

type fakePresence struct {
	statuses map[message.UserID]message.AvailabilityStatus
}

func newFakePresence() *fakePresence {
	return &fakePresence{statuses: make(map[message.UserID]message.AvailabilityStatus)}
}

func (f *fakePresence) SetAvailability(ctx context.Context, userID message.UserID, status message.AvailabilityStatus) error {
	f.statuses[userID] = status
	return nil
}

type fakeCalls struct {
	payloads []string
}

func (f *fakeCalls) OnCallingMessage(ctx context.Context, msg *message.Message, payload string) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeConversationSink struct {
	lastRead map[message.ConversationID]time.Time
	cleared  map[message.ConversationID]time.Time
}

func newFakeConversationSink() *fakeConversationSink {
	return &fakeConversationSink{lastRead: make(map[message.ConversationID]time.Time), cleared: make(map[message.ConversationID]time.Time)}
}

func (f *fakeConversationSink) SetLastRead(ctx context.Context, conversationID message.ConversationID, at time.Time) error {
	f.lastRead[conversationID] = at
	return nil
}

func (f *fakeConversationSink) SetCleared(ctx context.Context, conversationID message.ConversationID, at time.Time) error {
	f.cleared[conversationID] = at
	return nil
}

type pipeline struct {
	manager       *Manager
	router        *Router
	store         *fakeStore
	sessions      *fakeSessions
	groups        *fakeGroupEngine
	conversations *fakeConversations
	scheduler     *fakeScheduler
	system        *fakeSystem
	presence      *fakePresence
	calls         *fakeCalls
	sink          *fakeConversationSink
	clock         *testClock
}

func newPipeline() *pipeline {
	c := config.NewConfig(config.WithLoggingPrefix("test"))
	return newPipelineWithConfig(c)
}

func newPipelineWithConfig(c *config.Config) *pipeline {
	cl := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := &pipeline{
		store:         newFakeStore(),
		sessions:      &fakeSessions{decrypt: func(id SessionID, ciphertext []byte) ([]byte, error) { return ciphertext, nil }},
		groups:        &fakeGroupEngine{},
		conversations: newFakeConversations(),
		scheduler:     &fakeScheduler{},
		system:        &fakeSystem{},
		presence:      newFakePresence(),
		calls:         &fakeCalls{},
		sink:          newFakeConversationSink(),
		clock:         cl,
	}
	p.conversations.info[testConv] = &ProtocolInfo{Protocol: ProtocolGroup, GroupID: "group-1", Epoch: 4}
	p.router = NewRouter(c, cl, selfUser, p.store, p.presence, p.calls, p.sink)
	p.manager = NewManager(c, cl, p.sessions, p.groups, p.conversations, p.scheduler, p.system, NewJSONCodec(), p.router)
	return p
}

func encodePlaintext(id ids.ID, content message.Content) []byte {
	payload, err := json.Marshal(content)
	if err != nil {
		panic(err)
	}
	b, err := json.Marshal(&jsonEnvelope{MessageID: id.String(), Kind: message.KindOf(content), Payload: payload})
	if err != nil {
		panic(err)
	}
	return b
}

func encodeExternalInstructions(id ids.ID, key, digest []byte) []byte {
	b, err := json.Marshal(&jsonEnvelope{MessageID: id.String(), External: &jsonExternal{OTRKey: key, SHA256: digest}})
	if err != nil {
		panic(err)
	}
	return b
}

func pairwiseEnvelope(plaintext []byte) *InboundEnvelope {
	return &InboundEnvelope{
		ID:             ids.NewID(),
		ConversationID: testConv,
		SenderUserID:   otherUser,
		SenderClientID: otherClient,
		Timestamp:      time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC),
		Protocol:       ProtocolPairwise,
		Ciphertext:     base64.StdEncoding.EncodeToString(plaintext),
	}
}

func groupEnvelope() *InboundEnvelope {
	env := pairwiseEnvelope([]byte("opaque"))
	env.Protocol = ProtocolGroup
	return env
}
