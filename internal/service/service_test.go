package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/parley/chat-server/internal/auth"
	"github.com/parley/chat-server/internal/block"
	"github.com/parley/chat-server/internal/dialog"
	"github.com/parley/chat-server/internal/identity"
	"github.com/parley/chat-server/internal/protocol"
	"github.com/parley/chat-server/internal/room"
	"github.com/parley/chat-server/internal/session"
)

func testIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer() error: %v", err)
	}
	return issuer
}

// ---------------------------------------------------------------------------
// In-memory fakes for the storage interfaces.
// ---------------------------------------------------------------------------

type fakeUsers struct {
	nextID int64
	byAddr map[string]*identity.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byAddr: make(map[string]*identity.User)}
}

func (f *fakeUsers) FindOrCreate(ctx context.Context, address string) (*identity.User, error) {
	if u, ok := f.byAddr[address]; ok {
		u.IsActive = true
		return u, nil
	}
	f.nextID++
	u := &identity.User{
		ID:        f.nextID,
		Address:   address,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	f.byAddr[address] = u
	return u, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id int64) (*identity.User, error) {
	for _, u := range f.byAddr {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByAddress(ctx context.Context, address string) (*identity.User, error) {
	return f.byAddr[address], nil
}

func (f *fakeUsers) SetOnline(ctx context.Context, address string, online bool) error {
	if u, ok := f.byAddr[address]; ok {
		u.IsOnline = online
	}
	return nil
}

type fakeDialogs struct {
	nextID    int64
	nextMsgID int64
	dialogs   map[int64]*dialog.Dialog
	messages  map[int64][]dialog.Message // dialog id -> ordered messages
}

func newFakeDialogs() *fakeDialogs {
	return &fakeDialogs{
		dialogs:  make(map[int64]*dialog.Dialog),
		messages: make(map[int64][]dialog.Message),
	}
}

func (f *fakeDialogs) FindOrCreate(ctx context.Context, userA, userB int64) (*dialog.Dialog, error) {
	if userA == userB {
		return nil, dialog.ErrSelfDialog
	}
	for _, d := range f.dialogs {
		if d.IsParticipant(userA) && d.IsParticipant(userB) {
			return d, nil
		}
	}
	f.nextID++
	d := &dialog.Dialog{ID: f.nextID, Sender: userA, Recipient: userB, CreatedAt: time.Now()}
	f.dialogs[d.ID] = d
	return d, nil
}

func (f *fakeDialogs) Get(ctx context.Context, id int64) (*dialog.Dialog, error) {
	return f.dialogs[id], nil
}

func (f *fakeDialogs) GetForUser(ctx context.Context, id, userID int64) (*dialog.Dialog, error) {
	d := f.dialogs[id]
	if d == nil || !d.IsParticipant(userID) {
		return nil, nil
	}
	return d, nil
}

func (f *fakeDialogs) ListForUser(ctx context.Context, userID int64) ([]dialog.Dialog, error) {
	var out []dialog.Dialog
	// Newest first, matching the store's ORDER BY id DESC.
	for id := f.nextID; id >= 1; id-- {
		if d, ok := f.dialogs[id]; ok && d.IsParticipant(userID) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDialogs) Messages(ctx context.Context, dialogID int64) ([]dialog.Message, error) {
	return append([]dialog.Message(nil), f.messages[dialogID]...), nil
}

func (f *fakeDialogs) LastMessages(ctx context.Context, dialogIDs []int64) (map[int64]dialog.Message, error) {
	out := make(map[int64]dialog.Message)
	for _, id := range dialogIDs {
		if msgs := f.messages[id]; len(msgs) > 0 {
			out[id] = msgs[len(msgs)-1]
		}
	}
	return out, nil
}

func (f *fakeDialogs) CreateMessage(ctx context.Context, dialogID, sender, recipient int64, content string) (*dialog.Message, error) {
	f.nextMsgID++
	m := dialog.Message{
		ID:        f.nextMsgID,
		DialogID:  dialogID,
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		CreatedAt: time.Now(),
	}
	f.messages[dialogID] = append(f.messages[dialogID], m)
	return &m, nil
}

func (f *fakeDialogs) MarkRead(ctx context.Context, dialogID, messageID, consumer int64) (*dialog.Message, error) {
	msgs := f.messages[dialogID]
	for i := range msgs {
		if msgs[i].ID == messageID && msgs[i].Recipient == consumer {
			msgs[i].IsRead = true
			m := msgs[i]
			return &m, nil
		}
	}
	return nil, nil
}

type fakeBlocks struct {
	nextID    int64
	relations map[[2]int64]*block.Relation // [blocker, blocked]
}

func newFakeBlocks() *fakeBlocks {
	return &fakeBlocks{relations: make(map[[2]int64]*block.Relation)}
}

func (f *fakeBlocks) Block(ctx context.Context, blocker, blocked int64) (*block.Relation, error) {
	key := [2]int64{blocker, blocked}
	if r, ok := f.relations[key]; ok {
		return r, nil
	}
	f.nextID++
	r := &block.Relation{ID: f.nextID, BlockerID: blocker, BlockedID: blocked, CreatedAt: time.Now()}
	f.relations[key] = r
	return r, nil
}

func (f *fakeBlocks) Unblock(ctx context.Context, blocker, blocked int64) (bool, error) {
	key := [2]int64{blocker, blocked}
	if _, ok := f.relations[key]; !ok {
		return false, nil
	}
	delete(f.relations, key)
	return true, nil
}

func (f *fakeBlocks) Find(ctx context.Context, blocker, blocked int64) (*block.Relation, error) {
	return f.relations[[2]int64{blocker, blocked}], nil
}

func (f *fakeBlocks) FindBetween(ctx context.Context, userA, userB int64) (*block.Relation, error) {
	if r := f.relations[[2]int64{userA, userB}]; r != nil {
		return r, nil
	}
	return f.relations[[2]int64{userB, userA}], nil
}

func (f *fakeBlocks) CanSend(ctx context.Context, sender, recipient int64) (bool, error) {
	r, _ := f.FindBetween(ctx, sender, recipient)
	return r == nil, nil
}

type fakePresence struct {
	online map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool)}
}

func (f *fakePresence) SetOnline(ctx context.Context, address string, online bool) error {
	f.online[address] = online
	return nil
}

// testEnv wires the services over fresh fakes.
type testEnv struct {
	users    *fakeUsers
	dialogs  *fakeDialogs
	blocks   *fakeBlocks
	presence *fakePresence

	accounts *Accounts
	dialogS  *Dialogs
	messages *Messages
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:    newFakeUsers(),
		dialogs:  newFakeDialogs(),
		blocks:   newFakeBlocks(),
		presence: newFakePresence(),
	}
	env.accounts = NewAccounts(env.users, env.presence, testIssuer(t))
	env.dialogS = NewDialogs(env.users, env.dialogs, env.blocks)
	env.messages = NewMessages(env.dialogs)
	return env
}

// login registers an address and returns its user id.
func (env *testEnv) login(t *testing.T, address string) int64 {
	t.Helper()
	out := env.accounts.Login(context.Background(), protocol.LoginMsg{Address: address})
	if !out.Success {
		t.Fatalf("login %s failed: %s", address, out.Message)
	}
	return out.Data.(AccountUser).ID
}

// openDialog opens a dialog between two already-registered addresses.
func (env *testEnv) openDialog(t *testing.T, from, to string) *dialog.Dialog {
	t.Helper()
	out := env.dialogS.AddUser(context.Background(), protocol.AddUserMsg{Address: from, Recipient: to})
	if !out.Success {
		t.Fatalf("add_user %s -> %s failed: %s", from, to, out.Message)
	}
	return out.Data.(*dialog.Dialog)
}

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

func TestLogin_CreatesIdentityAndToken(t *testing.T) {
	env := newTestEnv(t)

	out := env.accounts.Login(context.Background(), protocol.LoginMsg{Address: "alice"})
	if !out.Success {
		t.Fatalf("login failed: %s", out.Message)
	}
	u := out.Data.(AccountUser)
	if u.Address != "alice" {
		t.Errorf("expected address alice, got %q", u.Address)
	}
	if u.Token == "" {
		t.Error("expected a login token")
	}

	// A second login resolves the same identity.
	again := env.accounts.Login(context.Background(), protocol.LoginMsg{Address: "alice"})
	if !again.Success {
		t.Fatalf("second login failed: %s", again.Message)
	}
	if again.Data.(AccountUser).ID != u.ID {
		t.Errorf("second login resolved a different identity: %d vs %d",
			again.Data.(AccountUser).ID, u.ID)
	}
}

func TestLogin_MissingAddress(t *testing.T) {
	env := newTestEnv(t)

	out := env.accounts.Login(context.Background(), protocol.LoginMsg{})
	if out.Success {
		t.Fatal("expected login without address to fail")
	}
	if out.Code != CodeInvalidRequest {
		t.Errorf("expected code %q, got %q", CodeInvalidRequest, out.Code)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	id := env.login(t, "alice")

	out := env.accounts.Me(context.Background(), id, protocol.MeMsg{})
	if !out.Success {
		t.Fatalf("me failed: %s", out.Message)
	}
	if out.Data.(AccountUser).Address != "alice" {
		t.Errorf("expected alice, got %q", out.Data.(AccountUser).Address)
	}
}

// A connection that never logged in has no identity to report.
func TestMe_Unbound(t *testing.T) {
	env := newTestEnv(t)

	out := env.accounts.Me(context.Background(), 0, protocol.MeMsg{})
	if out.Success {
		t.Fatal("expected me to fail for an unbound connection")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}
}

// An unbound connection can identify itself with its login token.
func TestMe_TokenOnUnboundConnection(t *testing.T) {
	env := newTestEnv(t)

	login := env.accounts.Login(context.Background(), protocol.LoginMsg{Address: "alice"})
	if !login.Success {
		t.Fatalf("login failed: %s", login.Message)
	}
	token := login.Data.(AccountUser).Token

	out := env.accounts.Me(context.Background(), 0, protocol.MeMsg{Token: token})
	if !out.Success {
		t.Fatalf("me with token failed: %s", out.Message)
	}
	if out.Data.(AccountUser).Address != "alice" {
		t.Errorf("expected alice, got %q", out.Data.(AccountUser).Address)
	}
}

func TestMe_BadToken(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")

	out := env.accounts.Me(context.Background(), 0, protocol.MeMsg{Token: "not.a.token"})
	if out.Success {
		t.Fatal("expected me with a garbage token to fail")
	}
	if out.Code != CodeInvalidRequest {
		t.Errorf("expected code %q, got %q", CodeInvalidRequest, out.Code)
	}
}

func TestSetOnline(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")

	out := env.accounts.SetOnline(context.Background(), protocol.SetOnlineMsg{Address: "alice", Online: true})
	if !out.Success {
		t.Fatalf("set_online failed: %s", out.Message)
	}
	if !env.users.byAddr["alice"].IsOnline {
		t.Error("expected persisted online flag")
	}
	if !env.presence.online["alice"] {
		t.Error("expected presence cache updated")
	}
}

// ---------------------------------------------------------------------------
// Dialogs
// ---------------------------------------------------------------------------

func TestAddUser_CreatesDialogAndRecipient(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")

	d := env.openDialog(t, "alice", "bob")

	if !d.IsParticipant(aliceID) {
		t.Error("expected alice to be a participant")
	}
	bob, _ := env.users.GetByAddress(context.Background(), "bob")
	if bob == nil {
		t.Fatal("expected bob to be created on first contact")
	}
	if !d.IsParticipant(bob.ID) {
		t.Error("expected bob to be a participant")
	}
}

// Opening the same pair twice, in either order, yields the same dialog.
func TestAddUser_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")
	env.login(t, "bob")

	d1 := env.openDialog(t, "alice", "bob")
	d2 := env.openDialog(t, "alice", "bob")
	d3 := env.openDialog(t, "bob", "alice")

	if d1.ID != d2.ID || d1.ID != d3.ID {
		t.Errorf("expected one dialog for the pair, got ids %d, %d, %d", d1.ID, d2.ID, d3.ID)
	}
}

func TestAddUser_SelfRejected(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")

	out := env.dialogS.AddUser(context.Background(), protocol.AddUserMsg{Address: "alice", Recipient: "alice"})
	if out.Success {
		t.Fatal("expected self-dialog to be rejected")
	}
	if out.Code != CodeInvalidRequest {
		t.Errorf("expected code %q, got %q", CodeInvalidRequest, out.Code)
	}
}

func TestAddUser_UnknownCaller(t *testing.T) {
	env := newTestEnv(t)

	out := env.dialogS.AddUser(context.Background(), protocol.AddUserMsg{Address: "ghost", Recipient: "bob"})
	if out.Success {
		t.Fatal("expected add_user from unknown caller to fail")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}
}

func TestGetDialogs_CallerFirstOrdering(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")
	env.login(t, "bob")

	// Bob opens the dialog, so alice is the stored recipient.
	env.openDialog(t, "bob", "alice")

	out := env.dialogS.GetDialogs(context.Background(), protocol.GetDialogsMsg{Address: "alice"})
	if !out.Success {
		t.Fatalf("get_dialogs failed: %s", out.Message)
	}
	summaries := out.Data.([]DialogSummary)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 dialog, got %d", len(summaries))
	}
	// The caller always appears as SenderUser regardless of stored roles.
	if summaries[0].SenderUser.Address != "alice" {
		t.Errorf("expected caller first, got %q", summaries[0].SenderUser.Address)
	}
	if summaries[0].RecipientUser.Address != "bob" {
		t.Errorf("expected partner second, got %q", summaries[0].RecipientUser.Address)
	}
}

func TestGetDialogs_IncludesLastMessage(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")
	env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	for _, text := range []string{"first", "second"} {
		out := env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{
			Address: "alice", ChatID: d.ID, Text: text,
		})
		if !out.Success {
			t.Fatalf("send failed: %s", out.Message)
		}
	}

	out := env.dialogS.GetDialogs(context.Background(), protocol.GetDialogsMsg{Address: "alice"})
	if !out.Success {
		t.Fatalf("get_dialogs failed: %s", out.Message)
	}
	summaries := out.Data.([]DialogSummary)
	if summaries[0].LastMessage == nil {
		t.Fatal("expected a last message preview")
	}
	if summaries[0].LastMessage.Content != "second" {
		t.Errorf("expected latest message, got %q", summaries[0].LastMessage.Content)
	}
}

func TestGetDialogs_EmptyIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")

	out := env.dialogS.GetDialogs(context.Background(), protocol.GetDialogsMsg{Address: "alice"})
	if out.Success {
		t.Fatal("expected not_found for an empty dialog list")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}
}

func TestGetDialog_ReturnsHistoryAndBlockState(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{Address: "alice", ChatID: d.ID, Text: "hi"})
	env.blocks.Block(context.Background(), bobID, aliceID)

	out := env.dialogS.GetDialog(context.Background(), protocol.GetDialogMsg{Address: "alice", ChatID: d.ID})
	if !out.Success {
		t.Fatalf("get_dialog failed: %s", out.Message)
	}
	detail := out.Data.(DialogDetail)
	if len(detail.Messages) != 1 {
		t.Errorf("expected 1 message, got %d", len(detail.Messages))
	}
	if detail.Blocked == nil {
		t.Error("expected the block relation to surface")
	}
	if detail.SenderUser.Address != "alice" || detail.RecipientUser.Address != "bob" {
		t.Errorf("unexpected participant ordering: %q / %q",
			detail.SenderUser.Address, detail.RecipientUser.Address)
	}
}

// A non-participant cannot open someone else's dialog.
func TestGetDialog_NonParticipant(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")
	env.login(t, "bob")
	env.login(t, "eve")
	d := env.openDialog(t, "alice", "bob")

	out := env.dialogS.GetDialog(context.Background(), protocol.GetDialogMsg{Address: "eve", ChatID: d.ID})
	if out.Success {
		t.Fatal("expected get_dialog to fail for a non-participant")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}
}

// ---------------------------------------------------------------------------
// Message pipeline
// ---------------------------------------------------------------------------

func TestSendMessage_Persists(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	out := env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{
		Address: "alice", ChatID: d.ID, Text: "hello bob",
	})
	if !out.Success {
		t.Fatalf("send failed: %s", out.Message)
	}
	m := out.Data.(*dialog.Message)
	if m.Sender != aliceID || m.Recipient != bobID {
		t.Errorf("unexpected message roles: sender=%d recipient=%d", m.Sender, m.Recipient)
	}
	if m.IsRead {
		t.Error("new message must start unread")
	}
}

// The gate is symmetric: a block in either direction halts sends both ways.
func TestSendMessage_BlockGateBothDirections(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	env.blocks.Block(context.Background(), bobID, aliceID)

	// Alice is blocked by bob: she cannot send.
	out := env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{
		Address: "alice", ChatID: d.ID, Text: "hello?",
	})
	if out.Success {
		t.Fatal("expected send from blocked user to fail")
	}
	if out.Code != CodeBlocked {
		t.Errorf("expected code %q, got %q", CodeBlocked, out.Code)
	}

	// Bob blocked alice: he cannot send either.
	out = env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{
		Address: "bob", ChatID: d.ID, Text: "silence",
	})
	if out.Success {
		t.Fatal("expected send from blocker to fail")
	}
	if out.Code != CodeBlocked {
		t.Errorf("expected code %q, got %q", CodeBlocked, out.Code)
	}

	// Nothing was persisted.
	msgs, _ := env.dialogs.Messages(context.Background(), d.ID)
	if len(msgs) != 0 {
		t.Errorf("expected no persisted messages, got %d", len(msgs))
	}
}

func TestSendMessage_NonParticipant(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "alice")
	env.login(t, "bob")
	env.login(t, "eve")
	d := env.openDialog(t, "alice", "bob")

	out := env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{
		Address: "eve", ChatID: d.ID, Text: "intrusion",
	})
	if out.Success {
		t.Fatal("expected send from non-participant to fail")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}
}

func TestMarkAsRead_RecipientOnly(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	sent := env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{
		Address: "alice", ChatID: d.ID, Text: "read me",
	})
	m := sent.Data.(*dialog.Message)

	// The sender cannot mark their own message as read.
	out := env.messages.MarkAsRead(context.Background(), protocol.MarkReadMsg{
		ChatID: d.ID, MessageID: m.ID, Consumer: aliceID,
	})
	if out.Success {
		t.Fatal("expected mark_read by the sender to fail")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}

	// The recipient can.
	out = env.messages.MarkAsRead(context.Background(), protocol.MarkReadMsg{
		ChatID: d.ID, MessageID: m.ID, Consumer: bobID,
	})
	if !out.Success {
		t.Fatalf("mark_read by recipient failed: %s", out.Message)
	}
	if !out.Data.(*dialog.Message).IsRead {
		t.Error("expected the returned message to be read")
	}

	// Re-marking is idempotent.
	out = env.messages.MarkAsRead(context.Background(), protocol.MarkReadMsg{
		ChatID: d.ID, MessageID: m.ID, Consumer: bobID,
	})
	if !out.Success {
		t.Fatalf("repeated mark_read failed: %s", out.Message)
	}
}

func TestMarkAsRead_UnknownDialog(t *testing.T) {
	env := newTestEnv(t)

	out := env.messages.MarkAsRead(context.Background(), protocol.MarkReadMsg{
		ChatID: 99, MessageID: 1, Consumer: 1,
	})
	if out.Success {
		t.Fatal("expected mark_read on unknown dialog to fail")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}
}

// ---------------------------------------------------------------------------
// Block / unblock
// ---------------------------------------------------------------------------

func TestBlockUser_RecordsDirectedRelation(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	out := env.dialogS.BlockUser(context.Background(), protocol.BlockMsg{
		ChatID: d.ID, Sender: aliceID, Recipient: bobID,
	})
	if !out.Success {
		t.Fatalf("block failed: %s", out.Message)
	}
	result := out.Data.(BlockResult)
	if result.Blocked == nil || result.Blocked.BlockerID != aliceID || result.Blocked.BlockedID != bobID {
		t.Errorf("unexpected relation: %+v", result.Blocked)
	}
}

func TestBlockUser_SelfRejected(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	out := env.dialogS.BlockUser(context.Background(), protocol.BlockMsg{
		ChatID: d.ID, Sender: aliceID, Recipient: aliceID,
	})
	if out.Success {
		t.Fatal("expected self-block to be rejected")
	}
	if out.Code != CodeInvalidRequest {
		t.Errorf("expected code %q, got %q", CodeInvalidRequest, out.Code)
	}
}

// Unblocking reports the reverse relation when the partner still blocks.
func TestUnblockUser_ReportsReverseRelation(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	env.blocks.Block(context.Background(), aliceID, bobID)
	env.blocks.Block(context.Background(), bobID, aliceID)

	out := env.dialogS.UnblockUser(context.Background(), protocol.UnblockMsg{
		ChatID: d.ID, Sender: aliceID, Recipient: bobID,
	})
	if !out.Success {
		t.Fatalf("unblock failed: %s", out.Message)
	}
	result := out.Data.(BlockResult)
	if result.Blocked == nil || result.Blocked.BlockerID != bobID {
		t.Errorf("expected the reverse relation to remain, got %+v", result.Blocked)
	}

	// Messages still gated by bob's remaining block.
	send := env.dialogS.SendMessage(context.Background(), protocol.ChatMsg{
		Address: "alice", ChatID: d.ID, Text: "still blocked?",
	})
	if send.Success {
		t.Fatal("expected the remaining reverse block to keep gating sends")
	}
}

func TestUnblockUser_NotBlocked(t *testing.T) {
	env := newTestEnv(t)
	aliceID := env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	out := env.dialogS.UnblockUser(context.Background(), protocol.UnblockMsg{
		ChatID: d.ID, Sender: aliceID, Recipient: bobID,
	})
	if out.Success {
		t.Fatal("expected unblock of an absent relation to fail")
	}
	if out.Code != CodeNotFound {
		t.Errorf("expected code %q, got %q", CodeNotFound, out.Code)
	}
}

// ---------------------------------------------------------------------------
// Disconnect cleanup
// ---------------------------------------------------------------------------

// noopTransport satisfies room.Transport with in-process no-ops; joinErr
// simulates a delivery registration failure.
type noopTransport struct{ joinErr error }

func (t *noopTransport) Join(group, connID string, deliver room.DeliverFunc) error {
	return t.joinErr
}
func (t *noopTransport) Leave(group, connID string) error        { return nil }
func (t *noopTransport) Publish(group string, data []byte) error { return nil }

// Disconnect runs the whole cleanup chain: room eviction, binding teardown,
// and presence offline in both stores.
func TestDisconnect_CleansUpBoundConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.login(t, "alice")

	binder := session.NewBinder()
	router := room.NewRouter(&noopTransport{})
	sessions := NewSessions(binder, router, env.users, env.presence)

	binder.Bind("conn-1", id, "alice")
	env.users.SetOnline(ctx, "alice", true)
	env.presence.SetOnline(ctx, "alice", true)
	if err := router.SwitchTo("conn-1", 5, func([]byte) {}); err != nil {
		t.Fatalf("SwitchTo() error: %v", err)
	}

	b, wasBound := sessions.Disconnect(ctx, "conn-1")
	if !wasBound {
		t.Fatal("expected Disconnect to report a dropped binding")
	}
	if b.Address != "alice" {
		t.Errorf("dropped binding address = %q, want alice", b.Address)
	}

	if _, ok := binder.Lookup("conn-1"); ok {
		t.Error("expected the binding to be gone")
	}
	if _, ok := router.Current("conn-1"); ok {
		t.Error("expected the connection to have left its room")
	}
	if members := router.Members(5); len(members) != 0 {
		t.Errorf("Members(5) = %v, want empty", members)
	}
	if env.users.byAddr["alice"].IsOnline {
		t.Error("expected persisted online flag cleared")
	}
	if env.presence.online["alice"] {
		t.Error("expected presence cache cleared")
	}
}

// Disconnecting a connection that never logged in is safe and reports no
// binding.
func TestDisconnect_UnboundConnection(t *testing.T) {
	env := newTestEnv(t)

	binder := session.NewBinder()
	router := room.NewRouter(&noopTransport{})
	sessions := NewSessions(binder, router, env.users, env.presence)

	if _, wasBound := sessions.Disconnect(context.Background(), "ghost"); wasBound {
		t.Error("expected no binding for an unknown connection")
	}
}

// A disconnect right after a failed room switch still clears presence and
// leaves no membership behind anywhere.
func TestDisconnect_AfterFailedRoomSwitch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.login(t, "alice")

	transport := &noopTransport{}
	binder := session.NewBinder()
	router := room.NewRouter(transport)
	sessions := NewSessions(binder, router, env.users, env.presence)

	binder.Bind("conn-1", id, "alice")
	env.users.SetOnline(ctx, "alice", true)
	env.presence.SetOnline(ctx, "alice", true)
	if err := router.SwitchTo("conn-1", 1, func([]byte) {}); err != nil {
		t.Fatalf("SwitchTo(1) error: %v", err)
	}

	transport.joinErr = fmt.Errorf("broker down")
	if err := router.SwitchTo("conn-1", 2, func([]byte) {}); err == nil {
		t.Fatal("expected the switch to fail")
	}

	if _, wasBound := sessions.Disconnect(ctx, "conn-1"); !wasBound {
		t.Fatal("expected Disconnect to drop the binding")
	}
	for _, dialogID := range []int64{1, 2} {
		if members := router.Members(dialogID); len(members) != 0 {
			t.Errorf("Members(%d) = %v, want empty", dialogID, members)
		}
	}
	if env.users.byAddr["alice"].IsOnline {
		t.Error("expected persisted online flag cleared")
	}
	if env.presence.online["alice"] {
		t.Error("expected presence cache cleared")
	}
}

// ---------------------------------------------------------------------------
// End-to-end conversation flow over the fakes
// ---------------------------------------------------------------------------

func TestConversationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.login(t, "alice")
	bobID := env.login(t, "bob")
	d := env.openDialog(t, "alice", "bob")

	// Alice sends, bob reads.
	sent := env.dialogS.SendMessage(ctx, protocol.ChatMsg{Address: "alice", ChatID: d.ID, Text: "hey bob"})
	if !sent.Success {
		t.Fatalf("send failed: %s", sent.Message)
	}
	m := sent.Data.(*dialog.Message)

	read := env.messages.MarkAsRead(ctx, protocol.MarkReadMsg{ChatID: d.ID, MessageID: m.ID, Consumer: bobID})
	if !read.Success {
		t.Fatalf("mark_read failed: %s", read.Message)
	}

	// Bob blocks alice; her next send fails and nothing new is stored.
	blocked := env.dialogS.BlockUser(ctx, protocol.BlockMsg{ChatID: d.ID, Sender: bobID, Recipient: m.Sender})
	if !blocked.Success {
		t.Fatalf("block failed: %s", blocked.Message)
	}
	if out := env.dialogS.SendMessage(ctx, protocol.ChatMsg{Address: "alice", ChatID: d.ID, Text: "??"}); out.Success {
		t.Fatal("expected send after block to fail")
	}

	// Bob unblocks; the conversation resumes.
	unblocked := env.dialogS.UnblockUser(ctx, protocol.UnblockMsg{ChatID: d.ID, Sender: bobID, Recipient: m.Sender})
	if !unblocked.Success {
		t.Fatalf("unblock failed: %s", unblocked.Message)
	}
	if out := env.dialogS.SendMessage(ctx, protocol.ChatMsg{Address: "alice", ChatID: d.ID, Text: "back"}); !out.Success {
		t.Fatalf("send after unblock failed: %s", out.Message)
	}

	history := env.dialogS.GetDialog(ctx, protocol.GetDialogMsg{Address: "bob", ChatID: d.ID})
	if !history.Success {
		t.Fatalf("get_dialog failed: %s", history.Message)
	}
	detail := history.Data.(DialogDetail)
	if len(detail.Messages) != 2 {
		t.Errorf("expected 2 persisted messages, got %d", len(detail.Messages))
	}
	if !detail.Messages[0].IsRead {
		t.Error("expected the first message to be read")
	}
	if detail.Messages[1].IsRead {
		t.Error("expected the second message to be unread")
	}
}
