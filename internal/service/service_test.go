package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"parley-backend/internal/apperr"
	"parley-backend/internal/auth"
	"parley-backend/internal/models"
	"parley-backend/internal/permission"
	"parley-backend/internal/ratelimit"
	"parley-backend/internal/repository"
	"parley-backend/internal/stream"

	"github.com/google/uuid"
)

type testKey struct {
	priv    *rsa.PrivateKey
	encoded string
}

var (
	keysOnce   sync.Once
	sharedKeys [2]testKey
)

// testKeys gera dois pares RSA uma única vez por execução
func testKeys(t *testing.T) [2]testKey {
	t.Helper()
	keysOnce.Do(func() {
		for i := range sharedKeys {
			priv, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
			if err != nil {
				panic(err)
			}
			sharedKeys[i] = testKey{priv: priv, encoded: base64.StdEncoding.EncodeToString(der)}
		}
	})
	return sharedKeys
}

func (k testKey) solve(t *testing.T, challenge *ChallengeResponse) SolveRequest {
	t.Helper()
	ciphertext, err := base64.StdEncoding.DecodeString(challenge.Challenge)
	if err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, ciphertext, nil)
	if err != nil {
		t.Fatalf("DecryptOAEP: %v", err)
	}
	return SolveRequest{ID: challenge.ID, Solution: string(plain)}
}

type testEnv struct {
	store      *repository.InMemoryStore
	bus        *stream.Bus
	challenges *auth.ChallengeStore
	auth       *AuthService
	users      *UserService
	channels   *ChannelService
	members    *MemberService
	bans       *BanService
	messages   *MessageService
	calls      *CallService
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewInMemoryStore()
	bus := stream.NewBus(logger, 0)
	notifier := stream.NewNotifier(bus, store, logger)
	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	challenges := auth.NewChallengeStore(time.Minute)
	channels := NewChannelService(store, notifier, opts, logger)
	return &testEnv{
		store:      store,
		bus:        bus,
		challenges: challenges,
		auth:       NewAuthService(store, challenges, tokens, channels, opts, logger),
		users:      NewUserService(store, notifier, logger),
		channels:   channels,
		members:    NewMemberService(store, notifier, logger),
		bans:       NewBanService(store, notifier, logger),
		messages:   NewMessageService(store, notifier, logger),
		calls:      NewCallService(store, notifier, opts, logger),
	}
}

func (e *testEnv) addUser(t *testing.T, username string) *models.User {
	t.Helper()
	user := &models.User{ID: uuid.New(), Username: username, PublicKey: "unused", CreatedAt: time.Now()}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func (e *testEnv) signup(t *testing.T, username string, key testKey) *SolveResult {
	t.Helper()
	ctx := context.Background()
	challenge, err := e.auth.BeginSignup(ctx, SignupRequest{Username: username, PublicKey: key.encoded})
	if err != nil {
		t.Fatalf("BeginSignup: %v", err)
	}
	result, err := e.auth.Solve(ctx, key.solve(t, challenge), "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0")
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	return result
}

func (e *testEnv) createChannel(t *testing.T, owner uuid.UUID, channelType models.ChannelType) *models.ChannelView {
	t.Helper()
	view, err := e.channels.Create(context.Background(), owner, CreateChannelRequest{Name: "general", Type: channelType})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return view
}

func (e *testEnv) join(t *testing.T, view *models.ChannelView, userID uuid.UUID) {
	t.Helper()
	if view.InviteCode == nil {
		t.Fatal("view sem código de convite")
	}
	if _, err := e.channels.JoinInvite(context.Background(), userID, *view.InviteCode); err != nil {
		t.Fatalf("JoinInvite: %v", err)
	}
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func eventTypes(t *testing.T, sub *stream.Subscription) []string {
	t.Helper()
	events, err := sub.Drain()
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, env := range events {
		types = append(types, env.Type)
	}
	return types
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

func TestSignupScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	key := testKeys(t)[0]

	challenge, err := e.auth.BeginSignup(ctx, SignupRequest{Username: "alice", PublicKey: key.encoded})
	if err != nil {
		t.Fatalf("BeginSignup: %v", err)
	}
	req := key.solve(t, challenge)
	result, err := e.auth.Solve(ctx, req, "")
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.Session == "" || len(result.Passkey) != auth.SecretLength {
		t.Fatalf("unexpected result: %+v", result)
	}

	// o mesmo desafio não pode ser resolvido duas vezes
	_, err = e.auth.Solve(ctx, req, "")
	expectKind(t, err, apperr.KindAuth)

	session, err := e.auth.Authenticate(ctx, result.Session)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	user, err := e.store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if session.UserID != user.ID {
		t.Fatalf("session user = %s, want %s", session.UserID, user.ID)
	}

	expectKind(t, e.auth.UsernameAvailable(ctx, "alice"), apperr.KindValidation)
	_, err = e.auth.BeginSignup(ctx, SignupRequest{Username: "alice", PublicKey: key.encoded})
	expectKind(t, err, apperr.KindValidation)

	// login com o passkey devolvido
	login, err := e.auth.BeginLogin(ctx, LoginRequest{Username: "alice", Passkey: result.Passkey, PublicKey: key.encoded})
	if err != nil {
		t.Fatalf("BeginLogin: %v", err)
	}
	second, err := e.auth.Solve(ctx, key.solve(t, login), "")
	if err != nil {
		t.Fatalf("Solve login: %v", err)
	}
	if second.Passkey != "" || second.Session == "" {
		t.Fatalf("login result = %+v", second)
	}
	sessions, err := e.users.ListSessions(ctx, user.ID, session.ID)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
}

func TestBeginLoginRejects(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	keys := testKeys(t)
	result := e.signup(t, "bob", keys[0])

	tests := []struct {
		name string
		req  LoginRequest
		want string
	}{
		{"unknown user", LoginRequest{Username: "nobody", Passkey: result.Passkey, PublicKey: keys[0].encoded}, "Invalid login details"},
		{"wrong passkey", LoginRequest{Username: "bob", Passkey: "AAAAAAAAAAAAAAAAAAAA", PublicKey: keys[0].encoded}, "Invalid login details"},
		{"other key", LoginRequest{Username: "bob", Passkey: result.Passkey, PublicKey: keys[1].encoded}, "Public key doesn't match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.auth.BeginLogin(ctx, tt.req)
			expectKind(t, err, apperr.KindAuth)
			if err.Error() != tt.want {
				t.Fatalf("message = %q, want %q", err.Error(), tt.want)
			}
		})
	}
}

func TestSolveWrongSolutionConsumesChallenge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	key := testKeys(t)[0]

	challenge, err := e.auth.BeginSignup(ctx, SignupRequest{Username: "carol", PublicKey: key.encoded})
	if err != nil {
		t.Fatalf("BeginSignup: %v", err)
	}
	good := key.solve(t, challenge)

	_, err = e.auth.Solve(ctx, SolveRequest{ID: good.ID, Solution: "BBBBBBBBBBBBBBBBBBBB"}, "")
	expectKind(t, err, apperr.KindAuth)
	if err.Error() != "Challenge failed" {
		t.Fatalf("message = %q", err.Error())
	}
	_, err = e.auth.Solve(ctx, good, "")
	expectKind(t, err, apperr.KindAuth)
	if err.Error() != "Invalid challenge" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestResetKeysRevokesSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	keys := testKeys(t)
	first := e.signup(t, "dave", keys[0])
	session, err := e.auth.Authenticate(ctx, first.Session)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	challenge, err := e.auth.BeginResetKeys(ctx, session.UserID, PublicKeyRequest{PublicKey: keys[1].encoded})
	if err != nil {
		t.Fatalf("BeginResetKeys: %v", err)
	}
	result, err := e.auth.Solve(ctx, keys[1].solve(t, challenge), "")
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	_, err = e.auth.Authenticate(ctx, first.Session)
	expectKind(t, err, apperr.KindAuth)
	if _, err := e.auth.Authenticate(ctx, result.Session); err != nil {
		t.Fatalf("new session rejected: %v", err)
	}
	user, err := e.users.Me(ctx, session.UserID)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.PublicKey != keys[1].encoded {
		t.Fatal("public key not replaced")
	}
}

func TestResetPasskey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	keys := testKeys(t)
	first := e.signup(t, "erin", keys[0])
	session, err := e.auth.Authenticate(ctx, first.Session)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	_, err = e.auth.BeginResetPasskey(ctx, session.UserID, PublicKeyRequest{PublicKey: keys[1].encoded})
	expectKind(t, err, apperr.KindAuth)

	challenge, err := e.auth.BeginResetPasskey(ctx, session.UserID, PublicKeyRequest{PublicKey: keys[0].encoded})
	if err != nil {
		t.Fatalf("BeginResetPasskey: %v", err)
	}
	result, err := e.auth.Solve(ctx, keys[0].solve(t, challenge), "")
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if result.Session != "" || len(result.Passkey) != auth.SecretLength {
		t.Fatalf("result = %+v", result)
	}

	_, err = e.auth.BeginLogin(ctx, LoginRequest{Username: "erin", Passkey: first.Passkey, PublicKey: keys[0].encoded})
	expectKind(t, err, apperr.KindAuth)
	if _, err := e.auth.BeginLogin(ctx, LoginRequest{Username: "erin", Passkey: result.Passkey, PublicKey: keys[0].encoded}); err != nil {
		t.Fatalf("login with new passkey: %v", err)
	}
}

func TestInstanceInviteAutoJoin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	admin := e.addUser(t, "admin")
	view := e.createChannel(t, admin.ID, models.ChannelBroadcast)
	e.auth.opts.InstanceInvite = *view.InviteCode

	result := e.signup(t, "frank", testKeys(t)[0])
	session, err := e.auth.Authenticate(ctx, result.Session)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	channels, err := e.channels.List(ctx, session.UserID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(channels) != 1 || channels[0].ID != view.ID {
		t.Fatalf("channels = %+v", channels)
	}
	if channels[0].InviteCode != nil || channels[0].ChannelPermissions != nil {
		t.Fatal("plain member must not see invite code or channel default")
	}
}

func TestChannelJoinAndLeave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	member := e.addUser(t, "member")
	view := e.createChannel(t, owner.ID, models.ChannelGroup)

	sub := e.bus.Subscribe(owner.ID, uuid.New(), []uuid.UUID{view.ID}, nil)
	defer e.bus.Unsubscribe(sub)

	e.join(t, view, member.ID)
	if types := eventTypes(t, sub); !contains(types, stream.EventMemberJoin) {
		t.Fatalf("owner events = %v", types)
	}

	_, err := e.channels.JoinInvite(ctx, member.ID, *view.InviteCode)
	expectKind(t, err, apperr.KindConflict)

	// último owner com outros membros não sai
	expectKind(t, e.channels.Leave(ctx, owner.ID, view.ID), apperr.KindPermissionDenied)

	if err := e.channels.Leave(ctx, member.ID, view.ID); err != nil {
		t.Fatalf("member Leave: %v", err)
	}
	if types := eventTypes(t, sub); !contains(types, stream.EventMemberLeave) {
		t.Fatalf("owner events = %v", types)
	}

	// sozinho, o owner sai e o canal some
	if err := e.channels.Leave(ctx, owner.ID, view.ID); err != nil {
		t.Fatalf("owner Leave: %v", err)
	}
	if _, err := e.store.GetChannel(ctx, view.ID); err != repository.ErrNotFound {
		t.Fatalf("GetChannel err = %v, want ErrNotFound", err)
	}
	if types := eventTypes(t, sub); !contains(types, stream.EventChannelDeleted) {
		t.Fatalf("owner events = %v", types)
	}
}

func TestChannelLimits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	opts := DefaultOptions
	opts.MaxChannels = 1
	opts.MaxMembers = 2
	e := newTestEnv(t, opts)
	owner := e.addUser(t, "owner")
	second := e.addUser(t, "second")
	third := e.addUser(t, "third")

	view := e.createChannel(t, owner.ID, models.ChannelGroup)
	_, err := e.channels.Create(ctx, owner.ID, CreateChannelRequest{Name: "other", Type: models.ChannelGroup})
	expectKind(t, err, apperr.KindPermissionDenied)

	e.join(t, view, second.ID)
	_, err = e.channels.JoinInvite(ctx, third.ID, *view.InviteCode)
	expectKind(t, err, apperr.KindPermissionDenied)

	opts.DisableChannelCreation = true
	disabled := newTestEnv(t, opts)
	creator := disabled.addUser(t, "creator")
	_, err = disabled.channels.Create(ctx, creator.ID, CreateChannelRequest{Name: "x", Type: models.ChannelGroup})
	expectKind(t, err, apperr.KindPermissionDenied)
}

func TestEditAndDeleteChannel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	member := e.addUser(t, "member")
	view := e.createChannel(t, owner.ID, models.ChannelGroup)
	e.join(t, view, member.ID)

	name := "renamed"
	_, err := e.channels.Edit(ctx, member.ID, view.ID, EditChannelRequest{Name: &name})
	expectKind(t, err, apperr.KindPermissionDenied)

	sub := e.bus.Subscribe(member.ID, uuid.New(), []uuid.UUID{view.ID}, nil)
	defer e.bus.Unsubscribe(sub)

	raw := int64(permission.All)
	edited, err := e.channels.Edit(ctx, owner.ID, view.ID, EditChannelRequest{Name: &name, Permissions: &raw})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Name != name || edited.ChannelPermissions == nil || *edited.ChannelPermissions&(permission.Owner|permission.Admin) != 0 {
		t.Fatalf("edited view = %+v", edited)
	}
	if types := eventTypes(t, sub); !contains(types, stream.EventChannelEdited) {
		t.Fatalf("member events = %v", types)
	}

	expectKind(t, e.channels.Delete(ctx, member.ID, view.ID), apperr.KindPermissionDenied)
	if err := e.channels.Delete(ctx, owner.ID, view.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if types := eventTypes(t, sub); !contains(types, stream.EventChannelDeleted) {
		t.Fatalf("member events = %v", types)
	}
	if sub.HasChannel(view.ID) {
		t.Fatal("deleted channel still in stream scope")
	}
}

func TestOpenDM(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	alice := e.addUser(t, "alice")
	e.addUser(t, "bob")

	view, created, err := e.channels.OpenDM(ctx, alice.ID, "bob")
	if err != nil {
		t.Fatalf("OpenDM: %v", err)
	}
	if !created || view.Name != "bob" || view.Type != models.ChannelDM {
		t.Fatalf("view = %+v created = %v", view, created)
	}
	again, created, err := e.channels.OpenDM(ctx, alice.ID, "bob")
	if err != nil {
		t.Fatalf("OpenDM again: %v", err)
	}
	if created || again.ID != view.ID {
		t.Fatal("second OpenDM must reuse the channel")
	}

	_, _, err = e.channels.OpenDM(ctx, alice.ID, "alice")
	expectKind(t, err, apperr.KindValidation)
	_, _, err = e.channels.OpenDM(ctx, alice.ID, "nobody")
	expectKind(t, err, apperr.KindNotFound)
	expectKind(t, e.channels.Leave(ctx, alice.ID, view.ID), apperr.KindValidation)
}

func TestUpdatePermissionsHierarchy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	admin := e.addUser(t, "admin")
	plain := e.addUser(t, "plain")
	view := e.createChannel(t, owner.ID, models.ChannelGroup)
	e.join(t, view, admin.ID)
	e.join(t, view, plain.ID)

	mask := func(m permission.Mask) UpdatePermissionsRequest {
		raw := int64(m)
		return UpdatePermissionsRequest{Permissions: &raw}
	}

	// os passos dependem do estado deixado pelos anteriores
	steps := []struct {
		name   string
		actor  uuid.UUID
		target string
		req    UpdatePermissionsRequest
		want   apperr.Kind
		ok     bool
	}{
		{"owner promotes admin", owner.ID, "admin", mask(permission.Admin | permission.ManagePermissions | permission.SendMessages), 0, true},
		{"plain member cannot manage", plain.ID, "admin", mask(0), apperr.KindPermissionDenied, false},
		{"admin grants management bit", admin.ID, "plain", mask(permission.SendMessages | permission.ManageMessages), 0, true},
		{"admin cannot grant owner", admin.ID, "plain", mask(permission.Owner), apperr.KindPermissionDenied, false},
		{"admin cannot modify owner", admin.ID, "owner", mask(permission.SendMessages), apperr.KindPermissionDenied, false},
		{"last owner keeps owner bit", owner.ID, "owner", mask(permission.SendMessages), apperr.KindPermissionDenied, false},
		{"unknown target", owner.ID, "ghost", mask(0), apperr.KindNotFound, false},
		{"owner promotes second owner", owner.ID, "admin", mask(permission.Owner), 0, true},
		{"owner steps down", owner.ID, "owner", mask(permission.SendMessages), 0, true},
	}
	for _, step := range steps {
		err := e.members.UpdatePermissions(ctx, step.actor, view.ID, step.target, step.req)
		if step.ok {
			if err != nil {
				t.Fatalf("%s: %v", step.name, err)
			}
			continue
		}
		if err == nil || apperr.KindOf(err) != step.want {
			t.Fatalf("%s: err = %v, want %s", step.name, err, step.want)
		}
	}

	owners, err := e.store.CountOwners(ctx, view.ID)
	if err != nil {
		t.Fatalf("CountOwners: %v", err)
	}
	if owners != 1 {
		t.Fatalf("owners = %d, want 1", owners)
	}
}

func TestMemberListVisibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	reader := e.addUser(t, "reader")
	group := e.createChannel(t, owner.ID, models.ChannelGroup)
	broadcast := e.createChannel(t, owner.ID, models.ChannelBroadcast)
	e.join(t, group, reader.ID)
	e.join(t, broadcast, reader.ID)

	views, err := e.members.List(ctx, reader.ID, group.ID, DefaultPageSize, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, v := range views {
		if v.Permissions != nil {
			t.Fatal("plain member must not see masks")
		}
	}
	views, err = e.members.List(ctx, owner.ID, group.ID, DefaultPageSize, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, v := range views {
		if v.Permissions == nil {
			t.Fatalf("owner must see mask of %s", v.Username)
		}
	}

	_, err = e.members.List(ctx, reader.ID, broadcast.ID, DefaultPageSize, 0)
	expectKind(t, err, apperr.KindPermissionDenied)
}

func TestKickAndBan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	mod := e.addUser(t, "mod")
	troll := e.addUser(t, "troll")
	view := e.createChannel(t, owner.ID, models.ChannelGroup)
	e.join(t, view, mod.ID)
	e.join(t, view, troll.ID)

	raw := int64(permission.ManageMembers | permission.SendMessages)
	if err := e.members.UpdatePermissions(ctx, owner.ID, view.ID, "mod", UpdatePermissionsRequest{Permissions: &raw}); err != nil {
		t.Fatalf("UpdatePermissions: %v", err)
	}

	expectKind(t, e.members.Kick(ctx, troll.ID, view.ID, "mod"), apperr.KindPermissionDenied)
	expectKind(t, e.members.Kick(ctx, mod.ID, view.ID, "owner"), apperr.KindPermissionDenied)
	expectKind(t, e.members.Kick(ctx, mod.ID, view.ID, "mod"), apperr.KindValidation)

	trollSub := e.bus.Subscribe(troll.ID, uuid.New(), []uuid.UUID{view.ID}, nil)
	defer e.bus.Unsubscribe(trollSub)

	reason := "  spam  "
	if err := e.bans.Ban(ctx, mod.ID, view.ID, "troll", BanRequest{Reason: &reason}); err != nil {
		t.Fatalf("Ban: %v", err)
	}
	if types := eventTypes(t, trollSub); !contains(types, stream.EventMemberLeave) {
		t.Fatalf("troll events = %v", types)
	}
	if trollSub.HasChannel(view.ID) {
		t.Fatal("banned member still has channel in scope")
	}
	expectKind(t, e.bans.Ban(ctx, mod.ID, view.ID, "troll", BanRequest{}), apperr.KindConflict)
	expectKind(t, e.bans.Ban(ctx, mod.ID, view.ID, "owner", BanRequest{}), apperr.KindPermissionDenied)

	_, err := e.channels.JoinInvite(ctx, troll.ID, *view.InviteCode)
	expectKind(t, err, apperr.KindPermissionDenied)

	bans, err := e.bans.List(ctx, mod.ID, view.ID, DefaultPageSize, 0)
	if err != nil {
		t.Fatalf("List bans: %v", err)
	}
	if len(bans) != 1 || bans[0].Reason == nil || *bans[0].Reason != "spam" {
		t.Fatalf("bans = %+v", bans)
	}

	if err := e.bans.Unban(ctx, mod.ID, view.ID, "troll"); err != nil {
		t.Fatalf("Unban: %v", err)
	}
	expectKind(t, e.bans.Unban(ctx, mod.ID, view.ID, "troll"), apperr.KindNotFound)
	e.join(t, view, troll.ID)
}

func TestBroadcastMessageRedaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	reader := e.addUser(t, "reader")
	view := e.createChannel(t, owner.ID, models.ChannelBroadcast)
	e.join(t, view, reader.ID)

	signature := "sig"
	sent, err := e.messages.Send(ctx, owner.ID, view.ID, MessageRequest{Content: "hello", Signature: &signature})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.Seq != 1 {
		t.Fatalf("seq = %d, want 1", sent.Seq)
	}

	_, err = e.messages.Send(ctx, reader.ID, view.ID, MessageRequest{Content: "nope"})
	expectKind(t, err, apperr.KindPermissionDenied)

	forReader, err := e.messages.List(ctx, reader.ID, view.ID, 0, DefaultPageSize)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(forReader) != 1 || forReader[0].UserID != nil || forReader[0].Signature != nil {
		t.Fatalf("reader must get redacted messages: %+v", forReader)
	}
	forOwner, err := e.messages.List(ctx, owner.ID, view.ID, 0, DefaultPageSize)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if forOwner[0].UserID == nil || *forOwner[0].UserID != owner.ID {
		t.Fatal("owner must see the author")
	}
}

func TestMessageEditAndDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	author := e.addUser(t, "author")
	view := e.createChannel(t, owner.ID, models.ChannelGroup)
	e.join(t, view, author.ID)

	msg, err := e.messages.Send(ctx, author.ID, view.ID, MessageRequest{Content: "first"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, err = e.messages.Edit(ctx, owner.ID, view.ID, msg.ID, MessageRequest{Content: "hijack"})
	expectKind(t, err, apperr.KindPermissionDenied)

	edited, err := e.messages.Edit(ctx, author.ID, view.ID, msg.ID, MessageRequest{Content: "second"})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Content != "second" || edited.EditedAt == nil {
		t.Fatalf("edited = %+v", edited)
	}

	other, err := e.messages.Send(ctx, owner.ID, view.ID, MessageRequest{Content: "owner says"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	expectKind(t, e.messages.Delete(ctx, author.ID, view.ID, other.ID), apperr.KindPermissionDenied)

	// owner apaga mensagem alheia
	if err := e.messages.Delete(ctx, owner.ID, view.ID, msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	expectKind(t, e.messages.Delete(ctx, owner.ID, view.ID, msg.ID), apperr.KindNotFound)

	outsider := e.addUser(t, "outsider")
	_, err = e.messages.List(ctx, outsider.ID, view.ID, 0, DefaultPageSize)
	expectKind(t, err, apperr.KindNotFound)
}

func TestCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	alice := e.addUser(t, "alice")
	bob := e.addUser(t, "bob")
	group := e.createChannel(t, alice.ID, models.ChannelGroup)
	dm, _, err := e.channels.OpenDM(ctx, alice.ID, "bob")
	if err != nil {
		t.Fatalf("OpenDM: %v", err)
	}

	_, err = e.calls.Join(ctx, alice.ID, group.ID)
	expectKind(t, err, apperr.KindValidation)

	bobSub := e.bus.Subscribe(bob.ID, uuid.New(), []uuid.UUID{dm.ID}, nil)
	defer e.bus.Unsubscribe(bobSub)

	started, err := e.calls.Join(ctx, alice.ID, dm.ID)
	if err != nil || !started.Started {
		t.Fatalf("Join alice = %+v, %v", started, err)
	}
	joined, err := e.calls.Join(ctx, bob.ID, dm.ID)
	if err != nil || !joined.Joined {
		t.Fatalf("Join bob = %+v, %v", joined, err)
	}
	_, err = e.calls.Join(ctx, bob.ID, dm.ID)
	expectKind(t, err, apperr.KindValidation)

	status, err := e.calls.Status(ctx, alice.ID, dm.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Active || !status.Answered || status.StartedBy != "alice" || len(status.Participants) != 2 {
		t.Fatalf("status = %+v", status)
	}

	if err := e.calls.Signal(ctx, alice.ID, dm.ID, SignalRequest{Type: "offer", Data: json.RawMessage(`{"sdp":"x"}`)}); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	types := eventTypes(t, bobSub)
	for _, want := range []string{stream.EventCallStart, stream.EventCallSignal} {
		if !contains(types, want) {
			t.Fatalf("bob events = %v, missing %s", types, want)
		}
	}

	if err := e.calls.Leave(ctx, alice.ID, dm.ID); err != nil {
		t.Fatalf("Leave alice: %v", err)
	}
	expectKind(t, e.calls.Signal(ctx, alice.ID, dm.ID, SignalRequest{Type: "ice", Data: json.RawMessage(`{}`)}), apperr.KindPermissionDenied)
	if err := e.calls.Leave(ctx, bob.ID, dm.ID); err != nil {
		t.Fatalf("Leave bob: %v", err)
	}
	status, err = e.calls.Status(ctx, alice.ID, dm.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Active {
		t.Fatal("call must end when empty")
	}

	off := DefaultOptions
	off.CallsEnabled = false
	disabled := newTestEnv(t, off)
	u := disabled.addUser(t, "u")
	_, err = disabled.calls.Join(ctx, u.ID, dm.ID)
	expectKind(t, err, apperr.KindPermissionDenied)
}

func TestProfileUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	owner := e.addUser(t, "owner")
	peer := e.addUser(t, "peer")
	view := e.createChannel(t, owner.ID, models.ChannelGroup)
	e.join(t, view, peer.ID)

	sub := e.bus.Subscribe(peer.ID, uuid.New(), []uuid.UUID{view.ID}, nil)
	defer e.bus.Unsubscribe(sub)

	short := "x"
	_, err := e.users.UpdateProfile(ctx, owner.ID, ProfileUpdate{Display: &short})
	expectKind(t, err, apperr.KindValidation)
	_, err = e.users.UpdateProfile(ctx, owner.ID, ProfileUpdate{})
	expectKind(t, err, apperr.KindValidation)

	name := "The Owner"
	user, err := e.users.UpdateProfile(ctx, owner.ID, ProfileUpdate{Display: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.DisplayName == nil || *user.DisplayName != name {
		t.Fatalf("display = %v", user.DisplayName)
	}
	if types := eventTypes(t, sub); !contains(types, stream.EventMemberInfoChanged) {
		t.Fatalf("peer events = %v", types)
	}
}

func TestRevokeSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	result := e.signup(t, "gina", testKeys(t)[0])
	session, err := e.auth.Authenticate(ctx, result.Session)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	expectKind(t, e.users.RevokeSession(ctx, session.UserID, uuid.New()), apperr.KindNotFound)
	if err := e.users.Logout(ctx, session.UserID, session.ID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err = e.auth.Authenticate(ctx, result.Session)
	expectKind(t, err, apperr.KindAuth)

	n, err := e.users.RevokeAllSessions(ctx, session.UserID)
	if err != nil || n != 0 {
		t.Fatalf("RevokeAllSessions = %d, %v", n, err)
	}
}

func TestBlocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	alice := e.addUser(t, "alice")
	bob := e.addUser(t, "bob")
	carol := e.addUser(t, "carol")

	tests := []struct {
		name    string
		op      func() error
		kind    apperr.Kind
		message string
	}{
		{"block unknown user", func() error { return e.users.Block(ctx, alice.ID, "nobody") }, apperr.KindNotFound, "User not found"},
		{"block yourself", func() error { return e.users.Block(ctx, alice.ID, "alice") }, apperr.KindValidation, "Cannot block yourself"},
		{"block", func() error { return e.users.Block(ctx, alice.ID, "bob") }, 0, ""},
		{"block twice", func() error { return e.users.Block(ctx, alice.ID, "bob") }, apperr.KindConflict, "User is already blocked"},
		{"block second user", func() error { return e.users.Block(ctx, alice.ID, "carol") }, 0, ""},
		{"unblock unknown user", func() error { return e.users.Unblock(ctx, alice.ID, "nobody") }, apperr.KindNotFound, "User not found"},
		{"unblock user never blocked", func() error { return e.users.Unblock(ctx, bob.ID, "alice") }, apperr.KindNotFound, "User is not blocked"},
	}
	for _, tt := range tests {
		err := tt.op()
		if tt.message == "" {
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			continue
		}
		expectKind(t, err, tt.kind)
		var appErr *apperr.Error
		if !errors.As(err, &appErr) || appErr.Message != tt.message {
			t.Fatalf("%s: message = %v, want %q", tt.name, err, tt.message)
		}
	}

	blocks, err := e.users.ListBlocks(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	seen := map[string]bool{}
	for _, block := range blocks {
		seen[block.Username] = true
	}
	if !seen["bob"] || !seen["carol"] {
		t.Fatalf("blocks = %+v", blocks)
	}
	if others, err := e.users.ListBlocks(ctx, bob.ID); err != nil || len(others) != 0 {
		t.Fatalf("bob blocks = %v, %v", others, err)
	}

	if err := e.users.Unblock(ctx, alice.ID, "carol"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	expectKind(t, e.users.Unblock(ctx, alice.ID, "carol"), apperr.KindNotFound)
	if blocked, _ := e.store.IsBlocked(ctx, alice.ID, carol.ID); blocked {
		t.Fatal("carol still blocked after Unblock")
	}
}

func TestCallJoinBlocked(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newTestEnv(t, DefaultOptions)
	alice := e.addUser(t, "alice")
	bob := e.addUser(t, "bob")
	dm, _, err := e.channels.OpenDM(ctx, alice.ID, "bob")
	if err != nil {
		t.Fatalf("OpenDM: %v", err)
	}

	if err := e.users.Block(ctx, alice.ID, "bob"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	_, err = e.calls.Join(ctx, bob.ID, dm.ID)
	expectKind(t, err, apperr.KindPermissionDenied)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Message != "You are blocked by this user" {
		t.Fatalf("Join bob = %v", err)
	}

	// Quem bloqueou continua podendo ligar
	if _, err := e.calls.Join(ctx, alice.ID, dm.ID); err != nil {
		t.Fatalf("Join alice: %v", err)
	}
	if err := e.calls.Leave(ctx, alice.ID, dm.ID); err != nil {
		t.Fatalf("Leave alice: %v", err)
	}

	if err := e.users.Unblock(ctx, alice.ID, "bob"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	if _, err := e.calls.Join(ctx, bob.ID, dm.ID); err != nil {
		t.Fatalf("Join bob after unblock: %v", err)
	}
}

func TestJanitorSweep(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := auth.ParsePublicKey(testKeys(t)[0].encoded)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}

	// ttl negativo: o desafio já nasce expirado
	challenges := auth.NewChallengeStore(-time.Second)
	if _, _, err := challenges.Issue(auth.IntentLogin, auth.ChallengePayload{}, key); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	janitor := NewJanitor(challenges, ratelimit.NewMemoryLimiter(), time.Minute, logger)
	janitor.Sweep(ctx)
	if n := challenges.Len(); n != 0 {
		t.Fatalf("pending challenges = %d, want 0", n)
	}
}
