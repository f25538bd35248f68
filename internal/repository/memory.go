package repository

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"parley-backend/internal/models"
	"parley-backend/internal/permission"

	"github.com/google/uuid"
)

type memberKey struct {
	channelID uuid.UUID
	userID    uuid.UUID
}

type blockKey struct {
	blockerID uuid.UUID
	blockedID uuid.UUID
}

// InMemoryStore é uma implementação em-memória da interface Store
type InMemoryStore struct {
	mu              sync.RWMutex
	usersByID       map[uuid.UUID]*models.User
	usersByUsername map[string]*models.User
	sessions        map[uuid.UUID]*models.Session
	channels        map[uuid.UUID]*models.Channel
	members         map[memberKey]*models.Member
	bans            map[memberKey]*models.Ban
	blocks          map[blockKey]*models.Block
	messages        map[uuid.UUID][]*models.Message
	seqs            map[uuid.UUID]int64
	calls           map[uuid.UUID]*models.Call
	participants    map[memberKey]*models.CallParticipant
}

// NewInMemoryStore cria uma nova instância do store em memória
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		usersByID:       make(map[uuid.UUID]*models.User),
		usersByUsername: make(map[string]*models.User),
		sessions:        make(map[uuid.UUID]*models.Session),
		channels:        make(map[uuid.UUID]*models.Channel),
		members:         make(map[memberKey]*models.Member),
		bans:            make(map[memberKey]*models.Ban),
		blocks:          make(map[blockKey]*models.Block),
		messages:        make(map[uuid.UUID][]*models.Message),
		seqs:            make(map[uuid.UUID]int64),
		calls:           make(map[uuid.UUID]*models.Call),
		participants:    make(map[memberKey]*models.CallParticipant),
	}
}

// --- UserStore ---

func (s *InMemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return ErrConflict
	}

	u := *user
	s.usersByID[user.ID] = &u
	s.usersByUsername[user.Username] = &u
	return nil
}

func (s *InMemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return nil, ErrNotFound
	}
	u := *user
	return &u, nil
}

func (s *InMemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByID[id]
	if !exists {
		return nil, ErrNotFound
	}
	u := *user
	return &u, nil
}

func (s *InMemoryStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.usersByUsername[username]
	return exists, nil
}

func (s *InMemoryStore) updateUser(id uuid.UUID, fn func(*models.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, exists := s.usersByID[id]
	if !exists {
		return ErrNotFound
	}
	fn(user)
	return nil
}

func (s *InMemoryStore) UpdateUserPublicKey(ctx context.Context, id uuid.UUID, publicKey string) error {
	return s.updateUser(id, func(u *models.User) { u.PublicKey = publicKey })
}

func (s *InMemoryStore) UpdateUserPasskey(ctx context.Context, id uuid.UUID, passkeyHash string) error {
	return s.updateUser(id, func(u *models.User) { u.PasskeyHash = passkeyHash })
}

func (s *InMemoryStore) UpdateUserDisplayName(ctx context.Context, id uuid.UUID, displayName *string) error {
	return s.updateUser(id, func(u *models.User) { u.DisplayName = displayName })
}

// --- SessionStore ---

func (s *InMemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if bytes.Equal(existing.TokenHash, session.TokenHash) {
			return ErrConflict
		}
	}
	sess := *session
	s.sessions[session.ID] = &sess
	return nil
}

func (s *InMemoryStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if bytes.Equal(session.TokenHash, tokenHash) {
			sess := *session
			return &sess, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) SessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.sessions[id]
	return exists, nil
}

func (s *InMemoryStore) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := []*models.Session{}
	for _, session := range s.sessions {
		if session.UserID == userID {
			sess := *session
			sessions = append(sessions, &sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	return sessions, nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, exists := s.sessions[id]
	if !exists || session.UserID != userID {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

func (s *InMemoryStore) DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- ChannelStore ---

func (s *InMemoryStore) CreateChannel(ctx context.Context, channel *models.Channel, members []*models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channel.InviteCode != nil {
		for _, c := range s.channels {
			if c.InviteCode != nil && *c.InviteCode == *channel.InviteCode {
				return ErrConflict
			}
		}
	}
	c := *channel
	s.channels[channel.ID] = &c
	for _, m := range members {
		member := *m
		s.members[memberKey{m.ChannelID, m.UserID}] = &member
	}
	return nil
}

func (s *InMemoryStore) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channel, exists := s.channels[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := *channel
	return &c, nil
}

func (s *InMemoryStore) GetChannelByInvite(ctx context.Context, code string) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, channel := range s.channels {
		if channel.InviteCode != nil && *channel.InviteCode == code {
			c := *channel
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindDM(ctx context.Context, a, b uuid.UUID) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, channel := range s.channels {
		if channel.Type != models.ChannelDM {
			continue
		}
		_, hasA := s.members[memberKey{channel.ID, a}]
		_, hasB := s.members[memberKey{channel.ID, b}]
		if hasA && hasB {
			c := *channel
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) UpdateChannel(ctx context.Context, channel *models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.channels[channel.ID]
	if !exists {
		return ErrNotFound
	}
	existing.Name = channel.Name
	existing.Permissions = channel.Permissions
	return nil
}

func (s *InMemoryStore) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[id]; !exists {
		return ErrNotFound
	}
	delete(s.channels, id)
	for k := range s.members {
		if k.channelID == id {
			delete(s.members, k)
		}
	}
	for k := range s.bans {
		if k.channelID == id {
			delete(s.bans, k)
		}
	}
	for k := range s.participants {
		if k.channelID == id {
			delete(s.participants, k)
		}
	}
	delete(s.messages, id)
	delete(s.seqs, id)
	delete(s.calls, id)
	return nil
}

func (s *InMemoryStore) ListUserChannels(ctx context.Context, userID uuid.UUID) ([]*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	channels := []*models.Channel{}
	for k := range s.members {
		if k.userID != userID {
			continue
		}
		if channel, exists := s.channels[k.channelID]; exists {
			c := *channel
			channels = append(channels, &c)
		}
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].CreatedAt.Before(channels[j].CreatedAt) })
	return channels, nil
}

func (s *InMemoryStore) CountUserChannels(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.members {
		if k.userID == userID {
			n++
		}
	}
	return n, nil
}

// --- MemberStore ---

func (s *InMemoryStore) AddMember(ctx context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{member.ChannelID, member.UserID}
	if _, exists := s.members[key]; exists {
		return ErrConflict
	}
	if _, exists := s.channels[member.ChannelID]; !exists {
		return ErrNotFound
	}
	m := *member
	s.members[key] = &m
	return nil
}

func (s *InMemoryStore) GetMember(ctx context.Context, channelID, userID uuid.UUID) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, exists := s.members[memberKey{channelID, userID}]
	if !exists {
		return nil, ErrNotFound
	}
	m := *member
	return &m, nil
}

func (s *InMemoryStore) ListMembers(ctx context.Context, channelID uuid.UUID) ([]*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := []*models.Member{}
	for k, member := range s.members {
		if k.channelID == channelID {
			m := *member
			members = append(members, &m)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].JoinedAt.Before(members[j].JoinedAt) })
	return members, nil
}

func (s *InMemoryStore) ListMemberViews(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*models.MemberView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	views := []*models.MemberView{}
	for k, member := range s.members {
		if k.channelID != channelID {
			continue
		}
		user, exists := s.usersByID[k.userID]
		if !exists {
			continue
		}
		views = append(views, &models.MemberView{
			UserID:      user.ID,
			Username:    user.Username,
			DisplayName: user.DisplayName,
			PublicKey:   user.PublicKey,
			Permissions: member.Permissions,
			JoinedAt:    member.JoinedAt,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Username < views[j].Username })
	return page(views, limit, offset), nil
}

func (s *InMemoryStore) CountMembers(ctx context.Context, channelID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countMembersLocked(channelID), nil
}

func (s *InMemoryStore) countMembersLocked(channelID uuid.UUID) int {
	n := 0
	for k := range s.members {
		if k.channelID == channelID {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) CountOwners(ctx context.Context, channelID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countOwnersLocked(channelID, uuid.Nil), nil
}

func (s *InMemoryStore) countOwnersLocked(channelID, except uuid.UUID) int {
	n := 0
	for k, member := range s.members {
		if k.channelID != channelID || k.userID == except {
			continue
		}
		if member.Permissions != nil && *member.Permissions&permission.Owner != 0 {
			n++
		}
	}
	return n
}

func (s *InMemoryStore) RemoveMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{channelID, userID}
	if _, exists := s.members[key]; !exists {
		return false, nil
	}
	delete(s.members, key)
	return true, nil
}

func (s *InMemoryStore) UpdateMemberPermissions(ctx context.Context, channelID, userID uuid.UUID, mask *permission.Mask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, exists := s.members[memberKey{channelID, userID}]
	if !exists {
		return ErrNotFound
	}
	member.Permissions = copyMask(mask)
	return nil
}

func (s *InMemoryStore) UpdatePermissionsKeepingOwner(ctx context.Context, channelID, userID uuid.UUID, mask permission.Mask) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member, exists := s.members[memberKey{channelID, userID}]
	if !exists {
		return false, ErrNotFound
	}
	if mask&permission.Owner == 0 &&
		s.countOwnersLocked(channelID, userID) == 0 &&
		s.countMembersLocked(channelID) > 1 {
		return false, nil
	}
	member.Permissions = copyMask(&mask)
	return true, nil
}

func (s *InMemoryStore) GetPermissionData(ctx context.Context, actorID, channelID uuid.UUID, targetUsername string) (*models.PermissionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data := &models.PermissionData{}
	if channel, exists := s.channels[channelID]; exists {
		c := *channel
		data.Channel = &c
	}
	if actor, exists := s.members[memberKey{channelID, actorID}]; exists {
		m := *actor
		data.Actor = &m
	}
	if targetUsername == "" {
		return data, nil
	}
	if user, exists := s.usersByUsername[targetUsername]; exists {
		u := *user
		data.TargetUser = &u
		if target, exists := s.members[memberKey{channelID, user.ID}]; exists {
			m := *target
			data.TargetMember = &m
		}
		_, data.ExistingBan = s.bans[memberKey{channelID, user.ID}]
	}
	return data, nil
}

// --- BanStore ---

func (s *InMemoryStore) CreateBan(ctx context.Context, ban *models.Ban) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{ban.ChannelID, ban.UserID}
	if _, exists := s.bans[key]; exists {
		return ErrConflict
	}
	b := *ban
	s.bans[key] = &b
	return nil
}

func (s *InMemoryStore) DeleteBan(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{channelID, userID}
	if _, exists := s.bans[key]; !exists {
		return false, nil
	}
	delete(s.bans, key)
	return true, nil
}

func (s *InMemoryStore) ListBans(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*models.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bans := []*models.Ban{}
	for k, ban := range s.bans {
		if k.channelID != channelID {
			continue
		}
		b := *ban
		if user, exists := s.usersByID[ban.UserID]; exists {
			b.Username = user.Username
		}
		bans = append(bans, &b)
	}
	sort.Slice(bans, func(i, j int) bool { return bans[i].BannedAt.After(bans[j].BannedAt) })
	return page(bans, limit, offset), nil
}

func (s *InMemoryStore) IsBanned(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.bans[memberKey{channelID, userID}]
	return exists, nil
}

// --- BlockStore ---

func (s *InMemoryStore) CreateBlock(ctx context.Context, block *models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blockKey{block.BlockerID, block.BlockedID}
	if _, exists := s.blocks[key]; exists {
		return ErrConflict
	}
	b := *block
	s.blocks[key] = &b
	return nil
}

func (s *InMemoryStore) DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := blockKey{blockerID, blockedID}
	if _, exists := s.blocks[key]; !exists {
		return false, nil
	}
	delete(s.blocks, key)
	return true, nil
}

func (s *InMemoryStore) ListBlocks(ctx context.Context, blockerID uuid.UUID) ([]*models.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blocks := []*models.Block{}
	for k, block := range s.blocks {
		if k.blockerID != blockerID {
			continue
		}
		b := *block
		if user, exists := s.usersByID[block.BlockedID]; exists {
			b.Username = user.Username
			b.DisplayName = user.DisplayName
		}
		blocks = append(blocks, &b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].BlockedAt.After(blocks[j].BlockedAt) })
	return blocks, nil
}

func (s *InMemoryStore) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.blocks[blockKey{blockerID, blockedID}]
	return exists, nil
}

// --- MessageStore ---

func (s *InMemoryStore) CreateMessage(ctx context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[message.ChannelID]; !exists {
		return ErrNotFound
	}
	s.seqs[message.ChannelID]++
	message.Seq = s.seqs[message.ChannelID]
	m := *message
	s.messages[message.ChannelID] = append(s.messages[message.ChannelID], &m)
	return nil
}

func (s *InMemoryStore) GetMessage(ctx context.Context, channelID, id uuid.UUID) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, message := range s.messages[channelID] {
		if message.ID == id {
			m := *message
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) UpdateMessage(ctx context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.messages[message.ChannelID] {
		if existing.ID == message.ID {
			existing.Content = message.Content
			existing.Signature = message.Signature
			existing.SignedTimestamp = message.SignedTimestamp
			existing.EditedAt = message.EditedAt
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemoryStore) DeleteMessage(ctx context.Context, channelID, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	messages := s.messages[channelID]
	for i, message := range messages {
		if message.ID == id {
			s.messages[channelID] = append(messages[:i:i], messages[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, channelID uuid.UUID, beforeSeq int64, limit int) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages := []*models.Message{}
	all := s.messages[channelID]
	for i := len(all) - 1; i >= 0 && len(messages) < limit; i-- {
		if beforeSeq > 0 && all[i].Seq >= beforeSeq {
			continue
		}
		m := *all[i]
		messages = append(messages, &m)
	}
	return messages, nil
}

// --- CallStore ---

func (s *InMemoryStore) GetCall(ctx context.Context, channelID uuid.UUID) (*models.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	call, exists := s.calls[channelID]
	if !exists {
		return nil, ErrNotFound
	}
	c := *call
	if user, exists := s.usersByID[call.StartedBy]; exists {
		c.StartedByUsername = user.Username
	}
	return &c, nil
}

func (s *InMemoryStore) CreateCall(ctx context.Context, call *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[call.ChannelID]; exists {
		return ErrConflict
	}
	c := *call
	s.calls[call.ChannelID] = &c
	return nil
}

func (s *InMemoryStore) DeleteCall(ctx context.Context, channelID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, channelID)
	for k := range s.participants {
		if k.channelID == channelID {
			delete(s.participants, k)
		}
	}
	return nil
}

func (s *InMemoryStore) GetParticipant(ctx context.Context, channelID, userID uuid.UUID) (*models.CallParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	participant, exists := s.participants[memberKey{channelID, userID}]
	if !exists {
		return nil, ErrNotFound
	}
	p := *participant
	return &p, nil
}

func (s *InMemoryStore) JoinCall(ctx context.Context, channelID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[memberKey{channelID, userID}] = &models.CallParticipant{
		ChannelID: channelID,
		UserID:    userID,
		JoinedAt:  at,
	}
	return nil
}

func (s *InMemoryStore) LeaveCall(ctx context.Context, channelID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, exists := s.participants[memberKey{channelID, userID}]
	if !exists {
		return ErrNotFound
	}
	participant.LeftAt = &at
	return nil
}

func (s *InMemoryStore) ListActiveParticipants(ctx context.Context, channelID uuid.UUID) ([]*models.CallParticipant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	participants := []*models.CallParticipant{}
	for k, participant := range s.participants {
		if k.channelID != channelID || participant.LeftAt != nil {
			continue
		}
		p := *participant
		if user, exists := s.usersByID[k.userID]; exists {
			p.Username = user.Username
			p.DisplayName = user.DisplayName
		}
		participants = append(participants, &p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].JoinedAt.Before(participants[j].JoinedAt) })
	return participants, nil
}

func (s *InMemoryStore) ListUserActiveCalls(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []uuid.UUID{}
	for k, participant := range s.participants {
		if k.userID == userID && participant.LeftAt == nil {
			ids = append(ids, k.channelID)
		}
	}
	return ids, nil
}

func (s *InMemoryStore) ListCallsInChannels(ctx context.Context, channelIDs []uuid.UUID) ([]*models.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	calls := []*models.Call{}
	for _, id := range channelIDs {
		call, exists := s.calls[id]
		if !exists {
			continue
		}
		c := *call
		if user, exists := s.usersByID[call.StartedBy]; exists {
			c.StartedByUsername = user.Username
		}
		calls = append(calls, &c)
	}
	return calls, nil
}

func copyMask(mask *permission.Mask) *permission.Mask {
	if mask == nil {
		return nil
	}
	m := *mask
	return &m
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
