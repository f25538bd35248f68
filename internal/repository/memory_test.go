package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parley-backend/internal/models"
	"parley-backend/internal/permission"

	"github.com/google/uuid"
)

func seedChannel(t *testing.T, s *InMemoryStore, masks ...*permission.Mask) (*models.Channel, []*models.User) {
	t.Helper()
	ctx := context.Background()
	channel := &models.Channel{
		ID:          uuid.New(),
		Name:        "general",
		Type:        models.ChannelGroup,
		Permissions: permission.DefaultChannel,
		CreatedAt:   time.Now(),
	}
	users := make([]*models.User, 0, len(masks))
	members := make([]*models.Member, 0, len(masks))
	for i, mask := range masks {
		user := &models.User{
			ID:        uuid.New(),
			Username:  "user" + string(rune('a'+i)),
			CreatedAt: time.Now(),
		}
		if err := s.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		users = append(users, user)
		members = append(members, &models.Member{
			ChannelID:   channel.ID,
			UserID:      user.ID,
			Permissions: mask,
			JoinedAt:    time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	if err := s.CreateChannel(ctx, channel, members); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	return channel, users
}

func TestUpdatePermissionsKeepingOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name    string
		masks   []*permission.Mask
		next    permission.Mask
		updated bool
	}{
		{
			name:    "sole owner with other members cannot drop owner",
			masks:   []*permission.Mask{permission.Ptr(permission.Owner), nil},
			next:    permission.Admin,
			updated: false,
		},
		{
			name:    "sole member may drop owner",
			masks:   []*permission.Mask{permission.Ptr(permission.Owner)},
			next:    permission.SendMessages,
			updated: true,
		},
		{
			name:    "second owner allows drop",
			masks:   []*permission.Mask{permission.Ptr(permission.Owner), permission.Ptr(permission.Owner)},
			next:    permission.SendMessages,
			updated: true,
		},
		{
			name:    "keeping owner bit always allowed",
			masks:   []*permission.Mask{permission.Ptr(permission.Owner), nil},
			next:    permission.Owner | permission.SendMessages,
			updated: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewInMemoryStore()
			channel, users := seedChannel(t, s, tt.masks...)

			updated, err := s.UpdatePermissionsKeepingOwner(ctx, channel.ID, users[0].ID, tt.next)
			if err != nil {
				t.Fatalf("UpdatePermissionsKeepingOwner: %v", err)
			}
			if updated != tt.updated {
				t.Fatalf("updated = %v, want %v", updated, tt.updated)
			}

			member, err := s.GetMember(ctx, channel.ID, users[0].ID)
			if err != nil {
				t.Fatalf("GetMember: %v", err)
			}
			got := permission.Effective(member.Permissions, channel.Permissions)
			if tt.updated && got != tt.next {
				t.Errorf("mask = %v, want %v", got, tt.next)
			}
			if !tt.updated && got != permission.Owner {
				t.Errorf("mask changed to %v on rejected update", got)
			}
		})
	}
}

func TestUpdatePermissionsKeepingOwnerUnknownMember(t *testing.T) {
	t.Parallel()
	s := NewInMemoryStore()
	channel, _ := seedChannel(t, s, permission.Ptr(permission.Owner))

	_, err := s.UpdatePermissionsKeepingOwner(context.Background(), channel.ID, uuid.New(), 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePermissionsKeepingOwnerConcurrentOwners(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		s := NewInMemoryStore()
		channel, users := seedChannel(t, s, permission.Ptr(permission.Owner), permission.Ptr(permission.Owner))

		results := make([]bool, len(users))
		errs := make([]error, len(users))
		var wg sync.WaitGroup
		for j, user := range users {
			wg.Add(1)
			go func(j int, userID uuid.UUID) {
				defer wg.Done()
				results[j], errs[j] = s.UpdatePermissionsKeepingOwner(ctx, channel.ID, userID, 0)
			}(j, user.ID)
		}
		wg.Wait()

		succeeded := 0
		for j := range users {
			if errs[j] != nil {
				t.Fatalf("UpdatePermissionsKeepingOwner: %v", errs[j])
			}
			if results[j] {
				succeeded++
			}
		}
		if succeeded != 1 {
			t.Fatalf("run %d: %d updates succeeded, want exactly 1", i, succeeded)
		}
		owners, err := s.CountOwners(ctx, channel.ID)
		if err != nil {
			t.Fatalf("CountOwners: %v", err)
		}
		if owners != 1 {
			t.Fatalf("run %d: owners = %d, want 1", i, owners)
		}
	}
}

func TestGetPermissionData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewInMemoryStore()
	channel, users := seedChannel(t, s, permission.Ptr(permission.Owner), nil)

	if err := s.CreateBan(ctx, &models.Ban{ChannelID: channel.ID, UserID: users[1].ID, BannedBy: users[0].ID, BannedAt: time.Now()}); err != nil {
		t.Fatalf("CreateBan: %v", err)
	}

	data, err := s.GetPermissionData(ctx, users[0].ID, channel.ID, users[1].Username)
	if err != nil {
		t.Fatalf("GetPermissionData: %v", err)
	}
	if data.Channel == nil || data.Channel.ID != channel.ID {
		t.Fatal("expected channel in permission data")
	}
	if data.Actor == nil || !permission.Has(data.Actor.Permissions, permission.Owner, channel.Permissions) {
		t.Error("expected actor to be the owner")
	}
	if data.TargetUser == nil || data.TargetUser.ID != users[1].ID {
		t.Error("expected target user")
	}
	if data.TargetMember == nil || data.TargetMember.Permissions != nil {
		t.Error("expected target member inheriting channel default")
	}
	if !data.ExistingBan {
		t.Error("expected existing ban flag")
	}

	// Sem alvo: só canal e ator
	data, err = s.GetPermissionData(ctx, users[1].ID, channel.ID, "")
	if err != nil {
		t.Fatalf("GetPermissionData: %v", err)
	}
	if data.TargetUser != nil || data.TargetMember != nil || data.ExistingBan {
		t.Error("expected empty target section")
	}

	// Canal inexistente
	data, err = s.GetPermissionData(ctx, users[0].ID, uuid.New(), users[1].Username)
	if err != nil {
		t.Fatalf("GetPermissionData: %v", err)
	}
	if data.Channel != nil || data.Actor != nil || data.TargetMember != nil {
		t.Error("expected no channel or members for unknown channel")
	}
}

func TestMessageSeqAndPaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewInMemoryStore()
	channel, users := seedChannel(t, s, permission.Ptr(permission.Owner))

	author := users[0].ID
	for i := 0; i < 5; i++ {
		msg := &models.Message{ID: uuid.New(), ChannelID: channel.ID, UserID: &author, Content: "x", CreatedAt: time.Now()}
		if err := s.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		if msg.Seq != int64(i+1) {
			t.Fatalf("seq = %d, want %d", msg.Seq, i+1)
		}
	}

	latest, err := s.ListMessages(ctx, channel.ID, 0, 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(latest) != 2 || latest[0].Seq != 5 || latest[1].Seq != 4 {
		t.Fatalf("unexpected latest page: %+v", latest)
	}

	older, err := s.ListMessages(ctx, channel.ID, 4, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(older) != 3 || older[0].Seq != 3 {
		t.Fatalf("unexpected older page: %+v", older)
	}
}

func TestDeleteChannelCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewInMemoryStore()
	channel, users := seedChannel(t, s, permission.Ptr(permission.Owner), nil)

	if err := s.DeleteChannel(ctx, channel.ID); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}
	if _, err := s.GetMember(ctx, channel.ID, users[1].ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected membership removed, got %v", err)
	}
	n, _ := s.CountUserChannels(ctx, users[0].ID)
	if n != 0 {
		t.Errorf("expected 0 channels, got %d", n)
	}
}

func TestCreateUserConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewInMemoryStore()

	user := &models.User{ID: uuid.New(), Username: "alice"}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	dup := &models.User{ID: uuid.New(), Username: "alice"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}
