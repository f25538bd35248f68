package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"parley-backend/internal/models"
	"parley-backend/internal/permission"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// PostgresStore é a implementação da interface Store para o PostgreSQL
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore cria uma nova instância do PostgresStore e pool de conexões
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("não foi possível criar pool de conexão: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("não foi possível pingar o banco de dados: %w", err)
	}

	slog.Info("pool de conexão com PostgreSQL estabelecido")
	return &PostgresStore{db: pool}, nil
}

// Close fecha o pool de conexões
func (s *PostgresStore) Close() {
	s.db.Close()
}

// RunMigrations executa os scripts SQL embutidos, em ordem de nome
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("falha ao listar migrações: %w", err)
	}
	for _, entry := range entries {
		script, err := migrationFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("falha ao ler migração %s: %w", entry.Name(), err)
		}
		if _, err := s.db.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("falha ao executar migração %s: %w", entry.Name(), err)
		}
		slog.Info("migração aplicada", "file", entry.Name())
	}
	return nil
}

// mapError traduz erros do driver para os sentinelas do pacote
func mapError(err error, action string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // 23505 = unique_violation
		return ErrConflict
	}
	return fmt.Errorf("falha ao %s: %w", action, err)
}

func maskToDB(mask *permission.Mask) *int64 {
	if mask == nil {
		return nil
	}
	v := int64(*mask)
	return &v
}

func maskFromDB(v *int64) *permission.Mask {
	if v == nil {
		return nil
	}
	m := permission.Sanitize(*v)
	return &m
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("falha ao iniciar transação: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("falha ao confirmar transação: %w", err)
	}
	return nil
}

// --- UserStore ---

const userColumns = `id, username, passkey_hash, public_key, display_name, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasskeyHash,
		&user.PublicKey,
		&user.DisplayName,
		&user.CreatedAt,
	)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	sql := `
        INSERT INTO users (id, username, passkey_hash, public_key, display_name, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.Exec(ctx, sql,
		user.ID,
		user.Username,
		user.PasskeyHash,
		user.PublicKey,
		user.DisplayName,
		user.CreatedAt,
	)
	if err != nil {
		return mapError(err, "criar usuário")
	}
	return nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err != nil {
		return nil, mapError(err, "buscar usuário por nome")
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "buscar usuário por ID")
	}
	return user, nil
}

func (s *PostgresStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, mapError(err, "verificar nome de usuário")
	}
	return exists, nil
}

func (s *PostgresStore) execOne(ctx context.Context, action, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, action)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUserPublicKey(ctx context.Context, id uuid.UUID, publicKey string) error {
	return s.execOne(ctx, "atualizar chave pública", `UPDATE users SET public_key = $2 WHERE id = $1`, id, publicKey)
}

func (s *PostgresStore) UpdateUserPasskey(ctx context.Context, id uuid.UUID, passkeyHash string) error {
	return s.execOne(ctx, "atualizar passkey", `UPDATE users SET passkey_hash = $2 WHERE id = $1`, id, passkeyHash)
}

func (s *PostgresStore) UpdateUserDisplayName(ctx context.Context, id uuid.UUID, displayName *string) error {
	return s.execOne(ctx, "atualizar nome de exibição", `UPDATE users SET display_name = $2 WHERE id = $1`, id, displayName)
}

// --- SessionStore ---

const sessionColumns = `id, user_id, token_hash, browser, device, logged_in_at, next_challenge, created_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	session := &models.Session{}
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.Browser,
		&session.Device,
		&session.LoggedInAt,
		&session.NextChallenge,
		&session.CreatedAt,
	)
	return session, err
}

func (s *PostgresStore) CreateSession(ctx context.Context, session *models.Session) error {
	sql := `
        INSERT INTO sessions (` + sessionColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.Exec(ctx, sql,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.Browser,
		session.Device,
		session.LoggedInAt,
		session.NextChallenge,
		session.CreatedAt,
	)
	if err != nil {
		return mapError(err, "criar sessão")
	}
	return nil
}

func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*models.Session, error) {
	session, err := scanSession(s.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE token_hash = $1`, tokenHash))
	if err != nil {
		return nil, mapError(err, "buscar sessão")
	}
	return session, nil
}

func (s *PostgresStore) SessionExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, mapError(err, "verificar sessão")
	}
	return exists, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID uuid.UUID) ([]*models.Session, error) {
	rows, err := s.db.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err, "listar sessões")
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de sessão: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre as sessões: %w", err)
	}
	return sessions, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, mapError(err, "remover sessão")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeleteUserSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, mapError(err, "remover sessões do usuário")
	}
	return tag.RowsAffected(), nil
}

// --- ChannelStore ---

const channelColumns = `c.id, c.name, c.type, c.permissions, c.invite_code, c.created_at`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	channel := &models.Channel{}
	var perms int64
	err := row.Scan(
		&channel.ID,
		&channel.Name,
		&channel.Type,
		&perms,
		&channel.InviteCode,
		&channel.CreatedAt,
	)
	channel.Permissions = permission.SanitizeDefault(perms)
	return channel, err
}

func (s *PostgresStore) CreateChannel(ctx context.Context, channel *models.Channel, members []*models.Member) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
            INSERT INTO channels (id, name, type, permissions, invite_code, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			channel.ID, channel.Name, channel.Type, int64(channel.Permissions), channel.InviteCode, channel.CreatedAt,
		)
		if err != nil {
			return mapError(err, "criar canal")
		}
		for _, m := range members {
			_, err := tx.Exec(ctx, `
                INSERT INTO members (channel_id, user_id, permissions, joined_at)
                VALUES ($1, $2, $3, $4)`,
				m.ChannelID, m.UserID, maskToDB(m.Permissions), m.JoinedAt,
			)
			if err != nil {
				return mapError(err, "adicionar membro inicial")
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	channel, err := scanChannel(s.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels c WHERE c.id = $1`, id))
	if err != nil {
		return nil, mapError(err, "buscar canal")
	}
	return channel, nil
}

func (s *PostgresStore) GetChannelByInvite(ctx context.Context, code string) (*models.Channel, error) {
	channel, err := scanChannel(s.db.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels c WHERE c.invite_code = $1`, code))
	if err != nil {
		return nil, mapError(err, "buscar canal por convite")
	}
	return channel, nil
}

func (s *PostgresStore) FindDM(ctx context.Context, a, b uuid.UUID) (*models.Channel, error) {
	sql := `
        SELECT ` + channelColumns + `
        FROM channels c
        JOIN members ma ON ma.channel_id = c.id AND ma.user_id = $2
        JOIN members mb ON mb.channel_id = c.id AND mb.user_id = $3
        WHERE c.type = $1
        LIMIT 1`
	channel, err := scanChannel(s.db.QueryRow(ctx, sql, models.ChannelDM, a, b))
	if err != nil {
		return nil, mapError(err, "buscar DM")
	}
	return channel, nil
}

func (s *PostgresStore) UpdateChannel(ctx context.Context, channel *models.Channel) error {
	return s.execOne(ctx, "atualizar canal",
		`UPDATE channels SET name = $2, permissions = $3 WHERE id = $1`,
		channel.ID, channel.Name, int64(channel.Permissions))
}

func (s *PostgresStore) DeleteChannel(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "remover canal", `DELETE FROM channels WHERE id = $1`, id)
}

func (s *PostgresStore) queryChannels(ctx context.Context, action, sql string, args ...any) ([]*models.Channel, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, action)
	}
	defer rows.Close()

	channels := []*models.Channel{}
	for rows.Next() {
		channel, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de canal: %w", err)
		}
		channels = append(channels, channel)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os canais: %w", err)
	}
	return channels, nil
}

func (s *PostgresStore) ListUserChannels(ctx context.Context, userID uuid.UUID) ([]*models.Channel, error) {
	return s.queryChannels(ctx, "listar canais do usuário", `
        SELECT `+channelColumns+`
        FROM channels c
        JOIN members m ON m.channel_id = c.id
        WHERE m.user_id = $1
        ORDER BY c.created_at`, userID)
}

func (s *PostgresStore) CountUserChannels(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE user_id = $1`, userID).Scan(&n); err != nil {
		return 0, mapError(err, "contar canais do usuário")
	}
	return n, nil
}

// --- MemberStore ---

func (s *PostgresStore) AddMember(ctx context.Context, member *models.Member) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO members (channel_id, user_id, permissions, joined_at)
        VALUES ($1, $2, $3, $4)`,
		member.ChannelID, member.UserID, maskToDB(member.Permissions), member.JoinedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
			return ErrNotFound
		}
		return mapError(err, "adicionar membro")
	}
	return nil
}

func (s *PostgresStore) GetMember(ctx context.Context, channelID, userID uuid.UUID) (*models.Member, error) {
	member := &models.Member{ChannelID: channelID, UserID: userID}
	var perms *int64
	err := s.db.QueryRow(ctx,
		`SELECT permissions, joined_at FROM members WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID,
	).Scan(&perms, &member.JoinedAt)
	if err != nil {
		return nil, mapError(err, "buscar membro")
	}
	member.Permissions = maskFromDB(perms)
	return member, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, channelID uuid.UUID) ([]*models.Member, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, permissions, joined_at FROM members WHERE channel_id = $1 ORDER BY joined_at`,
		channelID)
	if err != nil {
		return nil, mapError(err, "listar membros")
	}
	defer rows.Close()

	members := []*models.Member{}
	for rows.Next() {
		member := &models.Member{ChannelID: channelID}
		var perms *int64
		if err := rows.Scan(&member.UserID, &perms, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de membro: %w", err)
		}
		member.Permissions = maskFromDB(perms)
		members = append(members, member)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os membros: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) ListMemberViews(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*models.MemberView, error) {
	rows, err := s.db.Query(ctx, `
        SELECT u.id, u.username, u.display_name, u.public_key, m.permissions, m.joined_at
        FROM users u
        JOIN members m ON u.id = m.user_id
        WHERE m.channel_id = $1
        ORDER BY u.username
        LIMIT $2 OFFSET $3`, channelID, limit, offset)
	if err != nil {
		return nil, mapError(err, "listar membros")
	}
	defer rows.Close()

	views := []*models.MemberView{}
	for rows.Next() {
		view := &models.MemberView{}
		var perms *int64
		if err := rows.Scan(&view.UserID, &view.Username, &view.DisplayName, &view.PublicKey, &perms, &view.JoinedAt); err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de membro: %w", err)
		}
		view.Permissions = maskFromDB(perms)
		views = append(views, view)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os membros: %w", err)
	}
	return views, nil
}

func (s *PostgresStore) CountMembers(ctx context.Context, channelID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM members WHERE channel_id = $1`, channelID).Scan(&n); err != nil {
		return 0, mapError(err, "contar membros")
	}
	return n, nil
}

func (s *PostgresStore) CountOwners(ctx context.Context, channelID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM members WHERE channel_id = $1 AND (permissions & $2) = $2`,
		channelID, int64(permission.Owner)).Scan(&n)
	if err != nil {
		return 0, mapError(err, "contar owners")
	}
	return n, nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM members WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return false, mapError(err, "remover membro")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateMemberPermissions(ctx context.Context, channelID, userID uuid.UUID, mask *permission.Mask) error {
	return s.execOne(ctx, "atualizar permissões",
		`UPDATE members SET permissions = $3 WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID, maskToDB(mask))
}

func (s *PostgresStore) UpdatePermissionsKeepingOwner(ctx context.Context, channelID, userID uuid.UUID, mask permission.Mask) (bool, error) {
	updated := false
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// Serializa alterações concorrentes de owners no mesmo canal
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM channels WHERE id = $1 FOR UPDATE`, channelID).Scan(&locked); err != nil {
			return mapError(err, "travar canal")
		}
		tag, err := tx.Exec(ctx, `
            UPDATE members SET permissions = $3
            WHERE channel_id = $1 AND user_id = $2
              AND (($3::bigint & $4) = $4
                OR (SELECT COUNT(*) FROM members
                    WHERE channel_id = $1 AND user_id <> $2 AND (permissions & $4) = $4) >= 1
                OR (SELECT COUNT(*) FROM members WHERE channel_id = $1) = 1)`,
			channelID, userID, int64(mask), int64(permission.Owner))
		if err != nil {
			return mapError(err, "atualizar permissões do owner")
		}
		if tag.RowsAffected() > 0 {
			updated = true
			return nil
		}
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM members WHERE channel_id = $1 AND user_id = $2)`,
			channelID, userID).Scan(&exists); err != nil {
			return mapError(err, "verificar membro")
		}
		if !exists {
			return ErrNotFound
		}
		return nil
	})
	return updated, err
}

func (s *PostgresStore) GetPermissionData(ctx context.Context, actorID, channelID uuid.UUID, targetUsername string) (*models.PermissionData, error) {
	sql := `
        SELECT c.id::text, c.name, c.type, c.permissions, c.invite_code, c.created_at,
               a.user_id IS NOT NULL, a.permissions, a.joined_at,
               u.id::text, u.username, u.display_name, u.public_key,
               t.user_id IS NOT NULL, t.permissions, t.joined_at,
               b.user_id IS NOT NULL
        FROM (SELECT 1) AS one
        LEFT JOIN channels c ON c.id = $2
        LEFT JOIN members a ON a.channel_id = $2 AND a.user_id = $1
        LEFT JOIN users u ON $3 <> '' AND u.username = $3
        LEFT JOIN members t ON t.channel_id = $2 AND t.user_id = u.id
        LEFT JOIN bans b ON b.channel_id = $2 AND b.user_id = u.id`

	var (
		rowChannelID, targetID             *string
		channelName, inviteCode            *string
		channelType                        *int
		channelPerms                       *int64
		channelCreated                     *time.Time
		actorFound, targetFound, banFound  bool
		actorPerms, targetPerms            *int64
		actorJoined, targetJoined          *time.Time
		rowUsername, targetDisplay, pubKey *string
	)
	err := s.db.QueryRow(ctx, sql, actorID, channelID, targetUsername).Scan(
		&rowChannelID, &channelName, &channelType, &channelPerms, &inviteCode, &channelCreated,
		&actorFound, &actorPerms, &actorJoined,
		&targetID, &rowUsername, &targetDisplay, &pubKey,
		&targetFound, &targetPerms, &targetJoined,
		&banFound,
	)
	if err != nil {
		return nil, mapError(err, "buscar dados de permissão")
	}

	data := &models.PermissionData{ExistingBan: banFound}
	if rowChannelID != nil {
		data.Channel = &models.Channel{
			ID:          channelID,
			Name:        deref(channelName),
			Type:        models.ChannelType(deref(channelType)),
			Permissions: permission.SanitizeDefault(deref(channelPerms)),
			InviteCode:  inviteCode,
			CreatedAt:   deref(channelCreated),
		}
	}
	if actorFound {
		data.Actor = &models.Member{
			ChannelID:   channelID,
			UserID:      actorID,
			Permissions: maskFromDB(actorPerms),
			JoinedAt:    deref(actorJoined),
		}
	}
	if targetID != nil {
		id, err := uuid.Parse(*targetID)
		if err != nil {
			return nil, fmt.Errorf("id de usuário inválido no banco: %w", err)
		}
		data.TargetUser = &models.User{
			ID:          id,
			Username:    deref(rowUsername),
			DisplayName: targetDisplay,
			PublicKey:   deref(pubKey),
		}
		if targetFound {
			data.TargetMember = &models.Member{
				ChannelID:   channelID,
				UserID:      id,
				Permissions: maskFromDB(targetPerms),
				JoinedAt:    deref(targetJoined),
			}
		}
	}
	return data, nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// --- BanStore ---

func (s *PostgresStore) CreateBan(ctx context.Context, ban *models.Ban) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO bans (channel_id, user_id, banned_by, reason, banned_at)
        VALUES ($1, $2, $3, $4, $5)`,
		ban.ChannelID, ban.UserID, ban.BannedBy, ban.Reason, ban.BannedAt)
	if err != nil {
		return mapError(err, "criar banimento")
	}
	return nil
}

func (s *PostgresStore) DeleteBan(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM bans WHERE channel_id = $1 AND user_id = $2`, channelID, userID)
	if err != nil {
		return false, mapError(err, "remover banimento")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListBans(ctx context.Context, channelID uuid.UUID, limit, offset int) ([]*models.Ban, error) {
	rows, err := s.db.Query(ctx, `
        SELECT b.user_id, u.username, b.banned_by, b.reason, b.banned_at
        FROM bans b
        JOIN users u ON b.user_id = u.id
        WHERE b.channel_id = $1
        ORDER BY b.banned_at DESC
        LIMIT $2 OFFSET $3`, channelID, limit, offset)
	if err != nil {
		return nil, mapError(err, "listar banimentos")
	}
	defer rows.Close()

	bans := []*models.Ban{}
	for rows.Next() {
		ban := &models.Ban{ChannelID: channelID}
		if err := rows.Scan(&ban.UserID, &ban.Username, &ban.BannedBy, &ban.Reason, &ban.BannedAt); err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de banimento: %w", err)
		}
		bans = append(bans, ban)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os banimentos: %w", err)
	}
	return bans, nil
}

func (s *PostgresStore) IsBanned(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM bans WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID).Scan(&exists)
	if err != nil {
		return false, mapError(err, "verificar banimento")
	}
	return exists, nil
}

// --- BlockStore ---

func (s *PostgresStore) CreateBlock(ctx context.Context, block *models.Block) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO blocks (blocker_id, blocked_id, blocked_at)
        VALUES ($1, $2, $3)`,
		block.BlockerID, block.BlockedID, block.BlockedAt)
	if err != nil {
		return mapError(err, "criar bloqueio")
	}
	return nil
}

func (s *PostgresStore) DeleteBlock(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	if err != nil {
		return false, mapError(err, "remover bloqueio")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListBlocks(ctx context.Context, blockerID uuid.UUID) ([]*models.Block, error) {
	rows, err := s.db.Query(ctx, `
        SELECT b.blocked_id, u.username, u.display_name, b.blocked_at
        FROM blocks b
        JOIN users u ON b.blocked_id = u.id
        WHERE b.blocker_id = $1
        ORDER BY b.blocked_at DESC`, blockerID)
	if err != nil {
		return nil, mapError(err, "listar bloqueios")
	}
	defer rows.Close()

	blocks := []*models.Block{}
	for rows.Next() {
		block := &models.Block{BlockerID: blockerID}
		if err := rows.Scan(&block.BlockedID, &block.Username, &block.DisplayName, &block.BlockedAt); err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de bloqueio: %w", err)
		}
		blocks = append(blocks, block)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os bloqueios: %w", err)
	}
	return blocks, nil
}

func (s *PostgresStore) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM blocks WHERE blocker_id = $1 AND blocked_id = $2)`,
		blockerID, blockedID).Scan(&exists)
	if err != nil {
		return false, mapError(err, "verificar bloqueio")
	}
	return exists, nil
}

// --- MessageStore ---

const messageColumns = `id, channel_id, user_id, seq, content, signature, signed_timestamp, created_at, edited_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	message := &models.Message{}
	err := row.Scan(
		&message.ID,
		&message.ChannelID,
		&message.UserID,
		&message.Seq,
		&message.Content,
		&message.Signature,
		&message.SignedTimestamp,
		&message.CreatedAt,
		&message.EditedAt,
	)
	return message, err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, message *models.Message) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE channels SET last_seq = last_seq + 1 WHERE id = $1 RETURNING last_seq`,
			message.ChannelID).Scan(&message.Seq)
		if err != nil {
			return mapError(err, "alocar seq da mensagem")
		}
		_, err = tx.Exec(ctx, `
            INSERT INTO messages (`+messageColumns+`)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			message.ID, message.ChannelID, message.UserID, message.Seq, message.Content,
			message.Signature, message.SignedTimestamp, message.CreatedAt, message.EditedAt)
		if err != nil {
			return mapError(err, "criar mensagem")
		}
		return nil
	})
}

func (s *PostgresStore) GetMessage(ctx context.Context, channelID, id uuid.UUID) (*models.Message, error) {
	message, err := scanMessage(s.db.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE channel_id = $1 AND id = $2`, channelID, id))
	if err != nil {
		return nil, mapError(err, "buscar mensagem")
	}
	return message, nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, message *models.Message) error {
	return s.execOne(ctx, "atualizar mensagem", `
        UPDATE messages SET content = $3, signature = $4, signed_timestamp = $5, edited_at = $6
        WHERE channel_id = $1 AND id = $2`,
		message.ChannelID, message.ID, message.Content, message.Signature, message.SignedTimestamp, message.EditedAt)
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, channelID, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE channel_id = $1 AND id = $2`, channelID, id)
	if err != nil {
		return false, mapError(err, "remover mensagem")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, channelID uuid.UUID, beforeSeq int64, limit int) ([]*models.Message, error) {
	rows, err := s.db.Query(ctx, `
        SELECT `+messageColumns+`
        FROM messages
        WHERE channel_id = $1 AND ($2 <= 0 OR seq < $2)
        ORDER BY seq DESC
        LIMIT $3`, channelID, beforeSeq, limit)
	if err != nil {
		return nil, mapError(err, "listar mensagens")
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de mensagem: %w", err)
		}
		messages = append(messages, message)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre as mensagens: %w", err)
	}
	return messages, nil
}

// --- CallStore ---

func (s *PostgresStore) GetCall(ctx context.Context, channelID uuid.UUID) (*models.Call, error) {
	call := &models.Call{}
	err := s.db.QueryRow(ctx, `
        SELECT c.channel_id, c.started_by, u.username, c.started_at
        FROM calls c JOIN users u ON c.started_by = u.id
        WHERE c.channel_id = $1`, channelID).Scan(&call.ChannelID, &call.StartedBy, &call.StartedByUsername, &call.StartedAt)
	if err != nil {
		return nil, mapError(err, "buscar chamada")
	}
	return call, nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, call *models.Call) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO calls (channel_id, started_by, started_at) VALUES ($1, $2, $3)`,
		call.ChannelID, call.StartedBy, call.StartedAt)
	if err != nil {
		return mapError(err, "criar chamada")
	}
	return nil
}

func (s *PostgresStore) DeleteCall(ctx context.Context, channelID uuid.UUID) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM call_participants WHERE channel_id = $1`, channelID); err != nil {
			return mapError(err, "remover participantes")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM calls WHERE channel_id = $1`, channelID); err != nil {
			return mapError(err, "remover chamada")
		}
		return nil
	})
}

func (s *PostgresStore) GetParticipant(ctx context.Context, channelID, userID uuid.UUID) (*models.CallParticipant, error) {
	p := &models.CallParticipant{ChannelID: channelID, UserID: userID}
	err := s.db.QueryRow(ctx,
		`SELECT joined_at, left_at FROM call_participants WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID).Scan(&p.JoinedAt, &p.LeftAt)
	if err != nil {
		return nil, mapError(err, "buscar participante")
	}
	return p, nil
}

func (s *PostgresStore) JoinCall(ctx context.Context, channelID, userID uuid.UUID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO call_participants (channel_id, user_id, joined_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (channel_id, user_id) DO UPDATE SET joined_at = EXCLUDED.joined_at, left_at = NULL`,
		channelID, userID, at)
	if err != nil {
		return mapError(err, "entrar na chamada")
	}
	return nil
}

func (s *PostgresStore) LeaveCall(ctx context.Context, channelID, userID uuid.UUID, at time.Time) error {
	return s.execOne(ctx, "sair da chamada",
		`UPDATE call_participants SET left_at = $3 WHERE channel_id = $1 AND user_id = $2`,
		channelID, userID, at)
}

func (s *PostgresStore) ListActiveParticipants(ctx context.Context, channelID uuid.UUID) ([]*models.CallParticipant, error) {
	rows, err := s.db.Query(ctx, `
        SELECT cp.user_id, u.username, u.display_name, cp.joined_at
        FROM call_participants cp
        JOIN users u ON cp.user_id = u.id
        WHERE cp.channel_id = $1 AND cp.left_at IS NULL
        ORDER BY cp.joined_at`, channelID)
	if err != nil {
		return nil, mapError(err, "listar participantes")
	}
	defer rows.Close()

	participants := []*models.CallParticipant{}
	for rows.Next() {
		p := &models.CallParticipant{ChannelID: channelID}
		if err := rows.Scan(&p.UserID, &p.Username, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("falha ao escanear linha de participante: %w", err)
		}
		participants = append(participants, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("erro ao iterar sobre os participantes: %w", err)
	}
	return participants, nil
}

func (s *PostgresStore) ListUserActiveCalls(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx,
		`SELECT channel_id FROM call_participants WHERE user_id = $1 AND left_at IS NULL`, userID)
	if err != nil {
		return nil, mapError(err, "listar chamadas do usuário")
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("falha ao escanear chamada: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) ListCallsInChannels(ctx context.Context, channelIDs []uuid.UUID) ([]*models.Call, error) {
	calls := []*models.Call{}
	if len(channelIDs) == 0 {
		return calls, nil
	}
	ids := make([]string, len(channelIDs))
	for i, id := range channelIDs {
		ids[i] = id.String()
	}
	rows, err := s.db.Query(ctx, `
        SELECT c.channel_id, c.started_by, u.username, c.started_at
        FROM calls c JOIN users u ON c.started_by = u.id
        WHERE c.channel_id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, mapError(err, "listar chamadas ativas")
	}
	defer rows.Close()

	for rows.Next() {
		call := &models.Call{}
		if err := rows.Scan(&call.ChannelID, &call.StartedBy, &call.StartedByUsername, &call.StartedAt); err != nil {
			return nil, fmt.Errorf("falha ao escanear chamada: %w", err)
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}
