package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/observability"
	"github.com/agora-net/agora/pkg/storage"
)

// querier is the query surface shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store implements storage.Store over PostgreSQL.
type Store struct {
	db  *sql.DB
	q   querier
	log *observability.Logger
}

// New opens a PostgreSQL-backed store and runs pending migrations.
func New(cfg storage.Config, log *observability.Logger) (*Store, error) {
	db, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, q: db, log: log}, nil
}

// NewWithDB wraps an existing connection, used by tests.
func NewWithDB(db *sql.DB, log *observability.Logger) *Store {
	return &Store{db: db, q: db, log: log}
}

// WithTx implements storage.Store. A nested call joins the surrounding
// transaction.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	txStore := &Store{db: s.db, q: tx, log: s.log}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && s.log != nil {
			s.log.WithError(rbErr).Error("transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// HealthCheck implements storage.Store.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

const entityColumns = `id, kind, owner_id, publisher_id, template_id, resolved_roles, access_network_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*authz.Entity, error) {
	var (
		e           authz.Entity
		idRaw       string
		ownerRaw    string
		publisher   sql.NullString
		rolesRaw    []byte
		accessNet   sql.NullString
	)
	err := row.Scan(&idRaw, &e.Kind, &ownerRaw, &publisher, &e.TemplateID, &rolesRaw, &accessNet, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity row: %w", err)
	}

	if e.ID, err = uuid.Parse(idRaw); err != nil {
		return nil, fmt.Errorf("parsing entity id: %w", err)
	}
	if e.OwnerID, err = uuid.Parse(ownerRaw); err != nil {
		return nil, fmt.Errorf("parsing owner id: %w", err)
	}
	if publisher.Valid {
		id, err := uuid.Parse(publisher.String)
		if err != nil {
			return nil, fmt.Errorf("parsing publisher id: %w", err)
		}
		e.PublisherID = &id
	}
	if accessNet.Valid {
		id, err := uuid.Parse(accessNet.String)
		if err != nil {
			return nil, fmt.Errorf("parsing access network id: %w", err)
		}
		e.AccessNetworkID = &id
	}
	if err := json.Unmarshal(rolesRaw, &e.ResolvedRoles); err != nil {
		return nil, fmt.Errorf("decoding resolved roles: %w", err)
	}
	return &e, nil
}

func nullUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

// GetEntity implements authz.PropagationStore.
func (s *Store) GetEntity(ctx context.Context, id uuid.UUID) (*authz.Entity, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id.String())
	return scanEntity(row)
}

// SaveEntity implements authz.LifecycleStore. The can_list column is
// denormalized from the resolved list threshold so the secured filter can
// test it without decoding the role map.
func (s *Store) SaveEntity(ctx context.Context, e *authz.Entity) error {
	rolesRaw, err := json.Marshal(e.ResolvedRoles)
	if err != nil {
		return fmt.Errorf("encoding resolved roles: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO entities (id, kind, owner_id, publisher_id, template_id, resolved_roles, can_list, access_network_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			template_id = EXCLUDED.template_id,
			resolved_roles = EXCLUDED.resolved_roles,
			can_list = EXCLUDED.can_list,
			updated_at = EXCLUDED.updated_at
	`,
		e.ID.String(),
		string(e.Kind),
		e.OwnerID.String(),
		nullUUID(e.PublisherID),
		e.TemplateID,
		rolesRaw,
		string(e.ListRole()),
		nullUUID(e.AccessNetworkID),
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving entity %s: %w", e.ID, err)
	}
	return nil
}

// SetAccessNetwork implements authz.PropagationStore.
func (s *Store) SetAccessNetwork(ctx context.Context, id uuid.UUID, network *uuid.UUID) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE entities SET access_network_id = $1 WHERE id = $2`,
		nullUUID(network), id.String())
	if err != nil {
		return fmt.Errorf("setting access network for %s: %w", id, err)
	}
	return nil
}

// RepointDependents implements authz.PropagationStore: one bulk update over
// both the access-network and direct-publisher matches.
func (s *Store) RepointDependents(ctx context.Context, entityID uuid.UUID, network *uuid.UUID) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE entities
		SET access_network_id = $1
		WHERE id <> $2
		  AND can_list = 'public'
		  AND (access_network_id = $2 OR publisher_id = $2)
	`, nullUUID(network), entityID.String())
	if err != nil {
		return 0, fmt.Errorf("repointing dependents of %s: %w", entityID, err)
	}
	return res.RowsAffected()
}

// DeleteEntity implements authz.LifecycleStore.
func (s *Store) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("deleting entity %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// ClearAccessNetworkRefs implements authz.LifecycleStore.
func (s *Store) ClearAccessNetworkRefs(ctx context.Context, id uuid.UUID) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE entities SET access_network_id = NULL WHERE access_network_id = $1`,
		id.String())
	if err != nil {
		return 0, fmt.Errorf("clearing access network references to %s: %w", id, err)
	}
	return res.RowsAffected()
}

// ListEntities implements storage.Store: the secured filter plus kind and
// publisher restrictions, newest first.
func (s *Store) ListEntities(ctx context.Context, q storage.ListQuery) ([]*authz.Entity, error) {
	if q.Filter == nil {
		return nil, nil
	}

	var (
		conds []string
		args  []interface{}
	)
	next := 1

	if len(q.Kinds) > 0 {
		placeholders := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			placeholders[i] = fmt.Sprintf("$%d", next)
			args = append(args, string(k))
			next++
		}
		conds = append(conds, fmt.Sprintf("e.kind IN (%s)", strings.Join(placeholders, ", ")))
	}
	if q.Publisher != nil {
		conds = append(conds, fmt.Sprintf("e.publisher_id = $%d", next))
		args = append(args, q.Publisher.String())
		next++
	}

	filterSQL, filterArgs := q.Filter.SQL("entities", "e", next)
	conds = append(conds, filterSQL)
	args = append(args, filterArgs...)
	next += len(filterArgs)

	query := `SELECT ` + entityColumnsAliased("e") + ` FROM entities e WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY e.created_at DESC, e.id`

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, q.Limit)
		next++
	}
	if q.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, q.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []*authz.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func entityColumnsAliased(alias string) string {
	cols := strings.Split(entityColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// AddNetworkLink implements storage.Store. ON CONFLICT DO NOTHING makes a
// concurrent duplicate a no-op instead of an error.
func (s *Store) AddNetworkLink(ctx context.Context, client, target uuid.UUID) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO network_links (client_id, target_id)
		VALUES ($1, $2)
		ON CONFLICT (client_id, target_id) DO NOTHING
	`, client.String(), target.String())
	if err != nil {
		return fmt.Errorf("adding network link %s -> %s: %w", client, target, err)
	}
	return nil
}

// RemoveNetworkLink implements storage.Store.
func (s *Store) RemoveNetworkLink(ctx context.Context, client, target uuid.UUID) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM network_links WHERE client_id = $1 AND target_id = $2`,
		client.String(), target.String())
	if err != nil {
		return fmt.Errorf("removing network link %s -> %s: %w", client, target, err)
	}
	return nil
}

// NetworkTargets implements storage.Store.
func (s *Store) NetworkTargets(ctx context.Context, client uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT target_id FROM network_links WHERE client_id = $1 ORDER BY target_id`,
		client.String())
	if err != nil {
		return nil, fmt.Errorf("loading network targets for %s: %w", client, err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning network target: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing network target: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddMember implements storage.Store, idempotently.
func (s *Store) AddMember(ctx context.Context, community, account uuid.UUID, manager bool) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO community_members (community_id, account_id, is_manager)
		VALUES ($1, $2, $3)
		ON CONFLICT (community_id, account_id) DO NOTHING
	`, community.String(), account.String(), manager)
	if err != nil {
		return fmt.Errorf("adding member %s to %s: %w", account, community, err)
	}
	return nil
}

// RemoveMember implements storage.Store.
func (s *Store) RemoveMember(ctx context.Context, community, account uuid.UUID) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM community_members WHERE community_id = $1 AND account_id = $2`,
		community.String(), account.String())
	if err != nil {
		return fmt.Errorf("removing member %s from %s: %w", account, community, err)
	}
	return nil
}

// GetMember implements storage.Store.
func (s *Store) GetMember(ctx context.Context, community, account uuid.UUID) (*storage.Member, error) {
	m := &storage.Member{CommunityID: community, AccountID: account}
	err := s.q.QueryRowContext(ctx, `
		SELECT is_manager, joined_at FROM community_members
		WHERE community_id = $1 AND account_id = $2
	`, community.String(), account.String()).Scan(&m.IsManager, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading membership of %s in %s: %w", account, community, err)
	}
	return m, nil
}

// ListMembers implements storage.Store.
func (s *Store) ListMembers(ctx context.Context, community uuid.UUID) ([]*storage.Member, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT account_id, is_manager, joined_at FROM community_members
		WHERE community_id = $1 ORDER BY joined_at, account_id
	`, community.String())
	if err != nil {
		return nil, fmt.Errorf("listing members of %s: %w", community, err)
	}
	defer rows.Close()

	var out []*storage.Member
	for rows.Next() {
		m := &storage.Member{CommunityID: community}
		var raw string
		if err := rows.Scan(&raw, &m.IsManager, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		if m.AccountID, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("parsing member id: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetManager implements storage.Store.
func (s *Store) SetManager(ctx context.Context, community, account uuid.UUID, manager bool) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE community_members SET is_manager = $1
		WHERE community_id = $2 AND account_id = $3
	`, manager, community.String(), account.String())
	if err != nil {
		return fmt.Errorf("setting manager flag for %s in %s: %w", account, community, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return authz.ErrNotFound
	}
	return nil
}

// SaveProfile implements storage.Store.
func (s *Store) SaveProfile(ctx context.Context, p *storage.Profile) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO profiles (account_id, name, email, bio, api_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			bio = EXCLUDED.bio,
			api_token = EXCLUDED.api_token,
			updated_at = EXCLUDED.updated_at
	`, p.AccountID.String(), p.Name, p.Email, p.Bio, p.APIToken, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving profile for %s: %w", p.AccountID, err)
	}
	return nil
}

// GetProfile implements storage.Store.
func (s *Store) GetProfile(ctx context.Context, accountID uuid.UUID) (*storage.Profile, error) {
	p := &storage.Profile{AccountID: accountID}
	err := s.q.QueryRowContext(ctx, `
		SELECT name, COALESCE(email, ''), COALESCE(bio, ''), COALESCE(api_token, ''), created_at, updated_at
		FROM profiles WHERE account_id = $1
	`, accountID.String()).Scan(&p.Name, &p.Email, &p.Bio, &p.APIToken, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile for %s: %w", accountID, err)
	}
	return p, nil
}

// AccountByToken implements storage.Store.
func (s *Store) AccountByToken(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, authz.ErrNotFound
	}
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT account_id FROM profiles WHERE api_token = $1`, token).Scan(&raw)
	if err == sql.ErrNoRows {
		return uuid.Nil, authz.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolving token: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing token account id: %w", err)
	}
	return id, nil
}

// SaveBody implements storage.Store.
func (s *Store) SaveBody(ctx context.Context, b *storage.Body) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO bodies (entity_id, title, body_text, mime_type, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			title = EXCLUDED.title,
			body_text = EXCLUDED.body_text,
			mime_type = EXCLUDED.mime_type,
			updated_at = NOW()
	`, b.EntityID.String(), b.Title, b.Text, b.MimeType)
	if err != nil {
		return fmt.Errorf("saving body for %s: %w", b.EntityID, err)
	}
	return nil
}

// GetBody implements storage.Store.
func (s *Store) GetBody(ctx context.Context, entityID uuid.UUID) (*storage.Body, error) {
	b := &storage.Body{EntityID: entityID}
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(title, ''), COALESCE(body_text, ''), COALESCE(mime_type, '')
		FROM bodies WHERE entity_id = $1
	`, entityID.String()).Scan(&b.Title, &b.Text, &b.MimeType)
	if err == sql.ErrNoRows {
		return nil, authz.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading body for %s: %w", entityID, err)
	}
	return b, nil
}

var _ storage.Store = (*Store)(nil)
