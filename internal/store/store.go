package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"jointly/internal/domain"
)

// Store is the sqlite-backed persistence layer. Submissions are append-only;
// there is no update or delete path by design of the schema.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// InsertSubmission appends one record inside the caller's transaction.
// Duplicate payloads are legal; only the id is unique.
func (s Store) InsertSubmission(ctx context.Context, tx *sql.Tx, rec domain.SubmissionRecord) error {
	if rec.ID == "" {
		return errors.New("id required")
	}
	if !domain.ValidRole(string(rec.Role)) {
		return fmt.Errorf("invalid role %q", rec.Role)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO submissions(id,role,type,schema_version,payload_json,submitted_at) VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.Role, rec.Type, rec.SchemaVersion, string(rec.Payload), rec.SubmittedAt)
	return err
}

func scanSubmission(rows *sql.Rows) (domain.SubmissionRecord, error) {
	var rec domain.SubmissionRecord
	var payload string
	err := rows.Scan(&rec.ID, &rec.Role, &rec.Type, &rec.SchemaVersion, &payload, &rec.SubmittedAt)
	if err != nil {
		return rec, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}

// GetSubmission returns one record scoped to a role.
func (s Store) GetSubmission(ctx context.Context, role domain.Role, id string) (domain.SubmissionRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id,role,type,schema_version,payload_json,submitted_at FROM submissions WHERE role=? AND id=?`, role, id)
	var rec domain.SubmissionRecord
	var payload string
	err := row.Scan(&rec.ID, &rec.Role, &rec.Type, &rec.SchemaVersion, &payload, &rec.SubmittedAt)
	if err == sql.ErrNoRows {
		return domain.SubmissionRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.SubmissionRecord{}, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}

// ListSubmissions returns a role's records in insertion order.
func (s Store) ListSubmissions(ctx context.Context, role domain.Role) ([]domain.SubmissionRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,role,type,schema_version,payload_json,submitted_at FROM submissions WHERE role=? ORDER BY seq`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// FilterSubmissions narrows a role's records by category and verification
// state. A nil verified means both states; category "" means every category.
// Insertion order is preserved.
func (s Store) FilterSubmissions(ctx context.Context, role domain.Role, category string, verified *bool) ([]domain.SubmissionRecord, error) {
	all, err := s.ListSubmissions(ctx, role)
	if err != nil {
		return nil, err
	}
	res := make([]domain.SubmissionRecord, 0, len(all))
	for _, rec := range all {
		if category != "" && string(rec.Type) != category {
			continue
		}
		if verified != nil && rec.Verified() != *verified {
			continue
		}
		res = append(res, rec)
	}
	return res, nil
}

// CountSubmissions returns how many records a role holds.
func (s Store) CountSubmissions(ctx context.Context, role domain.Role) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE role=?`, role).Scan(&n)
	return n, err
}

// ListEventsAfter returns up to limit events with id greater than afterID,
// oldest first. The webhook dispatcher tails the log with this.
func (s Store) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(role,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE id>? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Role, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the newest event id, zero when the log is empty.
func (s Store) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := s.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the
// hashed value.
func (s Store) InsertAPIKey(ctx context.Context, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.ActorID == "" {
		return errors.New("actor_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if !domain.ValidRole(string(key.Role)) {
		return fmt.Errorf("invalid role %q", key.Role)
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO api_keys(id,actor_id,name,role,key_hash,created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.ActorID, nullable(key.Name), key.Role, key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (s Store) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id,actor_id,COALESCE(name,''),role,key_hash,created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.APIKey
	err := row.Scan(&key.ID, &key.ActorID, &key.Name, &key.Role, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.APIKey{}, ErrNotFound
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	return key, nil
}

// ListAPIKeys returns API keys, optionally filtered by actor ID.
func (s Store) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	query := `SELECT id,actor_id,COALESCE(name,''),role,key_hash,created_at FROM api_keys`
	var args []any
	if actorID != "" {
		query += ` WHERE actor_id=?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		var key domain.APIKey
		if err := rows.Scan(&key.ID, &key.ActorID, &key.Name, &key.Role, &key.KeyHash, &key.CreatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey removes a key by id.
func (s Store) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAuthSession upserts the single workspace auth session.
func (s Store) SaveAuthSession(ctx context.Context, sess domain.AuthSession) error {
	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if sess.UpdatedAt == "" {
		sess.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO auth_session(id,access_token,refresh_token,user_json,updated_at) VALUES (1,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET access_token=excluded.access_token, refresh_token=excluded.refresh_token, user_json=excluded.user_json, updated_at=excluded.updated_at`,
		sess.AccessToken, sess.RefreshToken, string(userJSON), sess.UpdatedAt)
	return err
}

// LoadAuthSession returns the stored session or ErrNotFound when logged out.
func (s Store) LoadAuthSession(ctx context.Context) (domain.AuthSession, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT access_token,refresh_token,user_json,updated_at FROM auth_session WHERE id=1`)
	var sess domain.AuthSession
	var userJSON string
	err := row.Scan(&sess.AccessToken, &sess.RefreshToken, &userJSON, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return domain.AuthSession{}, ErrNotFound
	}
	if err != nil {
		return domain.AuthSession{}, err
	}
	if err := json.Unmarshal([]byte(userJSON), &sess.User); err != nil {
		return domain.AuthSession{}, fmt.Errorf("decode stored user: %w", err)
	}
	return sess, nil
}

// ClearAuthSession logs the workspace out.
func (s Store) ClearAuthSession(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM auth_session WHERE id=1`)
	return err
}
