// internal/storage/repository.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petervdpas/grouprelay/internal/groupchat"
)

// Repository adapts *DB to groupchat.Repository. Every write method runs
// inside a single transaction.
type Repository struct {
	db *DB
}

// NewRepository wraps db as a groupchat.Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

var _ groupchat.Repository = (*Repository)(nil)

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return groupchat.ErrNotFound
	}
	return fmt.Errorf("storage: %s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports UNIQUE constraint failures via a plain
	// text message; match on that rather than importing its error codes.
	return err != nil && containsUniqueConstraint(err.Error())
}

func containsUniqueConstraint(s string) bool {
	const needle = "UNIQUE constraint failed"
	for i := 0; i+len(needle) <= len(s); i++ {
		if s[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// --- Manager ---

func (r *Repository) ManagerAll(ctx context.Context) ([]groupchat.Manager, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, gid, remaining_creates, is_suspended, created_at, is_deleted
		FROM managers WHERE is_deleted = 0 ORDER BY id`)
	if err != nil {
		return nil, wrapErr("ManagerAll", err)
	}
	defer rows.Close()

	var out []groupchat.Manager
	for rows.Next() {
		m, err := scanManager(rows)
		if err != nil {
			return nil, wrapErr("ManagerAll", err)
		}
		out = append(out, m)
	}
	return out, wrapErr("ManagerAll", rows.Err())
}

func (r *Repository) ManagerGet(ctx context.Context, gid groupchat.GroupID) (groupchat.Manager, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	row := r.db.db.QueryRowContext(ctx, `
		SELECT id, gid, remaining_creates, is_suspended, created_at, is_deleted
		FROM managers WHERE gid = ? AND is_deleted = 0`, gid.String())
	m, err := scanManager(row)
	if err != nil {
		return groupchat.Manager{}, wrapErr("ManagerGet", err)
	}
	return m, nil
}

func (r *Repository) ManagerUpsert(ctx context.Context, gid groupchat.GroupID, isSuspended bool) (groupchat.Manager, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return groupchat.Manager{}, wrapErr("ManagerUpsert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO managers (gid, remaining_creates, is_suspended, created_at, is_deleted)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(gid) DO UPDATE SET
			is_suspended = excluded.is_suspended,
			created_at   = excluded.created_at,
			is_deleted   = 0
	`, gid.String(), groupchat.DefaultRemain, isSuspended, now)
	if err != nil {
		return groupchat.Manager{}, wrapErr("ManagerUpsert", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, gid, remaining_creates, is_suspended, created_at, is_deleted
		FROM managers WHERE gid = ?`, gid.String())
	m, err := scanManager(row)
	if err != nil {
		return groupchat.Manager{}, wrapErr("ManagerUpsert", err)
	}
	if err := tx.Commit(); err != nil {
		return groupchat.Manager{}, wrapErr("ManagerUpsert", err)
	}
	return m, nil
}

func (r *Repository) ManagerDecrementRemaining(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	_, err := r.db.db.ExecContext(ctx, `
		UPDATE managers SET remaining_creates = remaining_creates - 1
		WHERE id = ? AND remaining_creates > 0`, id)
	return wrapErr("ManagerDecrementRemaining", err)
}

func (r *Repository) ManagerSoftDelete(ctx context.Context, gid groupchat.GroupID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	_, err := r.db.db.ExecContext(ctx, `UPDATE managers SET is_deleted = 1 WHERE gid = ?`, gid.String())
	return wrapErr("ManagerSoftDelete", err)
}

func scanManager(row interface{ Scan(...any) error }) (groupchat.Manager, error) {
	var m groupchat.Manager
	var gidHex string
	var createdAt time.Time
	var isSuspended, isDeleted int
	if err := row.Scan(&m.ID, &gidHex, &m.RemainingCreates, &isSuspended, &createdAt, &isDeleted); err != nil {
		return groupchat.Manager{}, err
	}
	if err := m.GID.UnmarshalText([]byte(gidHex)); err != nil {
		return groupchat.Manager{}, err
	}
	m.IsSuspended = isSuspended != 0
	m.IsDeleted = isDeleted != 0
	m.CreatedAt = createdAt
	return m, nil
}

// --- GroupChat ---

func (r *Repository) GroupAll(ctx context.Context) ([]groupchat.GroupChat, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, owner, height, gid, type, name, bio, need_agree, key_hash, is_closed, created_at, is_deleted
		FROM groups WHERE is_deleted = 0`)
	if err != nil {
		return nil, wrapErr("GroupAll", err)
	}
	defer rows.Close()

	var out []groupchat.GroupChat
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, wrapErr("GroupAll", err)
		}
		out = append(out, g)
	}
	return out, wrapErr("GroupAll", rows.Err())
}

func (r *Repository) GroupGetByPK(ctx context.Context, id int64) (groupchat.GroupChat, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	row := r.db.db.QueryRowContext(ctx, `
		SELECT id, owner, height, gid, type, name, bio, need_agree, key_hash, is_closed, created_at, is_deleted
		FROM groups WHERE id = ? AND is_deleted = 0`, id)
	g, err := scanGroup(row)
	return g, wrapErr("GroupGetByPK", err)
}

func (r *Repository) GroupGetByGID(ctx context.Context, gid groupchat.GroupID) (groupchat.GroupChat, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	row := r.db.db.QueryRowContext(ctx, `
		SELECT id, owner, height, gid, type, name, bio, need_agree, key_hash, is_closed, created_at, is_deleted
		FROM groups WHERE gid = ? AND is_deleted = 0`, gid.String())
	g, err := scanGroup(row)
	return g, wrapErr("GroupGetByGID", err)
}

func (r *Repository) GroupInsert(ctx context.Context, row groupchat.GroupChat) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	res, err := r.db.db.ExecContext(ctx, `
		INSERT INTO groups (owner, height, gid, type, name, bio, need_agree, key_hash, is_closed, created_at, is_deleted)
		VALUES (?, 0, ?, ?, ?, ?, ?, ?, 0, ?, 0)
	`, row.Owner.String(), row.GID.String(), int(row.Type), row.Name, row.Bio, row.NeedAgree, row.KeyHash, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, groupchat.ErrUniqueGroupID
		}
		return 0, wrapErr("GroupInsert", err)
	}
	return res.LastInsertId()
}

func (r *Repository) GroupSetHeight(ctx context.Context, id int64, height int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err := r.db.db.ExecContext(ctx, `UPDATE groups SET height = ? WHERE id = ?`, height, id)
	return wrapErr("GroupSetHeight", err)
}

func (r *Repository) GroupSetClosed(ctx context.Context, id int64, closed bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err := r.db.db.ExecContext(ctx, `UPDATE groups SET is_closed = ? WHERE id = ?`, closed, id)
	return wrapErr("GroupSetClosed", err)
}

func scanGroup(row interface{ Scan(...any) error }) (groupchat.GroupChat, error) {
	var g groupchat.GroupChat
	var ownerHex, gidHex string
	var gtype int
	var createdAt time.Time
	var needAgree, isClosed, isDeleted int
	if err := row.Scan(&g.ID, &ownerHex, &g.Height, &gidHex, &gtype, &g.Name, &g.Bio, &needAgree, &g.KeyHash, &isClosed, &createdAt, &isDeleted); err != nil {
		return groupchat.GroupChat{}, err
	}
	if err := g.Owner.UnmarshalText([]byte(ownerHex)); err != nil {
		return groupchat.GroupChat{}, err
	}
	if err := g.GID.UnmarshalText([]byte(gidHex)); err != nil {
		return groupchat.GroupChat{}, err
	}
	g.Type = groupchat.GroupType(gtype)
	g.NeedAgree = needAgree != 0
	g.IsClosed = isClosed != 0
	g.IsDeleted = isDeleted != 0
	g.CreatedAt = createdAt
	return g, nil
}

// --- Member ---

func (r *Repository) MemberExists(ctx context.Context, fid int64, mid groupchat.GroupID) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var n int
	err := r.db.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM members WHERE fid = ? AND mid = ? AND is_deleted = 0`, fid, mid.String()).Scan(&n)
	if err != nil {
		return false, wrapErr("MemberExists", err)
	}
	return n > 0, nil
}

func (r *Repository) MemberIsManager(ctx context.Context, fid int64, mid groupchat.GroupID) (bool, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	var isManager int
	err := r.db.db.QueryRowContext(ctx, `
		SELECT is_manager FROM members WHERE fid = ? AND mid = ? AND is_deleted = 0`, fid, mid.String()).Scan(&isManager)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("MemberIsManager", err)
	}
	return isManager != 0, nil
}

func (r *Repository) MemberGet(ctx context.Context, fid int64, mid groupchat.GroupID) (groupchat.Member, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	row := r.db.db.QueryRowContext(ctx, `
		SELECT id, fid, mid, maddr, mname, is_manager, created_at, is_deleted
		FROM members WHERE fid = ? AND mid = ? AND is_deleted = 0`, fid, mid.String())
	m, err := scanMember(row)
	return m, wrapErr("MemberGet", err)
}

func (r *Repository) MemberGetByPK(ctx context.Context, id int64) (groupchat.Member, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	row := r.db.db.QueryRowContext(ctx, `
		SELECT id, fid, mid, maddr, mname, is_manager, created_at, is_deleted
		FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	return m, wrapErr("MemberGetByPK", err)
}

func (r *Repository) MemberUpsert(ctx context.Context, row groupchat.Member) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("MemberUpsert", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO members (fid, mid, maddr, mname, is_manager, created_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(fid, mid) DO UPDATE SET
			maddr      = excluded.maddr,
			mname      = excluded.mname,
			is_manager = excluded.is_manager,
			created_at = excluded.created_at,
			is_deleted = 0
	`, row.FID, row.MID.String(), string(row.MAddr), row.MName, row.IsManager, now)
	if err != nil {
		return 0, wrapErr("MemberUpsert", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM members WHERE fid = ? AND mid = ?`, row.FID, row.MID.String()).Scan(&id); err != nil {
		return 0, wrapErr("MemberUpsert", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr("MemberUpsert", err)
	}
	return id, nil
}

func (r *Repository) MemberSoftDelete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err := r.db.db.ExecContext(ctx, `UPDATE members SET is_deleted = 1 WHERE id = ?`, id)
	return wrapErr("MemberSoftDelete", err)
}

func scanMember(row interface{ Scan(...any) error }) (groupchat.Member, error) {
	var m groupchat.Member
	var midHex, maddr string
	var isManager, isDeleted int
	var createdAt time.Time
	if err := row.Scan(&m.ID, &m.FID, &midHex, &maddr, &m.MName, &isManager, &createdAt, &isDeleted); err != nil {
		return groupchat.Member{}, err
	}
	if err := m.MID.UnmarshalText([]byte(midHex)); err != nil {
		return groupchat.Member{}, err
	}
	m.MAddr = groupchat.PeerAddr(maddr)
	m.IsManager = isManager != 0
	m.IsDeleted = isDeleted != 0
	m.CreatedAt = createdAt
	return m, nil
}

// --- Request ---

func (r *Repository) RequestInsert(ctx context.Context, row groupchat.Request) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.db.ExecContext(ctx, `
		INSERT INTO requests (fid, mid, maddr, mname, join_proof, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.FID, row.MID.String(), string(row.MAddr), row.MName, []byte(row.JoinProof), time.Now().UTC())
	if err != nil {
		return 0, wrapErr("RequestInsert", err)
	}
	return res.LastInsertId()
}

func (r *Repository) RequestGet(ctx context.Context, id int64) (groupchat.Request, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	row := r.db.db.QueryRowContext(ctx, `
		SELECT id, fid, mid, maddr, mname, join_proof, created_at FROM requests WHERE id = ?`, id)

	var req groupchat.Request
	var midHex, maddr string
	var proof []byte
	var createdAt time.Time
	if err := row.Scan(&req.ID, &req.FID, &midHex, &maddr, &req.MName, &proof, &createdAt); err != nil {
		return groupchat.Request{}, wrapErr("RequestGet", err)
	}
	if err := req.MID.UnmarshalText([]byte(midHex)); err != nil {
		return groupchat.Request{}, wrapErr("RequestGet", err)
	}
	req.MAddr = groupchat.PeerAddr(maddr)
	req.JoinProof = groupchat.Proof(proof)
	req.CreatedAt = createdAt
	return req, nil
}

// --- Message ---

func (r *Repository) MessageInsert(ctx context.Context, row groupchat.Message) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, err := r.db.db.ExecContext(ctx, `
		INSERT INTO messages (fid, mid, type, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, row.FID, row.MID, int(row.Type), row.Content, time.Now().UTC())
	if err != nil {
		return 0, wrapErr("MessageInsert", err)
	}
	return res.LastInsertId()
}

func (r *Repository) MessageGetByPK(ctx context.Context, id int64) (groupchat.Message, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	row := r.db.db.QueryRowContext(ctx, `
		SELECT id, fid, mid, type, content, created_at FROM messages WHERE id = ?`, id)

	var msg groupchat.Message
	var mtype int
	var createdAt time.Time
	if err := row.Scan(&msg.ID, &msg.FID, &msg.MID, &mtype, &msg.Content, &createdAt); err != nil {
		return groupchat.Message{}, wrapErr("MessageGetByPK", err)
	}
	msg.Type = groupchat.MessageType(mtype)
	msg.CreatedAt = createdAt
	return msg, nil
}

// --- Consensus ---

func (r *Repository) ConsensusUpsert(ctx context.Context, fid int64, height int64, ctype groupchat.ConsensusType, cid int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	_, err := r.db.db.ExecContext(ctx, `
		INSERT INTO consensus (fid, height, type, cid, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fid, height) DO UPDATE SET
			type = excluded.type,
			cid  = excluded.cid
	`, fid, height, int(ctype), cid, time.Now().UTC())
	return wrapErr("ConsensusUpsert", err)
}

func (r *Repository) AppendConsensus(ctx context.Context, fid int64, height int64, ctype groupchat.ConsensusType, cid int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tx, err := r.db.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("AppendConsensus", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consensus (fid, height, type, cid, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fid, height) DO UPDATE SET
			type = excluded.type,
			cid  = excluded.cid
	`, fid, height, int(ctype), cid, time.Now().UTC()); err != nil {
		return wrapErr("AppendConsensus", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE groups SET height = ? WHERE id = ?`, height, fid); err != nil {
		return wrapErr("AppendConsensus", err)
	}
	return wrapErr("AppendConsensus", tx.Commit())
}

func (r *Repository) ConsensusList(ctx context.Context, fid int64, from, to int64) ([]groupchat.Consensus, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	rows, err := r.db.db.QueryContext(ctx, `
		SELECT id, fid, height, type, cid, created_at FROM consensus
		WHERE fid = ? AND height >= ? AND height <= ?
		ORDER BY height`, fid, from, to)
	if err != nil {
		return nil, wrapErr("ConsensusList", err)
	}
	defer rows.Close()

	var out []groupchat.Consensus
	for rows.Next() {
		var c groupchat.Consensus
		var ctype int
		var createdAt time.Time
		if err := rows.Scan(&c.ID, &c.FID, &c.Height, &ctype, &c.CID, &createdAt); err != nil {
			return nil, wrapErr("ConsensusList", err)
		}
		c.Type = groupchat.ConsensusType(ctype)
		c.CreatedAt = createdAt
		out = append(out, c)
	}
	return out, wrapErr("ConsensusList", rows.Err())
}
