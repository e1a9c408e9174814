package groupchat

import "context"

// Repository is the durable CRUD collaborator. Every write method runs
// inside a single relational transaction; implementations must
// not partially apply an upsert. All methods return ErrNotFound,
// ErrUniqueGroupID or a wrapped driver error, never a
// bespoke type, so callers can branch with errors.Is.
type Repository interface {
	ManagerAll(ctx context.Context) ([]Manager, error)
	ManagerGet(ctx context.Context, gid GroupID) (Manager, error)
	// ManagerUpsert inserts a manager row with RemainingCreates=DefaultRemain
	// if gid is unknown, else updates IsSuspended/CreatedAt and clears
	// IsDeleted.
	ManagerUpsert(ctx context.Context, gid GroupID, isSuspended bool) (Manager, error)
	ManagerDecrementRemaining(ctx context.Context, id int64) error
	// ManagerSoftDelete marks a manager row deleted (Admin RPC remove_manager).
	ManagerSoftDelete(ctx context.Context, gid GroupID) error

	GroupAll(ctx context.Context) ([]GroupChat, error)
	GroupGetByPK(ctx context.Context, id int64) (GroupChat, error)
	GroupGetByGID(ctx context.Context, gid GroupID) (GroupChat, error)
	// GroupInsert rejects with ErrUniqueGroupID if row.GID already exists.
	GroupInsert(ctx context.Context, row GroupChat) (int64, error)
	GroupSetHeight(ctx context.Context, id int64, height int64) error
	GroupSetClosed(ctx context.Context, id int64, closed bool) error

	MemberExists(ctx context.Context, fid int64, mid GroupID) (bool, error)
	MemberIsManager(ctx context.Context, fid int64, mid GroupID) (bool, error)
	MemberGet(ctx context.Context, fid int64, mid GroupID) (Member, error)
	MemberGetByPK(ctx context.Context, id int64) (Member, error)
	// MemberUpsert inserts, or on (fid, m_id) collision updates
	// address/name/manager flag and clears is_deleted.
	MemberUpsert(ctx context.Context, row Member) (int64, error)
	MemberSoftDelete(ctx context.Context, id int64) error

	RequestInsert(ctx context.Context, row Request) (int64, error)
	RequestGet(ctx context.Context, id int64) (Request, error)

	MessageInsert(ctx context.Context, row Message) (int64, error)
	MessageGetByPK(ctx context.Context, id int64) (Message, error)

	// ConsensusUpsert inserts, or on (fid, height) collision updates
	// (ctype, cid).
	ConsensusUpsert(ctx context.Context, fid int64, height int64, ctype ConsensusType, cid int64) error
	// AppendConsensus upserts the consensus row AND sets GroupChat.height in
	// one transaction, so a crash can never commit one without the other:
	// the row count and the recorded height move in lockstep.
	AppendConsensus(ctx context.Context, fid int64, height int64, ctype ConsensusType, cid int64) error
	ConsensusList(ctx context.Context, fid int64, from, to int64) ([]Consensus, error)
}
