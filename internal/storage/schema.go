package storage

// migrate creates every table the Repository needs. CREATE TABLE IF NOT
// EXISTS keeps restarts idempotent; the schema is fixed, so there is no
// versioned migration machinery.
func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS managers (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			gid               TEXT NOT NULL UNIQUE,
			remaining_creates INTEGER NOT NULL DEFAULT 0,
			is_suspended      INTEGER NOT NULL DEFAULT 0,
			created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			is_deleted        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS groups (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			owner      TEXT NOT NULL,
			height     INTEGER NOT NULL DEFAULT 0,
			gid        TEXT NOT NULL UNIQUE,
			type       INTEGER NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			bio        TEXT NOT NULL DEFAULT '',
			need_agree INTEGER NOT NULL DEFAULT 0,
			key_hash   BLOB,
			is_closed  INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			is_deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS members (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			fid        INTEGER NOT NULL REFERENCES groups(id),
			mid        TEXT NOT NULL,
			maddr      TEXT NOT NULL DEFAULT '',
			mname      TEXT NOT NULL DEFAULT '',
			is_manager INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			is_deleted INTEGER NOT NULL DEFAULT 0,
			UNIQUE (fid, mid)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			fid        INTEGER NOT NULL REFERENCES groups(id),
			mid        TEXT NOT NULL,
			maddr      TEXT NOT NULL DEFAULT '',
			mname      TEXT NOT NULL DEFAULT '',
			join_proof BLOB,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			fid        INTEGER NOT NULL REFERENCES groups(id),
			mid        INTEGER NOT NULL REFERENCES members(id),
			type       INTEGER NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS consensus (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			fid        INTEGER NOT NULL REFERENCES groups(id),
			height     INTEGER NOT NULL,
			type       INTEGER NOT NULL,
			cid        INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (fid, height)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_members_fid ON members(fid)`,
		`CREATE INDEX IF NOT EXISTS idx_consensus_fid_height ON consensus(fid, height)`,
	}
	for _, s := range stmts {
		if _, err := d.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
