package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/slicol/meshwork/pkg/protocol"
)

// NodeRecord is a persisted known node
type NodeRecord struct {
	ID           protocol.NodeID
	Nickname     string
	PublicKeyPEM []byte
	SessionKey   []byte
	Trusted      bool
	AddedAt      int64
	LastSeen     int64
}

// NodeStore persists the nodes the local node knows about, so the trust
// store can be rebuilt on start
type NodeStore struct {
	db *sql.DB
}

const nodesSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY,
	nickname TEXT NOT NULL DEFAULT '',
	public_key BLOB NOT NULL,
	session_key BLOB,
	trusted INTEGER NOT NULL DEFAULT 0,
	added_at INTEGER NOT NULL,
	last_seen INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_nodes_trusted ON nodes(trusted);
`

// NewNodeStore opens (or creates) the node database at dbPath
func NewNodeStore(dbPath string) (*NodeStore, error) {
	db, err := openDB(dbPath, nodesSchema)
	if err != nil {
		return nil, err
	}
	return &NodeStore{db: db}, nil
}

// SaveNode inserts or updates a node. AddedAt is kept from the first save.
func (s *NodeStore) SaveNode(rec *NodeRecord) error {
	if len(rec.PublicKeyPEM) == 0 {
		return fmt.Errorf("node %s has no public key", rec.ID.Short())
	}
	if rec.AddedAt == 0 {
		rec.AddedAt = time.Now().Unix()
	}

	query := `
		INSERT INTO nodes (node_id, nickname, public_key, session_key, trusted, added_at, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			nickname = excluded.nickname,
			public_key = excluded.public_key,
			session_key = excluded.session_key,
			trusted = excluded.trusted,
			last_seen = excluded.last_seen
	`

	_, err := s.db.Exec(query, nodeKey(rec.ID), rec.Nickname, rec.PublicKeyPEM, rec.SessionKey,
		boolToInt(rec.Trusted), rec.AddedAt, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to save node: %w", err)
	}
	return nil
}

// GetNode loads one node
func (s *NodeStore) GetNode(id protocol.NodeID) (*NodeRecord, error) {
	query := `
		SELECT node_id, nickname, public_key, session_key, trusted, added_at, last_seen
		FROM nodes WHERE node_id = ?
	`

	rec, err := scanNode(s.db.QueryRow(query, nodeKey(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return rec, nil
}

// ListNodes returns every stored node, oldest first
func (s *NodeStore) ListNodes() ([]*NodeRecord, error) {
	query := `
		SELECT node_id, nickname, public_key, session_key, trusted, added_at, last_seen
		FROM nodes ORDER BY added_at ASC, node_id ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*NodeRecord
	for rows.Next() {
		rec, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, rec)
	}
	return nodes, rows.Err()
}

// SetTrusted changes the trusted flag of a stored node
func (s *NodeStore) SetTrusted(id protocol.NodeID, trusted bool) error {
	return s.update(`UPDATE nodes SET trusted = ? WHERE node_id = ?`, boolToInt(trusted), nodeKey(id))
}

// SetSessionKey replaces the session key of a stored node
func (s *NodeStore) SetSessionKey(id protocol.NodeID, key []byte) error {
	return s.update(`UPDATE nodes SET session_key = ? WHERE node_id = ?`, key, nodeKey(id))
}

// TouchNode records that a message was received from the node
func (s *NodeStore) TouchNode(id protocol.NodeID, seen time.Time) error {
	return s.update(`UPDATE nodes SET last_seen = ? WHERE node_id = ?`, seen.Unix(), nodeKey(id))
}

// DeleteNode removes a node
func (s *NodeStore) DeleteNode(id protocol.NodeID) error {
	return s.update(`DELETE FROM nodes WHERE node_id = ?`, nodeKey(id))
}

func (s *NodeStore) update(query string, args ...any) error {
	result, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection
func (s *NodeStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*NodeRecord, error) {
	var (
		rec     NodeRecord
		id      string
		trusted int
	)
	if err := row.Scan(&id, &rec.Nickname, &rec.PublicKeyPEM, &rec.SessionKey, &trusted, &rec.AddedAt, &rec.LastSeen); err != nil {
		return nil, err
	}

	nodeID, err := protocol.ParseNodeID(id)
	if err != nil {
		return nil, err
	}
	rec.ID = nodeID
	rec.Trusted = intToBool(trusted)
	return &rec, nil
}
