package storage

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/slicol/meshwork/pkg/protocol"
)

// DefaultQueueTTL is how long a sealed message waits for its recipient
const DefaultQueueTTL = 7 * 24 * time.Hour

// QueuedMessage is a sealed message waiting for its recipient to connect
type QueuedMessage struct {
	ID        int64
	Recipient protocol.NodeID
	MessageID protocol.MessageID
	Payload   []byte // exact wire bytes of the sealed message
	Timestamp int64  // when the message was queued
	ExpiresAt int64
	Attempts  int
}

// OutboundQueue stores sealed messages for offline recipients
type OutboundQueue struct {
	db  *sql.DB
	ttl time.Duration

	stop      chan struct{}
	closeOnce sync.Once
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS outbound_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient TEXT NOT NULL,
	message_id TEXT UNIQUE NOT NULL,
	payload BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0
);

-- Index for fast lookup by recipient
CREATE INDEX IF NOT EXISTS idx_outbound_recipient ON outbound_messages(recipient);

-- Index for expiration cleanup
CREATE INDEX IF NOT EXISTS idx_outbound_expires ON outbound_messages(expires_at);
`

// NewOutboundQueue opens the queue database at dbPath. A zero ttl means
// DefaultQueueTTL.
func NewOutboundQueue(dbPath string, ttl time.Duration) (*OutboundQueue, error) {
	if ttl == 0 {
		ttl = DefaultQueueTTL
	}

	db, err := openDB(dbPath, queueSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	q := &OutboundQueue{
		db:   db,
		ttl:  ttl,
		stop: make(chan struct{}),
	}

	// Start background cleanup goroutine
	go q.cleanupLoop(time.Hour)

	return q, nil
}

// Enqueue stores a sealed message for recipient. Queuing the same message
// twice is a no-op.
func (q *OutboundQueue) Enqueue(recipient protocol.NodeID, id protocol.MessageID, payload []byte) error {
	now := time.Now().Unix()
	expiresAt := now + int64(q.ttl.Seconds())

	query := `
		INSERT OR IGNORE INTO outbound_messages (recipient, message_id, payload, timestamp, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if _, err := q.db.Exec(query, nodeKey(recipient), id.String(), payload, now, expiresAt); err != nil {
		return fmt.Errorf("failed to queue message: %w", err)
	}

	log.Printf("📬 Queued message %s for offline node %s (expires in %v)", id.String()[:8], recipient.Short(), q.ttl)
	return nil
}

// Pending returns the unexpired messages for recipient in queue order
func (q *OutboundQueue) Pending(recipient protocol.NodeID) ([]*QueuedMessage, error) {
	query := `
		SELECT id, recipient, message_id, payload, timestamp, expires_at, attempts
		FROM outbound_messages
		WHERE recipient = ? AND expires_at > ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := q.db.Query(query, nodeKey(recipient), time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get queued messages: %w", err)
	}
	defer rows.Close()

	var messages []*QueuedMessage
	for rows.Next() {
		var (
			msg          QueuedMessage
			recipientHex string
			messageID    string
		)
		if err := rows.Scan(&msg.ID, &recipientHex, &messageID, &msg.Payload, &msg.Timestamp, &msg.ExpiresAt, &msg.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if msg.Recipient, err = protocol.ParseNodeID(recipientHex); err != nil {
			return nil, err
		}
		if msg.MessageID, err = protocol.ParseMessageID(messageID); err != nil {
			return nil, err
		}
		messages = append(messages, &msg)
	}

	return messages, rows.Err()
}

// Delete removes a message after successful delivery
func (q *OutboundQueue) Delete(id protocol.MessageID) error {
	if _, err := q.db.Exec(`DELETE FROM outbound_messages WHERE message_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// DeleteFor drops every queued message for recipient
func (q *OutboundQueue) DeleteFor(recipient protocol.NodeID) error {
	result, err := q.db.Exec(`DELETE FROM outbound_messages WHERE recipient = ?`, nodeKey(recipient))
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	count, _ := result.RowsAffected()
	log.Printf("🗑️  Deleted %d queued messages for %s", count, recipient.Short())
	return nil
}

// IncrementAttempts increments the delivery attempt counter
func (q *OutboundQueue) IncrementAttempts(id protocol.MessageID) error {
	_, err := q.db.Exec(`UPDATE outbound_messages SET attempts = attempts + 1 WHERE message_id = ?`, id.String())
	return err
}

// Count returns the number of unexpired messages for recipient
func (q *OutboundQueue) Count(recipient protocol.NodeID) (int, error) {
	query := `SELECT COUNT(*) FROM outbound_messages WHERE recipient = ? AND expires_at > ?`

	var count int
	if err := q.db.QueryRow(query, nodeKey(recipient), time.Now().Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get message count: %w", err)
	}
	return count, nil
}

// Size returns the total number of unexpired messages
func (q *OutboundQueue) Size() (int, error) {
	query := `SELECT COUNT(*) FROM outbound_messages WHERE expires_at > ?`

	var count int
	if err := q.db.QueryRow(query, time.Now().Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get queue size: %w", err)
	}
	return count, nil
}

// Stats returns the number of queued messages per recipient
func (q *OutboundQueue) Stats() (map[string]int, error) {
	query := `
		SELECT recipient, COUNT(*)
		FROM outbound_messages
		WHERE expires_at > ?
		GROUP BY recipient
	`

	rows, err := q.db.Query(query, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var recipient string
		var count int
		if err := rows.Scan(&recipient, &count); err != nil {
			return nil, err
		}
		stats[recipient] = count
	}
	return stats, rows.Err()
}

// PurgeExpired deletes expired messages and returns how many were removed
func (q *OutboundQueue) PurgeExpired(now time.Time) (int64, error) {
	result, err := q.db.Exec(`DELETE FROM outbound_messages WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired messages: %w", err)
	}
	return result.RowsAffected()
}

// cleanupLoop periodically removes expired messages
func (q *OutboundQueue) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case now := <-ticker.C:
			count, err := q.PurgeExpired(now)
			if err != nil {
				log.Printf("Failed to cleanup expired messages: %v", err)
				continue
			}
			if count > 0 {
				log.Printf("🧹 Cleaned up %d expired messages", count)
			}
		}
	}
}

// Close stops the cleanup loop and closes the database connection
func (q *OutboundQueue) Close() error {
	q.closeOnce.Do(func() { close(q.stop) })
	return q.db.Close()
}
