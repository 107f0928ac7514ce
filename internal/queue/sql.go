package queue

const (
	initQueueSchemaSQL = `
CREATE TABLE IF NOT EXISTS queue_entries (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id         TEXT    NOT NULL,
    sequence_no       INTEGER NOT NULL,
    payload           BLOB    NOT NULL,
    sample_time       DATETIME NOT NULL,
    enqueue_time      DATETIME NOT NULL,
    retry_count       INTEGER NOT NULL DEFAULT 0,
    attempted_primary INTEGER NOT NULL DEFAULT 0,
    attempted_legacy  INTEGER NOT NULL DEFAULT 0,
    leased            INTEGER NOT NULL DEFAULT 0,
    next_attempt      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_queue_device ON queue_entries (device_id, id);

CREATE TABLE IF NOT EXISTS device_seq (
    device_id TEXT PRIMARY KEY,
    next_seq  INTEGER NOT NULL
)`

	releaseLeasesSQL = `UPDATE queue_entries SET leased = 0 WHERE leased = 1`

	nextSequenceSQL = `
INSERT INTO device_seq (device_id, next_seq)
VALUES (?, 1)
ON CONFLICT (device_id) DO UPDATE SET next_seq = next_seq + 1
RETURNING next_seq`

	insertEntrySQL = `
INSERT INTO queue_entries (device_id,
                           sequence_no,
                           payload,
                           sample_time,
                           enqueue_time)
VALUES (?, ?, ?, ?, ?)`

	countDeviceEntriesSQL = `SELECT COUNT(*) FROM queue_entries WHERE device_id = ?`

	countEntriesSQL = `SELECT COUNT(*) FROM queue_entries`

	evictOldestSQL = `
DELETE FROM queue_entries
WHERE id IN (SELECT id
             FROM queue_entries
             WHERE device_id = ?
             ORDER BY id
             LIMIT ?)`

	selectBatchSQL = `
SELECT id,
       payload,
       enqueue_time,
       retry_count,
       attempted_primary,
       attempted_legacy
FROM queue_entries
WHERE leased = 0
  AND next_attempt <= ?
ORDER BY id
LIMIT ?`

	leaseEntrySQL = `UPDATE queue_entries SET leased = 1 WHERE id = ?`

	deleteEntrySQL = `DELETE FROM queue_entries WHERE id = ?`

	requeueEntrySQL = `
UPDATE queue_entries
SET retry_count       = ?,
    attempted_primary = ?,
    attempted_legacy  = ?,
    leased            = 0,
    next_attempt      = ?
WHERE id = ?`
)
