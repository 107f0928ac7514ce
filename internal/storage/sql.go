package storage

import (
	_ "embed"
)

const (
	ensureSessionSQL = `
INSERT INTO sessions (start_time,
                      device_id)
VALUES (CURRENT_TIMESTAMP, ?)
ON CONFLICT (device_id) DO NOTHING`

	selectSessionSQL = `
SELECT
    id
FROM sessions
WHERE
    device_id = ?`

	insertRawSampleSQL = `
INSERT INTO raw_samples (device_id,
                         sequence_no,
                         timestamp,
                         latitude,
                         longitude,
                         accuracy_m,
                         speed_mps,
                         heading,
                         battery_pct,
                         charging,
                         disposition)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	upsertStoppageSQL = `
INSERT INTO stoppages (id,
                       device_id,
                       start_time,
                       end_time,
                       duration_s,
                       center_lat,
                       center_lon,
                       radius_m,
                       classification,
                       finalized)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET end_time   = excluded.end_time,
                               duration_s = excluded.duration_s,
                               radius_m   = excluded.radius_m,
                               finalized  = excluded.finalized`

	selectStoppagesSQL = `
SELECT
    id,
    device_id,
    start_time,
    end_time,
    duration_s,
    center_lat,
    center_lon,
    radius_m,
    classification,
    finalized
FROM stoppages`
)

//go:embed schema.sql
var schemaSQL string
