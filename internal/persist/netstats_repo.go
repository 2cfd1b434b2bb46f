package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NetStatsRow is the packet accounting of one level instance.
type NetStatsRow struct {
	LevelID        uuid.UUID
	Map            string
	Protocol       int
	PeakPacketSize int
	LastPacketSize int
	Overflows      int
	Drops          int
	StartedAt      time.Time
	UpdatedAt      time.Time
}

type NetStatsRepo struct {
	db *DB
}

func NewNetStatsRepo(db *DB) *NetStatsRepo {
	return &NetStatsRepo{db: db}
}

// Save upserts the row for its level instance.
func (r *NetStatsRepo) Save(ctx context.Context, row *NetStatsRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO level_net_stats
		        (level_id, map, protocol, peak_packet_size, last_packet_size, overflows, drops, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (level_id) DO UPDATE SET
		        peak_packet_size = GREATEST(level_net_stats.peak_packet_size, EXCLUDED.peak_packet_size),
		        last_packet_size = EXCLUDED.last_packet_size,
		        overflows        = EXCLUDED.overflows,
		        drops            = EXCLUDED.drops,
		        updated_at       = now()`,
		row.LevelID.String(), row.Map, row.Protocol,
		row.PeakPacketSize, row.LastPacketSize, row.Overflows, row.Drops,
	)
	if err != nil {
		return fmt.Errorf("save net stats %s: %w", row.LevelID, err)
	}
	return nil
}

// Recent returns the latest rows for a map, newest first.
func (r *NetStatsRepo) Recent(ctx context.Context, mapName string, limit int) ([]NetStatsRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT level_id::text, map, protocol, peak_packet_size, last_packet_size,
		        overflows, drops, started_at, updated_at
		 FROM level_net_stats
		 WHERE map = $1
		 ORDER BY started_at DESC
		 LIMIT $2`, mapName, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []NetStatsRow
	for rows.Next() {
		var row NetStatsRow
		var id string
		if err := rows.Scan(&id, &row.Map, &row.Protocol, &row.PeakPacketSize, &row.LastPacketSize,
			&row.Overflows, &row.Drops, &row.StartedAt, &row.UpdatedAt); err != nil {
			return nil, err
		}
		if row.LevelID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad level id %q: %w", id, err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
