package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/quakesync/server/internal/world"
)

// SpawnParmRepo keeps each player's spawn parms by name, so a player who
// reconnects after a restart resumes with the state the last level left.
type SpawnParmRepo struct {
	db *DB
}

func NewSpawnParmRepo(db *DB) *SpawnParmRepo {
	return &SpawnParmRepo{db: db}
}

// LoadParms returns the stored parms for name. The bool is false when the
// name has never been saved.
func (r *SpawnParmRepo) LoadParms(ctx context.Context, name string) (world.Parms, bool, error) {
	var parms world.Parms
	var raw []float32
	err := r.db.Pool.QueryRow(ctx,
		`SELECT parms FROM spawn_parms WHERE name = $1`, name,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return parms, false, nil
	}
	if err != nil {
		return parms, false, fmt.Errorf("load spawn parms %s: %w", name, err)
	}
	copy(parms[:], raw)
	return parms, true, nil
}

// SaveParms stores parms for name, replacing any earlier value.
func (r *SpawnParmRepo) SaveParms(ctx context.Context, name string, parms world.Parms) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO spawn_parms (name, parms, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET parms = EXCLUDED.parms, updated_at = now()`,
		name, parms[:],
	)
	if err != nil {
		return fmt.Errorf("save spawn parms %s: %w", name, err)
	}
	return nil
}

// DeleteParms forgets name.
func (r *SpawnParmRepo) DeleteParms(ctx context.Context, name string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM spawn_parms WHERE name = $1`, name)
	return err
}
