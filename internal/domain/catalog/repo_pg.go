package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed scale definition repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Save(ctx context.Context, def Definition) error {
	payload, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("encode scale definition: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO scale_definition (scale_id, version, name, abbreviation, definition)
		VALUES ($1,$2,$3,$4,$5)`,
		def.ID, def.Version, def.Name, def.Abbreviation, payload)
	return err
}

func (r *repoPG) Get(ctx context.Context, id string, version int) (Definition, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `
		SELECT definition FROM scale_definition WHERE scale_id = $1 AND version = $2`,
		id, version).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Definition{}, fmt.Errorf("%w: %s v%d", ErrScaleNotFound, id, version)
	}
	if err != nil {
		return Definition{}, err
	}
	return ParseDefinition(payload)
}

func (r *repoPG) ListPublished(ctx context.Context) ([]Definition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT definition FROM scale_definition ORDER BY scale_id, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []Definition
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		def, err := ParseDefinition(payload)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}
