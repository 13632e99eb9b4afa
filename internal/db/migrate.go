package db

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent schema. It is only run when AUTO_MIGRATE
// is enabled.
func Migrate(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx, schemaSQL)
	return err
}
