//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll empties the archive tables.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, table := range []string{"security_events", "security_alerts"} {
		if _, err := env.Pool.Exec(ctx, "TRUNCATE TABLE "+table); err != nil {
			env.t.Fatalf("truncate %s: %v", table, err)
		}
	}
}
