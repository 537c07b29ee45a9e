package main

import (
	"context"

	"github.com/coriolis-mq/coriolis/pkg/flags"
	"github.com/coriolis-mq/coriolis/pkg/log"
)

// builtinMigrations is the table a YAML catalog's flag.migration names
// are resolved against. A binary embedding coriolisd for a real
// deployment extends this table with its own application migrations;
// a catalog entry naming a migration absent here surfaces as
// invalid_migration_fun when enable() reaches it, never at load time.
func builtinMigrations() map[flags.Name]flags.Migration {
	return map[flags.Name]flags.Migration{
		"noop": func(ctx context.Context, event flags.Event) error {
			return nil
		},
		"log_only": func(ctx context.Context, event flags.Event) error {
			log.WithComponent("migrations").Info().Str("event", string(event)).Msg("migration ran with no side effects beyond this log line")
			return nil
		},
	}
}
