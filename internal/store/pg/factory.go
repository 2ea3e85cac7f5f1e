package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/sreorch/internal/store"
)

// NewRoutingStoreFromDSN opens a Postgres connection and wraps it as a
// store.RoutingStore — the managed-mode counterpart to mem.New() for
// standalone/local-dev, selected by ConfigClient.Mode/PostgresDSN (§6.5).
func NewRoutingStoreFromDSN(dsn string) (store.RoutingStore, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: new routing store: %w", err)
	}
	return NewRoutingStore(db), nil
}
