package sqlite

import (
	"github.com/fr0stylo/platesync/internal/app/ports"
	"github.com/fr0stylo/platesync/internal/db"
)

// ImportStoreFactory opens sqlite-backed stores for import runs.
type ImportStoreFactory struct {
	dbPath string
	shared *db.Database
}

// NewImportStoreFactory creates a sqlite import store factory backed by DB path.
// Opened stores own and close their DB handle.
func NewImportStoreFactory(dbPath string) *ImportStoreFactory {
	return &ImportStoreFactory{dbPath: dbPath}
}

// NewSharedImportStoreFactory creates a factory backed by an existing shared DB handle.
// Opened stores do not close the shared handle.
func NewSharedImportStoreFactory(shared *db.Database) *ImportStoreFactory {
	return &ImportStoreFactory{shared: shared}
}

// Open creates a run-scoped sqlite import store.
func (f *ImportStoreFactory) Open() (ports.ImportStore, error) {
	if f.shared != nil {
		return newImportStore(f.shared, nil), nil
	}
	database, err := db.New(f.dbPath)
	if err != nil {
		return nil, err
	}
	return newImportStore(database, database.Close), nil
}

var _ ports.ImportStoreFactory = (*ImportStoreFactory)(nil)
