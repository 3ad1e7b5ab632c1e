package db

import (
	"context"
	"database/sql"

	"github.com/fr0stylo/platesync/internal/db/queries"
)

// CreateImportJob inserts a PENDING job row.
func (c *Database) CreateImportJob(ctx context.Context, params queries.CreateImportJobParams) (queries.ImportJob, error) {
	return c.Queries.CreateImportJob(ctx, params)
}

// GetImportJob fetches a job by id.
func (c *Database) GetImportJob(ctx context.Context, id string) (queries.ImportJob, error) {
	return c.Queries.GetImportJob(ctx, id)
}

// UpdateImportJob overwrites the mutable columns of a non-terminal job and
// returns the number of rows changed.
func (c *Database) UpdateImportJob(ctx context.Context, params queries.UpdateImportJobParams) (int64, error) {
	return c.Queries.UpdateImportJob(ctx, params)
}

// FailInterruptedImportJobs fails PENDING or PROCESSING jobs not updated since UpdatedAt_2.
func (c *Database) FailInterruptedImportJobs(ctx context.Context, params queries.FailInterruptedImportJobsParams) (int64, error) {
	return c.Queries.FailInterruptedImportJobs(ctx, params)
}

// ListImportAuditLogs returns audit rows of a job in source line order.
func (c *Database) ListImportAuditLogs(ctx context.Context, jobID string) ([]queries.ImportAuditLog, error) {
	return c.Queries.ListImportAuditLogs(ctx, jobID)
}

// ExistingPlateNumbers returns the given plate numbers that are stored.
func (c *Database) ExistingPlateNumbers(ctx context.Context, plateNumbers []string) ([]string, error) {
	if len(plateNumbers) == 0 {
		return nil, nil
	}
	return c.Queries.ExistingPlateNumbers(ctx, plateNumbers)
}

// ExistingMvFiles returns the given MV file numbers that are stored.
func (c *Database) ExistingMvFiles(ctx context.Context, mvFiles []string) ([]string, error) {
	if len(mvFiles) == 0 {
		return nil, nil
	}
	return c.Queries.ExistingMvFiles(ctx, mvFiles)
}

// CountPlates counts plates by office and status; zero values match all.
func (c *Database) CountPlates(ctx context.Context, officeID int64, status string) (int64, error) {
	return c.Queries.CountPlates(ctx, queries.CountPlatesParams{OfficeID: officeID, Status: status})
}

// WithTx runs a function within a transaction; statements stay instrumented.
func (c *Database) WithTx(ctx context.Context, fn func(*queries.Queries) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(queries.New(newInstrumentedDBTX(tx, c.tracker))); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return rollbackErr
		}
		return err
	}
	return tx.Commit()
}
