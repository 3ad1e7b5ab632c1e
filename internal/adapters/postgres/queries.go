package postgres

const jobColumns = `id, office_id, created_by, file_name, mode, status, total_rows, processed_rows,
inserted_rows, rejected_rows, raw_rows, skipped_rows, file_duplicates, store_duplicates,
concurrent_conflicts, audit_truncated, error, created_at, updated_at, finished_at`

const existingPlateNumbers = `-- name: ExistingPlateNumbers :many
SELECT plate_number FROM plates WHERE plate_number = ANY($1)`

const existingMvFiles = `-- name: ExistingMvFiles :many
SELECT mv_file FROM plates WHERE mv_file = ANY($1)`

const insertPlatesIfAbsent = `-- name: InsertPlatesIfAbsent :many
INSERT INTO plates (plate_number, mv_file, dealer, attributes_json, office_id, status, import_job_id, created_by)
SELECT p, m, d, a::jsonb, $5, $6, $7, $8
FROM unnest($1::text[], $2::text[], $3::text[], $4::text[]) AS t(p, m, d, a)
ON CONFLICT DO NOTHING
RETURNING plate_number`

const createImportJob = `-- name: CreateImportJob :one
INSERT INTO import_jobs (id, office_id, created_by, file_name, mode)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + jobColumns

const updateImportJob = `-- name: UpdateImportJob :execrows
UPDATE import_jobs
SET status = $2, total_rows = $3, processed_rows = $4, inserted_rows = $5, rejected_rows = $6,
    raw_rows = $7, skipped_rows = $8, file_duplicates = $9, store_duplicates = $10,
    concurrent_conflicts = $11, audit_truncated = $12, error = $13, updated_at = $14, finished_at = $15
WHERE id = $1 AND status NOT IN ('COMPLETED', 'FAILED')`

const getImportJob = `-- name: GetImportJob :one
SELECT ` + jobColumns + ` FROM import_jobs WHERE id = $1`

const listImportAuditLogs = `-- name: ListImportAuditLogs :many
SELECT row_number, plate_number, mv_file, conflict_type
FROM import_audit_logs
WHERE job_id = $1
ORDER BY row_number, id`

const countPlates = `-- name: CountPlates :one
SELECT COUNT(*)
FROM plates
WHERE ($1::bigint = 0 OR office_id = $1)
  AND ($2::text = '' OR status = $2)`

const failInterruptedImportJobs = `-- name: FailInterruptedImportJobs :execrows
UPDATE import_jobs
SET status = 'FAILED', error = $1, updated_at = now(), finished_at = now()
WHERE status IN ('PENDING', 'PROCESSING') AND updated_at < $2`
