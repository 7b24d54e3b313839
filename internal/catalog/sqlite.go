package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Catalog is the sqlite-backed system of record for cases and documents.
// All timestamps are stored as unix seconds in UTC.
type Catalog struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the catalog at path, creating and migrating it as needed.
// Use ":memory:" for an ephemeral catalog.
func New(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// A single connection keeps :memory: databases coherent and the
	// foreign_keys pragma in effect for every statement.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Ping verifies the database is reachable. Used by the health probe.
func (c *Catalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

const caseColumns = `id, title, case_number, workspace_path, user_id,
	created_at, updated_at, summary_status, summary_generated_at,
	summary_version, summary_document_count, narrative_updated_at, grounding_status`

const documentColumns = `id, case_id, filename, folder_name, document_type,
	file_type, page_count, word_count, processing_status, has_text_extraction,
	has_metadata, rag_indexed, file_search_store_id, retrieval_file_uri,
	blob_key, blob_bucket, blob_version_id, blob_uploaded_at, content_type,
	file_size_bytes, uploaded_at, processed_at`

// CreateCase inserts a new case. Zero timestamps are filled with the current
// time.
func (c *Catalog) CreateCase(ctx context.Context, cs Case) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = time.Now().UTC()
	}
	if cs.UpdatedAt.IsZero() {
		cs.UpdatedAt = cs.CreatedAt
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO cases (id, title, case_number, workspace_path, user_id,
	created_at, updated_at, summary_status, summary_generated_at,
	summary_version, summary_document_count, narrative_updated_at, grounding_status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.Title, nullString(cs.CaseNumber), cs.WorkspacePath, cs.UserID,
		cs.CreatedAt.Unix(), cs.UpdatedAt.Unix(), nullString(string(cs.SummaryStatus)),
		nullUnix(cs.SummaryGeneratedAt), cs.SummaryVersion, cs.SummaryDocumentCount,
		nullUnix(cs.NarrativeUpdatedAt), nullString(cs.GroundingStatus))
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// GetCase returns the case with the given id, or ErrNotFound.
func (c *Catalog) GetCase(ctx context.Context, id string) (Case, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.db.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)
	cs, err := scanCase(row)
	if err == sql.ErrNoRows {
		return Case{}, ErrNotFound
	}
	if err != nil {
		return Case{}, fmt.Errorf("get case: %w", err)
	}
	return cs, nil
}

// ListCases returns all cases owned by userID, newest first.
func (c *Catalog) ListCases(ctx context.Context, userID string) ([]Case, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE user_id = ? ORDER BY created_at DESC, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []Case
	for rows.Next() {
		cs, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

// DeleteCase removes the case and, through the schema's cascade, all of its
// documents. It reports whether a case row was actually deleted.
func (c *Catalog) DeleteCase(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM cases WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete case: %w", err)
	}
	return n > 0, nil
}

// TryBeginSummary atomically claims summary generation for a case. It
// succeeds only when no generation is currently marked in progress, making the
// generating status the admission gate for concurrent requests.
func (c *Catalog) TryBeginSummary(ctx context.Context, caseID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
UPDATE cases SET summary_status = ?, updated_at = ?
WHERE id = ? AND (summary_status IS NULL OR summary_status != ?)`,
		string(SummaryGenerating), time.Now().Unix(), caseID, string(SummaryGenerating))
	if err != nil {
		return false, fmt.Errorf("begin summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("begin summary: %w", err)
	}
	return n > 0, nil
}

// SetSummaryStatus overwrites the summary status unconditionally. The failure
// and release paths of generation use it; successful completion goes through
// CompleteSummary.
func (c *Catalog) SetSummaryStatus(ctx context.Context, caseID string, status SummaryStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `UPDATE cases SET summary_status = ?, updated_at = ? WHERE id = ?`,
		nullString(string(status)), time.Now().Unix(), caseID)
	if err != nil {
		return fmt.Errorf("set summary status: %w", err)
	}
	return nil
}

// CompleteSummary records a successful generation: status becomes generated,
// the version counter increments, and the document count snapshot is stored.
func (c *Catalog) CompleteSummary(ctx context.Context, caseID string, generatedAt time.Time, documentCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `
UPDATE cases SET summary_status = ?, summary_generated_at = ?,
	summary_version = summary_version + 1, summary_document_count = ?, updated_at = ?
WHERE id = ?`,
		string(SummaryGenerated), generatedAt.Unix(), documentCount,
		time.Now().Unix(), caseID)
	if err != nil {
		return fmt.Errorf("complete summary: %w", err)
	}
	return nil
}

// MarkSummaryStale transitions a generated summary to stale. The transition
// is conditional: any other status is left untouched, and the return value
// reports whether the flip happened.
func (c *Catalog) MarkSummaryStale(ctx context.Context, caseID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `
UPDATE cases SET summary_status = ?, updated_at = ?
WHERE id = ? AND summary_status = ?`,
		string(SummaryStale), time.Now().Unix(), caseID, string(SummaryGenerated))
	if err != nil {
		return false, fmt.Errorf("mark summary stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark summary stale: %w", err)
	}
	return n > 0, nil
}

// UpdateNarrative records a narrative edit and flags the grounding as stale
// so downstream consumers know the summary no longer reflects it.
func (c *Catalog) UpdateNarrative(ctx context.Context, caseID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `
UPDATE cases SET narrative_updated_at = ?, grounding_status = 'stale', updated_at = ?
WHERE id = ?`,
		at.Unix(), time.Now().Unix(), caseID)
	if err != nil {
		return fmt.Errorf("update narrative: %w", err)
	}
	return nil
}

// CreateDocument inserts a new document row. A zero UploadedAt is filled with
// the current time.
func (c *Catalog) CreateDocument(ctx context.Context, d Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO documents (id, case_id, filename, folder_name, document_type,
	file_type, page_count, word_count, processing_status, has_text_extraction,
	has_metadata, rag_indexed, file_search_store_id, retrieval_file_uri,
	blob_key, blob_bucket, blob_version_id, blob_uploaded_at, content_type,
	file_size_bytes, uploaded_at, processed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CaseID, d.Filename, d.FolderName, nullString(d.DocumentType),
		string(d.FileType), nullCount(d.PageCount), nullCount(d.WordCount),
		string(d.ProcessingStatus), boolInt(d.HasTextExtraction),
		boolInt(d.HasMetadata), boolInt(d.RAGIndexed),
		nullString(d.FileSearchStoreID), nullString(d.RetrievalFileURI),
		nullString(d.BlobKey), nullString(d.BlobBucket), nullString(d.BlobVersionID),
		nullUnix(d.BlobUploadedAt), nullString(d.ContentType),
		d.FileSizeBytes, d.UploadedAt.Unix(), nullUnix(d.ProcessedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (c *Catalog) GetDocument(ctx context.Context, id string) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns all documents of a case in upload order.
func (c *Catalog) ListDocuments(ctx context.Context, caseID string) ([]Document, error) {
	return c.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE case_id = ? ORDER BY uploaded_at, id`,
		caseID)
}

// ListCompletedDocuments returns the case's fully processed documents in
// upload order.
func (c *Catalog) ListCompletedDocuments(ctx context.Context, caseID string) ([]Document, error) {
	return c.queryDocuments(ctx,
		`SELECT `+documentColumns+` FROM documents
WHERE case_id = ? AND processing_status = ? ORDER BY uploaded_at, id`,
		caseID, string(StatusComplete))
}

func (c *Catalog) queryDocuments(ctx context.Context, query string, args ...any) ([]Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// Stats aggregates processing counts for a case.
func (c *Catalog) Stats(ctx context.Context, caseID string) (DocumentStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `
SELECT processing_status, COUNT(*) FROM documents WHERE case_id = ? GROUP BY processing_status`,
		caseID)
	if err != nil {
		return DocumentStats{}, fmt.Errorf("document stats: %w", err)
	}
	defer rows.Close()

	var stats DocumentStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return DocumentStats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		switch ProcessingStatus(status) {
		case StatusPending:
			stats.Pending = count
		case StatusExtracting:
			stats.Extracting = count
		case StatusAnalyzing:
			stats.Analyzing = count
		case StatusIndexing:
			stats.Indexing = count
		case StatusComplete:
			stats.Complete = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return DocumentStats{}, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}

// SetDocumentStatus moves a document to the given processing status.
func (c *Catalog) SetDocumentStatus(ctx context.Context, docID string, status ProcessingStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `UPDATE documents SET processing_status = ? WHERE id = ?`,
		string(status), docID)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

// RecordExtraction stores extraction results and advances the document to the
// analyzing stage in the same write.
func (c *Catalog) RecordExtraction(ctx context.Context, docID string, pageCount, wordCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `
UPDATE documents SET page_count = ?, word_count = ?, has_text_extraction = 1,
	processing_status = ?
WHERE id = ?`,
		nullCount(pageCount), nullCount(wordCount), string(StatusAnalyzing), docID)
	if err != nil {
		return fmt.Errorf("record extraction: %w", err)
	}
	return nil
}

// RecordAnalysis stores the classified document type and advances the document
// to the indexing stage in the same write.
func (c *Catalog) RecordAnalysis(ctx context.Context, docID string, documentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `
UPDATE documents SET document_type = ?, has_metadata = 1, processing_status = ?
WHERE id = ?`,
		nullString(documentType), string(StatusIndexing), docID)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	return nil
}

// RecordIndexed stores retrieval registration results and completes the
// document in the same write.
func (c *Catalog) RecordIndexed(ctx context.Context, docID string, storeID, fileURI string, processedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `
UPDATE documents SET file_search_store_id = ?, retrieval_file_uri = ?,
	rag_indexed = 1, processing_status = ?, processed_at = ?
WHERE id = ?`,
		nullString(storeID), nullString(fileURI), string(StatusComplete),
		processedAt.Unix(), docID)
	if err != nil {
		return fmt.Errorf("record indexed: %w", err)
	}
	return nil
}

// MarkDocumentFailed moves a document to the terminal failed status.
func (c *Catalog) MarkDocumentFailed(ctx context.Context, docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.execOne(ctx, `UPDATE documents SET processing_status = ? WHERE id = ?`,
		string(StatusFailed), docID)
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return nil
}

// DeleteDocument removes a document row and reports whether it existed.
func (c *Catalog) DeleteDocument(ctx context.Context, docID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return n > 0, nil
}

// execOne runs a statement that must touch exactly one row and maps a zero
// row count to ErrNotFound.
func (c *Catalog) execOne(ctx context.Context, query string, args ...any) error {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (Case, error) {
	var (
		cs           Case
		caseNumber   sql.NullString
		created      int64
		updated      int64
		sumStatus    sql.NullString
		sumGenerated sql.NullInt64
		narrativeAt  sql.NullInt64
		grounding    sql.NullString
	)
	err := row.Scan(&cs.ID, &cs.Title, &caseNumber, &cs.WorkspacePath, &cs.UserID,
		&created, &updated, &sumStatus, &sumGenerated,
		&cs.SummaryVersion, &cs.SummaryDocumentCount, &narrativeAt, &grounding)
	if err != nil {
		return Case{}, err
	}
	cs.CaseNumber = caseNumber.String
	cs.CreatedAt = time.Unix(created, 0).UTC()
	cs.UpdatedAt = time.Unix(updated, 0).UTC()
	cs.SummaryStatus = SummaryStatus(sumStatus.String)
	cs.SummaryGeneratedAt = timePtr(sumGenerated)
	cs.NarrativeUpdatedAt = timePtr(narrativeAt)
	cs.GroundingStatus = grounding.String
	return cs, nil
}

func scanDocument(row rowScanner) (Document, error) {
	var (
		d          Document
		docType    sql.NullString
		fileType   string
		pageCount  sql.NullInt64
		wordCount  sql.NullInt64
		status     string
		extraction int64
		metadata   int64
		indexed    int64
		storeID    sql.NullString
		fileURI    sql.NullString
		blobKey    sql.NullString
		blobBucket sql.NullString
		blobVerID  sql.NullString
		blobAt     sql.NullInt64
		contentTy  sql.NullString
		sizeBytes  sql.NullInt64
		uploaded   int64
		processed  sql.NullInt64
	)
	err := row.Scan(&d.ID, &d.CaseID, &d.Filename, &d.FolderName, &docType,
		&fileType, &pageCount, &wordCount, &status, &extraction,
		&metadata, &indexed, &storeID, &fileURI,
		&blobKey, &blobBucket, &blobVerID, &blobAt, &contentTy,
		&sizeBytes, &uploaded, &processed)
	if err != nil {
		return Document{}, err
	}
	d.DocumentType = docType.String
	d.FileType = FileType(fileType)
	d.PageCount = int(pageCount.Int64)
	d.WordCount = int(wordCount.Int64)
	d.ProcessingStatus = ProcessingStatus(status)
	d.HasTextExtraction = extraction != 0
	d.HasMetadata = metadata != 0
	d.RAGIndexed = indexed != 0
	d.FileSearchStoreID = storeID.String
	d.RetrievalFileURI = fileURI.String
	d.BlobKey = blobKey.String
	d.BlobBucket = blobBucket.String
	d.BlobVersionID = blobVerID.String
	d.BlobUploadedAt = timePtr(blobAt)
	d.ContentType = contentTy.String
	d.FileSizeBytes = sizeBytes.Int64
	d.UploadedAt = time.Unix(uploaded, 0).UTC()
	d.ProcessedAt = timePtr(processed)
	return d, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullCount(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
