// Package store provides the SQLite storage layer for Caseline.
//
// All durable state lives in a single SQLite database file, including:
// - Imported documents with content-hash deduplication
// - Classified segments with their payloads and position locators
// - Corpus-wide keyword statistics and per-segment occurrence records
// - Case records with append-only version history
// - The pending-assignment review queue
//
// Aggregate and export views are derived from these tables and can be
// recomputed at any time without loss.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.caseline/caseline.db"

// SegmentType tags a classified segment.
type SegmentType string

const (
	SegmentQuantitative SegmentType = "quantitative"
	SegmentQualitative  SegmentType = "qualitative"
	SegmentMixed        SegmentType = "mixed"
)

// Document processing statuses.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusComplete   = "complete"
	DocStatusFailed     = "failed"
)

// Detection methods recorded on cases and pending assignments.
const (
	MethodFilenameRegex    = "filename_regex"
	MethodMetadataLookup   = "metadata_lookup"
	MethodKeywordSignature = "keyword_signature"
	MethodNoDetection      = "no_detection"
	MethodManual           = "manual"
)

// Review statuses for pending assignments. Assigned and rejected are set by
// reviewer action; merged also when an automatic assignment supersedes the
// queued entry.
const (
	ReviewPending  = "pending"
	ReviewAssigned = "assigned"
	ReviewRejected = "rejected"
	ReviewMerged   = "merged"
)

// Document metadata keys written by the assignment processor.
const (
	MetaCaseID         = "case_id"
	MetaCaseLabel      = "case_label"
	MetaCaseConfidence = "case_confidence"
	MetaCaseMethod     = "case_method"
	MetaCaseAssignedAt = "case_assigned_at"
	MetaSubjectID      = "detected_subject_id"
)

// Document is one imported file. ContentHash is unique and enforces
// idempotent import: re-ingesting identical bytes updates in place.
type Document struct {
	ID          int64
	Filename    string
	Extension   string
	SizeBytes   int64
	ContentHash string
	Status      string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Segment is one classified content unit of a document. Immutable once created.
type Segment struct {
	ID           int64
	DocumentID   int64
	SegmentType  SegmentType
	Payload      string
	Position     string // locator within the source, e.g. "page:3/line:12"
	Region       string // title, header, abstract or body — drives position weight
	NumericRatio float64
	CreatedAt    time.Time
}

// Keyword is a unique normalized term with running corpus statistics.
type Keyword struct {
	ID           int64
	Term         string
	IsPhrase     bool
	TotalFreq    int64
	DocumentFreq int64
	Relevance    float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Occurrence links a keyword to a segment. Append-only.
type Occurrence struct {
	ID           int64
	KeywordID    int64
	SegmentID    int64
	SegmentType  SegmentType
	Context      string
	NumericValue *float64
	Frequency    int64
	Weight       float64
	CreatedAt    time.Time
}

// Case is a resolved subject identity. Created on first confirmed match,
// updated (never deleted) on subsequent matches.
type Case struct {
	ID                 int64
	Signature          string
	Label              string
	Method             string
	Confidence         float64
	CrossTypeValidated bool
	KeywordCount       int64
	SegmentCount       int64
	FileCount          int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CaseVersion is one append-only history entry, one per contributing document.
type CaseVersion struct {
	ID           int64
	CaseID       int64
	DocumentID   int64
	SegmentCount int64
	CreatedAt    time.Time
}

// PendingAssignment is one segment awaiting human review.
type PendingAssignment struct {
	ID             int64
	SegmentID      int64
	DocumentID     int64
	SuggestedCase  *int64
	SuggestedLabel string
	Method         string
	Confidence     float64
	Signature      string
	Status         string
	Reviewer       string
	Note           string
	ReviewedAt     *time.Time
	CreatedAt      time.Time
}

// DocumentFilter controls the filtered document/segment listing.
type DocumentFilter struct {
	Extension   string
	SegmentType SegmentType
	MinKeywords int
	HasCase     *bool
	After       string // YYYY-MM-DD inclusive
	Before      string // YYYY-MM-DD inclusive
	TermSubstr  string
	Limit       int
	Offset      int
}

// PendingFilter controls review-queue listing.
type PendingFilter struct {
	Status     string
	DocumentID int64
	Limit      int
	Offset     int
}

// KeywordHit is one occurrence of a looked-up keyword with its provenance.
type KeywordHit struct {
	Term         string
	SegmentID    int64
	SegmentType  SegmentType
	DocumentID   int64
	Filename     string
	Context      string
	NumericValue *float64
	Frequency    int64
	Weight       float64
	Relevance    float64
}

// FileMatch is one document matched by a required-keyword lookup.
type FileMatch struct {
	DocumentID int64
	Filename   string
	MatchCount int
}

// CaseDetail is the aggregated view of a case.
type CaseDetail struct {
	Case        Case
	TopKeywords []Keyword
	Files       []string
	Versions    []CaseVersion
}

// Stats is the corpus-wide statistics snapshot. Derived state — recomputed,
// never incrementally maintained.
type Stats struct {
	Documents      int64
	Segments       int64
	SegmentsByType map[SegmentType]int64
	Keywords       int64
	Occurrences    int64
	Cases          int64
	PendingReview  int64
	TopKeywords    []Keyword
	ComputedAt     time.Time
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store is the storage interface used by the pipeline and query surface.
type Store interface {
	// Documents
	UpsertDocument(ctx context.Context, d *Document) (id int64, created bool, err error)
	GetDocument(ctx context.Context, id int64) (*Document, error)
	GetDocumentByHash(ctx context.Context, hash string) (*Document, error)
	SetDocumentStatus(ctx context.Context, id int64, status string) error
	ListDocuments(ctx context.Context, f DocumentFilter) ([]*Document, error)

	// Segments
	SegmentsByDocument(ctx context.Context, documentID int64) ([]*Segment, error)
	GetSegment(ctx context.Context, id int64) (*Segment, error)

	// Keywords
	GetKeywordByTerm(ctx context.Context, term string) (*Keyword, error)
	DocumentEvidence(ctx context.Context, documentID int64) (*Evidence, error)

	// Cases
	GetCaseBySignature(ctx context.Context, signature string) (*Case, error)
	GetCaseByLabel(ctx context.Context, label string) (*Case, error)
	CaseDetailByLabel(ctx context.Context, label string) (*CaseDetail, error)

	// Review queue
	GetPending(ctx context.Context, id int64) (*PendingAssignment, error)
	ListPending(ctx context.Context, f PendingFilter) ([]*PendingAssignment, error)

	// Query surface
	LookupKeyword(ctx context.Context, terms []string) ([]KeywordHit, error)
	FilesByKeywords(ctx context.Context, terms []string) ([]FileMatch, error)
	ComputeStats(ctx context.Context) (*Stats, error)

	// Unit of work. fn runs inside a single transaction; any error rolls the
	// whole unit back, leaving no orphaned segments or occurrences.
	InTx(ctx context.Context, fn func(tx *Tx) error) error

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// An in-memory database exists per connection; keep the pool at one so
	// every statement sees the same schema.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &SQLiteStore{db: db, dbPath: cfg.DBPath}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only — never auto-vacuum.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// dsn appends the per-connection options to the database path. A pragma run
// through Exec only reaches whichever pooled connection executes it, so WAL,
// foreign keys and the busy timeout ride on the DSN where the driver applies
// them to every connection it opens. _txlock=immediate takes the write lock
// at BEGIN so concurrent document workers queue on the busy timeout instead
// of failing on lock escalation mid-transaction.
func dsn(path string) string {
	return path + "?_txlock=immediate" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=journal_mode(WAL)"
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so query helpers can run
// inside or outside a unit of work.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
