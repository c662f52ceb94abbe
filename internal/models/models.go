// Package models defines the persistent data shapes shared across the
// indexing, query, and checklist pipelines.
package models

import "time"

// Document is a single uploaded PDF, independent of any Run.
type Document struct {
	ID          string
	UserID      string // empty for anonymous uploads
	Filename    string
	Language    string
	UploadType  string
	BlobKey     string
	CreatedAt   time.Time
	ExpiresAt   *time.Time // anonymous documents carry an expiry, see SweepExpiredDocuments
}

// RunStatus is the lifecycle state of an IndexingRun, QueryRun, or
// ChecklistAnalysisRun.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// StepName enumerates the indexing pipeline stages in sequence order.
type StepName string

const (
	StepPartition    StepName = "partition"
	StepEnrich       StepName = "enrich"
	StepVLMEnrich    StepName = "vlm_enrich"
	StepChunk        StepName = "chunk"
	StepEmbed        StepName = "embed"
)

// IndexingRun is one execution of the indexing pipeline over a set of
// Documents.
type IndexingRun struct {
	ID          string
	ConfigSnap  map[string]any // frozen pipelineconfig.Snapshot, serialized
	Status      RunStatus
	CurrentStep StepName
	StepResults map[StepName]StepResult
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// StepResult captures the outcome of a single pipeline stage for one Run,
// written exactly once per (run, step) pair — idempotent by that key.
type StepResult struct {
	Step       StepName
	Status     RunStatus
	DurationMS int64
	Detail     map[string]any
	Error      string
}

// RunDocumentLink is the Run<->Document junction: a many-to-many
// relationship since one Run may index several Documents and a Document may
// be reindexed by multiple Runs.
type RunDocumentLink struct {
	RunID      string
	DocumentID string
}

// ElementKind distinguishes the partitioned building blocks a PDF is broken
// into before chunking.
type ElementKind string

const (
	ElementText       ElementKind = "text"
	ElementTable      ElementKind = "table"
	ElementImage      ElementKind = "image"
	ElementListItem   ElementKind = "list_item"
)

// Element is one partitioned unit of a Document, prior to chunking.
type Element struct {
	ID            string
	DocumentID    string
	RunID         string
	Page          int
	Kind          ElementKind
	Text          string
	SectionTitle  string
	ImageBlobKey  string // set for table/image elements
	Caption       string // populated by the VLM enricher
	Complexity    float64
	NeedsExtraction bool

	// Populated by the Metadata Enricher (C7).
	PageContext      string // one of {text_only, image_page, table_page, mixed}
	TextComplexity   string // one of {simple, medium, complex}
	HasTablesOnPage  bool
	HasImagesOnPage  bool

	// Populated by the VLM Enricher (C8).
	VLMProcessed bool
}

// ChunkContentType tags what kind of element(s) a Chunk was composed from
// (spec §4.9).
type ChunkContentType string

const (
	ChunkContentText           ChunkContentType = "text"
	ChunkContentTable          ChunkContentType = "table"
	ChunkContentFullPageImage  ChunkContentType = "full_page_image"
	ChunkContentListGroup      ChunkContentType = "list_group"
)

// Chunk is the unit actually embedded and retrieved.
type Chunk struct {
	ID          string
	DocumentID  string
	RunID       string
	Text        string
	Page        int
	SectionPath []string
	Embedding   []float32
	QualityOK   bool
	CreatedAt   time.Time

	SourceElementIDs []string
	SectionTitle     string
	PageContext      string
	Complexity       float64
	ContentType      ChunkContentType
	VLMProcessed     bool

	EmbeddingModel    string
	EmbeddingProvider string
}

// QueryRun is one execution of the query pipeline.
type QueryRun struct {
	ID            string
	IndexingRunID string
	Query         string
	Variations    []string
	RetrievedIDs  []string
	// RetrievedScores is parallel to RetrievedIDs: cosine similarity
	// (1 - distance) of each retrieved chunk, in the same order.
	RetrievedScores []float64
	TopSimilarity   float64
	AvgSimilarity   float64
	Answer          string
	Citations       []string
	StepTimings     map[string]int64
	Status          RunStatus
	Error           string
	CreatedAt       time.Time
}

// ChecklistAnalysisRun is one execution of the checklist pipeline.
type ChecklistAnalysisRun struct {
	ID            string
	IndexingRunID string
	ChecklistName string
	Items         []string
	RawAnalysis   string
	Results       []ChecklistResult
	Progress      int // steps completed, 0-4 (spec §4.13)
	Status        RunStatus
	Error         string
	CreatedAt     time.Time
}

// SourceRef points at one retrieved chunk supporting a checklist verdict.
type SourceRef struct {
	DocumentID string
	Page       int
	Excerpt    string
}

// ChecklistVerdict is the structured outcome of analyzing one checklist item
// (spec §3, §8).
type ChecklistVerdict string

const (
	VerdictFound                ChecklistVerdict = "found"
	VerdictMissing              ChecklistVerdict = "missing"
	VerdictRisk                 ChecklistVerdict = "risk"
	VerdictConditions           ChecklistVerdict = "conditions"
	VerdictPendingClarification ChecklistVerdict = "pending_clarification"
)

// ChecklistResult is the verdict for one checklist item. AllSources is
// authoritative; the SourceDocument/SourcePage/SourceExcerpt fields are a
// convenience projection of AllSources[0] for simple consumers. Confidence
// is optional (spec §8: "confidences, when present, ∈ [0,1]"); a nil value
// means the model didn't report one.
type ChecklistResult struct {
	ItemNumber     int
	ItemName       string
	Verdict        ChecklistVerdict
	Rationale      string
	Confidence     *float64
	AllSources     []SourceRef
	SourceDocument string
	SourcePage     int
	SourceExcerpt  string
}
