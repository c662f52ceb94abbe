// Package pipelineconfig implements the Config Resolver (spec §4.1): it
// takes defaults, a per-Run overrides map, the upload language, and the
// upload type, and produces an immutable, validated Snapshot.
//
// This package never reads the OS environment. Process-level settings
// (API keys, DSNs, broker addresses) live in internal/envconfig and are
// injected into the components that need them separately — a pipeline
// Run's behavior must be fully reproducible from its Snapshot alone.
package pipelineconfig

import (
	"fmt"

	"constructionrag/internal/pipelineerrors"
)

// ChunkingStrategy selects the text-splitting strategy C9 applies to
// non-table/image elements.
type ChunkingStrategy string

const (
	ChunkingAdaptive  ChunkingStrategy = "adaptive"
	ChunkingRecursive ChunkingStrategy = "recursive"
	ChunkingSemantic  ChunkingStrategy = "semantic"
)

// Snapshot is the immutable, validated configuration a single Run executes
// against. Every pipeline stage reads its parameters from here, never from
// envconfig.
type Snapshot struct {
	Language   string
	UploadType string

	ChunkingStrategy           ChunkingStrategy
	ChunkTargetTokens          int
	ChunkOverlapTokens         int
	ChunkMaxSize               int // max_chunk_size: forces a semantic re-split above this, spec §4.9
	ChunkPrioritizeVLMCaptions bool
	ChunkSeparators            []string // ordered splitting separators, spec §4.9 "recursive"

	EmbeddingBatchSize       int
	EmbeddingModel           string
	EmbeddingProvider        string
	EmbeddingDimension       int
	EmbeddingQualityGatePercent int // Open Question #1: configurable, default 90

	GenerationModel      string
	GenerationMaxTokens   int
	VLMModel             string
	VLMMaxTokens          int

	PartitionMeaningfulImageMinPixels int // Open Question #3
	PartitionDupHashWindow            int // Open Question #3

	PartitionHybridMode              bool
	PartitionScannedTextThreshold    int // chars/page below which a sample page is scanned
	PartitionScannedSamplePages      int

	VLMEnabled         bool
	VLMMaxConcurrency  int

	VectorSearchK       int // capped at 200 per spec §4.5
	QueryVariationCount int
	RetrievalTopK       int
	RetrievalSimilarityFloor float64 // post-filter only, never inside the vector query (§4.5)

	ChecklistAnalysisChunkCap int // max unique chunks handed to C13 step 3, spec §4.13

	RunTimeoutSeconds int // default 1800 (30 min), spec §5
}

// Defaults returns the baseline Snapshot before any overrides are applied.
func Defaults() Snapshot {
	return Snapshot{
		ChunkingStrategy:            ChunkingAdaptive,
		ChunkTargetTokens:           512,
		ChunkOverlapTokens:          64,
		ChunkMaxSize:                2000,
		ChunkPrioritizeVLMCaptions:  true,
		ChunkSeparators:             []string{"\n\n", "\n", ". ", " ", ""},
		EmbeddingBatchSize:          64,
		EmbeddingModel:              "text-embedding-3-small",
		EmbeddingProvider:           "openai",
		EmbeddingDimension:          1024,
		EmbeddingQualityGatePercent: 90,
		GenerationModel:             "gpt-4o-mini",
		GenerationMaxTokens:         1024,
		VLMModel:                    "gpt-4o-mini",
		VLMMaxTokens:                1024,
		PartitionMeaningfulImageMinPixels: 4096,
		PartitionDupHashWindow:            64,
		PartitionHybridMode:               true,
		PartitionScannedTextThreshold:     100,
		PartitionScannedSamplePages:       5,
		RetrievalSimilarityFloor:          0,
		VLMEnabled:                        true,
		VLMMaxConcurrency:                 4,
		VectorSearchK:                     40,
		QueryVariationCount:               3,
		RetrievalTopK:                     10,
		ChecklistAnalysisChunkCap:         50,
		RunTimeoutSeconds:                 1800,
	}
}

// Overrides is the set of user-tunable fields a Run may supply. Any field
// left at its zero value keeps the default.
type Overrides struct {
	ChunkingStrategy            ChunkingStrategy
	ChunkTargetTokens           int
	ChunkOverlapTokens          int
	ChunkMaxSize                int
	ChunkPrioritizeVLMCaptions  *bool
	ChunkSeparators             []string
	EmbeddingBatchSize          int
	EmbeddingModel              string
	EmbeddingProvider           string
	EmbeddingDimension          int
	EmbeddingQualityGatePercent int
	GenerationModel             string
	GenerationMaxTokens         int
	VLMModel                    string
	VLMMaxTokens                int
	PartitionMeaningfulImageMinPixels int
	PartitionDupHashWindow            int
	PartitionHybridMode               *bool
	PartitionScannedTextThreshold     int
	PartitionScannedSamplePages       int
	VLMEnabled                        *bool
	VLMMaxConcurrency                 int
	VectorSearchK                     int
	QueryVariationCount               int
	RetrievalTopK                     int
	RetrievalSimilarityFloor          *float64
	ChecklistAnalysisChunkCap         int
	RunTimeoutSeconds                 int
}

// Resolve merges Overrides onto Defaults(), validates the result, and
// returns an immutable Snapshot. Any invalid combination produces a
// pipelineerrors ConfigError, never a partially-applied Snapshot.
func Resolve(language, uploadType string, o Overrides) (Snapshot, error) {
	if language == "" {
		return Snapshot{}, pipelineerrors.Config("resolve", fmt.Errorf("language is required"))
	}
	if uploadType == "" {
		return Snapshot{}, pipelineerrors.Config("resolve", fmt.Errorf("upload type is required"))
	}

	s := Defaults()
	s.Language = language
	s.UploadType = uploadType

	if o.ChunkingStrategy != "" {
		s.ChunkingStrategy = o.ChunkingStrategy
	}
	if o.ChunkTargetTokens > 0 {
		s.ChunkTargetTokens = o.ChunkTargetTokens
	}
	if o.ChunkOverlapTokens > 0 {
		s.ChunkOverlapTokens = o.ChunkOverlapTokens
	}
	if o.ChunkMaxSize > 0 {
		s.ChunkMaxSize = o.ChunkMaxSize
	}
	if o.ChunkPrioritizeVLMCaptions != nil {
		s.ChunkPrioritizeVLMCaptions = *o.ChunkPrioritizeVLMCaptions
	}
	if len(o.ChunkSeparators) > 0 {
		s.ChunkSeparators = o.ChunkSeparators
	}
	if o.EmbeddingBatchSize > 0 {
		s.EmbeddingBatchSize = o.EmbeddingBatchSize
	}
	if o.EmbeddingModel != "" {
		s.EmbeddingModel = o.EmbeddingModel
	}
	if o.EmbeddingProvider != "" {
		s.EmbeddingProvider = o.EmbeddingProvider
	}
	if o.EmbeddingDimension > 0 {
		s.EmbeddingDimension = o.EmbeddingDimension
	}
	if o.EmbeddingQualityGatePercent > 0 {
		s.EmbeddingQualityGatePercent = o.EmbeddingQualityGatePercent
	}
	if o.GenerationModel != "" {
		s.GenerationModel = o.GenerationModel
	}
	if o.GenerationMaxTokens > 0 {
		s.GenerationMaxTokens = o.GenerationMaxTokens
	}
	if o.VLMModel != "" {
		s.VLMModel = o.VLMModel
	}
	if o.VLMMaxTokens > 0 {
		s.VLMMaxTokens = o.VLMMaxTokens
	}
	if o.PartitionMeaningfulImageMinPixels > 0 {
		s.PartitionMeaningfulImageMinPixels = o.PartitionMeaningfulImageMinPixels
	}
	if o.PartitionDupHashWindow > 0 {
		s.PartitionDupHashWindow = o.PartitionDupHashWindow
	}
	if o.PartitionHybridMode != nil {
		s.PartitionHybridMode = *o.PartitionHybridMode
	}
	if o.PartitionScannedTextThreshold > 0 {
		s.PartitionScannedTextThreshold = o.PartitionScannedTextThreshold
	}
	if o.PartitionScannedSamplePages > 0 {
		s.PartitionScannedSamplePages = o.PartitionScannedSamplePages
	}
	if o.RetrievalSimilarityFloor != nil {
		s.RetrievalSimilarityFloor = *o.RetrievalSimilarityFloor
	}
	if o.VLMEnabled != nil {
		s.VLMEnabled = *o.VLMEnabled
	}
	if o.VLMMaxConcurrency > 0 {
		s.VLMMaxConcurrency = o.VLMMaxConcurrency
	}
	if o.VectorSearchK > 0 {
		s.VectorSearchK = o.VectorSearchK
	}
	if o.QueryVariationCount > 0 {
		s.QueryVariationCount = o.QueryVariationCount
	}
	if o.RetrievalTopK > 0 {
		s.RetrievalTopK = o.RetrievalTopK
	}
	if o.ChecklistAnalysisChunkCap > 0 {
		s.ChecklistAnalysisChunkCap = o.ChecklistAnalysisChunkCap
	}
	if o.RunTimeoutSeconds > 0 {
		s.RunTimeoutSeconds = o.RunTimeoutSeconds
	}

	// spec §4.5: K is capped at 200 regardless of requested value.
	if s.VectorSearchK > 200 {
		s.VectorSearchK = 200
	}

	if err := validate(s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

func validate(s Snapshot) error {
	switch s.ChunkingStrategy {
	case ChunkingAdaptive, ChunkingRecursive, ChunkingSemantic:
	default:
		return pipelineerrors.Config("resolve", fmt.Errorf("unknown chunking strategy %q", s.ChunkingStrategy))
	}
	if s.ChunkOverlapTokens >= s.ChunkTargetTokens {
		return pipelineerrors.Config("resolve", fmt.Errorf("chunk overlap (%d) must be smaller than chunk target (%d)", s.ChunkOverlapTokens, s.ChunkTargetTokens))
	}
	if s.EmbeddingQualityGatePercent < 1 || s.EmbeddingQualityGatePercent > 100 {
		return pipelineerrors.Config("resolve", fmt.Errorf("embedding quality gate percent must be in [1,100], got %d", s.EmbeddingQualityGatePercent))
	}
	if s.VectorSearchK < 1 {
		return pipelineerrors.Config("resolve", fmt.Errorf("vector search K must be >= 1, got %d", s.VectorSearchK))
	}
	if s.RetrievalTopK < 1 || s.RetrievalTopK > s.VectorSearchK {
		return pipelineerrors.Config("resolve", fmt.Errorf("retrieval top_k (%d) must be in [1, vector_search_k=%d]", s.RetrievalTopK, s.VectorSearchK))
	}
	if s.RunTimeoutSeconds < 60 {
		return pipelineerrors.Config("resolve", fmt.Errorf("run timeout must be at least 60 seconds, got %d", s.RunTimeoutSeconds))
	}
	if s.ChecklistAnalysisChunkCap < 1 {
		return pipelineerrors.Config("resolve", fmt.Errorf("checklist analysis chunk cap must be >= 1, got %d", s.ChecklistAnalysisChunkCap))
	}
	return nil
}
