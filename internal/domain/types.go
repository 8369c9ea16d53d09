// Package domain defines the data model shared by the ingestion pipeline and
// the query engine: archives, documents, typed chunks with a common payload,
// numeric facts, and ingestion jobs.
package domain

import (
	"time"
)

// ChunkType tags the variant of a Chunk.
type ChunkType string

const (
	ChunkText    ChunkType = "text"
	ChunkTable   ChunkType = "table"
	ChunkDrawing ChunkType = "drawing"
	ChunkIFC     ChunkType = "ifc"
)

// Discipline is an engineering discipline assigned to documents and chunks.
type Discipline string

const (
	DisciplineProcess     Discipline = "process"
	DisciplinePiping      Discipline = "piping"
	DisciplineCivil       Discipline = "civil"
	DisciplineElec        Discipline = "elec"
	DisciplineInstr       Discipline = "instr"
	DisciplineHVAC        Discipline = "hvac"
	DisciplineProcurement Discipline = "procurement"
)

// DocType classifies a document inside an archive.
type DocType string

const (
	DocTypePFD     DocType = "PFD"
	DocTypePID     DocType = "P&ID"
	DocTypeSpec    DocType = "SPEC"
	DocTypeBOM     DocType = "BOM"
	DocTypeBOQ     DocType = "BOQ"
	DocTypeDrawing DocType = "DRAWING"
	DocTypeIFC     DocType = "IFC"
	DocTypeManual  DocType = "MANUAL"
	DocTypeReport  DocType = "REPORT"
)

// Phase is the project phase an archive belongs to.
type Phase string

const (
	PhasePD      Phase = "pd"
	PhaseRD      Phase = "rd"
	PhaseAsBuilt Phase = "asbuilt"
)

// Confidentiality levels, ordered from least to most restrictive.
type Confidentiality string

const (
	ConfidentialityPublic       Confidentiality = "public"
	ConfidentialityInternal     Confidentiality = "internal"
	ConfidentialityConfidential Confidentiality = "confidential"
	ConfidentialitySecret       Confidentiality = "secret"
)

// ExtractionMethod identifies which provider produced the text of a block.
type ExtractionMethod string

const (
	MethodNative ExtractionMethod = "native"
	MethodOCR    ExtractionMethod = "ocr"
	MethodEmpty  ExtractionMethod = "empty"
)

// Canonical dense collections. Each collection has a fixed vector width,
// cosine metric and a fixed embedding model identity; collections are created
// idempotently at startup and never re-typed.
const (
	CollectionText    = "ae_text_m3"
	CollectionTable   = "ae_tables"
	CollectionIFC     = "ae_ifc"
	CollectionDrawing = "ae_drawings_clip"
)

// TextCollections returns the collections searched for plain-text queries.
func TextCollections() []string {
	return []string{CollectionText, CollectionTable, CollectionIFC}
}

// AllCollections lists every canonical collection.
func AllCollections() []string {
	return []string{CollectionText, CollectionTable, CollectionIFC, CollectionDrawing}
}

// CollectionForChunkType maps a chunk variant to its dense collection.
func CollectionForChunkType(t ChunkType) string {
	switch t {
	case ChunkTable:
		return CollectionTable
	case ChunkDrawing:
		return CollectionDrawing
	case ChunkIFC:
		return CollectionIFC
	default:
		return CollectionText
	}
}

// NumericFact is a canonical-unit quantity attached to a chunk.
// Units are normalised at chunk time; a fact with a unit the normaliser does
// not recognise is dropped, never guessed.
type NumericFact struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// CommonPayload is carried by every chunk variant. It is stored alongside the
// vector in the dense collection and as stored fields in the lexical index.
type CommonPayload struct {
	ChunkID         string                 `json:"chunk_id"`
	ChunkType       ChunkType              `json:"chunk_type"`
	ProjectID       string                 `json:"project_id"`
	ObjectID        string                 `json:"object_id"`
	Discipline      Discipline             `json:"discipline"`
	DocNo           string                 `json:"doc_no"`
	DocTitle        string                 `json:"doc_title"`
	Revision        string                 `json:"revision"`
	Language        string                 `json:"language"`
	SourcePath      string                 `json:"source_path"`
	SourceHash      string                 `json:"source_hash"`
	IssuedAt        time.Time              `json:"issued_at"`
	Vendor          string                 `json:"vendor,omitempty"`
	Confidentiality Confidentiality        `json:"confidentiality"`
	Section         string                 `json:"section,omitempty"`
	Clause          string                 `json:"clause,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	Numeric         map[string]NumericFact `json:"numeric,omitempty"`
	Permissions     []string               `json:"permissions,omitempty"`
	Method          ExtractionMethod       `json:"extraction_method"`
	Importance      float64                `json:"importance"`
	Keywords        []string               `json:"keywords,omitempty"`

	// Content is the chunk text used for lexical indexing and re-rank input.
	Content string `json:"content"`
}

// TextFields carry the text-chunk variant data.
type TextFields struct {
	TokenCount int `json:"token_count"`
	Page       int `json:"page,omitempty"`
	Overlap    int `json:"overlap,omitempty"`
}

// TableFields carry the table-row variant data. One chunk per row.
type TableFields struct {
	Cells   []string `json:"cells"`
	RowHash string   `json:"row_hash"`
	Sheet   string   `json:"sheet,omitempty"`
	Page    int      `json:"page,omitempty"`
}

// DrawingFields carry the drawing-region variant data.
type DrawingFields struct {
	Caption    string `json:"caption"`
	PreviewRef string `json:"preview_ref,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// IFCFields carry the aggregated IFC entity-type variant data: one chunk per
// entity type with the instance count and a representative's properties.
type IFCFields struct {
	EntityType  string            `json:"entity_type"`
	EntityGUID  string            `json:"entity_guid,omitempty"`
	EntityCount int               `json:"entity_count"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// Chunk is the closed tagged union of retrievable units. Exactly one variant
// pointer is non-nil, matching Common.ChunkType.
type Chunk struct {
	Common  CommonPayload  `json:"common"`
	Text    *TextFields    `json:"text,omitempty"`
	Table   *TableFields   `json:"table,omitempty"`
	Drawing *DrawingFields `json:"drawing,omitempty"`
	IFC     *IFCFields     `json:"ifc,omitempty"`
}

// ID returns the stable chunk identifier.
func (c *Chunk) ID() string { return c.Common.ChunkID }

// Collection returns the dense collection this chunk belongs to.
func (c *Chunk) Collection() string { return CollectionForChunkType(c.Common.ChunkType) }

// Archive is the immutable upload unit.
type Archive struct {
	ID          string    `json:"id"`
	ContentHash string    `json:"content_hash"`
	ProjectID   string    `json:"project_id"`
	ObjectID    string    `json:"object_id"`
	Phase       Phase     `json:"phase"`
	SizeBytes   int64     `json:"size_bytes"`
	ReceivedAt  time.Time `json:"received_at"`
}

// DocumentStatus tracks a document through the pipeline.
type DocumentStatus string

const (
	DocPending DocumentStatus = "pending"
	DocParsed  DocumentStatus = "parsed"
	DocChunked DocumentStatus = "chunked"
	DocIndexed DocumentStatus = "indexed"
	DocReady   DocumentStatus = "ready"
	DocFailed  DocumentStatus = "failed"
)

// Document is a single file inside an archive.
type Document struct {
	ID          string         `json:"id"`
	ArchiveID   string         `json:"archive_id"`
	Path        string         `json:"path"`
	MediaType   string         `json:"media_type"`
	ContentHash string         `json:"content_hash"`
	Discipline  Discipline     `json:"discipline"`
	DocType     DocType        `json:"doc_type"`
	DocNo       string         `json:"doc_no"`
	Revision    string         `json:"revision"`
	IssuedAt    time.Time      `json:"issued_at"`
	Vendor      string         `json:"vendor,omitempty"`
	Language    string         `json:"language,omitempty"`
	Status      DocumentStatus `json:"status"`
	LastError   string         `json:"last_error,omitempty"`
}

// Manifest is the required archive-level metadata descriptor.
type Manifest struct {
	ProjectID         string          `yaml:"project_id" json:"project_id"`
	ObjectID          string          `yaml:"object_id" json:"object_id"`
	Phase             Phase           `yaml:"phase" json:"phase"`
	Customer          string          `yaml:"customer" json:"customer"`
	Languages         []string        `yaml:"language" json:"language"`
	Confidentiality   Confidentiality `yaml:"confidentiality" json:"confidentiality"`
	DefaultDiscipline Discipline      `yaml:"default_discipline" json:"default_discipline"`
}

// JobPhase is the orchestrator's phase pointer, advanced as the pipeline runs.
type JobPhase string

const (
	JobPhaseCreated   JobPhase = "created"
	JobPhaseListing   JobPhase = "listing"
	JobPhaseParsing   JobPhase = "parsing"
	JobPhaseIndexing  JobPhase = "indexing"
	JobPhaseCompleted JobPhase = "completed"
	JobPhaseFailed    JobPhase = "failed"
)

// Terminal reports whether the phase is a terminal state.
func (p JobPhase) Terminal() bool {
	return p == JobPhaseCompleted || p == JobPhaseFailed
}

// JobCounters are monotonic progress counters on a Job.
type JobCounters struct {
	FilesSeen   int `json:"files_seen"`
	FilesParsed int `json:"files_parsed"`
	Chunked     int `json:"chunked"`
	Embedded    int `json:"embedded"`
	Indexed     int `json:"indexed"`
	FailedFiles int `json:"failed_files"`
}

// FileError records a per-document failure on a Job.
type FileError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Job is a stateful ingestion run for one archive.
type Job struct {
	ID         string      `json:"id"`
	ArchiveID  string      `json:"archive_id"`
	Phase      JobPhase    `json:"phase"`
	Counters   JobCounters `json:"counters"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
	FileErrors []FileError `json:"file_errors,omitempty"`
	// StopRequested marks the job for graceful stop at the next batch boundary.
	StopRequested bool `json:"stop_requested,omitempty"`
}

// Intent is the categorical label attached to a query; it shapes retrieval
// filters and the answer layout.
type Intent string

const (
	IntentDefinition  Intent = "definition"
	IntentScope       Intent = "scope"
	IntentRequirement Intent = "requirement"
	IntentReference   Intent = "reference"
	IntentComparison  Intent = "comparison"
	IntentRelevance   Intent = "relevance"
	IntentAnalog      Intent = "analog"
	IntentGeneral     Intent = "general"
)

// DocReference is a structured standard citation extracted from text or a
// query, e.g. ГОСТ 21.201-2011 п. 4.2.
type DocReference struct {
	Family string `json:"family"`
	Number string `json:"number"`
	Year   string `json:"year,omitempty"`
	Clause string `json:"clause,omitempty"`
}

// String renders the reference in its canonical citation form.
func (r DocReference) String() string {
	s := r.Family + " " + r.Number
	if r.Year != "" {
		s += "-" + r.Year
	}
	if r.Clause != "" {
		s += " п. " + r.Clause
	}
	return s
}

// DocID returns the document identifier used for direct-reference lookup.
func (r DocReference) DocID() string {
	if r.Year != "" {
		return r.Family + " " + r.Number + "-" + r.Year
	}
	return r.Family + " " + r.Number
}
