package types

import "time"

// BrainstormType distinguishes how a brainstorm was produced.
type BrainstormType string

const (
	BrainstormInitial  BrainstormType = "initial"
	BrainstormImproved BrainstormType = "improved"
	BrainstormUpdated  BrainstormType = "updated"
)

// BrainstormSource tells whether the returned content was freshly generated
// or reused from an earlier build.
type BrainstormSource string

const (
	BrainstormGenerated BrainstormSource = "generated"
	BrainstormExisting  BrainstormSource = "existing"
)

// BrainstormSectionOrder is the fixed order of sections in every rendered
// brainstorm report.
var BrainstormSectionOrder = []string{
	"Overview",
	"Key Considerations",
	"Potential Approaches",
	"Risks",
	"Recommendations",
	"RAG Context Used",
	"Sources",
}

// Brainstorm is a structured, persisted report enriching a task with
// retrieved context. Versions are monotonically increasing per task, and at
// most one build per task is ever in flight.
type Brainstorm struct {
	TaskID      string            `json:"task_id"`
	Type        BrainstormType    `json:"type"`
	GeneratedAt time.Time         `json:"generated_at"`
	Sections    map[string]string `json:"sections"`
	RAGContext  []string          `json:"rag_context,omitempty"`
	Sources     []string          `json:"sources,omitempty"`
	Version     int               `json:"version"`
}

// BrainstormResult is what the engine hands back to callers.
type BrainstormResult struct {
	Content        string           `json:"content"`
	Type           BrainstormType   `json:"type"`
	Source         BrainstormSource `json:"source"`
	NewlyGenerated bool             `json:"newly_generated"`
	Version        int              `json:"version"`
	TaskID         string           `json:"task_id"`
	TaskTitle      string           `json:"task_title"`
}
