package types

import "time"

// EntityType classifies a graph entity.
type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityProject      EntityType = "Project"
	EntityTechnology   EntityType = "Technology"
	EntityOrganization EntityType = "Organization"
	EntityTopic        EntityType = "Topic"
	EntityDate         EntityType = "Date"
	EntityEmail        EntityType = "Email"
	EntityDocument     EntityType = "Document"
)

// Valid reports whether the entity type is recognized.
func (t EntityType) Valid() bool {
	switch t {
	case EntityPerson, EntityProject, EntityTechnology, EntityOrganization,
		EntityTopic, EntityDate, EntityEmail, EntityDocument:
		return true
	}
	return false
}

// Entity is a node in the knowledge graph. Uniqueness is enforced on UUID by
// the store and on normalized name by the ingest merge step.
type Entity struct {
	UUID          string     `json:"uuid"`
	Name          string     `json:"name"`
	Type          EntityType `json:"type"`
	Summary       string     `json:"summary,omitempty"`
	NameEmbedding []float32  `json:"name_embedding,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Relationship is a typed edge between two entities. Relationships reference
// the episodes that produced them by uuid only; they may become invalid but
// are never physically deleted.
type Relationship struct {
	UUID          string     `json:"uuid"`
	SourceUUID    string     `json:"source_uuid"`
	TargetUUID    string     `json:"target_uuid"`
	Kind          string     `json:"kind"`
	Fact          string     `json:"fact"`
	FactEmbedding []float32  `json:"fact_embedding,omitempty"`
	Episodes      []string   `json:"episodes,omitempty"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
}

// EntityHit is a scored entity match.
type EntityHit struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`
}

// FactHit is a scored relationship match.
type FactHit struct {
	Relationship Relationship `json:"relationship"`
	Score        float64      `json:"score"`
}

// Subgraph is the bounded neighborhood of an entity.
type Subgraph struct {
	Root          string         `json:"root"`
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Depth         int            `json:"depth"`
}

// GraphHealth summarizes graph store state, including whether the vector
// indices the search path needs are present.
type GraphHealth struct {
	EntityCount       int64   `json:"entity_count"`
	RelationshipCount int64   `json:"relationship_count"`
	EmbeddingCoverage float64 `json:"embedding_coverage"`
	VectorIndices     struct {
		Present bool `json:"present"`
	} `json:"vector_indices"`
}
