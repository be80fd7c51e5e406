// Package ingest turns whole documents into indexed retrieval units: chunk,
// embed, upsert, and optionally feed the knowledge graph. Crawlers and
// importers live outside the system; this is the boundary they push into.
package ingest

import (
	"context"

	"sage/internal/apperrors"
	"sage/internal/chunking"
	"sage/internal/graph"
	"sage/internal/logging"
	"sage/internal/storage"
	"sage/pkg/types"
)

// Result summarizes one ingested document.
type Result struct {
	DocumentID string `json:"document_id"`
	Collection string `json:"collection"`
	Chunks     int    `json:"chunks"`
	Failed     int    `json:"failed"`
	// GraphIngested reports whether the body also became a graph episode.
	GraphIngested bool `json:"graph_ingested"`
}

// Pipeline indexes documents. One chunker per collection, built once.
type Pipeline struct {
	store    storage.VectorStore
	graph    *graph.Store // nil disables episode extraction
	logger   logging.Logger
	chunkers map[string]*chunking.Chunker
}

// New builds the pipeline over the configured backends.
func New(store storage.VectorStore, gs *graph.Store, logger logging.Logger) *Pipeline {
	chunkers := make(map[string]*chunking.Chunker)
	for _, c := range types.DefaultCollections() {
		chunkers[c.Name] = chunking.NewChunker(c)
	}
	return &Pipeline{
		store:    store,
		graph:    gs,
		logger:   logger.WithComponent("ingest"),
		chunkers: chunkers,
	}
}

// collectionFor maps a document's source kind to the collection that stores
// it. Meeting notes index alongside knowledge.
func collectionFor(kind types.SourceKind) (string, error) {
	switch kind {
	case types.SourceWebsite:
		return types.CollectionWebsites, nil
	case types.SourceConversation:
		return types.CollectionConversations, nil
	case types.SourceKnowledge, types.SourceMeetingNote:
		return types.CollectionKnowledge, nil
	default:
		return "", apperrors.New(apperrors.KindInput, "unknown source kind %q", kind)
	}
}

// Ingest chunks the document and upserts every chunk. Re-ingesting the same
// document overwrites its rows since chunk IDs derive from the content hash.
// Graph extraction failures do not fail the ingest; the vector rows are
// already durable and the episode can be replayed.
func (p *Pipeline) Ingest(ctx context.Context, doc *types.Document) (*Result, error) {
	collection, err := collectionFor(doc.SourceKind)
	if err != nil {
		return nil, err
	}

	chunks, err := p.chunkers[collection].Chunk(ctx, doc)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInput, err, "chunk document %s", doc.ID)
	}

	batch, err := p.store.Upsert(ctx, collection, chunks)
	if err != nil {
		return nil, err
	}

	res := &Result{
		DocumentID: doc.ID,
		Collection: collection,
		Chunks:     len(chunks),
		Failed:     batch.Failed,
	}

	if p.graph != nil {
		if err := p.graph.IngestEpisode(ctx, doc.Hash(), doc.Body); err != nil {
			p.logger.WarnContext(ctx, "graph episode extraction failed",
				"document", doc.ID, "error", err)
		} else {
			res.GraphIngested = true
		}
	}

	p.logger.InfoContext(ctx, "document ingested",
		"document", doc.ID,
		"collection", collection,
		"chunks", res.Chunks,
		"failed", res.Failed,
	)
	return res, nil
}

// Remove drops every chunk belonging to the document from its collection.
func (p *Pipeline) Remove(ctx context.Context, kind types.SourceKind, documentID string) error {
	collection, err := collectionFor(kind)
	if err != nil {
		return err
	}
	_, err = p.store.Delete(ctx, collection, storage.Filter{DocumentID: documentID})
	return err
}
