package vectorstore

import (
	"context"
	"fmt"
)

// Embedder turns contract text into an embedding vector. Consumed as an
// opaque collaborator capability.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the similarity surface the retriever needs from the vector store.
type Searcher interface {
	IndexContract(ctx context.Context, contractID, contractName string, vector []float32) error
	SimilarContracts(ctx context.Context, vector []float32, topK uint64) ([]ContractMatch, error)
}

// Retriever finds previously processed contracts similar to a given one.
type Retriever struct {
	searcher Searcher
	embedder Embedder
}

// NewRetriever combines a vector store client with an embedder.
func NewRetriever(searcher Searcher, embedder Embedder) *Retriever {
	return &Retriever{searcher: searcher, embedder: embedder}
}

// Index embeds and stores one contract for later retrieval.
func (r *Retriever) Index(ctx context.Context, contractID, contractName, text string) error {
	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed contract %s: %w", contractID, err)
	}
	return r.searcher.IndexContract(ctx, contractID, contractName, vector)
}

// Similar returns the closest previously indexed contracts to the given text.
func (r *Retriever) Similar(ctx context.Context, text string, topK uint64) ([]ContractMatch, error) {
	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.searcher.SimilarContracts(ctx, vector, topK)
}
