package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DefaultMaxContextChars caps the formatted RAG context length.
const DefaultMaxContextChars = 2000

// NoContextMessage is returned as context when retrieval finds nothing.
const NoContextMessage = "没有找到相关资料。"

// Result is one retrieved passage with its similarity score.
type Result struct {
	SegmentID  string  `json:"segment_id"`
	FileID     string  `json:"file_id"`
	FileName   string  `json:"file_name"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// CitedSegment describes a passage included in the formatted context.
type CitedSegment struct {
	Index      int     `json:"index"`
	Text       string  `json:"text"`
	FileName   string  `json:"file_name"`
	SegmentID  string  `json:"segment_id"`
	Similarity float64 `json:"similarity"`
}

// Retriever combines embedding and vector search to find relevant context.
type Retriever struct {
	embedder        *Embedder
	store           VectorStore
	maxContextChars int
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
// maxContextChars caps the formatted context length; zero or negative uses
// DefaultMaxContextChars.
func NewRetriever(embedder *Embedder, store VectorStore, maxContextChars int) *Retriever {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Retriever{
		embedder:        embedder,
		store:           store,
		maxContextChars: maxContextChars,
	}
}

// RetrieveFromFiles searches the given files for passages similar to the
// query, splitting the result budget evenly across files and merging by
// similarity. An empty fileIDs slice searches the whole knowledge base.
func (r *Retriever) RetrieveFromFiles(ctx context.Context, query string, fileIDs []string, topK int, minSimilarity float64, useRemote bool) ([]Result, error) {
	if len(fileIDs) == 0 {
		return r.RetrieveAll(ctx, query, topK, minSimilarity, useRemote)
	}

	vec, err := r.embedder.Embed(ctx, query, useRemote)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	perFile := topK / len(fileIDs)
	if perFile < 1 {
		perFile = 1
	}

	var merged []Result
	for _, fileID := range fileIDs {
		scored, err := r.store.Search(vec, perFile, []string{fileID})
		if err != nil {
			return nil, fmt.Errorf("searching file %s: %w", fileID, err)
		}
		merged = append(merged, filterByScore(scored, minSimilarity)...)
	}

	sortBySimilarity(merged)
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// RetrieveAll searches every indexed file. The fetch budget is doubled
// relative to topK so the quality filter has slack, but the final cut
// never exceeds topK.
func (r *Retriever) RetrieveAll(ctx context.Context, query string, topK int, minSimilarity float64, useRemote bool) ([]Result, error) {
	// Over-fetch so filtering can drop passages without starving the result.
	total := topK * 2

	infos, err := r.store.ListFiles()
	if err != nil {
		return nil, fmt.Errorf("listing indexed files: %w", err)
	}
	if len(infos) == 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query, useRemote)
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	perFile := total / len(infos)
	if perFile < 1 {
		perFile = 1
	}

	var merged []Result
	for _, info := range infos {
		scored, err := r.store.Search(vec, perFile, []string{info.FileID})
		if err != nil {
			return nil, fmt.Errorf("searching file %s: %w", info.FileID, err)
		}
		merged = append(merged, filterByScore(scored, minSimilarity)...)
	}

	sortBySimilarity(merged)

	filtered := merged[:0]
	for _, res := range merged {
		if isLowQuality(res) {
			continue
		}
		filtered = append(filtered, res)
	}

	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	return filtered, nil
}

// isLowQuality drops journal headers, near-empty passages, and results
// whose similarity is effectively noise.
func isLowQuality(res Result) bool {
	text := res.Text
	if strings.Contains(text, "===") && strings.Contains(text, "ISSN") && len([]rune(text)) < 500 {
		return true
	}
	if len([]rune(strings.TrimSpace(text))) < 20 {
		return true
	}
	return res.Similarity < 0.02
}

// FormatContext renders retrieval results as a numbered context block for
// prompt assembly, stopping at the max context length. The second return
// value lists the passages that made it into the context.
func (r *Retriever) FormatContext(results []Result) (string, []CitedSegment) {
	if len(results) == 0 {
		return NoContextMessage, nil
	}

	var parts []string
	var cited []CitedSegment
	currentLen := 0

	for i, res := range results {
		entry := fmt.Sprintf("%d. %s", i+1, res.Text)
		if currentLen+len([]rune(entry)) > r.maxContextChars {
			break
		}
		parts = append(parts, entry)
		cited = append(cited, CitedSegment{
			Index:      i + 1,
			Text:       res.Text,
			FileName:   res.FileName,
			SegmentID:  res.SegmentID,
			Similarity: res.Similarity,
		})
		currentLen += len([]rune(entry))
	}

	return strings.Join(parts, "\n\n"), cited
}

// AvailableFiles lists the files that currently have vectors in the index.
func (r *Retriever) AvailableFiles() ([]IndexInfo, error) {
	return r.store.ListFiles()
}

// Status reports retriever health for the QA health endpoint.
type Status struct {
	RemoteAvailable bool     `json:"openai_available"`
	LocalAvailable  bool     `json:"local_embedding_available"`
	TotalIndices    int      `json:"total_indices"`
	AvailableFiles  []string `json:"available_files"`
}

// ServiceStatus probes both embedding engines and counts available indexes.
func (r *Retriever) ServiceStatus(ctx context.Context) (Status, error) {
	infos, err := r.store.ListFiles()
	if err != nil {
		return Status{}, err
	}

	files := make([]string, len(infos))
	for i, info := range infos {
		files[i] = info.FileID
	}

	return Status{
		RemoteAvailable: r.embedder.RemoteAvailable(),
		LocalAvailable:  r.embedder.LocalAvailable(ctx),
		TotalIndices:    len(infos),
		AvailableFiles:  files,
	}, nil
}

func filterByScore(scored []ScoredRecord, minSimilarity float64) []Result {
	var results []Result
	for _, s := range scored {
		if float64(s.Score) < minSimilarity {
			continue
		}
		results = append(results, Result{
			SegmentID:  s.SegmentID,
			FileID:     s.FileID,
			FileName:   s.FileName,
			Text:       s.TextChunk,
			Similarity: float64(s.Score),
		})
	}
	return results
}

func sortBySimilarity(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
}
