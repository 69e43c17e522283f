package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// RefusalPhrase is the designed content response when the retrieved
	// context cannot answer the question. It is a successful answer, never
	// an error.
	RefusalPhrase = "I don't have that in policy, contact HR."

	// Disclaimer is attached to every grounded answer.
	Disclaimer = "If your contract specifies otherwise, the contract prevails."

	maxAnswerChars  = 1000
	maxSnippetChars = 500
	maxContextChars = 1000
)

// PipelineConfig holds the tunable parameters of the retrieval pipeline.
type PipelineConfig struct {
	DefaultTopK         int     `json:"default_top_k" yaml:"default_top_k"`
	MaxTopK             int     `json:"max_top_k" yaml:"max_top_k"`
	ScoreThreshold      float32 `json:"score_threshold" yaml:"score_threshold"`
	HighConfidenceScore float32 `json:"high_confidence_score" yaml:"high_confidence_score"`
}

// DefaultPipelineConfig returns the pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		DefaultTopK:         5,
		MaxTopK:             20,
		ScoreThreshold:      0.10,
		HighConfidenceScore: 0.85,
	}
}

// Pipeline orchestrates question embedding, nearest-neighbor search, prompt
// assembly, generation and response shaping. All per-question state is local
// to one Ask call, so any number of invocations may proceed concurrently.
type Pipeline struct {
	embedder  EmbeddingProvider
	store     VectorStore
	generator AnswerGenerator
	config    *PipelineConfig
	logger    *slog.Logger
}

// NewPipeline wires the pipeline's collaborators together.
func NewPipeline(embedder EmbeddingProvider, store VectorStore, generator AnswerGenerator, config *PipelineConfig, logger *slog.Logger) *Pipeline {
	if config == nil {
		config = DefaultPipelineConfig()
	}
	return &Pipeline{
		embedder:  embedder,
		store:     store,
		generator: generator,
		config:    config,
		logger:    logger.With("component", "retrieval-pipeline"),
	}
}

// Ask answers a policy question grounded in retrieved context.
func (p *Pipeline) Ask(ctx context.Context, q Question) (*Answer, error) {
	start := time.Now()

	if strings.TrimSpace(q.Text) == "" {
		return nil, Errorf(KindValidation, "pipeline.ask", "question text is required")
	}
	topK := q.TopK
	if topK <= 0 {
		topK = p.config.DefaultTopK
	}
	if topK > p.config.MaxTopK {
		topK = p.config.MaxTopK
	}

	queryText := q.Text
	if q.FollowUpContext != "" {
		queryText = q.FollowUpContext + "\n" + q.Text
	}

	vectors, err := p.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, NewError(KindRetrievalUnavailable, "pipeline.embed", err)
	}

	retrieved, err := p.store.Search(ctx, vectors[0], topK, q.Filters)
	if err != nil {
		if KindOf(err) != "" {
			return nil, err
		}
		return nil, NewError(KindRetrievalUnavailable, "pipeline.search", err)
	}

	// Discard results below the similarity threshold. The score follows the
	// store's convention and is not re-normalized here.
	kept := retrieved[:0]
	for _, sc := range retrieved {
		if sc.Score >= p.config.ScoreThreshold {
			kept = append(kept, sc)
		}
	}

	if len(kept) == 0 {
		p.logger.Info("No chunks above threshold, returning refusal",
			"question_chars", len(q.Text),
			"retrieved", len(retrieved),
			"threshold", p.config.ScoreThreshold,
		)
		return p.refusalAnswer(topK, start), nil
	}

	prompt := buildPrompt(q.Text, kept)

	completion, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, NewError(KindGeneration, "pipeline.generate", err)
	}

	answer := p.shapeAnswer(completion, kept, topK, start)
	p.logger.Info("Answered question",
		"answer_id", answer.ID,
		"citations", len(answer.Citations),
		"confidence", answer.Confidence,
		"latency_ms", answer.Metadata.LatencyMS,
	)
	return answer, nil
}

// buildPrompt assembles the fixed grounding instruction, the context block
// and the question. Each chunk's text is hard-cut to bound prompt size.
func buildPrompt(question string, chunks []ScoredChunk) string {
	var b strings.Builder
	b.WriteString("You are a precise HR policy assistant. Answer only from the provided policy context.\n")
	b.WriteString("- Cite at least one source section with doc id and section header.\n")
	b.WriteString("- If the answer is not clearly in the context, say exactly: \"")
	b.WriteString(RefusalPhrase)
	b.WriteString("\"\n")
	b.WriteString("- Do not make up any answer.\n")
	b.WriteString("- Keep the answer under 200 words unless asked for details.\n\n")
	b.WriteString("Context:\n")
	for _, sc := range chunks {
		b.WriteString(fmt.Sprintf("[%s | %s]\n", sc.Chunk.DocID, sc.Chunk.Section))
		b.WriteString(truncate(sc.Chunk.Text, maxContextChars))
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer concisely.")
	return b.String()
}

// shapeAnswer parses the raw completion into an Answer. Citations and policy
// matches are built from the retrieved chunks, independent of whether the
// model text echoes them; over-citing is safer than under-citing here.
func (p *Pipeline) shapeAnswer(completion string, chunks []ScoredChunk, topK int, start time.Time) *Answer {
	text := firstNonEmptyLine(completion)

	citations := make([]Citation, 0, len(chunks))
	for _, sc := range chunks {
		c := Citation{
			DocID:   sc.Chunk.DocID,
			Section: sc.Chunk.Section,
			Snippet: truncate(sc.Chunk.Text, maxSnippetChars),
		}
		if sc.Chunk.Page > 0 {
			page := sc.Chunk.Page
			c.Page = &page
		}
		citations = append(citations, c)
	}

	return &Answer{
		ID:            uuid.NewString(),
		Text:          truncate(text, maxAnswerChars),
		Citations:     citations,
		PolicyMatches: policyMatches(chunks),
		Confidence:    p.confidenceFor(chunks),
		Disclaimer:    Disclaimer,
		Metadata: AnswerMetadata{
			LatencyMS:  time.Since(start).Milliseconds(),
			RetrieverK: topK,
			Model:      p.generator.ModelName(),
		},
	}
}

// refusalAnswer is the fixed no-policy-match response, produced without
// calling the generator.
func (p *Pipeline) refusalAnswer(topK int, start time.Time) *Answer {
	return &Answer{
		ID:            uuid.NewString(),
		Text:          RefusalPhrase,
		Citations:     []Citation{},
		PolicyMatches: []string{},
		Confidence:    ConfidenceLow,
		Metadata: AnswerMetadata{
			LatencyMS:  time.Since(start).Milliseconds(),
			RetrieverK: topK,
			Model:      p.generator.ModelName(),
		},
	}
}

// policyMatches deduplicates the retrieved chunks' categories, falling back
// to doc ids, preserving retrieval rank order. This approximates the
// policies the model actually used.
func policyMatches(chunks []ScoredChunk) []string {
	seen := make(map[string]bool, len(chunks))
	matches := make([]string, 0, len(chunks))
	for _, sc := range chunks {
		label := sc.Chunk.Category
		if label == "" {
			label = sc.Chunk.DocID
		}
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		matches = append(matches, label)
	}
	return matches
}

// confidenceFor derives the confidence label from the top retrieval score.
// This is a deliberate departure from a fixed label: the score is the only
// signal the pipeline has about retrieval quality.
func (p *Pipeline) confidenceFor(chunks []ScoredChunk) Confidence {
	if len(chunks) == 0 {
		return ConfidenceLow
	}
	top := chunks[0].Score
	for _, sc := range chunks[1:] {
		if sc.Score > top {
			top = sc.Score
		}
	}
	switch {
	case top >= p.config.HighConfidenceScore:
		return ConfidenceHigh
	case top >= p.config.ScoreThreshold:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// firstNonEmptyLine returns the first non-empty line of the completion.
// Model output for this prompt is a short answer, optionally followed by
// restated citations the pipeline already builds itself.
func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return strings.TrimSpace(text)
}
