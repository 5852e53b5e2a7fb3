package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/opencortex/memex/internal/interceptors"
	"github.com/opencortex/memex/internal/tracing"
)

// Provider scores (query, document) pairs. There are two implementations,
// chosen by the caller of NewService: hugotProvider (local ONNX cross-encoder), httpProvider
// (remote endpoint). Unlike the embedding service, there is deliberately no
// always-available fallback provider here: spec.md §4.7 requires the
// reranker be bypassed entirely on failure rather than produce meaningless
// scores, so Service.Score simply returns an error and the Search Pipeline
// ranks with its no-rerank weights (similarity, recency, popularity).
type Provider interface {
	Name() string
	Score(ctx context.Context, queryText string, documents []string) ([]float32, error)
}

// --- hugotProvider: local ONNX cross-encoder via knights-analytics/hugot ---

type hugotProvider struct {
	modelDir string

	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.TextClassificationPipeline
	ready    bool
}

// NewHugotProvider creates the local cross-encoder provider. As with the
// embedding service's hugotProvider, model loading is deferred to the first
// call so construction never fails merely because a model directory is
// missing.
func NewHugotProvider(modelDir string) Provider {
	return &hugotProvider{modelDir: modelDir}
}

func (p *hugotProvider) Name() string { return "hugot" }

func (p *hugotProvider) ensureReady() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}
	session, err := hugot.NewGoSession()
	if err != nil {
		return fmt.Errorf("%w: create hugot session: %v", ErrModelLoadFailed, err)
	}
	config := hugot.TextClassificationConfig{
		ModelPath: p.modelDir,
		Name:      "memex-reranker",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("%w: create text classification pipeline: %v", ErrModelLoadFailed, err)
	}
	p.session = session
	p.pipeline = pipeline
	p.ready = true
	return nil
}

// Score runs one cross-encoder pass per document: the query and document
// are joined into a single sequence-pair input, and the model's single
// regression-style label score is interpreted as the relevance scalar.
func (p *hugotProvider) Score(ctx context.Context, queryText string, documents []string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensureReady(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pairs := make([]string, len(documents))
	for i, doc := range documents {
		pairs[i] = queryText + " [SEP] " + doc
	}

	result, err := p.pipeline.RunPipeline(pairs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	if len(result.ClassificationOutputs) != len(documents) {
		return nil, fmt.Errorf("%w: got %d outputs for %d documents", ErrBatchMismatch, len(result.ClassificationOutputs), len(documents))
	}

	scores := make([]float32, len(documents))
	for i, out := range result.ClassificationOutputs {
		scores[i] = sigmoidNormalizedScore(out)
	}
	return scores, nil
}

func (p *hugotProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session.Destroy()
	}
	return nil
}

// sigmoidNormalizedScore reads the top classification output's raw score
// and squashes it into [0, 1] with a logistic function, since cross-encoder
// heads are typically trained as a single-logit regression rather than an
// already-normalized probability.
func sigmoidNormalizedScore(out pipelines.ClassificationOutput) float32 {
	if len(out.Labels) == 0 || len(out.Scores) == 0 {
		return 0
	}
	raw := out.Scores[0]
	return float32(1 / (1 + math.Exp(-float64(raw))))
}

// --- httpProvider: remote rerank endpoint, same call shape as the
// embedding service's httpProvider ---

type httpProvider struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewHTTPProvider creates the remote-endpoint provider.
func NewHTTPProvider(baseURL, model string, client *http.Client) Provider {
	if client == nil {
		client = &http.Client{Transport: interceptors.NewWorkflowHTTPRoundTripper(nil)}
	}
	return &httpProvider{baseURL: baseURL, model: model, http: client}
}

func (p *httpProvider) Name() string { return "http" }

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
}

type rerankResponse struct {
	Scores []float32 `json:"scores"`
}

func (p *httpProvider) Score(ctx context.Context, queryText string, documents []string) ([]float32, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", p.baseURL+"/rerank/")
	defer span.End()

	payload := rerankRequest{Query: queryText, Documents: documents, Model: p.model}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rerank/", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrInferenceFailed, resp.StatusCode, string(body))
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	if len(rr.Scores) != len(documents) {
		return nil, fmt.Errorf("%w: got %d scores for %d documents", ErrBatchMismatch, len(rr.Scores), len(documents))
	}
	return rr.Scores, nil
}
