package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"golang.org/x/crypto/blake2b"

	"github.com/opencortex/memex/internal/interceptors"
	"github.com/opencortex/memex/internal/tracing"
)

// Provider produces unit-norm embedding vectors for batches of text. There
// are three implementations selected by Config.Provider: hugotProvider
// (local ONNX), httpProvider (remote endpoint), fallbackProvider
// (deterministic hash projection, always available).
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// --- hugotProvider: local ONNX inference via knights-analytics/hugot ---

type hugotProvider struct {
	dim int

	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	ready    bool
	modelDir string
}

// NewHugotProvider creates the accelerator/CPU local-inference provider.
// Model loading is deferred to the first Embed call so construction never
// fails merely because a model directory is missing (spec.md's "graceful
// fallback" requirement — the caller decides whether to keep this provider
// around after a load failure).
func NewHugotProvider(modelDir string, dim int) Provider {
	return &hugotProvider{modelDir: modelDir, dim: dim}
}

func (p *hugotProvider) Name() string { return "hugot" }
func (p *hugotProvider) Dim() int     { return p.dim }

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
	config := hugot.FeatureExtractionConfig{
		ModelPath: p.modelDir,
		Name:      "memex-embedding",
		Options:   []hugot.FeatureExtractionOption{pipelines.WithNormalization()},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("%w: create feature extraction pipeline: %v", ErrModelLoadFailed, err)
	}
	p.session = session
	p.pipeline = pipeline
	p.ready = true
	return nil
}

func (p *hugotProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensureReady(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	result, err := p.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	out := make([][]float32, len(result.Embeddings))
	for i, vec := range result.Embeddings {
		out[i] = normalize(vec)
	}
	return out, nil
}

func (p *hugotProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session.Destroy()
	}
	return nil
}

// --- httpProvider: remote embedding endpoint, same call shape as the teacher ---

type httpProvider struct {
	baseURL string
	model   string
	dim     int
	http    *http.Client
}

// NewHTTPProvider creates the remote-endpoint provider, wrapped with the
// workflow/actor correlation round-tripper so calls can be traced back to
// the requesting agent.
func NewHTTPProvider(baseURL, model string, dim int, client *http.Client) Provider {
	if client == nil {
		client = &http.Client{Transport: interceptors.NewWorkflowHTTPRoundTripper(nil)}
	}
	return &httpProvider{baseURL: baseURL, model: model, dim: dim, http: client}
}

func (p *httpProvider) Name() string { return "http" }
func (p *httpProvider) Dim() int     { return p.dim }

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
}

func (p *httpProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, "POST", p.baseURL+"/embeddings/")
	defer span.End()

	payload := embedRequest{Texts: texts, Model: p.model}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embeddings/", bytes.NewReader(buf))
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

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailed, err)
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrInferenceFailed, len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, vec64 := range er.Embeddings {
		vec32 := make([]float32, len(vec64))
		for j, f := range vec64 {
			vec32[j] = float32(f)
		}
		out[i] = normalize(vec32)
	}
	return out, nil
}

// --- fallbackProvider: deterministic hash-projection, always available ---

type fallbackProvider struct {
	dim int
}

// NewFallbackProvider returns the deterministic-fallback path (spec.md §4.1,
// §9): a reproducible pseudo-embedding derived from a cryptographic hash of
// the text, projected into D dimensions and L2-normalized. It never fails
// and is never circuit-broken.
func NewFallbackProvider(dim int) Provider {
	return &fallbackProvider{dim: dim}
}

func (p *fallbackProvider) Name() string { return "fallback" }
func (p *fallbackProvider) Dim() int     { return p.dim }

func (p *fallbackProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = hashProjection(text, p.dim)
	}
	return out, nil
}

// hashProjection derives a deterministic unit vector from text using blake2b
// as an expandable PRNG: each block of eight dimensions is filled from one
// blake2b digest of (sha256(text), block counter), so the result is reproducible
// given the same text and D, and uses no model weights.
func hashProjection(text string, dim int) []float32 {
	vec := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))

	counter := uint32(0)
	var buf [4]byte
	h, _ := blake2b.New256(seed[:])
	for i := 0; i < dim; i += 8 {
		binary.LittleEndian.PutUint32(buf[:], counter)
		h.Reset()
		h.Write(seed[:])
		h.Write(buf[:])
		digest := h.Sum(nil)
		for j := 0; j < 8 && i+j < dim; j++ {
			u := binary.LittleEndian.Uint32(digest[j*4 : j*4+4])
			// map to [-1, 1)
			vec[i+j] = float32(int32(u))/float32(1<<31)
		}
		counter++
	}
	return normalize(vec)
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f * norm
	}
	return out
}
