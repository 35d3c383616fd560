package classifier

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/multiformats/go-multihash"

	"github.com/certstack/delcert/internal/cache"
)

// RemoteClassifier scores sequences through an external model-serving
// endpoint: POST scorePath with {"sequences": [[...]]} returning
// {"scores": [...]}. Scores for individual sequences are cached by content
// digest so repeated calibration/certification runs against the same model
// do not re-pay inference for identical perturbations.
type RemoteClassifier struct {
	baseURL    string
	scorePath  string
	modelID    string
	httpClient *http.Client

	cache    cache.Provider
	cacheTTL time.Duration
}

// NewRemoteClassifier constructs a client for the scoring service. The cache
// provider may be a NoopProvider when caching is disabled.
func NewRemoteClassifier(baseURL, scorePath, modelID string, timeout time.Duration, provider cache.Provider, cacheTTL time.Duration) *RemoteClassifier {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &RemoteClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		scorePath:  scorePath,
		modelID:    modelID,
		httpClient: &http.Client{Timeout: timeout},
		cache:      provider,
		cacheTTL:   cacheTTL,
	}
}

// Forward scores the batch, serving cache hits locally and sending only the
// misses to the remote service.
func (c *RemoteClassifier) Forward(ctx context.Context, batch [][]int32) ([]float64, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("remote classifier not configured")
	}
	if len(batch) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(batch))
	missIdx := make([]int, 0, len(batch))
	missSeqs := make([][]int32, 0, len(batch))
	keys := make([]string, len(batch))

	for i, seq := range batch {
		keys[i] = c.cacheKey(seq)
		if payload, err := c.cache.Get(ctx, keys[i]); err == nil {
			if s, err := strconv.ParseFloat(string(payload), 64); err == nil && s >= 0 && s <= 1 {
				scores[i] = s
				continue
			}
		}
		missIdx = append(missIdx, i)
		missSeqs = append(missSeqs, seq)
	}

	if len(missSeqs) > 0 {
		fetched, err := c.score(ctx, missSeqs)
		if err != nil {
			return nil, err
		}
		for j, idx := range missIdx {
			scores[idx] = fetched[j]
			value := strconv.FormatFloat(fetched[j], 'g', -1, 64)
			_ = c.cache.Set(ctx, keys[idx], []byte(value), c.cacheTTL)
		}
	}
	return scores, nil
}

func (c *RemoteClassifier) score(ctx context.Context, batch [][]int32) ([]float64, error) {
	payload := struct {
		ModelID   string    `json:"model_id,omitempty"`
		Sequences [][]int32 `json:"sequences"`
	}{ModelID: c.modelID, Sequences: batch}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.scoreURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &InvocationError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &InvocationError{Err: fmt.Errorf("scoring service returned %s", resp.Status)}
	}

	var response struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if err := checkScores(response.Scores, len(batch)); err != nil {
		return nil, &InvocationError{Err: err}
	}
	return response.Scores, nil
}

func (c *RemoteClassifier) scoreURL() string {
	cleaned := "/" + strings.TrimLeft(c.scorePath, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

// cacheKey derives a content-addressed key for one perturbed sequence: the
// sha2-256 multihash (B58 encoded) of the model id and the token stream.
func (c *RemoteClassifier) cacheKey(seq []int32) string {
	buf := make([]byte, 0, len(seq)*4+len(c.modelID)+1)
	buf = append(buf, c.modelID...)
	buf = append(buf, 0)
	var word [4]byte
	for _, tok := range seq {
		binary.BigEndian.PutUint32(word[:], uint32(tok))
		buf = append(buf, word[:]...)
	}
	mh, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		return fmt.Sprintf("score:%s:%d", c.modelID, len(seq))
	}
	return "score:" + mh.B58String()
}
