package classifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig locates and shapes the local detector session.
type ONNXConfig struct {
	// ModelPath points at the exported .onnx detector.
	ModelPath string
	// SeqLen is the fixed input width; shorter sequences are padded with
	// PadToken, longer ones truncated.
	SeqLen int
	// PadToken fills unused positions (0 in the exported models).
	PadToken int32
	// InputName/OutputName default to "tokens" and "logits".
	InputName  string
	OutputName string
}

// ONNXClassifier runs the detector in-process through onnxruntime. Sessions
// are not reentrant, so Forward serializes on a mutex; concurrency comes from
// batching, not parallel sessions.
type ONNXClassifier struct {
	cfg     ONNXConfig
	session *ort.DynamicAdvancedSession

	mu sync.Mutex
}

// NewONNXClassifier initializes the onnxruntime environment (once per
// process) and opens a session for the configured model.
func NewONNXClassifier(cfg ONNXConfig) (*ONNXClassifier, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx model path is empty")
	}
	if cfg.SeqLen <= 0 {
		cfg.SeqLen = 4096
	}
	if cfg.InputName == "" {
		cfg.InputName = "tokens"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "logits"
	}

	if lib := sharedLibraryPath(filepath.Dir(cfg.ModelPath)); lib != "" {
		ort.SetSharedLibraryPath(lib)
	} else {
		return nil, errors.New("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file missing at %s: %w", cfg.ModelPath, err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXClassifier{cfg: cfg, session: session}, nil
}

// Forward scores a batch of perturbed sequences. Each output logit is mapped
// through a sigmoid to a confidence in [0,1].
func (c *ONNXClassifier) Forward(ctx context.Context, batch [][]int32) ([]float64, error) {
	if c == nil || c.session == nil {
		return nil, errors.New("onnx classifier not initialized")
	}
	if len(batch) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flat := make([]int64, len(batch)*c.cfg.SeqLen)
	for row, tokens := range batch {
		base := row * c.cfg.SeqLen
		for i := 0; i < c.cfg.SeqLen; i++ {
			if i < len(tokens) {
				flat[base+i] = int64(tokens[i])
			} else {
				flat[base+i] = int64(c.cfg.PadToken)
			}
		}
	}

	input, err := ort.NewTensor(ort.NewShape(int64(len(batch)), int64(c.cfg.SeqLen)), flat)
	if err != nil {
		return nil, fmt.Errorf("allocate input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}

	c.mu.Lock()
	err = c.session.Run([]ort.Value{input}, outputs)
	c.mu.Unlock()
	if err != nil {
		return nil, &InvocationError{Err: fmt.Errorf("onnx run: %w", err)}
	}

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}
	defer out.Destroy()

	raw := out.GetData()
	if len(raw) < len(batch) {
		return nil, fmt.Errorf("model produced %d logits for %d inputs", len(raw), len(batch))
	}
	perRow := len(raw) / len(batch)

	scores := make([]float64, len(batch))
	for row := range batch {
		// Single-logit heads are sigmoided; two-class heads use the
		// softmax probability of the positive class (index 1).
		logits := raw[row*perRow : (row+1)*perRow]
		if perRow == 1 {
			scores[row] = sigmoid(float64(logits[0]))
		} else {
			scores[row] = softmaxPositive(logits)
		}
	}
	if err := checkScores(scores, len(batch)); err != nil {
		return nil, err
	}
	return scores, nil
}

// Close releases the session.
func (c *ONNXClassifier) Close() error {
	if c == nil || c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session = nil
	return err
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func softmaxPositive(logits []float32) float64 {
	neg := float64(logits[0])
	pos := float64(logits[1])
	m := math.Max(neg, pos)
	expNeg := math.Exp(neg - m)
	expPos := math.Exp(pos - m)
	return expPos / (expNeg + expPos)
}

// sharedLibraryPath locates the onnxruntime shared library; the env override
// wins, then common install locations are probed.
func sharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}

	names := []string{
		"libonnxruntime.so",
		"onnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		".",
		"/usr/local/lib",
		"/usr/lib",
		"/opt/homebrew/lib",
	}

	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
