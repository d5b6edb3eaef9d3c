// Package localgen runs mesh generation against a local ONNX export of
// the model, with no external inference server. It implements the same
// streaming backend interface as the remote providers.
package localgen

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daulet/tokenizers"
	onnxruntime "github.com/yalue/onnxruntime_go"

	"github.com/hannes/meshchat/src/backend/providers"
)

const BackendNameLocal = "local"

// modelConfig holds the fields we need from the exported model's
// config.json.
type modelConfig struct {
	VocabSize    int    `json:"vocab_size"`
	MaxPositions int    `json:"max_position_embeddings"`
	BOSTokenID   int64  `json:"bos_token_id"`
	EOSTokenID   eosIDs `json:"eos_token_id"`
}

// eosIDs accepts both a scalar and a list, since exports disagree on
// the shape of eos_token_id.
type eosIDs []int64

func (e *eosIDs) UnmarshalJSON(data []byte) error {
	var single int64
	if err := json.Unmarshal(data, &single); err == nil {
		*e = eosIDs{single}
		return nil
	}
	var many []int64
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("eos_token_id is neither an id nor a list: %s", data)
	}
	*e = eosIDs(many)
	return nil
}

func (e eosIDs) contains(id int64) bool {
	for _, v := range e {
		if v == id {
			return true
		}
	}
	return false
}

// LocalBackend generates tokens with ONNX Runtime and a HuggingFace
// tokenizer. The session is created lazily on the first request so
// startup stays fast when the local backend is configured but unused.
type LocalBackend struct {
	tokenizer *tokenizers.Tokenizer
	cfg       modelConfig
	modelPath string

	mu      sync.Mutex
	session *onnxruntime.DynamicAdvancedSession
}

// resolveSharedLibrary points ONNX Runtime at its shared library. The
// environment variable wins; otherwise a handful of conventional
// locations are probed.
func resolveSharedLibrary() {
	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")

	if libPath == "" {
		candidates := []string{
			"./libonnxruntime.so",
			"./build/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.1.23.1.dylib",
			"./build/libonnxruntime.1.23.1.dylib",
		}
		for _, path := range candidates {
			if _, err := os.Stat(path); err == nil {
				libPath = path
				break
			}
		}
	}

	if libPath != "" {
		onnxruntime.SetSharedLibraryPath(libPath)
	} else {
		onnxruntime.SetSharedLibraryPath("./build/libonnxruntime.so")
	}
}

// NewLocalBackend loads the tokenizer and model configuration. modelCfgPath
// may be empty, in which case config.json next to the model is used.
func NewLocalBackend(modelPath, tokenizerPath, modelCfgPath string) (*LocalBackend, error) {
	resolveSharedLibrary()

	if !onnxruntime.IsInitialized() {
		if err := onnxruntime.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	tk, err := tokenizers.FromFile(tokenizerPath)
	if err != nil {
		if derr := onnxruntime.DestroyEnvironment(); derr != nil {
			log.Printf("[LocalGen] ⚠️  Failed to destroy environment during cleanup: %v", derr)
		}
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	if modelCfgPath == "" {
		modelCfgPath = filepath.Join(filepath.Dir(modelPath), "config.json")
	}
	data, err := os.ReadFile(modelCfgPath)
	if err != nil {
		if cerr := tk.Close(); cerr != nil {
			log.Printf("[LocalGen] ⚠️  Failed to close tokenizer during cleanup: %v", cerr)
		}
		return nil, fmt.Errorf("failed to load model configuration from %s: %w", modelCfgPath, err)
	}

	var cfg modelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		if cerr := tk.Close(); cerr != nil {
			log.Printf("[LocalGen] ⚠️  Failed to close tokenizer during cleanup: %v", cerr)
		}
		return nil, fmt.Errorf("failed to parse model configuration: %w", err)
	}
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("model configuration has no vocab_size (%s)", modelCfgPath)
	}
	if cfg.MaxPositions <= 0 {
		cfg.MaxPositions = 8192
	}

	log.Printf("[LocalGen] Loaded model config: vocab=%d, max positions=%d, eos=%v",
		cfg.VocabSize, cfg.MaxPositions, cfg.EOSTokenID)

	return &LocalBackend{
		tokenizer: tk,
		cfg:       cfg,
		modelPath: modelPath,
	}, nil
}

// GetName returns the backend name.
func (b *LocalBackend) GetName() string {
	return BackendNameLocal
}

// ensureSession creates the ONNX session on first use. The session is
// dynamic because the sequence length grows each decode step.
func (b *LocalBackend) ensureSession() (*onnxruntime.DynamicAdvancedSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return b.session, nil
	}
	session, err := onnxruntime.NewDynamicAdvancedSession(b.modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	b.session = session
	return session, nil
}

// Stream runs the decode loop in a goroutine and emits text deltas on
// the returned channel.
func (b *LocalBackend) Stream(ctx context.Context, req providers.Request) (<-chan providers.Delta, error) {
	session, err := b.ensureSession()
	if err != nil {
		return nil, err
	}

	prompt := renderPrompt(req.Messages)
	// The rendered prompt already carries its special tokens.
	encoding := b.tokenizer.EncodeWithOptions(prompt, false)
	if len(encoding.IDs) == 0 {
		return nil, fmt.Errorf("prompt tokenized to zero tokens")
	}

	ids := make([]int64, len(encoding.IDs))
	for i, id := range encoding.IDs {
		ids[i] = int64(id)
	}

	maxNew := req.MaxTokens
	if maxNew <= 0 {
		maxNew = 4096
	}
	if room := b.cfg.MaxPositions - len(ids); maxNew > room {
		maxNew = room
	}

	// Each stream gets its own rng; math/rand.Rand is not safe for
	// concurrent use across decode goroutines.
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	out := make(chan providers.Delta)
	go b.decode(ctx, session, ids, req.Temperature, maxNew, rng, out)
	return out, nil
}

// decode owns the autoregressive loop. Each step runs the full prefix
// through the model; there is no KV cache, so long generations trade
// speed for simplicity.
func (b *LocalBackend) decode(ctx context.Context, session *onnxruntime.DynamicAdvancedSession,
	promptIDs []int64, temperature float64, maxNew int, rng *rand.Rand, out chan<- providers.Delta) {
	defer close(out)

	ids := promptIDs
	var generated []uint32
	var emitted string

	for step := 0; step < maxNew; step++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		logits, err := b.forward(session, ids)
		if err != nil {
			sendDelta(ctx, out, providers.Delta{Err: fmt.Errorf("inference failed at step %d: %w", step, err)})
			return
		}

		next := sampleToken(rng, logits, temperature)
		if b.cfg.EOSTokenID.contains(next) {
			break
		}

		ids = append(ids, next)
		generated = append(generated, uint32(next)) // #nosec G115 - token ids fit in uint32

		// Decoding the whole generated run each step keeps multi-token
		// byte sequences intact; only the new suffix is emitted.
		text := b.tokenizer.Decode(generated, true)
		if len(text) > len(emitted) {
			if !sendDelta(ctx, out, providers.Delta{Text: text[len(emitted):]}) {
				return
			}
			emitted = text
		}
	}

	sendDelta(ctx, out, providers.Delta{Done: true})
}

// forward runs one step and returns the logits of the last position.
func (b *LocalBackend) forward(session *onnxruntime.DynamicAdvancedSession, ids []int64) ([]float32, error) {
	seqLen := int64(len(ids))
	shape := onnxruntime.NewShape(1, seqLen)

	inputTensor, err := onnxruntime.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := inputTensor.Destroy(); err != nil {
			log.Printf("[LocalGen] ⚠️  Failed to destroy input tensor: %v", err)
		}
	}()

	mask := make([]int64, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	maskTensor, err := onnxruntime.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create mask tensor: %w", err)
	}
	defer func() {
		if err := maskTensor.Destroy(); err != nil {
			log.Printf("[LocalGen] ⚠️  Failed to destroy mask tensor: %v", err)
		}
	}()

	outputs := []onnxruntime.Value{nil}
	if err := session.Run([]onnxruntime.Value{inputTensor, maskTensor}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	logitsTensor, ok := outputs[0].(*onnxruntime.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected logits tensor type %T", outputs[0])
	}
	defer func() {
		if err := logitsTensor.Destroy(); err != nil {
			log.Printf("[LocalGen] ⚠️  Failed to destroy logits tensor: %v", err)
		}
	}()

	data := logitsTensor.GetData()
	vocab := b.cfg.VocabSize
	start := (len(ids) - 1) * vocab
	if start < 0 || start+vocab > len(data) {
		return nil, fmt.Errorf("logits size %d does not match seq %d x vocab %d", len(data), len(ids), vocab)
	}

	last := make([]float32, vocab)
	copy(last, data[start:start+vocab])
	return last, nil
}

// sampleToken picks the next token id. Temperature zero means greedy.
func sampleToken(rng *rand.Rand, logits []float32, temperature float64) int64 {
	if temperature <= 0 {
		return argmax(logits)
	}

	probs := softmax(logits, temperature)
	r := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += p
		if r < cum {
			return int64(i)
		}
	}
	return int64(len(probs) - 1)
}

func argmax(logits []float32) int64 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int64(best)
}

// softmax converts logits to a probability distribution, dividing by
// temperature first. Max subtraction keeps the exponentials finite.
func softmax(logits []float32, temperature float64) []float64 {
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		p := math.Exp((float64(v) - maxLogit) / temperature)
		probs[i] = p
		sum += p
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// renderPrompt lays the conversation out in the Llama 3.1 chat format
// the model was exported with.
func renderPrompt(messages []providers.Message) string {
	prompt := "<|begin_of_text|>"
	for _, m := range messages {
		prompt += "<|start_header_id|>" + m.Role + "<|end_header_id|>\n\n" + m.Content + "<|eot_id|>"
	}
	prompt += "<|start_header_id|>assistant<|end_header_id|>\n\n"
	return prompt
}

func sendDelta(ctx context.Context, out chan<- providers.Delta, d providers.Delta) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close releases the session, tokenizer and runtime environment.
func (b *LocalBackend) Close() error {
	var errs []error

	b.mu.Lock()
	if b.session != nil {
		if err := b.session.Destroy(); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session: %w", err))
		}
		b.session = nil
	}
	b.mu.Unlock()

	if b.tokenizer != nil {
		if err := b.tokenizer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close tokenizer: %w", err))
		}
	}
	if err := onnxruntime.DestroyEnvironment(); err != nil {
		errs = append(errs, fmt.Errorf("failed to destroy environment: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
