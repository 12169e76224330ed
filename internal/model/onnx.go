package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/certan-api/internal/domain"
)

// ONNXConfig locates an exported graph and sizes the session pool.
type ONNXConfig struct {
	ModelPath         string
	MetadataPath      string
	SharedLibraryPath string
	PoolSize          int
	AcquireTimeout    time.Duration
}

var (
	envMu   sync.Mutex
	envInit bool
)

func initEnvironment(sharedLibraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envInit {
		return nil
	}
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	envInit = true
	return nil
}

// ShutdownEnvironment releases the onnxruntime environment. Call once at
// process exit after every classifier is closed.
func ShutdownEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	if !envInit {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("onnx_environment_destroy_failed", "error", err)
	}
	envInit = false
}

// LoadONNX opens the graph, checks its metadata against the label table and
// returns a classifier backed by a pool of sessions.
func LoadONNX(cfg ONNXConfig) (*Classifier, error) {
	if err := initEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, domain.WrapError(domain.ErrModelUnavailable, "load onnx", err)
	}

	meta, err := readMetadata(cfg.ModelPath, cfg.MetadataPath)
	if err != nil {
		return nil, domain.WrapError(domain.ErrModelUnavailable, "load onnx", err)
	}
	if err := checkGraphIO(cfg.ModelPath, meta); err != nil {
		return nil, domain.WrapError(domain.ErrModelUnavailable, "load onnx", err)
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = 1
	}
	members := make([]Scorer, 0, size)
	for i := 0; i < size; i++ {
		s, err := newSession(cfg.ModelPath, meta)
		if err != nil {
			for _, m := range members {
				_ = m.(*session).Close()
			}
			return nil, domain.WrapError(domain.ErrModelUnavailable, "load onnx", err)
		}
		members = append(members, s)
	}

	pool, err := NewPool(members, cfg.AcquireTimeout)
	if err != nil {
		return nil, domain.WrapError(domain.ErrModelUnavailable, "load onnx", err)
	}

	slog.Info("model_loaded",
		"path", cfg.ModelPath,
		"classes", meta.Classes,
		"labels_version", meta.LabelsVersion,
		"pool_size", pool.Size(),
	)
	return NewClassifier(pool, meta.LabelsVersion), nil
}

// readMetadata merges the optional sidecar JSON with the graph's embedded
// metadata and validates the result.
func readMetadata(modelPath, metadataPath string) (Metadata, error) {
	sidecar, err := readSidecar(metadataPath)
	if err != nil {
		return Metadata{}, err
	}
	embedded, version, err := embeddedClasses(modelPath)
	if err != nil {
		return Metadata{}, err
	}
	return mergeMetadata(sidecar, embedded, version)
}

// readSidecar loads the JSON written next to the graph. A missing file is
// not an error: the graph may carry its class list itself.
func readSidecar(metadataPath string) (Metadata, error) {
	var meta Metadata
	if metadataPath == "" {
		return meta, nil
	}
	raw, err := os.ReadFile(metadataPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return meta, nil
	case err != nil:
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// mergeMetadata fills defaults, reconciles the two class lists and validates
// the result against the label table.
func mergeMetadata(sidecar Metadata, embedded []string, embeddedVersion string) (Metadata, error) {
	meta := sidecar.withDefaults()

	classes, err := resolveClasses(meta.Classes, embedded)
	if err != nil {
		return Metadata{}, err
	}
	meta.Classes = classes
	if meta.LabelsVersion == "" {
		meta.LabelsVersion = embeddedVersion
	}

	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func embeddedClasses(modelPath string) ([]string, string, error) {
	md, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read graph metadata: %w", err)
	}
	defer md.Destroy()

	raw, ok, err := md.LookupCustomMetadataMap("classes")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read classes metadata: %w", err)
	}
	var classes []string
	if ok {
		if classes, err = parseClassList(raw); err != nil {
			return nil, "", err
		}
	}
	version, _, err := md.LookupCustomMetadataMap("labels_version")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read labels_version metadata: %w", err)
	}
	return classes, version, nil
}

// checkGraphIO compares the graph's declared inputs and outputs with the
// metadata. Dynamic dimensions (-1) match anything.
func checkGraphIO(modelPath string, meta Metadata) error {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return fmt.Errorf("failed to inspect graph: %w", err)
	}
	if err := findDims(inputs, meta.InputName, meta.InputShape); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if err := findDims(outputs, meta.OutputName, meta.OutputShape); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

func findDims(infos []ort.InputOutputInfo, name string, want []int64) error {
	for _, info := range infos {
		if info.Name != name {
			continue
		}
		if !compatibleShape(info.Dimensions, want) {
			return fmt.Errorf("%q has shape %v, expected %v", name, info.Dimensions, want)
		}
		return nil
	}
	return fmt.Errorf("graph has no tensor named %q", name)
}

func compatibleShape(declared []int64, want []int64) bool {
	if len(declared) != len(want) {
		return false
	}
	for i := range declared {
		if declared[i] >= 0 && declared[i] != want[i] {
			return false
		}
	}
	return true
}

// session is one onnxruntime session with its own bound tensors.
type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func newSession(modelPath string, meta Metadata) (*session, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	s, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{
		session:      s,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func (s *session) Scores(_ context.Context, input []float32) ([]float32, error) {
	copy(s.inputTensor.GetData(), input)

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := s.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (s *session) Close() error {
	var errs []error
	if s.inputTensor != nil {
		errs = append(errs, s.inputTensor.Destroy())
	}
	if s.outputTensor != nil {
		errs = append(errs, s.outputTensor.Destroy())
	}
	if s.session != nil {
		errs = append(errs, s.session.Destroy())
	}
	return errors.Join(errs...)
}
