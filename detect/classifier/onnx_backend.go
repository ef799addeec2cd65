//go:build onnx
// +build onnx

package classifier

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	internal "github.com/ZanzyTHEbar/aidetect/detect"
	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/rs/zerolog"

	ort "github.com/yalue/onnxruntime_go"
)

// onnxBackend runs model.onnx through ONNX Runtime. A session is not safe for
// concurrent Run calls, so Forward serializes on mu and reports Concurrent false.
type onnxBackend struct {
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	pool        *Pool
	log         zerolog.Logger
}

func newONNXBackend(a *artifact.Artifact, opts Options) (Backend, error) {
	modelPath := a.Path(internal.DefaultONNXModelFile)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	ins, outs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx backend: read %s: %w", modelPath, err)
	}

	var idsName, maskName string
	for _, ii := range ins {
		n := strings.ToLower(ii.Name)
		switch {
		case strings.Contains(n, "input_ids") || n == "ids":
			idsName = ii.Name
		case strings.Contains(n, "attention_mask") || n == "mask":
			maskName = ii.Name
		}
	}
	if idsName == "" || maskName == "" {
		return nil, fmt.Errorf("onnx backend: %s needs input_ids and attention_mask inputs", modelPath)
	}
	var outName string
	for _, oi := range outs {
		if oi.DataType != ort.TensorElementDataTypeFloat {
			continue
		}
		if outName == "" || strings.Contains(strings.ToLower(oi.Name), "logits") {
			outName = oi.Name
		}
	}
	if outName == "" {
		return nil, fmt.Errorf("onnx backend: %s has no float output", modelPath)
	}

	so, err := sessionOptions(opts)
	if err != nil {
		return nil, err
	}
	inputNames := []string{idsName, maskName}
	outputNames := []string{outName}
	s, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, so)
	if so != nil {
		_ = so.Destroy()
	}
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	log := opts.Log.With().Str("component", "classifier").Str("backend", BackendONNX).Logger()
	log.Debug().Str("model", modelPath).Str("ep", opts.ExecutionProvider).Msg("onnx session created")
	return &onnxBackend{
		session:     s,
		inputNames:  inputNames,
		outputNames: outputNames,
		pool:        NewPool(),
		log:         log,
	}, nil
}

// sessionOptions builds options for the requested execution provider. CPU with
// default threading returns nil options.
func sessionOptions(opts Options) (*ort.SessionOptions, error) {
	ep := strings.ToLower(strings.TrimSpace(opts.ExecutionProvider))
	if (ep == "" || ep == "cpu") && opts.IntraOpThreads <= 0 {
		return nil, nil
	}
	o, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx session options: %w", err)
	}
	_ = o.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
	if opts.IntraOpThreads > 0 {
		_ = o.SetIntraOpNumThreads(opts.IntraOpThreads)
	}
	switch ep {
	case "", "cpu":
	case "cuda":
		cu, err := ort.NewCUDAProviderOptions()
		if err != nil {
			o.Destroy()
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		defer cu.Destroy()
		if err := cu.Update(map[string]string{"device_id": strconv.Itoa(opts.DeviceID)}); err != nil {
			o.Destroy()
			return nil, fmt.Errorf("cuda device %d: %w", opts.DeviceID, err)
		}
		if err := o.AppendExecutionProviderCUDA(cu); err != nil {
			o.Destroy()
			return nil, fmt.Errorf("append cuda provider: %w", err)
		}
	case "tensorrt":
		trt, err := ort.NewTensorRTProviderOptions()
		if err != nil {
			o.Destroy()
			return nil, fmt.Errorf("tensorrt provider options: %w", err)
		}
		defer trt.Destroy()
		if err := trt.Update(map[string]string{"device_id": strconv.Itoa(opts.DeviceID)}); err != nil {
			o.Destroy()
			return nil, fmt.Errorf("tensorrt device %d: %w", opts.DeviceID, err)
		}
		if err := o.AppendExecutionProviderTensorRT(trt); err != nil {
			o.Destroy()
			return nil, fmt.Errorf("append tensorrt provider: %w", err)
		}
	case "coreml":
		if err := o.AppendExecutionProviderCoreMLV2(map[string]string{}); err != nil {
			o.Destroy()
			return nil, fmt.Errorf("append coreml provider: %w", err)
		}
	case "dml":
		if err := o.AppendExecutionProviderDirectML(opts.DeviceID); err != nil {
			o.Destroy()
			return nil, fmt.Errorf("append directml provider: %w", err)
		}
	default:
		o.Destroy()
		return nil, fmt.Errorf("unknown execution provider %q", opts.ExecutionProvider)
	}
	return o, nil
}

func (b *onnxBackend) Name() string { return BackendONNX }

func (b *onnxBackend) Concurrent() bool { return false }

func (b *onnxBackend) Forward(inputIDs, attentionMask [][]int64) ([][]float64, error) {
	seq, err := checkBatch(inputIDs, attentionMask, 0)
	if err != nil {
		return nil, err
	}
	batch := len(inputIDs)

	// Host-side staging buffers are counted through the pool so leak checks
	// cover this backend too.
	scope := b.pool.Scope()
	defer scope.Release()
	scope.Tensor(batch, seq)

	flatIDs := make([]int64, 0, batch*seq)
	flatMask := make([]int64, 0, batch*seq)
	for i := range inputIDs {
		flatIDs = append(flatIDs, inputIDs[i]...)
		flatMask = append(flatMask, attentionMask[i]...)
	}
	shape := ort.NewShape(int64(batch), int64(seq))
	idsTensor, err := ort.NewTensor(shape, flatIDs)
	if err != nil {
		return nil, fmt.Errorf("ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, flatMask)
	if err != nil {
		return nil, fmt.Errorf("mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	outs := make([]ort.Value, len(b.outputNames))
	b.mu.Lock()
	err = b.session.Run([]ort.Value{idsTensor, maskTensor}, outs)
	b.mu.Unlock()
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()
	if err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	t, ok := outs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected onnx output type %T", outs[0])
	}
	dims := t.GetShape()
	if len(dims) != 2 || int(dims[0]) != batch || dims[1] != 2 {
		return nil, fmt.Errorf("unexpected onnx output shape %v", dims)
	}
	data := t.GetData()
	logits := make([][]float64, batch)
	for r := range logits {
		logits[r] = []float64{float64(data[r*2]), float64(data[r*2+1])}
	}
	return logits, nil
}

func (b *onnxBackend) Stats() PoolStats { return b.pool.Stats() }

func (b *onnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	return err
}
