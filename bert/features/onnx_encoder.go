//go:build onnx
// +build onnx

package features

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/matt-peters/bert/bert/encode"

	ort "github.com/yalue/onnxruntime_go"
	"gonum.org/v1/gonum/mat"
)

// ONNX-backed encoder under the onnx build tag. Expects a BERT export
// whose float outputs are the hidden states in layer order, embedding
// output first; every float output of rank 3 is taken as one layer.
type onnxEncoder struct {
	modelPath   string
	modelCfg    *ModelConfig
	mu          sync.Mutex
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

// NewONNXEncoder creates an encoder for the exported model at modelPath.
// modelCfg may be nil; when set, output widths are validated against it.
func NewONNXEncoder(modelPath string, modelCfg *ModelConfig) Encoder {
	return &onnxEncoder{modelPath: modelPath, modelCfg: modelCfg}
}

func (p *onnxEncoder) ensureSession() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return nil
	}
	if p.modelPath == "" {
		return fmt.Errorf("onnx model path is required")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}
	// Probe IO
	ins, outs, err := ort.GetInputOutputInfo(p.modelPath)
	if err != nil {
		return fmt.Errorf("get IO info: %w", err)
	}
	var idsName, maskName, tokTypeName string
	for _, ii := range ins {
		n := strings.ToLower(ii.Name)
		if strings.Contains(n, "input_ids") || n == "ids" {
			idsName = ii.Name
		}
		if strings.Contains(n, "attention_mask") || n == "mask" {
			maskName = ii.Name
		}
		if strings.Contains(n, "token_type") || strings.Contains(n, "segment") {
			tokTypeName = ii.Name
		}
	}
	var inputNames []string
	for _, n := range []string{idsName, maskName, tokTypeName} {
		if n != "" {
			inputNames = append(inputNames, n)
		}
	}
	if len(inputNames) == 0 {
		return fmt.Errorf("could not determine ONNX input names")
	}
	// All float outputs, in model order, are the hidden state layers.
	var outputNames []string
	for _, oi := range outs {
		if oi.DataType == ort.TensorElementDataTypeFloat {
			outputNames = append(outputNames, oi.Name)
		}
	}
	if len(outputNames) == 0 {
		return fmt.Errorf("could not determine ONNX output names")
	}
	if p.modelCfg != nil && len(outputNames) != p.modelCfg.NumHiddenLayers+1 {
		return fmt.Errorf("model exposes %d hidden-state outputs, config says %d layers plus embedding",
			len(outputNames), p.modelCfg.NumHiddenLayers)
	}

	var opts *ort.SessionOptions
	if onnxEPPreference != "" && onnxEPPreference != "cpu" {
		if o, e := ort.NewSessionOptions(); e == nil {
			_ = o.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll)
			switch onnxEPPreference {
			case "cuda":
				if cu, e2 := ort.NewCUDAProviderOptions(); e2 == nil {
					_ = o.AppendExecutionProviderCUDA(cu)
					_ = cu.Destroy()
				}
			case "tensorrt":
				if trt, e2 := ort.NewTensorRTProviderOptions(); e2 == nil {
					_ = o.AppendExecutionProviderTensorRT(trt)
					_ = trt.Destroy()
				}
			case "coreml":
				_ = o.AppendExecutionProviderCoreMLV2(map[string]string{})
			case "dml":
				_ = o.AppendExecutionProviderDirectML(onnxDeviceID)
			}
			opts = o
		}
	}
	var s *ort.DynamicAdvancedSession
	if opts != nil {
		s, err = ort.NewDynamicAdvancedSession(p.modelPath, inputNames, outputNames, opts)
		_ = opts.Destroy()
	} else {
		s, err = ort.NewDynamicAdvancedSession(p.modelPath, inputNames, outputNames, nil)
	}
	if err != nil {
		return fmt.Errorf("create onnx session: %w", err)
	}
	p.session = s
	p.inputNames = inputNames
	p.outputNames = outputNames
	return nil
}

func (p *onnxEncoder) Encode(ctx context.Context, batch []*encode.InputFeatures) ([]*LayerActivations, error) {
	if err := p.ensureSession(); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := len(batch)
	seq := len(batch[0].InputIDs)
	flatIDs := make([]int64, n*seq)
	flatMask := make([]int64, n*seq)
	flatSeg := make([]int64, n*seq)
	for i, f := range batch {
		if len(f.InputIDs) != seq {
			return nil, fmt.Errorf("example %d: sequence length %d differs from batch width %d", f.UniqueID, len(f.InputIDs), seq)
		}
		copy(flatIDs[i*seq:(i+1)*seq], f.InputIDs)
		copy(flatMask[i*seq:(i+1)*seq], f.InputMask)
		copy(flatSeg[i*seq:(i+1)*seq], f.SegmentIDs)
	}

	shape := ort.NewShape(int64(n), int64(seq))
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
	segTensor, err := ort.NewTensor(shape, flatSeg)
	if err != nil {
		return nil, fmt.Errorf("segment tensor: %w", err)
	}
	defer segTensor.Destroy()

	inVals := make([]ort.Value, len(p.inputNames))
	for i, name := range p.inputNames {
		ln := strings.ToLower(name)
		switch {
		case strings.Contains(ln, "input_ids") || ln == "ids":
			inVals[i] = idsTensor
		case strings.Contains(ln, "attention_mask") || ln == "mask":
			inVals[i] = maskTensor
		default:
			inVals[i] = segTensor
		}
	}

	outs := make([]ort.Value, len(p.outputNames))
	if err := p.session.Run(inVals, outs); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	defer func() {
		for _, v := range outs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	results := make([]*LayerActivations, n)
	for i, f := range batch {
		results[i] = &LayerActivations{UniqueID: f.UniqueID, Layers: make([]*mat.Dense, len(outs))}
	}
	for l, out := range outs {
		t, ok := out.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("layer output %d: unexpected tensor type", l)
		}
		sh := t.GetShape()
		if len(sh) != 3 || int(sh[0]) != n || int(sh[1]) != seq {
			return nil, fmt.Errorf("layer output %d: shape %v, want (%d, %d, width)", l, sh, n, seq)
		}
		width := int(sh[2])
		if p.modelCfg != nil && width != p.modelCfg.HiddenSize {
			return nil, fmt.Errorf("layer output %d: width %d, config hidden_size %d", l, width, p.modelCfg.HiddenSize)
		}
		data := t.GetData()
		for i := range batch {
			m := mat.NewDense(seq, width, nil)
			base := i * seq * width
			for pos := 0; pos < seq; pos++ {
				off := base + pos*width
				for d := 0; d < width; d++ {
					m.Set(pos, d, float64(data[off+d]))
				}
			}
			results[i].Layers[l] = m
		}
	}
	return results, nil
}
