package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/Brownie44l1/xray-api/internal/device"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// Info describes the loaded network's interface.
type Info struct {
	InputName   string
	OutputName  string
	InputShape  ort.Shape
	OutputShape ort.Shape
	Device      device.Kind
}

// Server owns one ONNX Runtime session and the tensors bound to it. A
// forward pass writes into shared tensors, so calls are serialized.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	Info         Info
}

// NewServer loads the network at modelPath onto the given device. The
// network must take a single float32 input of inputShape (the batch
// dimension may be dynamic) and emit float32 scores shaped [batch, classes].
func NewServer(modelPath string, inputShape []int64, kind device.Kind) (*Server, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read model %s: %w", modelPath, err)
	}

	info, err := checkInterface(inputs, outputs, inputShape)
	if err != nil {
		return nil, fmt.Errorf("model %s is incompatible: %w", modelPath, err)
	}
	info.Device = kind

	inputTensor, err := ort.NewEmptyTensor[float32](info.InputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](info.OutputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	options, err := kind.SessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{info.InputName}, []string{info.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		options)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Info().
		Str("model", modelPath).
		Str("device", kind.String()).
		Str("input", fmt.Sprintf("%s%v", info.InputName, info.InputShape)).
		Str("output", fmt.Sprintf("%s%v", info.OutputName, info.OutputShape)).
		Msg("Model loaded")

	return &Server{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		Info:         info,
	}, nil
}

// Forward runs the network on one preprocessed input and returns a copy
// of the class scores.
func (s *Server) Forward(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if want := len(s.inputTensor.GetData()); len(input) != want {
		return nil, fmt.Errorf("%w: expected %d input values, got %d", ErrInference, want, len(input))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy(s.inputTensor.GetData(), input)
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	scores := make([]float32, len(s.outputTensor.GetData()))
	copy(scores, s.outputTensor.GetData())
	return scores, nil
}

// Close releases the session and its tensors.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
}

// checkInterface validates the network's declared inputs and outputs and
// resolves a dynamic batch dimension to 1.
func checkInterface(inputs, outputs []ort.InputOutputInfo, inputShape []int64) (Info, error) {
	if len(inputs) != 1 {
		return Info{}, fmt.Errorf("expected exactly 1 input, found %d", len(inputs))
	}
	if len(outputs) == 0 {
		return Info{}, fmt.Errorf("model declares no outputs")
	}
	in, out := inputs[0], outputs[0]

	if err := checkFloatTensor(in); err != nil {
		return Info{}, err
	}
	if err := checkFloatTensor(out); err != nil {
		return Info{}, err
	}

	resolvedIn, err := resolveShape(in.Dimensions, inputShape)
	if err != nil {
		return Info{}, fmt.Errorf("input %q: %w", in.Name, err)
	}

	if len(out.Dimensions) != 2 {
		return Info{}, fmt.Errorf("output %q: expected [batch, classes], got %v", out.Name, out.Dimensions)
	}
	classes := out.Dimensions[1]
	if classes < 1 {
		return Info{}, fmt.Errorf("output %q: class dimension must be fixed, got %d", out.Name, classes)
	}
	if batch := out.Dimensions[0]; batch != 1 && batch != -1 {
		return Info{}, fmt.Errorf("output %q: batch dimension must be 1 or dynamic, got %d", out.Name, batch)
	}

	return Info{
		InputName:   in.Name,
		OutputName:  out.Name,
		InputShape:  resolvedIn,
		OutputShape: ort.NewShape(1, classes),
	}, nil
}

func checkFloatTensor(v ort.InputOutputInfo) error {
	if v.OrtValueType != ort.ONNXTypeTensor {
		return fmt.Errorf("%q is a %v, expected a tensor", v.Name, v.OrtValueType)
	}
	if v.DataType != ort.TensorElementDataTypeFloat {
		return fmt.Errorf("%q holds %v, expected float32", v.Name, v.DataType)
	}
	return nil
}

// resolveShape matches declared against want. Dynamic (negative)
// dimensions are accepted and take the wanted size.
func resolveShape(declared ort.Shape, want []int64) (ort.Shape, error) {
	if len(declared) != len(want) {
		return nil, fmt.Errorf("expected shape %v, got %v", want, declared)
	}
	resolved := make(ort.Shape, len(want))
	for i, dim := range declared {
		if dim >= 0 && dim != want[i] {
			return nil, fmt.Errorf("expected shape %v, got %v", want, declared)
		}
		resolved[i] = want[i]
	}
	return resolved, nil
}
