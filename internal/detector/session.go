package detector

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/codescan/internal/onnx"
	"github.com/yalue/onnxruntime_go"
)

// loadModel reads the model file into memory once.
func loadModel(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: model path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: model file not found: %s", ErrModelLoad, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: model file is empty: %s", ErrModelLoad, path)
	}
	return data, nil
}

// pickIO returns the named tensor info, or the only one when name is empty.
func pickIO(infos []onnxruntime_go.InputOutputInfo, name, kind string) (onnxruntime_go.InputOutputInfo, error) {
	if name == "" {
		if len(infos) != 1 {
			return onnxruntime_go.InputOutputInfo{}, fmt.Errorf("expected 1 %s, got %d", kind, len(infos))
		}
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return onnxruntime_go.InputOutputInfo{}, fmt.Errorf("model has no %s named %q", kind, name)
}

// validateModelInfo inspects the serialized model and selects its
// input/output pair.
func validateModelInfo(data []byte, config Config) (onnxruntime_go.InputOutputInfo, onnxruntime_go.InputOutputInfo, error) {
	var none onnxruntime_go.InputOutputInfo
	inputs, outputs, err := onnxruntime_go.GetInputOutputInfoWithONNXData(data)
	if err != nil {
		return none, none, fmt.Errorf("%w: failed to get model input/output info: %w", ErrModelLoad, err)
	}

	in, err := pickIO(inputs, config.InputName, "input")
	if err != nil {
		return none, none, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	out, err := pickIO(outputs, config.OutputName, "output")
	if err != nil {
		return none, none, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}

	if len(in.Dimensions) != 4 {
		return none, none, fmt.Errorf("%w: expected 4D input tensor, got %dD", ErrModelLoad, len(in.Dimensions))
	}
	if h, w := in.Dimensions[2], in.Dimensions[3]; h > 0 && w > 0 && (int(h) != config.InputSize || int(w) != config.InputSize) {
		return none, none, fmt.Errorf("%w: model expects %dx%d input, configured for %d",
			ErrModelLoad, w, h, config.InputSize)
	}

	slog.Debug("Model IO",
		"input", in.Name, "input_shape", in.Dimensions.String(),
		"output", out.Name, "output_shape", out.Dimensions.String())
	return in, out, nil
}

// createSession creates the ONNX session with the given configuration.
func createSession(data []byte, inputInfo, outputInfo onnxruntime_go.InputOutputInfo,
	config Config,
) (*onnxruntime_go.DynamicAdvancedSession, error) {
	sessionOptions, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := sessionOptions.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	if err := onnx.ConfigureSessionForGPU(sessionOptions, config.GPU); err != nil {
		return nil, fmt.Errorf("failed to configure GPU: %w", err)
	}

	if config.NumThreads > 0 {
		if err = sessionOptions.SetIntraOpNumThreads(config.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	session, err := onnxruntime_go.NewDynamicAdvancedSessionWithONNXData(data,
		[]string{inputInfo.Name}, []string{outputInfo.Name}, sessionOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ONNX session: %w", ErrModelLoad, err)
	}
	return session, nil
}
