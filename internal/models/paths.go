// Package models resolves detector model files on disk.
package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Model name constants to avoid typos and ensure consistency.
const (
	// DetectionDefault is the 416x416 two-class barcode/QR detector.
	DetectionDefault = "barcode_qr_det.onnx"
	// DetectionTiny is the reduced-width variant of the same detector.
	DetectionTiny = "barcode_qr_det_tiny.onnx"
)

// TypeDetection is the sub-directory holding detection models.
const TypeDetection = "detection"

// Default models directory.
const DefaultModelsDir = "models"

// Environment variable for models directory override.
const EnvModelsDir = "CODESCAN_MODELS_DIR"

// ModelInfo contains metadata about a model.
type ModelInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Filename    string `json:"filename"`
	Path        string `json:"path,omitempty"`
	Available   bool   `json:"available"`
}

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("could not find project root (go.mod not found)")
}

// GetModelsDir returns the models directory path.
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}
	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}
	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}
	return DefaultModelsDir
}

// ResolveModelPath prefers <dir>/detection/<file> and falls back to the flat
// <dir>/<file> layout.
func ResolveModelPath(modelsDir, filename string) string {
	base := GetModelsDir(modelsDir)
	organized := filepath.Join(base, TypeDetection, filename)
	if _, err := os.Stat(organized); err == nil {
		return organized
	}
	return filepath.Join(base, filename)
}

// GetDetectionModelPath returns the path for the default detection model.
func GetDetectionModelPath(modelsDir string) string {
	return ResolveModelPath(modelsDir, DetectionDefault)
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

var knownModels = []ModelInfo{
	{
		Name:        "barcode-qr-detection",
		Type:        TypeDetection,
		Description: "YOLOX barcode and QR code detector (416x416, 2 classes)",
		Filename:    DetectionDefault,
	},
	{
		Name:        "barcode-qr-detection-tiny",
		Type:        TypeDetection,
		Description: "Reduced-width YOLOX barcode and QR code detector",
		Filename:    DetectionTiny,
	},
}

// ListAvailableModels returns the known models plus any other .onnx files in
// the models directory, each annotated with its resolved path and presence.
func ListAvailableModels(modelsDir string) []ModelInfo {
	out := make([]ModelInfo, 0, len(knownModels))
	seen := make(map[string]struct{})
	for _, m := range knownModels {
		m.Path = ResolveModelPath(modelsDir, m.Filename)
		m.Available = ValidateModelExists(m.Path) == nil
		seen[m.Filename] = struct{}{}
		out = append(out, m)
	}

	base := GetModelsDir(modelsDir)
	var extra []ModelInfo
	for _, dir := range []string{base, filepath.Join(base, TypeDetection)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".onnx") {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			extra = append(extra, ModelInfo{
				Name:      strings.TrimSuffix(name, filepath.Ext(name)),
				Type:      TypeDetection,
				Filename:  name,
				Path:      filepath.Join(dir, name),
				Available: true,
			})
		}
	}
	slices.SortFunc(extra, func(a, b ModelInfo) int { return strings.Compare(a.Name, b.Name) })
	return append(out, extra...)
}
