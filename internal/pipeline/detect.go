package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/MeKo-Tech/codescan/internal/common"
	"github.com/MeKo-Tech/codescan/internal/detector"
	"github.com/MeKo-Tech/codescan/internal/mempool"
	"github.com/MeKo-Tech/codescan/internal/onnx"
	"github.com/MeKo-Tech/codescan/internal/utils"
)

// Stage names reported in ScanResult timings.
const (
	StagePreprocess  = "preprocess"
	StageInference   = "inference"
	StagePostprocess = "postprocess"
	StageDecode      = "decode"
)

// Preprocess letterboxes img into the network input square and returns the
// NCHW tensor together with the transform that maps network boxes back.
// The tensor data comes from mempool; hand it to mempool.PutFloat32 when
// done (dropping it is harmless).
func (p *Pipeline) Preprocess(img image.Image) (onnx.Tensor, utils.Letterbox, error) {
	size := p.cfg.Detector.InputSize
	canvas, lb, err := utils.LetterboxImage(img, size)
	if err != nil {
		return onnx.Tensor{}, utils.Letterbox{}, err
	}
	defer canvas.Release()

	tensor, err := bufferToTensor(canvas)
	if err != nil {
		return onnx.Tensor{}, utils.Letterbox{}, err
	}
	return tensor, lb, nil
}

func bufferToTensor(buf *utils.PixelBuffer) (onnx.Tensor, error) {
	data, err := utils.NormalizePooled(buf)
	if err != nil {
		return onnx.Tensor{}, err
	}
	tensor, err := onnx.NewImageTensor(data, 3, buf.Rows, buf.Cols)
	if err != nil {
		mempool.PutFloat32(data)
		return onnx.Tensor{}, err
	}
	return tensor, nil
}

// Detect runs the detector on img and returns the kept detections in
// source pixel coordinates, truncated to whole pixels, by descending score.
func (p *Pipeline) Detect(ctx context.Context, img image.Image) ([]detector.Detection, error) {
	return p.detectImage(ctx, img, common.NewStages())
}

func (p *Pipeline) detectImage(ctx context.Context, img image.Image, stages *common.Stages) ([]detector.Detection, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tensor, lb, err := p.Preprocess(img)
	if err != nil {
		return nil, err
	}
	stages.Lap(StagePreprocess)
	return p.infer(ctx, tensor, lb, stages)
}

// DetectPixels runs the detector on a raw square RGB buffer of side x side
// pixels. The buffer is stretched straight to the network size without
// padding.
func (p *Pipeline) DetectPixels(ctx context.Context, rgb []byte, side int) ([]detector.Detection, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stages := common.NewStages()
	buf, lb, err := utils.StretchPixels(rgb, side, p.cfg.Detector.InputSize)
	if err != nil {
		return nil, err
	}
	tensor, err := bufferToTensor(buf)
	if err != nil {
		return nil, err
	}
	stages.Lap(StagePreprocess)
	return p.infer(ctx, tensor, lb, stages)
}

// DetectEncoded decodes an encoded image (png, jpeg, gif, bmp, tiff, webp)
// and runs Detect on it.
func (p *Pipeline) DetectEncoded(ctx context.Context, data []byte) ([]detector.Detection, error) {
	img, _, err := utils.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return p.Detect(ctx, img)
}

// infer consumes tensor: its pooled data is returned before infer returns.
func (p *Pipeline) infer(ctx context.Context, tensor onnx.Tensor, lb utils.Letterbox,
	stages *common.Stages,
) ([]detector.Detection, error) {
	raw, err := p.engine.Run(ctx, tensor)
	mempool.PutFloat32(tensor.Data)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	stages.Lap(StageInference)

	dets, err := p.postprocess(raw, lb)
	if err != nil {
		return nil, err
	}
	stages.Lap(StagePostprocess)
	slog.Debug("Detection completed", "candidates_kept", len(dets), "timings_ms", stages.Millis())
	return dets, nil
}

// postprocess decodes the raw grid, suppresses overlaps and maps the kept
// boxes back onto the source image.
func (p *Pipeline) postprocess(raw []float32, lb utils.Letterbox) ([]detector.Detection, error) {
	threshold := p.cfg.Detector.ScoreThreshold
	candidates, err := p.decoder.Decode(raw, threshold)
	if err != nil {
		return nil, err
	}
	kept := p.suppressor.Apply(candidates, threshold)
	for i := range kept {
		kept[i].Box = lb.ToSource(kept[i].Box).Truncate()
	}
	return kept, nil
}
