package barcode

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

type gozxingBackend struct{}

type symbolKey struct {
	format Format
	text   string
}

type decodeHints = map[gozxing.DecodeHintType]any

// symbolReader runs one gozxing reader over a bitmap. A miss yields nil.
type symbolReader struct {
	name string
	read func(*gozxing.BinaryBitmap, decodeHints) ([]*gozxing.Result, error)
}

func single(name string, r gozxing.Reader) symbolReader {
	return symbolReader{name: name, read: func(bm *gozxing.BinaryBitmap, hints decodeHints) ([]*gozxing.Result, error) {
		defer r.Reset()
		res, err := r.Decode(bm, hints)
		if err != nil || res == nil {
			return nil, err
		}
		return []*gozxing.Result{res}, nil
	}}
}

func multiple(name string, r multi.MultipleBarcodeReader) symbolReader {
	return symbolReader{name: name, read: r.DecodeMultiple}
}

// Decode searches img for symbols of the requested mode. Readers that fail
// to find a symbol are treated as a miss.
func (b *gozxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil
	}
	if !opts.ROI.Empty() {
		if roiImg, ok := subImage(img, opts.ROI); ok {
			img = roiImg
		}
	}

	hints := buildHints(opts)
	readers := readersFor(opts, hints)
	if len(readers) == 0 {
		return nil, nil
	}

	source := gozxing.NewLuminanceSourceFromImage(img)
	origin := img.Bounds().Min

	out, err := decodeSource(ctx, source, readers, hints, opts, origin)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 && opts.TryInvert {
		out, err = decodeSource(ctx, source.Invert(), readers, hints, opts, origin)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func decodeSource(ctx context.Context, source gozxing.LuminanceSource, readers []symbolReader,
	hints decodeHints, opts Options, origin image.Point,
) ([]Result, error) {
	bitmap, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(source))
	if err != nil {
		return nil, fmt.Errorf("binarize image: %w", err)
	}

	seen := make(map[symbolKey]struct{})
	var out []Result
	for _, reader := range readers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := reader.read(bitmap, hints)
		if err != nil {
			slog.Debug("no symbol found", "reader", reader.name, "error", err)
		}
		for _, r := range found {
			res := toResult(r, origin)
			key := symbolKey{res.Type, res.Value}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, res)
			if opts.MaxSymbols > 0 && len(out) >= opts.MaxSymbols {
				return out, nil
			}
		}
	}
	return out, nil
}

func buildHints(opts Options) decodeHints {
	hints := make(decodeHints)
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if formats := wantedFormats(opts); len(formats) > 0 {
		// The UPC/EAN reader only accepts a plain slice here.
		zx := make([]gozxing.BarcodeFormat, 0, len(formats))
		for _, f := range formats {
			if bf, ok := mapFormatToZXing(f); ok {
				zx = append(zx, bf)
			}
		}
		hints[gozxing.DecodeHintType_POSSIBLE_FORMATS] = zx
	}
	return hints
}

// wantedFormats returns opts.Formats restricted to opts.Mode, or nil when
// every format of the mode is acceptable.
func wantedFormats(opts Options) []Format {
	if len(opts.Formats) == 0 {
		return nil
	}
	out := make([]Format, 0, len(opts.Formats))
	for _, f := range opts.Formats {
		if modeAllows(opts.Mode, f) {
			out = append(out, f)
		}
	}
	return out
}

func modeAllows(m Mode, f Format) bool {
	switch m {
	case ModeLinear:
		return f != FormatUnknown && !f.IsMatrix()
	case ModeMatrix:
		return f.IsMatrix()
	default:
		return f != FormatUnknown
	}
}

// readersFor builds the reader list for the requested mode, one reader per
// symbology except UPC/EAN, which share a single multi-format reader. QR
// codes use the multi reader when several symbols per region are wanted.
func readersFor(opts Options, hints decodeHints) []symbolReader {
	wanted := wantedFormats(opts)
	if len(opts.Formats) > 0 && len(wanted) == 0 {
		return nil
	}
	include := func(f Format) bool {
		if !modeAllows(opts.Mode, f) {
			return false
		}
		if wanted == nil {
			return true
		}
		for _, w := range wanted {
			if w == f {
				return true
			}
		}
		return false
	}

	var readers []symbolReader
	if include(FormatQR) {
		if opts.Multi {
			readers = append(readers, multiple("qr-multi", multiqr.NewQRCodeMultiReader()))
		} else {
			readers = append(readers, single("qr", qrcode.NewQRCodeReader()))
		}
	}
	if include(FormatDataMatrix) {
		readers = append(readers, single("datamatrix", datamatrix.NewDataMatrixReader()))
	}
	if include(FormatAztec) {
		readers = append(readers, single("aztec", aztec.NewAztecReader()))
	}
	if include(FormatCode128) {
		readers = append(readers, single("code128", oned.NewCode128Reader()))
	}
	if include(FormatCode39) {
		readers = append(readers, single("code39", oned.NewCode39Reader()))
	}
	if include(FormatCode93) {
		readers = append(readers, single("code93", oned.NewCode93Reader()))
	}
	if include(FormatEAN13) || include(FormatEAN8) || include(FormatUPCA) || include(FormatUPCE) {
		readers = append(readers, single("upcean", oned.NewMultiFormatUPCEANReader(hints)))
	}
	if include(FormatITF) {
		readers = append(readers, single("itf", oned.NewITFReader()))
	}
	if include(FormatCodabar) {
		readers = append(readers, single("codabar", oned.NewCodaBarReader()))
	}
	return readers
}

func toResult(r *gozxing.Result, origin image.Point) Result {
	var points []Point
	if pts := r.GetResultPoints(); len(pts) > 0 {
		points = make([]Point, 0, len(pts))
		for _, p := range pts {
			points = append(points, Point{X: origin.X + int(p.GetX()), Y: origin.Y + int(p.GetY())})
		}
	}
	return Result{
		Type:   mapFormatFromZXing(r.GetBarcodeFormat()),
		Value:  r.GetText(),
		Points: points,
		BBox:   rectFromPoints(points),
	}
}

func mapFormatToZXing(f Format) (gozxing.BarcodeFormat, bool) {
	switch f {
	case FormatQR:
		return gozxing.BarcodeFormat_QR_CODE, true
	case FormatDataMatrix:
		return gozxing.BarcodeFormat_DATA_MATRIX, true
	case FormatAztec:
		return gozxing.BarcodeFormat_AZTEC, true
	case FormatCode128:
		return gozxing.BarcodeFormat_CODE_128, true
	case FormatCode39:
		return gozxing.BarcodeFormat_CODE_39, true
	case FormatCode93:
		return gozxing.BarcodeFormat_CODE_93, true
	case FormatEAN8:
		return gozxing.BarcodeFormat_EAN_8, true
	case FormatEAN13:
		return gozxing.BarcodeFormat_EAN_13, true
	case FormatUPCA:
		return gozxing.BarcodeFormat_UPC_A, true
	case FormatUPCE:
		return gozxing.BarcodeFormat_UPC_E, true
	case FormatITF:
		return gozxing.BarcodeFormat_ITF, true
	case FormatCodabar:
		return gozxing.BarcodeFormat_CODABAR, true
	default:
		return 0, false
	}
}

func mapFormatFromZXing(bf gozxing.BarcodeFormat) Format {
	switch bf {
	case gozxing.BarcodeFormat_QR_CODE:
		return FormatQR
	case gozxing.BarcodeFormat_DATA_MATRIX:
		return FormatDataMatrix
	case gozxing.BarcodeFormat_AZTEC:
		return FormatAztec
	case gozxing.BarcodeFormat_CODE_128:
		return FormatCode128
	case gozxing.BarcodeFormat_CODE_39:
		return FormatCode39
	case gozxing.BarcodeFormat_CODE_93:
		return FormatCode93
	case gozxing.BarcodeFormat_EAN_8:
		return FormatEAN8
	case gozxing.BarcodeFormat_EAN_13:
		return FormatEAN13
	case gozxing.BarcodeFormat_UPC_A:
		return FormatUPCA
	case gozxing.BarcodeFormat_UPC_E:
		return FormatUPCE
	case gozxing.BarcodeFormat_ITF:
		return FormatITF
	case gozxing.BarcodeFormat_CODABAR:
		return FormatCodabar
	default:
		return FormatUnknown
	}
}

func rectFromPoints(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// subImage restricts img to r, copying when the image has no SubImage.
func subImage(img image.Image, r image.Rectangle) (image.Image, bool) {
	rb := r.Intersect(img.Bounds())
	if rb.Empty() {
		return nil, false
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(rb), true
	}
	dst := image.NewRGBA(rb)
	draw.Draw(dst, rb, img, rb.Min, draw.Src)
	return dst, true
}
