package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/codescan/internal/pdf"
)

// PDFResult holds the scan results for the embedded images of a document.
type PDFResult struct {
	Filename     string          `json:"filename"`
	TotalPages   int             `json:"total_pages"`
	Pages        []PDFPageResult `json:"pages"`
	ExtractionMs float64         `json:"extraction_ms"`
	TotalMs      float64         `json:"total_ms"`
}

// PDFPageResult holds the results of every image on one page.
type PDFPageResult struct {
	PageNumber int              `json:"page_number"`
	Images     []PDFImageResult `json:"images"`
}

// PDFImageResult is the scan of one embedded image.
type PDFImageResult struct {
	ImageIndex int         `json:"image_index"`
	Result     *ScanResult `json:"result"`
}

// ProcessPDF extracts the embedded images of the selected pages (e.g.
// "1-3,5"; empty for all) and scans each of them.
func (p *Pipeline) ProcessPDF(ctx context.Context, filename, pageRange, password string) (*PDFResult, error) {
	if filename == "" {
		return nil, errors.New("filename cannot be empty")
	}
	if err := p.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	pageImages, err := pdf.ExtractImagesWithPassword(filename, pageRange, password)
	if err != nil {
		return nil, err
	}
	extraction := time.Since(start)

	out := &PDFResult{Filename: filename, ExtractionMs: millis(extraction)}
	for _, page := range pdf.SortedPages(pageImages) {
		pr := PDFPageResult{PageNumber: page.Page, Images: make([]PDFImageResult, 0, len(page.Images))}
		for i, img := range page.Images {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, err := p.ScanImage(ctx, img)
			if err != nil {
				return nil, fmt.Errorf("page %d image %d: %w", page.Page, i, err)
			}
			pr.Images = append(pr.Images, PDFImageResult{ImageIndex: i, Result: res})
		}
		out.Pages = append(out.Pages, pr)
	}
	out.TotalPages = len(out.Pages)
	out.TotalMs = millis(time.Since(start))
	return out, nil
}

// Flatten returns one name and result per scanned image, named
// "<file>#p<page>-<index>".
func (r *PDFResult) Flatten() ([]string, []*ScanResult) {
	var names []string
	var results []*ScanResult
	for _, page := range r.Pages {
		for _, img := range page.Images {
			names = append(names, fmt.Sprintf("%s#p%d-%d", r.Filename, page.PageNumber, img.ImageIndex))
			results = append(results, img.Result)
		}
	}
	return names, results
}

func millis(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
