package pdf

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/codescan/internal/utils"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageImages holds the embedded images of one page, in extraction order.
type PageImages struct {
	Page   int
	Images []image.Image
}

// ExtractImages extracts the embedded images of the selected pages using
// pdfcpu. An empty pageRange selects every page.
func ExtractImages(filename, pageRange string) (map[int][]image.Image, error) {
	return ExtractImagesWithPassword(filename, pageRange, "")
}

// ExtractImagesWithPassword is ExtractImages for documents protected by a
// user password.
func ExtractImagesWithPassword(filename, pageRange, password string) (map[int][]image.Image, error) {
	pageNumbers, err := parsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "codescan-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var pageStrings []string
	if len(pageNumbers) > 0 {
		pageStrings = make([]string, len(pageNumbers))
		for i, pageNum := range pageNumbers {
			pageStrings[i] = strconv.Itoa(pageNum)
		}
	}

	if err := api.ExtractImagesFile(filename, tempDir, pageStrings, configuration(password)); err != nil {
		if IsPasswordError(err) {
			return nil, fmt.Errorf("%w: %w", ErrPasswordRequired, err)
		}
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	result, err := collectExtractedImages(tempDir, baseName(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	slog.Debug("Extracted PDF images", "file", filename, "pages", len(result))
	return result, nil
}

// PageCount returns the number of pages in the document.
func PageCount(filename, password string) (int, error) {
	f, err := os.Open(filename) //nolint:gosec // G304: user-provided PDF path
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	n, err := api.PageCount(f, configuration(password))
	if err != nil {
		if IsPasswordError(err) {
			return 0, fmt.Errorf("%w: %w", ErrPasswordRequired, err)
		}
		return 0, fmt.Errorf("failed to read page count: %w", err)
	}
	return n, nil
}

// SortedPages flattens the result of ExtractImages into ascending page order.
func SortedPages(pages map[int][]image.Image) []PageImages {
	out := make([]PageImages, 0, len(pages))
	for _, n := range slices.Sorted(maps.Keys(pages)) {
		out = append(out, PageImages{Page: n, Images: pages[n]})
	}
	return out
}

func configuration(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	if password != "" {
		conf.UserPW = password
		conf.OwnerPW = password
	}
	return conf
}

func baseName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// collectExtractedImages walks dir and groups decodable images by page.
// Files that do not follow the extraction naming scheme or cannot be
// decoded are skipped.
func collectExtractedImages(dir, base string) (map[int][]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	result := make(map[int][]image.Image)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		pageNum, err := parsePageFromFilename(entry.Name(), base)
		if err != nil {
			continue
		}
		img, _, err := utils.LoadImage(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Debug("Skipping unreadable PDF image", "file", entry.Name(), "error", err)
			continue
		}
		result[pageNum] = append(result[pageNum], img)
	}
	return result, nil
}

// parsePageFromFilename extracts the page number from an extracted image
// name. pdfcpu writes <base>_<page>_<image>.<ext>; the legacy
// page_<page>_image_<n>.<ext> form is accepted as well.
func parsePageFromFilename(filename, base string) (int, error) {
	var rest string
	switch {
	case base != "" && strings.HasPrefix(filename, base+"_"):
		rest = strings.TrimPrefix(filename, base+"_")
	case strings.HasPrefix(filename, "page_"):
		rest = strings.TrimPrefix(filename, "page_")
	default:
		return 0, errors.New("not a page file")
	}

	num, _, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, errors.New("invalid filename format")
	}
	pageNum, err := strconv.Atoi(num)
	if err != nil || pageNum < 1 {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

// parsePageRange parses a page selection like "1-5" or "1,3,5". Pages are
// 1-based; an empty selection means every page.
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	for part := range strings.SplitSeq(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page token ("3") or a range ("1-5").
func parseRangeToken(part string) ([]int, error) {
	if strings.Contains(part, "-") {
		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil || start < 1 {
			return nil, fmt.Errorf("invalid start page: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil || end < 1 {
			return nil, fmt.Errorf("invalid end page: %s", rangeParts[1])
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil || page < 1 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
