package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/codescan/internal/detector"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Output formats understood by FormatResult.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatCSV  = "csv"
)

// ClassLabel returns a human-readable label for a class, e.g. "Barcode".
func ClassLabel(classID int) string {
	name := detector.ClassName(classID)
	if name == "" {
		return "Class " + strconv.Itoa(classID)
	}
	if classID == detector.ClassQRCode {
		return "QR Code"
	}
	return cases.Title(language.English).String(name)
}

// ToJSONImage serializes a single result to pretty JSON.
func ToJSONImage(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res.ToJSON(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONImages serializes multiple results to pretty JSON.
func ToJSONImages(results []*ScanResult) (string, error) {
	out := make([]*ScanResultJSON, len(results))
	for i, r := range results {
		if r != nil {
			j := r.ToJSON()
			out[i] = &j
		}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainTextImage renders one line per detection followed by its decoded
// symbols.
func ToPlainTextImage(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Image %dx%d: %d detection(s)", res.Width, res.Height, len(res.Detections))
	if res.Decoded {
		fmt.Fprintf(&sb, ", %d decoded", len(res.Matches))
	}
	sb.WriteString("\n")
	for i, d := range res.Detections {
		r := d.Box.Rect()
		fmt.Fprintf(&sb, "  [%d] %s %.3f at (%d,%d) %dx%d\n",
			i, ClassLabel(d.ClassID), d.Score, r.Min.X, r.Min.Y, r.Dx(), r.Dy())
		for _, m := range res.Matches {
			if m.Detection == d {
				fmt.Fprintf(&sb, "      %s: %s\n", strings.ToUpper(m.Format.String()), m.Text)
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// ToCSVImage exports one row per detection, repeated per decoded symbol.
func ToCSVImage(res *ScanResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader()); err != nil {
		return "", err
	}
	for _, row := range csvRows("", res) {
		if err := w.Write(row[1:]); err != nil {
			return "", err
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

func csvHeader() []string {
	return []string{"class", "class_id", "score", "x", "y", "w", "h", "format", "text"}
}

// csvRows renders res with a leading name column.
func csvRows(name string, res *ScanResult) [][]string {
	var rows [][]string
	for _, d := range res.Detections {
		r := d.Box.Rect()
		base := []string{
			name,
			d.ClassName(),
			strconv.Itoa(d.ClassID),
			strconv.FormatFloat(d.Score, 'f', 3, 64),
			strconv.Itoa(r.Min.X),
			strconv.Itoa(r.Min.Y),
			strconv.Itoa(r.Dx()),
			strconv.Itoa(r.Dy()),
		}
		matched := false
		for _, m := range res.Matches {
			if m.Detection == d {
				rows = append(rows, append(slices.Clone(base), m.Format.String(), m.Text))
				matched = true
			}
		}
		if !matched {
			rows = append(rows, append(base, "", ""))
		}
	}
	return rows
}

// FormatResults renders results for a list of named inputs (file paths, page
// labels) in one of the output formats.
func FormatResults(names []string, results []*ScanResult, format string) (string, error) {
	if len(names) != len(results) {
		return "", fmt.Errorf("got %d names for %d results", len(names), len(results))
	}
	switch strings.ToLower(format) {
	case FormatJSON, "":
		type entry struct {
			File   string          `json:"file"`
			Result *ScanResultJSON `json:"result"`
		}
		out := make([]entry, len(results))
		for i, r := range results {
			out[i].File = names[i]
			if r != nil {
				j := r.ToJSON()
				out[i].Result = &j
			}
		}
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write(append([]string{"file"}, csvHeader()...))
		for i, r := range results {
			if r == nil {
				continue
			}
			for _, row := range csvRows(names[i], r) {
				_ = w.Write(row)
			}
		}
		w.Flush()
		return buf.String(), w.Error()
	case FormatText:
		var parts []string
		for i, r := range results {
			if r == nil {
				parts = append(parts, fmt.Sprintf("# %s\n  (failed)", names[i]))
				continue
			}
			txt, err := ToPlainTextImage(r)
			if err != nil {
				return "", err
			}
			parts = append(parts, fmt.Sprintf("# %s\n%s", names[i], txt))
		}
		return strings.Join(parts, "\n\n"), nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// FormatResult renders a single result.
func FormatResult(res *ScanResult, format string) (string, error) {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return ToJSONImage(res)
	case FormatText:
		return ToPlainTextImage(res)
	case FormatCSV:
		return ToCSVImage(res)
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

// ValidateScanResult performs simple consistency checks: every box lies in
// the image and every score is a probability.
func ValidateScanResult(res *ScanResult) error {
	if res == nil {
		return errors.New("nil result")
	}
	if res.Width <= 0 || res.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", res.Width, res.Height)
	}
	for i, d := range res.Detections {
		if d.Box.W < 0 || d.Box.H < 0 {
			return fmt.Errorf("detection %d has negative size", i)
		}
		if !d.Box.Within(res.Width, res.Height) {
			return fmt.Errorf("detection %d exceeds image bounds", i)
		}
		if d.Score < 0 || d.Score > 1 {
			return fmt.Errorf("detection %d score out of range", i)
		}
	}
	return nil
}
