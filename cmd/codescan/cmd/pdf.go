package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/codescan/internal/pdf"
	"github.com/MeKo-Tech/codescan/internal/pipeline"
	"github.com/spf13/cobra"
)

// pdfCmd scans the images embedded in PDF documents.
var pdfCmd = &cobra.Command{
	Use:   "pdf [files...]",
	Short: "Scan barcodes and QR codes in images embedded in PDF files",
	Long: `Extract the images embedded in PDF pages and detect and decode the
symbols in each of them. Works best with scanned documents.

Examples:
  codescan pdf invoice.pdf
  codescan pdf *.pdf --format json
  codescan pdf locked.pdf --password secret --pages 1-3,5`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, _ []string) error { return bindFlags(cmd, scanFlagBindings) },
	RunE:    processPDFs,
}

func processPDFs(cmd *cobra.Command, files []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	pages, _ := cmd.Flags().GetString("pages")
	password, _ := cmd.Flags().GetString("password")

	pCfg := cfg.ToPipelineConfig()
	pCfg.Barcode.Enabled = true
	pl, err := buildPipeline(pCfg)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer func() {
		if err := pl.Close(); err != nil {
			slog.Warn("Error closing pipeline", "error", err)
		}
	}()

	results := make([]*pipeline.PDFResult, 0, len(files))
	for _, file := range files {
		res, err := pl.ProcessPDF(cmd.Context(), file, pages, password)
		if err != nil {
			return pdfFileError(file, err)
		}
		slog.Info("PDF scanned", "file", file, "pages", res.TotalPages, "total_ms", res.TotalMs)
		results = append(results, res)
	}

	out, err := formatPDFResults(results, cfg.Output.Format)
	if err != nil {
		return err
	}
	return writeOutput(cmd.OutOrStdout(), cfg.Output.File, out)
}

// formatPDFResults keeps the page structure for JSON and flattens it to
// one entry per embedded image otherwise.
func formatPDFResults(results []*pipeline.PDFResult, format string) (string, error) {
	if format == pipeline.FormatJSON {
		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	var names []string
	var flat []*pipeline.ScanResult
	for _, r := range results {
		n, f := r.Flatten()
		names = append(names, n...)
		flat = append(flat, f...)
	}
	return pipeline.FormatResults(names, flat, format)
}

// writeOutput writes s to file, or to w when file is empty.
func writeOutput(w io.Writer, file, s string) error {
	if file == "" {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	if err := os.WriteFile(file, []byte(s+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	_, _ = fmt.Fprintf(w, "Results written to %s\n", file)
	return nil
}

func init() {
	rootCmd.AddCommand(pdfCmd)

	addImageFlags(pdfCmd)
	addDecodeFlags(pdfCmd)
	pdfCmd.Flags().String("pages", "", "page range to process (e.g., '1-5', '1,3,5')")
	pdfCmd.Flags().StringP("password", "p", "", "user password for encrypted PDFs")
}

// pdfFileError prefixes err with the file it belongs to. Protected
// documents get a hint about --password instead of the bare name.
func pdfFileError(file string, err error) error {
	if errors.Is(err, pdf.ErrPasswordRequired) {
		return fmt.Errorf("%s: %w", pdf.PasswordHint(file), err)
	}
	return fmt.Errorf("%s: %w", file, err)
}
