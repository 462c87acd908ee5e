package loader

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// validatePDF checks the file is a readable PDF and returns its page count.
func validatePDF(path string) (int, error) {
	conf := api.LoadConfiguration()
	if err := api.ValidateFile(path, conf); err != nil {
		return 0, fmt.Errorf("invalid pdf %s: %w", path, err)
	}
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", path, err)
	}
	return n, nil
}

// cropHeaderFooter trims top and bottom margins (in points) from every page
// and writes the result to outputPath.
func cropHeaderFooter(inputPath, outputPath string, top, bottom float64) error {
	box, err := model.ParseBox(fmt.Sprintf("%.2f 0 %.2f 0", top, bottom), types.POINTS)
	if err != nil {
		return fmt.Errorf("failed to parse crop box: %w", err)
	}
	if err := api.CropFile(inputPath, outputPath, []string{"1-"}, box, api.LoadConfiguration()); err != nil {
		return fmt.Errorf("failed to crop PDF: %w", err)
	}
	return nil
}
