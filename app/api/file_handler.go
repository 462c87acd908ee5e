package api

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docetl/service"
	"docetl/types"
)

type FileHandler struct {
	runner    PipelineRunner
	uploadDir string
}

func NewFileHandler(runner PipelineRunner, uploadDir string) *FileHandler {
	return &FileHandler{
		runner:    runner,
		uploadDir: uploadDir,
	}
}

// HandleBook stores an uploaded PDF and runs the book phase on it.
func (h *FileHandler) HandleBook(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}
	name := filepath.Base(file.Filename)
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return NewError(fiber.StatusBadRequest, "only PDF files are accepted")
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(h.uploadDir, name)
	if err := c.SaveFile(file, path); err != nil {
		return err
	}
	slog.Info("book uploaded", "path", path, "bytes", file.Size)

	res, err := h.runner.Run(c.UserContext(), types.RunParams{
		Phase:   types.PhaseBook,
		Table:   c.FormValue("table"),
		PDFPath: path,
	})
	if errors.Is(err, service.ErrBusy) {
		return ErrConflict()
	}
	if err != nil {
		return err
	}
	return c.JSON(res)
}
