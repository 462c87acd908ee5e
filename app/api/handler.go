package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"docetl/service"
	"docetl/types"
)

// PipelineRunner runs one pipeline phase at a time.
type PipelineRunner interface {
	Run(ctx context.Context, params types.RunParams) (types.RunResult, error)
}

type RunHandler struct {
	runner PipelineRunner
}

func NewRunHandler(runner PipelineRunner) *RunHandler {
	return &RunHandler{
		runner: runner,
	}
}

// HandleRun triggers the phase named in the path. The body is optional.
func (h *RunHandler) HandleRun(c *fiber.Ctx) error {
	var params types.RunParams
	if len(c.Body()) > 0 {
		if c.BodyParser(&params) != nil {
			return ErrBadRequest()
		}
	}
	params.Phase = types.Phase(strings.ToLower(c.Params("phase")))

	if verrs := types.Validate(&params); len(verrs) > 0 {
		return NewValidationError(verrs)
	}

	res, err := h.runner.Run(c.UserContext(), params)
	if errors.Is(err, service.ErrBusy) {
		return ErrConflict()
	}
	if err != nil {
		return err
	}
	return c.JSON(res)
}
