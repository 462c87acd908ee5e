package api

import (
	"github.com/gofiber/fiber/v2"

	"docetl/mapping"
	"docetl/types"
)

type ConfigHandler struct {
	mappingFile string
	fieldLimit  int
}

func NewConfigHandler(cfg *types.Config) *ConfigHandler {
	return &ConfigHandler{
		mappingFile: cfg.MappingFile,
		fieldLimit:  cfg.Source.FieldLimit,
	}
}

type mappingsResponse struct {
	File      string               `json:"file"`
	Requested []string             `json:"requested_fields"`
	Mappings  []types.FieldMapping `json:"mappings"`
}

// HandleGetMappings previews the normalized mapping and the source fields an
// extract run would request.
func (h *ConfigHandler) HandleGetMappings(c *fiber.Ctx) error {
	raw, err := mapping.ReadTableFile(h.mappingFile)
	if err != nil {
		return err
	}
	mappings, err := mapping.Load(raw)
	if err != nil {
		return err
	}
	fields, err := mapping.RequestedFields(raw, h.fieldLimit)
	if err != nil {
		return err
	}
	return c.JSON(mappingsResponse{
		File:      h.mappingFile,
		Requested: fields,
		Mappings:  mappings,
	})
}
