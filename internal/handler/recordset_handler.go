package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
)

type RecordSetService interface {
	Get(ctx context.Context, user *domain.User, zoneID string, recordSetID string) (*domain.RecordSet, error)
	Delete(ctx context.Context, user *domain.User, zoneID string, recordSetID string) error
}

type RecordSetHandler struct {
	service RecordSetService
}

func NewRecordSetHandler(service RecordSetService) (*RecordSetHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("record set service is required")
	}
	return &RecordSetHandler{service: service}, nil
}

func RegisterRecordSetRoutes(router fiber.Router, service RecordSetService) error {
	h, err := NewRecordSetHandler(service)
	if err != nil {
		return err
	}

	router.Get("/:zoneId/recordsets/:recordSetId", h.GetRecordSet)
	router.Delete("/:zoneId/recordsets/:recordSetId", h.DeleteRecordSet)

	return nil
}

type recordSetResponse struct {
	ID      string              `json:"id"`
	ZoneID  string              `json:"zoneId"`
	Name    string              `json:"name"`
	Type    string              `json:"type"`
	TTL     int                 `json:"ttl"`
	Records []domain.RecordData `json:"records"`
}

func (h *RecordSetHandler) GetRecordSet(c *fiber.Ctx) error {
	user, err := requestUser(c)
	if err != nil {
		return toHTTPError(err)
	}

	rs, err := h.service.Get(requestContext(c), user, strings.TrimSpace(c.Params("zoneId")), strings.TrimSpace(c.Params("recordSetId")))
	if err != nil {
		return toHTTPError(err)
	}

	records := rs.Records
	if records == nil {
		records = []domain.RecordData{}
	}
	return c.Status(fiber.StatusOK).JSON(recordSetResponse{
		ID:      rs.ID,
		ZoneID:  rs.ZoneID,
		Name:    rs.Name,
		Type:    rs.Type.String(),
		TTL:     rs.TTL,
		Records: records,
	})
}

func (h *RecordSetHandler) DeleteRecordSet(c *fiber.Ctx) error {
	user, err := requestUser(c)
	if err != nil {
		return toHTTPError(err)
	}

	zoneID := strings.TrimSpace(c.Params("zoneId"))
	recordSetID := strings.TrimSpace(c.Params("recordSetId"))
	if err := h.service.Delete(requestContext(c), user, zoneID, recordSetID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"zoneId":      zoneID,
		"recordSetId": recordSetID,
		"status":      "Deleted",
	})
}
