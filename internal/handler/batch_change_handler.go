package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/dnsbatch/internal/auth"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
	"github.com/kursadbilgin/dnsbatch/internal/observability"
	"github.com/kursadbilgin/dnsbatch/internal/service"
)

type BatchChangeService interface {
	Create(ctx context.Context, user *domain.User, input domain.BatchChangeInput) (*domain.BatchChange, error)
	Get(ctx context.Context, user *domain.User, id string) (*domain.BatchChange, error)
	ListSummaries(ctx context.Context, userID string, params service.ListSummariesParams) (*domain.BatchChangeSummaryList, error)
}

type BatchChangeHandler struct {
	service BatchChangeService
}

func NewBatchChangeHandler(service BatchChangeService) (*BatchChangeHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch change service is required")
	}
	return &BatchChangeHandler{service: service}, nil
}

// RegisterBatchChangeRoutes mounts the batch change endpoints on an authenticated /zones router.
func RegisterBatchChangeRoutes(router fiber.Router, service BatchChangeService) error {
	h, err := NewBatchChangeHandler(service)
	if err != nil {
		return err
	}

	router.Post("/batchrecordchanges", h.CreateBatchChange)
	router.Get("/batchrecordchanges", h.ListBatchChangeSummaries)
	router.Get("/batchrecordchanges/:id", h.GetBatchChange)

	return nil
}

type createBatchChangeRequest struct {
	Comments *string                     `json:"comments"`
	Changes  []createSingleChangeRequest `json:"changes"`
}

type createSingleChangeRequest struct {
	ChangeType string            `json:"changeType"`
	InputName  string            `json:"inputName"`
	Type       string            `json:"type"`
	TTL        *int              `json:"ttl,omitempty"`
	Record     domain.RecordData `json:"record"`
}

type batchChangeResponse struct {
	ID               string                 `json:"id"`
	UserID           string                 `json:"userId"`
	UserName         string                 `json:"userName"`
	Comments         *string                `json:"comments,omitempty"`
	CreatedTimestamp time.Time              `json:"createdTimestamp"`
	Status           string                 `json:"status"`
	TotalChanges     int                    `json:"totalChanges"`
	Changes          []singleChangeResponse `json:"changes"`
}

type singleChangeResponse struct {
	ID            string             `json:"id"`
	ChangeType    string             `json:"changeType"`
	InputName     string             `json:"inputName"`
	RecordName    string             `json:"recordName"`
	ZoneName      string             `json:"zoneName"`
	ZoneID        string             `json:"zoneId"`
	RecordSetID   *string            `json:"recordSetId,omitempty"`
	Type          string             `json:"type"`
	TTL           *int               `json:"ttl,omitempty"`
	Record        *domain.RecordData `json:"record,omitempty"`
	Status        string             `json:"status"`
	SystemMessage *string            `json:"systemMessage,omitempty"`
}

type batchChangeSummaryResponse struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	UserName         string    `json:"userName"`
	Comments         *string   `json:"comments,omitempty"`
	CreatedTimestamp time.Time `json:"createdTimestamp"`
	TotalChanges     int       `json:"totalChanges"`
	Status           string    `json:"status"`
}

type batchChangeSummaryListResponse struct {
	BatchChanges []batchChangeSummaryResponse `json:"batchChanges"`
	StartFrom    *int                         `json:"startFrom,omitempty"`
	NextID       *int                         `json:"nextId,omitempty"`
	MaxItems     int                          `json:"maxItems"`
}

func (h *BatchChangeHandler) CreateBatchChange(c *fiber.Ctx) error {
	user, err := requestUser(c)
	if err != nil {
		return toHTTPError(err)
	}

	var req createBatchChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input, err := requestToBatchChangeInput(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(requestContext(c), user, input)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toBatchChangeResponse(created))
}

func (h *BatchChangeHandler) GetBatchChange(c *fiber.Ctx) error {
	user, err := requestUser(c)
	if err != nil {
		return toHTTPError(err)
	}

	batch, err := h.service.Get(requestContext(c), user, strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toBatchChangeResponse(batch))
}

func (h *BatchChangeHandler) ListBatchChangeSummaries(c *fiber.Ctx) error {
	user, err := requestUser(c)
	if err != nil {
		return toHTTPError(err)
	}

	params, err := parseListSummariesParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	page, err := h.service.ListSummaries(requestContext(c), user.ID, params)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toSummaryListResponse(page))
}

func parseListSummariesParams(c *fiber.Ctx) (service.ListSummariesParams, error) {
	var params service.ListSummariesParams

	startFrom, err := parseOptionalIntQuery(c.Query("startFrom"), "startFrom")
	if err != nil {
		return params, err
	}
	maxItems, err := parseOptionalIntQuery(c.Query("maxItems"), "maxItems")
	if err != nil {
		return params, err
	}

	params.StartFrom = startFrom
	params.MaxItems = maxItems
	return params, nil
}

func parseOptionalIntQuery(value string, field string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, field)
	}
	return &n, nil
}

func requestToBatchChangeInput(req createBatchChangeRequest) (domain.BatchChangeInput, error) {
	input := domain.BatchChangeInput{
		Comments: req.Comments,
		Changes:  make([]domain.SingleChangeInput, 0, len(req.Changes)),
	}

	for i, item := range req.Changes {
		changeType, err := domain.ParseChangeTypeFromString(item.ChangeType)
		if err != nil {
			return domain.BatchChangeInput{}, fmt.Errorf("change %d: %w", i, err)
		}
		recordType, err := domain.ParseRecordTypeFromString(item.Type)
		if err != nil {
			return domain.BatchChangeInput{}, fmt.Errorf("change %d: %w", i, err)
		}

		input.Changes = append(input.Changes, domain.SingleChangeInput{
			ChangeType: changeType,
			InputName:  item.InputName,
			Type:       recordType,
			TTL:        item.TTL,
			Record:     item.Record,
		})
	}

	return input, nil
}

func toBatchChangeResponse(b *domain.BatchChange) batchChangeResponse {
	if b == nil {
		return batchChangeResponse{Changes: []singleChangeResponse{}}
	}

	changes := make([]singleChangeResponse, 0, len(b.Changes))
	for _, c := range b.Changes {
		resp := singleChangeResponse{
			ID:            c.ID,
			ChangeType:    c.ChangeType.String(),
			InputName:     c.InputName,
			RecordName:    c.RecordName,
			ZoneName:      c.ZoneName,
			ZoneID:        c.ZoneID,
			RecordSetID:   c.RecordSetID,
			Type:          c.Type.String(),
			TTL:           c.TTL,
			Status:        c.Status.String(),
			SystemMessage: c.SystemMessage,
		}
		if c.ChangeType == domain.ChangeTypeAdd {
			record := c.Record
			resp.Record = &record
		}
		changes = append(changes, resp)
	}

	return batchChangeResponse{
		ID:               b.ID,
		UserID:           b.UserID,
		UserName:         b.UserName,
		Comments:         b.Comments,
		CreatedTimestamp: b.CreatedTimestamp,
		Status:           b.Status.String(),
		TotalChanges:     b.TotalChanges(),
		Changes:          changes,
	}
}

func toSummaryListResponse(page *domain.BatchChangeSummaryList) batchChangeSummaryListResponse {
	if page == nil {
		return batchChangeSummaryListResponse{BatchChanges: []batchChangeSummaryResponse{}}
	}

	summaries := make([]batchChangeSummaryResponse, 0, len(page.BatchChanges))
	for _, s := range page.BatchChanges {
		summaries = append(summaries, batchChangeSummaryResponse{
			ID:               s.ID,
			UserID:           s.UserID,
			UserName:         s.UserName,
			Comments:         s.Comments,
			CreatedTimestamp: s.CreatedTimestamp,
			TotalChanges:     s.TotalChanges,
			Status:           s.Status.String(),
		})
	}

	return batchChangeSummaryListResponse{
		BatchChanges: summaries,
		StartFrom:    page.StartFrom,
		NextID:       page.NextID,
		MaxItems:     page.MaxItems,
	}
}

func requestUser(c *fiber.Ctx) (*domain.User, error) {
	user, ok := auth.UserFromCtx(c)
	if !ok {
		return nil, fmt.Errorf("%w: caller is not authenticated", domain.ErrUnauthorized)
	}
	return user, nil
}

// requestContext returns the request context carrying the correlation id and caller.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	if user, ok := auth.UserFromCtx(c); ok {
		ctx = observability.WithUserID(ctx, user.ID)
	}
	return ctx
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	default:
		return err
	}
}
