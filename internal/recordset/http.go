package recordset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/dnsbatch/internal/domain"
)

const defaultBackendTimeout = 10 * time.Second

type recordSetPayload struct {
	ID      string              `json:"id,omitempty"`
	ZoneID  string              `json:"zoneId"`
	Name    string              `json:"name"`
	Type    domain.RecordType   `json:"type"`
	TTL     int                 `json:"ttl"`
	Records []domain.RecordData `json:"records"`
}

type recordSetListPayload struct {
	RecordSets []recordSetPayload `json:"recordSets"`
}

var _ Gateway = (*HTTPGateway)(nil)

// HTTPGateway talks to a remote record-set backend over JSON/HTTP.
type HTTPGateway struct {
	client  *resty.Client
	baseURL string
}

func NewHTTPGateway(baseURL string) (*HTTPGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultBackendTimeout)
	client.SetRetryCount(0)

	return NewHTTPGatewayWithClient(baseURL, client)
}

func NewHTTPGatewayWithClient(baseURL string, client *resty.Client) (*HTTPGateway, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("record set backend url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid record set backend url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultBackendTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPGateway{
		client:  client,
		baseURL: trimmed,
	}, nil
}

func (g *HTTPGateway) FindRecordSets(ctx context.Context, zoneID string, name string) ([]domain.RecordSet, error) {
	var out recordSetListPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("name", name).
		SetResult(&out).
		Get(g.recordSetsURL(zoneID))
	if err := classify(resp, err); err != nil {
		return nil, err
	}

	sets := make([]domain.RecordSet, 0, len(out.RecordSets))
	for _, p := range out.RecordSets {
		sets = append(sets, p.toDomain())
	}
	return sets, nil
}

func (g *HTTPGateway) GetRecordSet(ctx context.Context, zoneID string, recordSetID string) (*domain.RecordSet, error) {
	var out recordSetPayload
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(g.recordSetsURL(zoneID) + "/" + url.PathEscape(recordSetID))
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("%w: record set %s", domain.ErrNotFound, recordSetID)
	}
	if err := classify(resp, err); err != nil {
		return nil, err
	}

	rs := out.toDomain()
	return &rs, nil
}

func (g *HTTPGateway) ApplyChange(ctx context.Context, change domain.SingleChange) (string, error) {
	switch change.ChangeType {
	case domain.ChangeTypeAdd:
		var out recordSetPayload
		resp, err := g.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(recordSetPayload{
				ID:      domain.RecordSetIDFor(change.ID),
				ZoneID:  change.ZoneID,
				Name:    change.RecordName,
				Type:    change.Type,
				TTL:     changeTTL(change),
				Records: []domain.RecordData{change.Record},
			}).
			SetResult(&out).
			Post(g.recordSetsURL(change.ZoneID))
		if err := classify(resp, err); err != nil {
			return "", err
		}
		if out.ID == "" {
			return "", Transient("record set backend returned no id", nil)
		}
		return out.ID, nil

	case domain.ChangeTypeDeleteRecordSet:
		targetID, err := deleteTarget(ctx, g, change)
		if err != nil {
			return "", err
		}
		if err := g.delete(ctx, change.ZoneID, targetID); err != nil {
			return "", err
		}
		return targetID, nil
	}

	return "", Permanent("unsupported change type %q", change.ChangeType)
}

func (g *HTTPGateway) DeleteRecordSet(ctx context.Context, zoneID string, recordSetID string) error {
	err := g.delete(ctx, zoneID, recordSetID)
	var applyErr *ApplyError
	if errors.As(err, &applyErr) && applyErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: record set %s", domain.ErrNotFound, recordSetID)
	}
	return err
}

func (g *HTTPGateway) delete(ctx context.Context, zoneID string, recordSetID string) error {
	resp, err := g.client.R().
		SetContext(ctx).
		Delete(g.recordSetsURL(zoneID) + "/" + url.PathEscape(recordSetID))
	return classify(resp, err)
}

func (g *HTTPGateway) recordSetsURL(zoneID string) string {
	return fmt.Sprintf("%s/zones/%s/recordsets", g.baseURL, url.PathEscape(zoneID))
}

func classify(resp *resty.Response, err error) error {
	if err != nil {
		return &ApplyError{
			Message:   "record set backend request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if resp == nil {
		return &ApplyError{
			Message:   "record set backend returned empty response",
			Transient: true,
		}
	}

	statusCode := resp.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return nil
	}

	return &ApplyError{
		StatusCode: statusCode,
		Message:    backendErrorMessage(statusCode, strings.TrimSpace(resp.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func backendErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("record set backend returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func (p recordSetPayload) toDomain() domain.RecordSet {
	return domain.RecordSet{
		ID:      p.ID,
		ZoneID:  p.ZoneID,
		Name:    p.Name,
		Type:    p.Type,
		TTL:     p.TTL,
		Records: p.Records,
	}
}
