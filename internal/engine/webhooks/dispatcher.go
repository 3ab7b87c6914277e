package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"draftr/internal/platform/models"
)

// Delivery is one outgoing POST of generated content.
type Delivery struct {
	OrganizationID  string
	IntegrationType string
	IntegrationID   string
	URL             string
	Secret          string
	Event           string
	Title           string
	ReferenceID     string
	Data            interface{}
}

type envelope struct {
	ID        string      `json:"id"`
	Event     string      `json:"event"`
	Timestamp int64       `json:"timestamp"`
	OrgID     string      `json:"organization_id"`
	Data      interface{} `json:"data"`
}

type Dispatcher struct {
	client *http.Client
	logs   *LogWriter
}

func NewDispatcher(logs *LogWriter) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: 10 * time.Second},
		logs:   logs,
	}
}

// Deliver posts the payload and records the outcome as an outgoing log
// entry. It returns the receiver's status code, or an error for transport
// failures and non-2xx responses.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) (int, error) {
	event := &envelope{
		ID:        "evt_" + uuid.NewString(),
		Event:     delivery.Event,
		Timestamp: time.Now().Unix(),
		OrgID:     delivery.OrganizationID,
		Data:      delivery.Data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, err
	}

	status, deliverErr := d.post(ctx, delivery, event, payload)

	entry := &models.WebhookLogEntry{
		Title:           delivery.Title,
		IntegrationType: delivery.IntegrationType,
		Direction:       models.DirectionOutgoing,
		Status:          models.LogStatusSuccess,
		Payload:         payload,
	}
	if delivery.ReferenceID != "" {
		ref := delivery.ReferenceID
		entry.ReferenceID = &ref
	}
	if status != 0 {
		code := status
		entry.StatusCode = &code
	}
	if deliverErr != nil {
		msg := deliverErr.Error()
		entry.Status = models.LogStatusFailed
		entry.ErrorMessage = &msg
	}
	if d.logs != nil {
		d.logs.Append(ctx, delivery.OrganizationID, delivery.IntegrationID, entry)
	}

	return status, deliverErr
}

func (d *Dispatcher) post(ctx context.Context, delivery Delivery, event *envelope, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	if delivery.Secret != "" {
		req.Header.Set("X-Draftr-Signature", Sign(delivery.Secret, payload))
	}
	req.Header.Set("X-Draftr-Event", event.Event)
	req.Header.Set("X-Draftr-Delivery", event.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}
