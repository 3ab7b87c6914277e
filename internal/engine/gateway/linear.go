package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"draftr/internal/engine/webhooks"
)

const (
	linearSignatureHeader = "Linear-Signature"
	linearDeliveryHeader  = "Linear-Delivery"
)

func verifyLinear(secret string, h http.Header, body []byte) bool {
	return webhooks.Verify(secret, body, h.Get(linearSignatureHeader))
}

// handleLinear acknowledges a verified delivery. Linear payloads start no
// workflows yet.
func (g *Gateway) handleLinear(_ context.Context, d *delivery) (*outcome, error) {
	var head struct {
		Type   string `json:"type"`
		Action string `json:"action"`
	}
	if len(d.body) > 0 {
		if err := json.Unmarshal(d.body, &head); err != nil {
			return nil, rejectf("malformed payload")
		}
	}

	title := "linear webhook"
	if head.Type != "" {
		title = "linear " + head.Type + " " + head.Action
	}
	return &outcome{
		Message: "Linear webhook received",
		Title:   title,
		Data:    map[string]string{"type": head.Type, "action": head.Action},
	}, nil
}
