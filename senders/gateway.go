package senders

import (
	"context"
	"fmt"

	"RoyRemind/config"
	"RoyRemind/models"
	"RoyRemind/services"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const messagesPath = "/v1/messages"

type gatewayRequest struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Name    string `json:"name,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
}

type gatewayResponse struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Error  string  `json:"error"`
	Cost   float64 `json:"cost"`
}

// GatewaySender hands sms, voice, push, whatsapp and webhook messages to the
// messaging provider's HTTP API. Requests are not retried: a retried POST may send twice.
type GatewaySender struct {
	client *resty.Client
	logger *zap.Logger
}

func NewGatewaySender(cfg config.GatewayConfig, logger *zap.Logger) *GatewaySender {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &GatewaySender{client: client, logger: logger}
}

func (s *GatewaySender) Send(ctx context.Context, channel models.Channel, recipient services.RecipientInfo, message services.RenderedMessage) (services.SendResult, error) {
	var out gatewayResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(gatewayRequest{
			Channel: string(channel),
			To:      recipient.Address,
			Name:    recipient.Name,
			Subject: message.Subject,
			Body:    message.Body,
		}).
		SetResult(&out).
		SetError(&out).
		Post(messagesPath)
	if err != nil {
		return services.SendResult{}, fmt.Errorf("failed to call messaging gateway: %w", err)
	}

	if resp.IsError() {
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("gateway returned %d", resp.StatusCode())
		}
		s.logger.Warn("messaging gateway rejected message",
			zap.String("channel", string(channel)),
			zap.String("patient_id", recipient.PatientID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("reason", reason))
		return services.SendResult{Error: reason}, nil
	}

	if out.Status == "rejected" || out.ID == "" {
		reason := out.Error
		if reason == "" {
			reason = "gateway did not accept the message"
		}
		return services.SendResult{Error: reason, Cost: out.Cost}, nil
	}

	return services.SendResult{Accepted: true, ExternalID: out.ID, Cost: out.Cost}, nil
}
