package senders

import (
	"context"
	"fmt"

	"RoyRemind/models"
	"RoyRemind/services"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Router picks the transport for a channel and throttles each channel independently.
type Router struct {
	senders  map[models.Channel]services.NotificationSender
	limiters map[models.Channel]*rate.Limiter
	rps      float64
	burst    int
	logger   *zap.Logger
}

// NewRouter creates a router. A non-positive rps disables throttling.
func NewRouter(rps float64, burst int, logger *zap.Logger) *Router {
	if burst < 1 {
		burst = 1
	}
	return &Router{
		senders:  make(map[models.Channel]services.NotificationSender),
		limiters: make(map[models.Channel]*rate.Limiter),
		rps:      rps,
		burst:    burst,
		logger:   logger,
	}
}

// Register routes the given channels to sender. Call before the first Send.
func (r *Router) Register(sender services.NotificationSender, channels ...models.Channel) {
	for _, c := range channels {
		r.senders[c] = sender
		if r.rps > 0 {
			r.limiters[c] = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		}
	}
}

func (r *Router) Send(ctx context.Context, channel models.Channel, recipient services.RecipientInfo, message services.RenderedMessage) (services.SendResult, error) {
	sender, ok := r.senders[channel]
	if !ok {
		r.logger.Warn("no transport configured for channel", zap.String("channel", string(channel)))
		return services.SendResult{Error: fmt.Sprintf("no transport for channel %s", channel)}, nil
	}
	if limiter := r.limiters[channel]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return services.SendResult{}, fmt.Errorf("throttled on %s: %w", channel, err)
		}
	}
	return sender.Send(ctx, channel, recipient, message)
}
