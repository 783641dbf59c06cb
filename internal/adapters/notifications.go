// internal/adapters/notifications.go
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// MailNotifier delivers notifications through an HTTP mail gateway. A
// circuit breaker stops it hammering a gateway that is already down;
// delivery is single-attempt either way.
type MailNotifier struct {
	gatewayURL string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewMailNotifier(gatewayURL string, logger *zap.Logger) *MailNotifier {
	return &MailNotifier{
		gatewayURL: gatewayURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mail-gateway",
			Timeout: 30 * time.Second,
		}),
		logger: logger,
	}
}

func (n *MailNotifier) Send(ctx context.Context, destination, message string) error {
	payload, err := json.Marshal(map[string]string{
		"to":      destination,
		"subject": message,
		"body":    message,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = n.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.gatewayURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("mail gateway returned %s", resp.Status)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("send notification to %s: %w", destination, err)
	}

	n.logger.Debug("notification sent", zap.String("destination", destination))
	return nil
}
