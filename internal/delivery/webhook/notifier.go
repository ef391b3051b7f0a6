package webhook

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/unibosoft/quakefeed/internal/quake"
)

// Notifier fans stored events out to a fixed set of webhook targets. It
// satisfies the pipeline's Notifier contract.
type Notifier struct {
	sender  *Sender
	targets []Target
	logger  zerolog.Logger
}

// NewNotifier creates a Notifier over the given targets.
func NewNotifier(sender *Sender, targets []Target, logger zerolog.Logger) *Notifier {
	return &Notifier{sender: sender, targets: targets, logger: logger}
}

// notification is the webhook body, mirroring the fan-out envelope.
type notification struct {
	Type  string       `json:"type"`
	Event *quake.Event `json:"event"`
}

// Notify posts the event to all targets. Failures are logged per target;
// webhook delivery is best-effort and never fails the pipeline.
func (n *Notifier) Notify(ctx context.Context, e *quake.Event) {
	if len(n.targets) == 0 {
		return
	}

	payload, err := json.Marshal(notification{Type: "new_event", Event: e})
	if err != nil {
		n.logger.Error().Err(err).Str("source_id", e.SourceID).Msg("failed to encode webhook payload")
		return
	}

	results := n.sender.SendAll(ctx, n.targets, payload)
	for i, result := range results {
		if result.Success {
			n.logger.Info().
				Str("target", n.targets[i].Name).
				Dur("response_time", result.ResponseTime).
				Msg("webhook delivered")
		} else {
			n.logger.Warn().
				Str("target", n.targets[i].Name).
				Str("error", result.ErrorMessage).
				Msg("webhook delivery failed")
		}
	}
}
