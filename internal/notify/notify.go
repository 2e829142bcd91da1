// Package notify implements the optional Slack escalation notifier: when a
// story escalates to a human (an orchestrator.escalation event), it posts
// one message to a configured channel. It owns none of the fan-out,
// retry, or delivery-guarantee concerns a real notification platform would
// (an explicit Non-goal) — it is a single best-effort subscriber.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/slack-go/slack"

	"github.com/devos-platform/agent-orchestrator/internal/events"
)

// Notifier posts escalation events to a Slack channel.
type Notifier struct {
	client  *slack.Client
	channel string
	timeout time.Duration
	log     logr.Logger
}

// New builds a Notifier against token/channel. A zero-value token disables
// sending (Notify becomes a no-op), so wiring this up is harmless in
// environments without Slack configured.
func New(token, channel string, log logr.Logger) *Notifier {
	n := &Notifier{channel: channel, timeout: 10 * time.Second, log: log.WithName("notify")}
	if token != "" {
		n.client = slack.New(token)
	}
	return n
}

// Subscribe wires Notifier to fire on every orchestrator.escalation event
// published on bus.
func (n *Notifier) Subscribe(bus events.Bus) {
	bus.Subscribe(events.OrchestratorEscalation, func(ctx context.Context, env events.Envelope) {
		if err := n.notify(ctx, env); err != nil {
			n.log.Error(err, "failed to send escalation notification")
		}
	})
}

func (n *Notifier) notify(ctx context.Context, env events.Envelope) error {
	if n.client == nil {
		return nil
	}
	workspaceID, _ := env.Payload["workspaceId"].(string)
	storyID, _ := env.Payload["storyId"].(string)
	iterationCount, _ := env.Payload["iterationCount"].(int)

	text := fmt.Sprintf("Story `%s` in workspace `%s` escalated to a human after %d QA iterations.",
		storyID, workspaceID, iterationCount)

	sendCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	_, _, err := n.client.PostMessageContext(sendCtx, n.channel, slack.MsgOptionText(text, false))
	return err
}
