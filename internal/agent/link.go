package agent

import (
	"context"
	"fmt"

	"github.com/shehryarbajwa/checkin-mini/internal/bus"
	"github.com/shehryarbajwa/checkin-mini/pkg/models"
)

// BusLink adapts the message bus to the agent's Fetcher, AuthQuerier and
// Reporter interfaces, standing in for the host runtime's message channel.
type BusLink struct {
	bus   *bus.Bus
	tabID int
}

// NewBusLink creates the agent-side endpoint for a tab.
func NewBusLink(b *bus.Bus, tabID int) *BusLink {
	return &BusLink{bus: b, tabID: tabID}
}

// Inbox subscribes to begin instructions for the tab, converting envelopes
// into typed payloads for Serve.
func (l *BusLink) Inbox(ctx context.Context) <-chan models.CheckInPayload {
	raw := l.bus.SubscribeTab(l.tabID)
	out := make(chan models.CheckInPayload, 4)

	go func() {
		defer close(out)
		for {
			select {
			case env, open := <-raw:
				if !open {
					return
				}
				if env.Kind != bus.KindCheckIn {
					continue
				}
				if p, ok := env.Payload.(models.CheckInPayload); ok {
					out <- p
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Fetch implements Fetcher over the ProxyFetch message.
func (l *BusLink) Fetch(ctx context.Context, req models.FetchRequest) models.FetchResult {
	reply, err := l.bus.Request(ctx, bus.Envelope{Kind: bus.KindProxyFetch, TabID: l.tabID, Payload: req})
	if err != nil {
		return models.FetchResult{OK: false, Error: err.Error()}
	}

	res, ok := reply.(models.FetchResult)
	if !ok {
		return models.FetchResult{OK: false, Error: fmt.Sprintf("unexpected reply type %T", reply)}
	}
	return res
}

// AuthState implements AuthQuerier over the AuthStateQuery message.
func (l *BusLink) AuthState(ctx context.Context) (models.AuthState, error) {
	reply, err := l.bus.Request(ctx, bus.Envelope{Kind: bus.KindAuthStateQuery, TabID: l.tabID})
	if err != nil {
		return models.AuthState{}, err
	}

	st, ok := reply.(models.AuthState)
	if !ok {
		return models.AuthState{}, fmt.Errorf("unexpected reply type %T", reply)
	}
	return st, nil
}

// Ready announces the agent is loaded and listening.
func (l *BusLink) Ready(ctx context.Context) error {
	return l.bus.Send(ctx, bus.Envelope{Kind: bus.KindContentScriptReady, TabID: l.tabID})
}

// LoginSuccessful hands a completed login back to the orchestrator.
func (l *BusLink) LoginSuccessful(ctx context.Context, sessionID string) error {
	return l.bus.Send(ctx, bus.Envelope{Kind: bus.KindLoginSuccessful, TabID: l.tabID, Payload: sessionID})
}

// Complete sends the final report and waits for the acknowledgment.
func (l *BusLink) Complete(ctx context.Context, report models.CheckReport) error {
	_, err := l.bus.Request(ctx, bus.Envelope{Kind: bus.KindPresenceComplete, TabID: l.tabID, Payload: report})
	return err
}
