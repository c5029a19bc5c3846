package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/medic/arbiter/pkg/models"
)

// MockListener synthesizes kill reports on a fixed interval for local
// development and the --mock CLI flag. Acked IDs are recorded for test
// assertions but otherwise ignored: there is no broker to redeliver from.
type MockListener struct {
	interval time.Duration
	out      chan Message
	acked    chan string
	seq      int
}

// NewMockListener constructs a listener that emits one synthetic kill
// report every interval.
func NewMockListener(interval time.Duration) *MockListener {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MockListener{
		interval: interval,
		out:      make(chan Message),
		acked:    make(chan string, 64),
	}
}

func (m *MockListener) Listen(ctx context.Context) <-chan Message {
	go m.run(ctx)
	return m.out
}

func (m *MockListener) run(ctx context.Context) {
	defer close(m.out)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.seq++
			msg := Message{
				ID: fmt.Sprintf("mock-%d", m.seq),
				KillReport: models.KillReport{
					KillID:          fmt.Sprintf("mock-kill-%d", m.seq),
					Timestamp:       time.Now(),
					TargetModule:    "mock-module",
					KillReason:      models.KillReasonAnomalyBehavior,
					Severity:        models.SeverityLow,
					ConfidenceScore: 0.4,
					Evidence:        []string{"synthetic_event"},
					SourceAgent:     "mock-killer",
				},
			}
			select {
			case m.out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Ack records id as acknowledged.
func (m *MockListener) Ack(ctx context.Context, id string) error {
	select {
	case m.acked <- id:
	default:
	}
	return nil
}

// Acked returns the channel of acknowledged message IDs, for tests.
func (m *MockListener) Acked() <-chan string {
	return m.acked
}

func (m *MockListener) Close() error {
	return nil
}
