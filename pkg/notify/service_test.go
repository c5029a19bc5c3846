package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medic/arbiter/pkg/models"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	t.Run("NotifyDecision is a no-op", func(_ *testing.T) {
		s.NotifyDecision(t.Context(), models.Decision{Outcome: models.OutcomeDeny}, models.KillReport{})
	})

	t.Run("NotifyCalibration is a no-op", func(_ *testing.T) {
		s.NotifyCalibration(t.Context(), 0.85, 0.80, 0.7, 60)
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "", Channel: "C123"})
		assert.Nil(t, svc)
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: ""})
		assert.Nil(t, svc)
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: "C123"})
		assert.NotNil(t, svc)
	})
}

func TestService_NotifyDecision_IgnoresNonEscalatingOutcomes(t *testing.T) {
	svc := NewServiceWithClient(NewClientWithAPIURL("xoxb-test", "C123", "http://127.0.0.1:0"))

	// ApproveAuto never reaches the network; there is nothing to assert
	// beyond "does not panic" since the client would otherwise error.
	svc.NotifyDecision(t.Context(), models.Decision{Outcome: models.OutcomeApproveAuto}, models.KillReport{KillID: "k1"})
}
