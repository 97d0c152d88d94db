package agent

import (
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/pkg/models"
)

// repairTranscript runs loaded history through tool-call/result pairing
// repair before it is handed to the LLM provider. See
// sessions.SanitizeTranscript for the repair rules.
func repairTranscript(history []*models.Message) []*models.Message {
	return sessions.SanitizeTranscript(history)
}
