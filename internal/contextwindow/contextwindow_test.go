package contextwindow

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/internal/compaction"
	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeSummarizer struct{}

func (fakeSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, config *compaction.SummarizationConfig) (string, error) {
	return "summary of prior conversation", nil
}

func TestEstimateItemTokensPricesKindsDifferently(t *testing.T) {
	text := EstimateItemTokens(ItemText, "hello world")
	tool := EstimateItemTokens(ItemToolCall, "hello world")
	if tool <= text {
		t.Fatalf("expected tool-call envelope overhead to push tokens above plain text: text=%d tool=%d", text, tool)
	}
	if EstimateItemTokens(ItemImageAttachment, "") != imageTokens {
		t.Fatalf("expected flat image token estimate")
	}
}

func TestEstimateMessageTokensSumsAllParts(t *testing.T) {
	msg := models.Message{
		Content:     "short message",
		Attachments: []models.Attachment{{Type: "image"}},
	}
	got := EstimateMessageTokens(msg)
	want := EstimateItemTokens(ItemText, msg.Content) + EstimateItemTokens(ItemImageAttachment, "")
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}
}

func TestManagerShouldCompactCrossesThreshold(t *testing.T) {
	m := New("gpt-4", 0.5) // 8192-token window, compact at 4096 used
	m.AddMessages([]models.Message{{Content: stringOfLen(20000)}})
	if !m.ShouldCompact() {
		t.Fatalf("expected ShouldCompact true after large message, info=%+v", m.Info())
	}
}

func TestManagerResetClearsUsage(t *testing.T) {
	m := New("gpt-4", 0.5)
	m.AddMessage(models.Message{Content: stringOfLen(1000)})
	if m.Info().UsedTokens == 0 {
		t.Fatalf("expected nonzero usage before reset")
	}
	m.Reset()
	if m.Info().UsedTokens != 0 {
		t.Fatalf("expected zero usage after reset, got %d", m.Info().UsedTokens)
	}
}

func TestManagerCanFitRespectsRemainingBudget(t *testing.T) {
	m := New("gpt-4", 0.99)
	if !m.CanFit(ItemText, "small") {
		t.Fatalf("expected small text to fit in a fresh window")
	}
	m.AddMessage(models.Message{Content: stringOfLen(100000)})
	if m.CanFit(ItemImageAttachment, "") {
		t.Fatalf("expected image to no longer fit after filling the window")
	}
}

func TestManagerCompactResetsUsageToSummaryCost(t *testing.T) {
	m := New("gpt-4", 0.5)
	m.AddMessages([]models.Message{
		{Role: models.Role("user"), Content: stringOfLen(5000)},
		{Role: models.Role("assistant"), Content: stringOfLen(5000)},
	})
	before := m.Info().UsedTokens

	summary, err := m.Compact(context.Background(), []models.Message{
		{Role: models.Role("user"), Content: "hi"},
		{Role: models.Role("assistant"), Content: "hello"},
	}, fakeSummarizer{})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if summary == "" {
		t.Fatalf("expected non-empty summary")
	}
	if m.Info().UsedTokens >= before {
		t.Fatalf("expected usage to shrink after compaction: before=%d after=%d", before, m.Info().UsedTokens)
	}
}

func stringOfLen(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
