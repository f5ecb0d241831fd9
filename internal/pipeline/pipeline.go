// Pipeline orchestration.
//
// DESIGN: One Pipeline instance serves one request. Blocking mode runs the
// two legs sequentially and returns the combined content. Streaming mode runs
// the same sequence on a detached goroutine that pushes events into a bounded
// channel; the HTTP layer is the sole consumer. Ordering is structural: every
// target-leg event is produced after the last reasoning-leg event.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thinkrelay/reasoning-gateway/internal/monitoring"
	"github.com/thinkrelay/reasoning-gateway/internal/providers"
	"github.com/thinkrelay/reasoning-gateway/internal/reasoning"
)

// Pipeline legs, as labeled in metrics.
const (
	LegReasoning = "reasoning"
	LegTarget    = "target"
)

// Streaming framing around the reasoning phase. Distinct from the reasoning
// provider's own <think> markers so clients can tell relayed framing from
// upstream text.
const (
	ThinkingOpen  = "<thinking>\n"
	ThinkingClose = "\n</thinking>"
)

// DefaultChannelCapacity bounds the stream event channel when the config
// leaves it unset.
const DefaultChannelCapacity = 100

// Pipeline drives one request through both provider legs. It owns both
// clients and the event channel for the lifetime of the request.
type Pipeline struct {
	Reasoner       *providers.Client
	ReasonerConfig providers.Config

	Target       *providers.Client
	TargetConfig providers.Config

	Messages []providers.Message

	Metrics         *monitoring.Metrics
	ChannelCapacity int
}

// Result is the blocking-mode output: the reasoning block followed by the
// target provider's content blocks.
type Result struct {
	Created time.Time
	Content []ContentBlock
}

// RunBlocking executes both legs to completion. The target leg is never
// invoked when the reasoning leg yields no reasoning content.
func (p *Pipeline) RunBlocking(ctx context.Context) (*Result, error) {
	legStart := time.Now()
	resp, err := p.Reasoner.Complete(ctx, p.Messages, p.ReasonerConfig)
	p.Metrics.ObserveUpstream(p.Reasoner.Name(), LegReasoning, time.Since(legStart).Seconds())
	if err != nil {
		return nil, err
	}

	reasoningText := strings.TrimSpace(resp.Reasoning)
	if reasoningText == "" {
		return nil, &providers.Error{
			Kind:     providers.KindMissingReasoning,
			Provider: p.Reasoner.Name(),
			Message:  "no reasoning content in response",
		}
	}

	thinking := wrapThink(reasoningText)

	legStart = time.Now()
	targetResp, err := p.Target.Complete(ctx, p.targetMessages(thinking), p.TargetConfig)
	p.Metrics.ObserveUpstream(p.Target.Name(), LegTarget, time.Since(legStart).Seconds())
	if err != nil {
		return nil, err
	}

	content := []ContentBlock{TextBlock(thinking)}
	if len(targetResp.Blocks) > 0 {
		for _, block := range targetResp.Blocks {
			if block.Type == "" || block.Text == "" {
				continue
			}
			content = append(content, ContentBlock{Type: block.Type, Text: block.Text})
		}
	} else if targetResp.Text != "" {
		content = append(content, TextBlock(targetResp.Text))
	}

	return &Result{Created: time.Now().UTC(), Content: content}, nil
}

// RunStream starts the pipeline on a background goroutine and returns the
// bounded event channel. The goroutine is deliberately not tied to the client
// connection: a disconnect does not cancel the upstream legs, the consumer
// just stops forwarding (fire-and-forget; the resource cost is documented in
// DESIGN.md). The channel closes after the terminal event.
func (p *Pipeline) RunStream() <-chan StreamEvent {
	capacity := p.ChannelCapacity
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	events := make(chan StreamEvent, capacity)
	go p.runStream(events)
	return events
}

func (p *Pipeline) runStream(events chan<- StreamEvent) {
	defer close(events)
	ctx := context.Background()

	emit := func(ev StreamEvent) {
		p.Metrics.RecordStreamEvent(ev.Type)
		events <- ev
	}

	emit(startEvent())

	// Reasoning phase: framed by thinking markers emitted exactly once each.
	emit(contentEvent(PhaseFraming, TextBlock(ThinkingOpen)))

	var ex reasoning.Extractor
	legStart := time.Now()
	for res := range p.Reasoner.Stream(ctx, p.Messages, p.ReasonerConfig) {
		if res.Err != nil {
			p.Metrics.ObserveUpstream(p.Reasoner.Name(), LegReasoning, time.Since(legStart).Seconds())
			emit(errorEvent(res.Err))
			return
		}
		chunk := res.Chunk

		if chunk.ReasoningDelta != "" {
			// Dedicated-field reasoning: forwarded verbatim, never marker-scanned.
			ex.IngestReasoning(chunk.ReasoningDelta)
			emit(contentEvent(PhaseReasoning, DeltaBlock(chunk.ReasoningDelta)))
		}
		if chunk.TextDelta != "" {
			// Residual text is the reasoning model's own answer attempt; the
			// target leg produces the answer, so it is not forwarded.
			_ = ex.Ingest(chunk.TextDelta)
			if echo := ex.Echo(chunk.TextDelta); echo != "" {
				emit(contentEvent(PhaseReasoning, DeltaBlock(echo)))
			}
		}
	}
	p.Metrics.ObserveUpstream(p.Reasoner.Name(), LegReasoning, time.Since(legStart).Seconds())
	_ = ex.Flush()

	emit(contentEvent(PhaseFraming, TextBlock(ThinkingClose)))

	reasoningText := strings.TrimSpace(ex.Reasoning())
	if reasoningText == "" {
		// Degraded but continuing: the target still gets the conversation,
		// just with an empty reasoning block.
		log.Warn().Str("provider", p.Reasoner.Name()).
			Msg("reasoning stream produced no reasoning content")
	}
	thinking := ThinkingOpen + reasoningText + ThinkingClose

	legStart = time.Now()
	for res := range p.Target.Stream(ctx, p.targetMessages(thinking), p.TargetConfig) {
		if res.Err != nil {
			p.Metrics.ObserveUpstream(p.Target.Name(), LegTarget, time.Since(legStart).Seconds())
			emit(errorEvent(res.Err))
			return
		}
		if res.Chunk.TextDelta != "" {
			emit(contentEvent(PhaseAnswer, DeltaBlock(res.Chunk.TextDelta)))
		}
	}
	p.Metrics.ObserveUpstream(p.Target.Name(), LegTarget, time.Since(legStart).Seconds())

	emit(doneEvent())
}

// targetMessages builds the augmented message list for the target leg:
// caller messages with System roles stripped, plus one Assistant message
// carrying the reasoning.
func (p *Pipeline) targetMessages(thinking string) []providers.Message {
	out := make([]providers.Message, 0, len(p.Messages)+1)
	for _, m := range p.Messages {
		if m.Role == providers.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return append(out, providers.Message{Role: providers.RoleAssistant, Content: thinking})
}

// wrapThink delimits finished reasoning text for the blocking path, unless
// the provider already delivered it wrapped.
func wrapThink(text string) string {
	if strings.HasPrefix(text, reasoning.StartMarker) && strings.HasSuffix(text, reasoning.EndMarker) {
		return text
	}
	return reasoning.StartMarker + "\n" + text + "\n" + reasoning.EndMarker
}

// errorCode picks the numeric code carried on a stream error event: the
// upstream HTTP status when one exists, 500 otherwise.
func errorCode(err error) int {
	if e, ok := err.(*providers.Error); ok && e.Status != 0 {
		return e.Status
	}
	return 500
}
