package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fabfab/statute-rag/llm"
	"github.com/fabfab/statute-rag/statute"
)

// MaxFooterAttempts bounds the footer normalization calls per ingestion.
const MaxFooterAttempts = 3

// FooterNormalizer turns the raw trailing signature/status block into the
// fixed footer schema.
type FooterNormalizer interface {
	NormalizeFooter(ctx context.Context, text string) (statute.Footer, error)
}

// maxFooterWait caps the pause between footer normalization attempts.
const maxFooterWait = 20 * time.Second

// footerWait is the pause before retry n (1-based): 2s, 4s, 8s and so on up
// to maxFooterWait, plus up to a quarter of it as jitter.
func footerWait(retry int) time.Duration {
	wait := maxFooterWait
	if retry < 5 {
		wait = min(time.Duration(1<<retry)*time.Second, maxFooterWait)
	}
	return wait + rand.N(wait/4+1)
}

// LLMFooterNormalizer asks a chat model to fill the footer schema. Failed
// calls and unparsable answers are retried up to MaxFooterAttempts times.
type LLMFooterNormalizer struct {
	client llm.Client
	logger *zap.Logger
	wait   func(retry int) time.Duration
}

func NewLLMFooterNormalizer(client llm.Client, logger *zap.Logger) *LLMFooterNormalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMFooterNormalizer{client: client, logger: logger, wait: footerWait}
}

func (n *LLMFooterNormalizer) NormalizeFooter(ctx context.Context, text string) (statute.Footer, error) {
	if n.client == nil {
		return statute.Footer{}, fmt.Errorf("llm client is not configured")
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: footerInstructions},
		{Role: llm.RoleUser, Content: text},
	}

	var lastErr error
	for attempt := 1; attempt <= MaxFooterAttempts; attempt++ {
		if lastErr != nil {
			wait := n.wait(attempt - 1)
			n.logger.Warn("retrying footer normalization",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return statute.Footer{}, ctx.Err()
			case <-time.After(wait):
			}
		}

		answer, err := n.client.Generate(ctx, messages)
		if err != nil {
			if ctx.Err() != nil {
				return statute.Footer{}, ctx.Err()
			}
			lastErr = fmt.Errorf("generate footer: %w", err)
			continue
		}
		footer, err := ParseFooter(answer)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.TrimSpace(footer.Text) == "" {
			footer.Text = strings.TrimSpace(text)
		}
		return footer, nil
	}
	return statute.Footer{}, fmt.Errorf("normalize footer after %d attempts: %w", MaxFooterAttempts, lastErr)
}

// fencedAnswer matches a model answer wrapped in a markdown code fence.
var fencedAnswer = regexp.MustCompile("(?s)^```[A-Za-z]*\\s*(.*?)\\s*```$")

// ParseFooter decodes a model answer holding one footer JSON object.
func ParseFooter(answer string) (statute.Footer, error) {
	body := strings.TrimSpace(answer)
	if m := fencedAnswer.FindStringSubmatch(body); m != nil {
		body = m[1]
	}

	var footer statute.Footer
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&footer); err != nil {
		return statute.Footer{}, fmt.Errorf("parse footer json: %w", err)
	}
	return footer, nil
}

// PassthroughFooter keeps the raw footer text and leaves the schema fields
// empty. It is used when no model is available.
type PassthroughFooter struct{}

func (PassthroughFooter) NormalizeFooter(_ context.Context, text string) (statute.Footer, error) {
	return statute.Footer{Text: strings.TrimSpace(text)}, nil
}

const footerInstructions = `You receive the closing block of a Ukrainian legal act: signature, place and date, number, edition and status notes, and links.
Return one JSON object and nothing else, with exactly these string fields:
"text": the full block, cleaned of line-wrap artifacts;
"act_type": the type of the act;
"act_name": the name of the act;
"signed_by": who signed or approved it;
"number_and_date": the act number and date;
"edition": the edition or version;
"status": the current status;
"permanent_link": the permanent link or electronic version.
Use an empty string for anything the block does not state. Keep the original Ukrainian wording.`

var (
	_ FooterNormalizer = (*LLMFooterNormalizer)(nil)
	_ FooterNormalizer = PassthroughFooter{}
)
