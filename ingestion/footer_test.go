package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/statute-rag/llm"
)

type scriptedLLM struct {
	answers []string
	errs    []error
	calls   int
	last    []llm.Message
}

func (s *scriptedLLM) Generate(_ context.Context, messages []llm.Message) (string, error) {
	i := s.calls
	s.calls++
	s.last = messages
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.answers) {
		return s.answers[i], nil
	}
	return "", errors.New("no scripted answer")
}

func noWait(int) time.Duration { return 0 }

const footerJSON = `{"text":"Президент України Л.КУЧМА","act_type":"Кодекс","act_name":"Кримінальний кодекс України","signed_by":"Президент України Л.КУЧМА","number_and_date":"N 2341-III","edition":"","status":"Чинний","permanent_link":""}`

func TestParseFooterStripsCodeFence(t *testing.T) {
	footer, err := ParseFooter("```json\n" + footerJSON + "\n```")
	require.NoError(t, err)

	assert.Equal(t, "Кодекс", footer.ActType)
	assert.Equal(t, "Кримінальний кодекс України", footer.ActName)
	assert.Equal(t, "Чинний", footer.Status)
}

func TestParseFooterRejectsUnknownFields(t *testing.T) {
	_, err := ParseFooter(`{"text":"x","author":"y"}`)
	assert.Error(t, err)
}

func TestLLMFooterNormalizerRetriesBadAnswers(t *testing.T) {
	client := &scriptedLLM{
		answers: []string{"not json", "", footerJSON},
		errs:    []error{nil, errors.New("503 service unavailable"), nil},
	}
	n := NewLLMFooterNormalizer(client, nil)
	n.wait = noWait

	footer, err := n.NormalizeFooter(context.Background(), "Президент України Л.КУЧМА\nм. Київ")
	require.NoError(t, err)

	assert.Equal(t, 3, client.calls)
	assert.Equal(t, "N 2341-III", footer.NumberAndDate)
	require.Len(t, client.last, 2)
	assert.Equal(t, llm.RoleSystem, client.last[0].Role)
	assert.Equal(t, "Президент України Л.КУЧМА\nм. Київ", client.last[1].Content)
}

func TestLLMFooterNormalizerGivesUp(t *testing.T) {
	client := &scriptedLLM{answers: []string{"a", "b", "c", "d"}}
	n := NewLLMFooterNormalizer(client, nil)
	n.wait = noWait

	_, err := n.NormalizeFooter(context.Background(), "footer")
	require.Error(t, err)
	assert.Equal(t, MaxFooterAttempts, client.calls)
	assert.ErrorContains(t, err, "after 3 attempts")
	assert.ErrorContains(t, err, "parse footer json")
}

func TestLLMFooterNormalizerFillsMissingText(t *testing.T) {
	client := &scriptedLLM{answers: []string{`{"act_type":"Кодекс"}`}}
	n := NewLLMFooterNormalizer(client, nil)

	footer, err := n.NormalizeFooter(context.Background(), "  Президент України Л.КУЧМА  ")
	require.NoError(t, err)
	assert.Equal(t, "Президент України Л.КУЧМА", footer.Text)
}

func TestLLMFooterNormalizerStopsOnCancel(t *testing.T) {
	client := &scriptedLLM{answers: []string{"bad"}}
	n := NewLLMFooterNormalizer(client, nil)
	n.wait = func(int) time.Duration { return time.Hour }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.NormalizeFooter(ctx, "footer")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLLMFooterNormalizerWithoutClient(t *testing.T) {
	_, err := NewLLMFooterNormalizer(nil, nil).NormalizeFooter(context.Background(), "footer")
	assert.Error(t, err)
}

func TestFooterWaitGrowsAndIsCapped(t *testing.T) {
	first := footerWait(1)
	assert.GreaterOrEqual(t, first, 2*time.Second)
	assert.LessOrEqual(t, first, 2500*time.Millisecond)

	second := footerWait(2)
	assert.GreaterOrEqual(t, second, 4*time.Second)
	assert.LessOrEqual(t, second, 5*time.Second)

	for _, retry := range []int{5, 10, 64} {
		d := footerWait(retry)
		assert.GreaterOrEqual(t, d, maxFooterWait, "retry %d", retry)
		assert.LessOrEqual(t, d, maxFooterWait+maxFooterWait/4, "retry %d", retry)
	}
}

func TestParseFooterAcceptsUnlabelledFence(t *testing.T) {
	footer, err := ParseFooter("```\n" + footerJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "N 2341-III", footer.NumberAndDate)
}
