package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type fakeAPI struct {
	sent   []tgbotapi.MessageConfig
	failOn map[int]bool
	calls  int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	idx := f.calls
	f.calls++
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if f.failOn[idx] {
		return tgbotapi.Message{}, errors.New("telegram unreachable")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

func newTestSender(api *fakeAPI) (*Sender, *[]time.Duration) {
	s := NewSender(api, zerolog.Nop(), 100, 2*time.Second)
	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }
	return s, &slept
}

func TestSenderAppliesOptionsToFirstChunkOnly(t *testing.T) {
	api := &fakeAPI{}
	s, slept := newTestSender(api)

	text := strings.Repeat("a", 80) + "\n" + strings.Repeat("b", 80)
	s.Send(42, text, &SendOptions{ParseMode: tgbotapi.ModeMarkdown})

	if len(api.sent) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(api.sent))
	}
	if api.sent[0].ParseMode != tgbotapi.ModeMarkdown {
		t.Fatalf("first chunk lost parse mode: %q", api.sent[0].ParseMode)
	}
	if api.sent[1].ParseMode != "" {
		t.Fatalf("second chunk should carry no options, got %q", api.sent[1].ParseMode)
	}
	if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
		t.Fatalf("expected one 2s inter-chunk pause, got %v", *slept)
	}
}

func TestSenderChunkFailureSendsFallbackAndContinues(t *testing.T) {
	// Second chunk (call index 1) fails; the fallback notice goes out in its
	// place and the third chunk is still delivered.
	api := &fakeAPI{failOn: map[int]bool{1: true}}
	s, _ := newTestSender(api)

	text := strings.Repeat("a", 90) + "\n" + strings.Repeat("b", 90) + "\n" + strings.Repeat("c", 90)
	err := s.Deliver(7, text, nil)
	if err == nil {
		t.Fatal("expected aggregate error for the failed chunk")
	}

	if len(api.sent) != 3 {
		t.Fatalf("expected 3 successful sends, got %d", len(api.sent))
	}
	if api.sent[1].Text != fallbackNotice {
		t.Fatalf("expected fallback notice after failed chunk, got %q", api.sent[1].Text)
	}
	if !strings.HasPrefix(api.sent[2].Text, "c") {
		t.Fatalf("third chunk not delivered: %q", api.sent[2].Text)
	}
}

func TestSenderSendNeverPanicsOnTotalFailure(t *testing.T) {
	api := &fakeAPI{failOn: map[int]bool{0: true, 1: true}}
	s, _ := newTestSender(api)
	s.Send(7, "short message", nil)
	if len(api.sent) != 0 {
		t.Fatalf("nothing should have been delivered, got %d", len(api.sent))
	}
}

func TestSenderSendWithRetryBacksOff(t *testing.T) {
	// First attempt fails (plus its fallback notice), second succeeds after
	// a 1s backoff.
	api := &fakeAPI{failOn: map[int]bool{0: true, 1: true}}
	s, slept := newTestSender(api)

	if err := s.SendWithRetry(7, "short message", nil, 3); err != nil {
		t.Fatalf("expected success on retry, got %v", err)
	}
	if len(api.sent) != 1 || api.sent[0].Text != "short message" {
		t.Fatalf("unexpected sends: %+v", api.sent)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Fatalf("expected single 1s backoff, got %v", *slept)
	}
}

func TestSenderSendWithRetryExhausts(t *testing.T) {
	api := &fakeAPI{failOn: map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true}}
	s, slept := newTestSender(api)

	err := s.SendWithRetry(7, "short message", nil, 3)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; len(*slept) != 2 || (*slept)[0] != want[0] || (*slept)[1] != want[1] {
		t.Fatalf("expected 1s then 2s backoff, got %v", *slept)
	}
}

func TestSenderSkipsEmptyText(t *testing.T) {
	api := &fakeAPI{}
	s, _ := newTestSender(api)
	s.Send(7, "  \n ", nil)
	if api.calls != 0 {
		t.Fatalf("expected no sends for empty text, got %d", api.calls)
	}
}
