package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/starford/relister/internal/models"
)

type fakeSender struct {
	sent   []tgbotapi.Chattable
	failTo map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var chat int64
	switch m := c.(type) {
	case tgbotapi.PhotoConfig:
		chat = m.ChatID
	case tgbotapi.MessageConfig:
		chat = m.ChatID
	}
	if f.failTo[chat] {
		return tgbotapi.Message{}, errors.New("Forbidden: bot was blocked by the user")
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSendPhotoVariants(t *testing.T) {
	ctx := context.Background()
	f := &fakeSender{}
	n := NewTelegram(f)

	if err := n.SendPhoto(ctx, 1, models.Photo{Bytes: []byte{0x89, 'P', 'N', 'G'}}, "cap"); err != nil {
		t.Fatal(err)
	}
	if err := n.SendPhoto(ctx, 1, models.Photo{URL: "https://cdn.example/a.png"}, "cap"); err != nil {
		t.Fatal(err)
	}
	if err := n.SendPhoto(ctx, 1, models.Photo{}, "only text"); err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 3 {
		t.Fatalf("sent = %d", len(f.sent))
	}

	p0, ok := f.sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("first message is %T", f.sent[0])
	}
	if _, ok := p0.File.(tgbotapi.FileBytes); !ok {
		t.Errorf("bytes photo should upload FileBytes, got %T", p0.File)
	}
	if p0.ParseMode != tgbotapi.ModeHTML || p0.Caption != "cap" {
		t.Errorf("photo config = %+v", p0)
	}
	p1 := f.sent[1].(tgbotapi.PhotoConfig)
	if u, ok := p1.File.(tgbotapi.FileURL); !ok || string(u) != "https://cdn.example/a.png" {
		t.Errorf("url photo file = %#v", p1.File)
	}
	if m, ok := f.sent[2].(tgbotapi.MessageConfig); !ok || m.Text != "only text" {
		t.Errorf("empty photo should fall back to text, got %#v", f.sent[2])
	}
}

func TestFanoutToleratesFailures(t *testing.T) {
	f := &fakeSender{failTo: map[int64]bool{2: true}}
	n := NewTelegram(f)
	sent := Fanout(context.Background(), n, []int64{1, 2, 3}, models.Photo{URL: "https://x/y.png"}, "c", discard())
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	if len(f.sent) != 2 {
		t.Errorf("delivered = %d, want 2 (recipient 3 still served)", len(f.sent))
	}
}

func TestBroadcast(t *testing.T) {
	f := &fakeSender{failTo: map[int64]bool{1: true}}
	sent := Broadcast(context.Background(), NewTelegram(f), []int64{1, 2}, "pass failing", discard())
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
}

func TestSendRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakeSender{}
	if err := NewTelegram(f).SendText(ctx, 1, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if len(f.sent) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestCaptionEscapes(t *testing.T) {
	c := Caption("Republished", "Sword <+5> & Shield", "https://m.example/products/a?b=1&c=2")
	if !strings.Contains(c, "Sword &lt;+5&gt; &amp; Shield") {
		t.Errorf("title not escaped: %q", c)
	}
	if !strings.Contains(c, `href="https://m.example/products/a?b=1&amp;c=2"`) {
		t.Errorf("link not escaped: %q", c)
	}
}
