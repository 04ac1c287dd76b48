// Package panel is the Telegram chat surface: an inline-keyboard control
// panel, the two-step login conversation and the keyword editors. Only
// configured admin chats are served.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/control"
	"github.com/starford/relister/internal/models"
	"github.com/starford/relister/internal/scheduler"
)

// Bot is the subset of *tgbotapi.BotAPI the panel calls.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Controller is the operator service behind the panel.
type Controller interface {
	RecordUser(ctx context.Context, tgID int64, username string) error
	JobEnabled(name string) bool
	AnyJobActive() bool
	EnableJob(ctx context.Context, name string) error
	DisableJob(ctx context.Context, name string) error

	SessionStored() bool
	BeginAuth() error
	UpdateAccount() error
	CancelAuth()
	RequestCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, code string) (*models.Identity, error)

	Keywords(ctx context.Context) ([]models.Keyword, error)
	AddKeywords(ctx context.Context, raw string) (control.AddResult, error)
	DeleteKeyword(ctx context.Context, pk int64) error
	AutoliftKeywords(ctx context.Context) ([]models.AutoliftKeyword, error)
	AddAutoliftKeywords(ctx context.Context, raw string) (control.AddResult, error)
	DeleteAutoliftKeyword(ctx context.Context, pk int64) error
}

// step is the conversation state of one chat.
type step int

const (
	stepIdle step = iota
	stepEmail
	stepCode
	stepKeywords
	stepAutolift
)

const (
	textPanel      = "⚙️ Control panel"
	textFailed     = "Something went wrong 😞..."
	textAskEmail   = "🔐 Enter the marketplace account email:"
	textAskCode    = "🔐 Enter the code from the email to finish authorization:"
	textAskKeyword = "🔑 Enter reupload keywords separated by commas:"
	textAskLift    = "🔑 Enter autolift keywords as keyword:position, separated by commas:"
)

// Panel routes Telegram updates.
type Panel struct {
	bot    Bot
	ctl    Controller
	admins map[int64]struct{}
	logger *slog.Logger

	mu    sync.Mutex
	steps map[int64]step
}

// New creates a Panel serving the given admin user IDs.
func New(bot Bot, ctl Controller, admins []int64, logger *slog.Logger) *Panel {
	set := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		set[id] = struct{}{}
	}
	return &Panel{
		bot:    bot,
		ctl:    ctl,
		admins: set,
		logger: logger.With(slog.String("component", "panel")),
		steps:  make(map[int64]step),
	}
}

// Run handles updates until ctx is cancelled or the channel closes.
func (p *Panel) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	p.logger.Info("panel: started", slog.Int("admins", len(p.admins)))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("panel: stopped")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			p.Handle(ctx, u)
		}
	}
}

// Handle processes a single update.
func (p *Panel) Handle(ctx context.Context, u tgbotapi.Update) {
	switch {
	case u.CallbackQuery != nil:
		if !p.isAdmin(u.CallbackQuery.From) {
			p.logger.Debug("callback from non-admin ignored", slog.Int64("user", userID(u.CallbackQuery.From)))
			return
		}
		p.onCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		if !p.isAdmin(u.Message.From) {
			p.logger.Debug("message from non-admin ignored", slog.Int64("user", userID(u.Message.From)))
			return
		}
		p.onMessage(ctx, u.Message)
	}
}

func (p *Panel) isAdmin(u *tgbotapi.User) bool {
	if u == nil {
		return false
	}
	_, ok := p.admins[u.ID]
	return ok
}

func userID(u *tgbotapi.User) int64 {
	if u == nil {
		return 0
	}
	return u.ID
}

func (p *Panel) step(chat int64) step {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.steps[chat]
}

func (p *Panel) setStep(chat int64, s step) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == stepIdle {
		delete(p.steps, chat)
		return
	}
	p.steps[chat] = s
}

// resetChat leaves any conversation, ending a login flow if one was open.
func (p *Panel) resetChat(chat int64) {
	switch p.step(chat) {
	case stepEmail, stepCode:
		p.ctl.CancelAuth()
	}
	p.setStep(chat, stepIdle)
}

func (p *Panel) onMessage(ctx context.Context, m *tgbotapi.Message) {
	chat := m.Chat.ID
	if m.IsCommand() {
		switch m.Command() {
		case "start":
			p.resetChat(chat)
			if err := p.ctl.RecordUser(ctx, m.From.ID, m.From.UserName); err != nil {
				p.logger.Error("record user failed", slog.String("error", err.Error()))
			}
			p.showPanel(chat, 0)
		case "cancel":
			p.resetChat(chat)
			p.showPanel(chat, 0)
		default:
			p.reply(chat, "Unknown command. Use /start to open the panel.")
		}
		return
	}

	text := strings.TrimSpace(m.Text)
	switch p.step(chat) {
	case stepEmail:
		p.onEmail(ctx, chat, text)
	case stepCode:
		p.onCode(ctx, chat, text)
	case stepKeywords:
		p.onKeywords(ctx, chat, text)
	case stepAutolift:
		p.onAutolift(ctx, chat, text)
	default:
		p.showPanel(chat, 0)
	}
}

func (p *Panel) onEmail(ctx context.Context, chat int64, email string) {
	if email == "" {
		p.reply(chat, "❌ Email cannot be empty.")
		return
	}
	err := p.ctl.RequestCode(ctx, email)
	switch {
	case err == nil:
		p.setStep(chat, stepCode)
		p.reply(chat, textAskCode)
	case errors.Is(err, apperr.ErrUnknownEmail):
		p.reply(chat, "❌ No marketplace account uses this email. Enter another one:")
	case errors.Is(err, apperr.ErrRateLimited):
		p.reply(chat, "❌ A code was requested too recently. Wait a minute and send the email again.")
	case errors.Is(err, apperr.ErrJobActive):
		p.resetChat(chat)
		p.reply(chat, "❌ Disable the running jobs before authorizing.")
	default:
		p.logger.Error("login code request failed", slog.String("error", err.Error()))
		p.reply(chat, "❌ Authorization failed. Try again later.")
	}
}

func (p *Panel) onCode(ctx context.Context, chat int64, code string) {
	if code == "" {
		p.reply(chat, "❌ The code cannot be empty.")
		return
	}
	id, err := p.ctl.VerifyCode(ctx, code)
	switch {
	case err == nil:
		p.setStep(chat, stepIdle)
		p.reply(chat, fmt.Sprintf("✅ Authorized as %s", id.Username))
		p.showPanel(chat, 0)
	case errors.Is(err, apperr.ErrInvalidCode):
		p.reply(chat, "❌ The code was rejected. Check it and send it again.")
	default:
		p.logger.Error("login code verification failed", slog.String("error", err.Error()))
		p.reply(chat, "❌ Authorization failed. Check the code.")
	}
}

func (p *Panel) onKeywords(ctx context.Context, chat int64, raw string) {
	res, err := p.ctl.AddKeywords(ctx, raw)
	if errors.Is(err, apperr.ErrInvalidInput) {
		p.reply(chat, "❌ Keywords cannot be empty.")
		return
	}
	if err != nil {
		p.logger.Error("add keywords failed", slog.String("error", err.Error()))
		p.reply(chat, textFailed)
		return
	}
	p.setStep(chat, stepIdle)
	p.reply(chat, addSummary(res))
	p.showPanel(chat, 0)
}

func (p *Panel) onAutolift(ctx context.Context, chat int64, raw string) {
	res, err := p.ctl.AddAutoliftKeywords(ctx, raw)
	if errors.Is(err, apperr.ErrInvalidInput) {
		p.reply(chat, "❌ "+err.Error()+"\nUse keyword:position, for example: bobr:20")
		return
	}
	if err != nil {
		p.logger.Error("add autolift keywords failed", slog.String("error", err.Error()))
		p.reply(chat, textFailed)
		return
	}
	p.setStep(chat, stepIdle)
	p.reply(chat, addSummary(res))
	p.showPanel(chat, 0)
}

func addSummary(res control.AddResult) string {
	var b strings.Builder
	if len(res.Added) > 0 {
		fmt.Fprintf(&b, "✅ Keywords added: %s", strings.Join(res.Added, ", "))
	}
	if len(res.Exists) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "ℹ️ Already present: %s", strings.Join(res.Exists, ", "))
	}
	return b.String()
}

func (p *Panel) onCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil {
		p.answer(cq, "")
		return
	}
	chat, msg := cq.Message.Chat.ID, cq.Message.MessageID

	if pk, ok := parseDelete(cq.Data, prefixDeleteKeyword); ok {
		p.answer(cq, deleteToast(p.ctl.DeleteKeyword(ctx, pk), p.logger))
		p.showDeleteKeywords(ctx, chat, msg, nil)
		return
	}
	if pk, ok := parseDelete(cq.Data, prefixDeleteAutolift); ok {
		p.answer(cq, deleteToast(p.ctl.DeleteAutoliftKeyword(ctx, pk), p.logger))
		p.showDeleteAutolift(ctx, chat, msg, nil)
		return
	}

	switch Action(cq.Data) {
	case ActionPanel:
		p.resetChat(chat)
		p.answer(cq, "")
		p.showPanel(chat, msg)

	case ActionAuth:
		if p.ctl.AnyJobActive() {
			p.answer(cq, "❌ A job is running. Disable it before authorizing.")
			return
		}
		p.answer(cq, "")
		if p.ctl.SessionStored() {
			p.edit(chat, msg, "❌ You are already authorized. Switch to another account?",
				column(BtnConfirmUpdate.inline(), BtnDeclineUpdate.inline()))
			return
		}
		if err := p.ctl.BeginAuth(); err != nil {
			p.reply(chat, "❌ "+err.Error())
			return
		}
		p.setStep(chat, stepEmail)
		p.edit(chat, msg, textAskEmail, tgbotapi.InlineKeyboardMarkup{})

	case ActionAuthUpdate:
		if err := p.ctl.UpdateAccount(); err != nil {
			if errors.Is(err, apperr.ErrJobActive) {
				p.answer(cq, "❌ A job is running. Disable it before authorizing.")
				return
			}
			p.logger.Error("update account failed", slog.String("error", err.Error()))
			p.answer(cq, textFailed)
			return
		}
		p.answer(cq, "")
		p.setStep(chat, stepEmail)
		p.edit(chat, msg, textAskEmail, tgbotapi.InlineKeyboardMarkup{})

	case ActionEnableReupload:
		p.enable(ctx, cq, scheduler.JobReupload, "🚀 Reupload started")
	case ActionEnableAutolift:
		p.enable(ctx, cq, scheduler.JobAutolift, "🚀 Autolift started")
	case ActionDisableReupload:
		p.disable(ctx, cq, scheduler.JobReupload, "Reupload disabled ❌")
	case ActionDisableAutolift:
		p.disable(ctx, cq, scheduler.JobAutolift, "Autolift disabled ❌")

	case ActionKeywords:
		p.setStep(chat, stepIdle)
		p.answer(cq, "")
		p.showKeywords(ctx, chat, msg)
	case ActionAddKeywords:
		p.answer(cq, "")
		p.setStep(chat, stepKeywords)
		p.edit(chat, msg, textAskKeyword, tgbotapi.InlineKeyboardMarkup{})
	case ActionDeleteKeywords:
		p.showDeleteKeywords(ctx, chat, msg, cq)

	case ActionAutolift:
		p.setStep(chat, stepIdle)
		p.answer(cq, "")
		p.showAutolift(ctx, chat, msg)
	case ActionAddAutolift:
		p.answer(cq, "")
		p.setStep(chat, stepAutolift)
		p.edit(chat, msg, textAskLift, tgbotapi.InlineKeyboardMarkup{})
	case ActionDeleteAutolift:
		p.showDeleteAutolift(ctx, chat, msg, cq)

	default:
		p.answer(cq, "")
		p.logger.Debug("unknown callback", slog.String("data", cq.Data))
	}
}

func deleteToast(err error, logger *slog.Logger) string {
	switch {
	case err == nil:
		return "✅ Keyword deleted"
	case errors.Is(err, apperr.ErrNotFound):
		return "❌ Keyword was already deleted"
	default:
		logger.Error("delete keyword failed", slog.String("error", err.Error()))
		return "❌ Could not delete the keyword"
	}
}

func (p *Panel) enable(ctx context.Context, cq *tgbotapi.CallbackQuery, job, started string) {
	chat, msg := cq.Message.Chat.ID, cq.Message.MessageID
	if p.ctl.JobEnabled(job) {
		p.answer(cq, "❌ Already running.")
		return
	}
	p.answer(cq, "")
	p.edit(chat, msg, "🔐 Checking authorization...", tgbotapi.InlineKeyboardMarkup{})

	err := p.ctl.EnableJob(ctx, job)
	switch {
	case err == nil:
		p.reply(chat, started)
	case errors.Is(err, apperr.ErrConflict):
		p.reply(chat, "❌ Already running.")
	case errors.Is(err, apperr.ErrNotAuthenticated):
		p.reply(chat, "❌ You are not authorized. Authorize first.")
	case errors.Is(err, apperr.ErrNoKeywords):
		p.reply(chat, "❌ There are no keywords for this job. Add some first.")
	case errors.Is(err, apperr.ErrAuthInProgress):
		p.reply(chat, "❌ Finish or cancel the authorization first (/cancel).")
	default:
		p.logger.Error("enable job failed", slog.String("job", job), slog.String("error", err.Error()))
		p.reply(chat, textFailed)
	}
	p.showPanel(chat, 0)
}

func (p *Panel) disable(ctx context.Context, cq *tgbotapi.CallbackQuery, job, done string) {
	err := p.ctl.DisableJob(ctx, job)
	switch {
	case err == nil:
		p.answer(cq, done)
	case errors.Is(err, apperr.ErrJobNotFound):
		p.answer(cq, "❌ Already disabled.")
		return
	default:
		p.logger.Error("disable job failed", slog.String("job", job), slog.String("error", err.Error()))
		p.answer(cq, textFailed)
		return
	}
	p.showPanel(cq.Message.Chat.ID, cq.Message.MessageID)
}

func (p *Panel) panelMarkup() tgbotapi.InlineKeyboardMarkup {
	reupload, autolift := BtnEnableReupload, BtnEnableAutolift
	if p.ctl.JobEnabled(scheduler.JobReupload) {
		reupload = BtnDisableReupload
	}
	if p.ctl.JobEnabled(scheduler.JobAutolift) {
		autolift = BtnDisableAutolift
	}
	return column(
		BtnAuth.inline(),
		BtnKeywords.inline(),
		BtnAutolift.inline(),
		reupload.inline(),
		autolift.inline(),
	)
}

func (p *Panel) showPanel(chat int64, msg int) {
	if msg != 0 {
		p.edit(chat, msg, textPanel, p.panelMarkup())
		return
	}
	p.send(chat, textPanel, p.panelMarkup())
}

func (p *Panel) showKeywords(ctx context.Context, chat int64, msg int) {
	kws, err := p.ctl.Keywords(ctx)
	if err != nil {
		p.logger.Error("list keywords failed", slog.String("error", err.Error()))
		p.reply(chat, textFailed)
		return
	}
	var b strings.Builder
	b.WriteString("🔑 Reupload keywords 🔑\n\n")
	for _, k := range kws {
		b.WriteString(k.Text)
		b.WriteString("\n")
	}
	p.edit(chat, msg, b.String(), column(BtnAddKeywords.inline(), BtnDeleteKeywords.inline(), BtnBackToPanel.inline()))
}

func (p *Panel) showAutolift(ctx context.Context, chat int64, msg int) {
	kws, err := p.ctl.AutoliftKeywords(ctx)
	if err != nil {
		p.logger.Error("list autolift keywords failed", slog.String("error", err.Error()))
		p.reply(chat, textFailed)
		return
	}
	var b strings.Builder
	b.WriteString("📈 Autolift keywords 📈\n\n")
	for _, k := range kws {
		fmt.Fprintf(&b, "%s: lift when below #%d\n", k.Text, k.Position)
	}
	p.edit(chat, msg, b.String(), column(BtnAddAutolift.inline(), BtnDeleteAutolift.inline(), BtnBackToPanel.inline()))
}

// showDeleteKeywords renders one delete button per keyword. cq is answered
// here when non-nil so an empty list can be reported as a toast.
func (p *Panel) showDeleteKeywords(ctx context.Context, chat int64, msg int, cq *tgbotapi.CallbackQuery) {
	kws, err := p.ctl.Keywords(ctx)
	if err != nil {
		p.logger.Error("list keywords failed", slog.String("error", err.Error()))
		if cq != nil {
			p.answer(cq, textFailed)
		}
		return
	}
	if len(kws) == 0 {
		if cq != nil {
			p.answer(cq, "❌ No keywords to delete ❌")
			return
		}
		p.showKeywords(ctx, chat, msg)
		return
	}
	if cq != nil {
		p.answer(cq, "")
	}
	btns := []tgbotapi.InlineKeyboardButton{BtnBackToKeywords.inline()}
	for _, k := range kws {
		btns = append(btns, deleteButton(prefixDeleteKeyword, k.Text, k.PK))
	}
	p.edit(chat, msg, "👇 Choose a keyword to delete 👇", column(btns...))
}

func (p *Panel) showDeleteAutolift(ctx context.Context, chat int64, msg int, cq *tgbotapi.CallbackQuery) {
	kws, err := p.ctl.AutoliftKeywords(ctx)
	if err != nil {
		p.logger.Error("list autolift keywords failed", slog.String("error", err.Error()))
		if cq != nil {
			p.answer(cq, textFailed)
		}
		return
	}
	if len(kws) == 0 {
		if cq != nil {
			p.answer(cq, "❌ No keywords to delete ❌")
			return
		}
		p.showAutolift(ctx, chat, msg)
		return
	}
	if cq != nil {
		p.answer(cq, "")
	}
	btns := []tgbotapi.InlineKeyboardButton{BtnBackToAutolift.inline()}
	for _, k := range kws {
		btns = append(btns, deleteButton(prefixDeleteAutolift, fmt.Sprintf("%s:%d", k.Text, k.Position), k.PK))
	}
	p.edit(chat, msg, "👇 Choose a keyword to delete 👇", column(btns...))
}

func (p *Panel) reply(chat int64, text string) {
	msg := tgbotapi.NewMessage(chat, text)
	if _, err := p.bot.Send(msg); err != nil {
		p.logger.Warn("send failed", slog.Int64("chat", chat), slog.String("error", err.Error()))
	}
}

func (p *Panel) send(chat int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chat, text)
	msg.ReplyMarkup = markup
	if _, err := p.bot.Send(msg); err != nil {
		p.logger.Warn("send failed", slog.Int64("chat", chat), slog.String("error", err.Error()))
	}
}

// edit replaces the message text and keyboard. An empty markup removes the keyboard.
func (p *Panel) edit(chat int64, msg int, text string, markup tgbotapi.InlineKeyboardMarkup) {
	cfg := tgbotapi.NewEditMessageText(chat, msg, text)
	if len(markup.InlineKeyboard) > 0 {
		cfg.ReplyMarkup = &markup
	}
	if _, err := p.bot.Send(cfg); err != nil {
		p.logger.Warn("edit failed", slog.Int64("chat", chat), slog.String("error", err.Error()))
	}
}

func (p *Panel) answer(cq *tgbotapi.CallbackQuery, text string) {
	if _, err := p.bot.Request(tgbotapi.NewCallback(cq.ID, text)); err != nil {
		p.logger.Debug("callback answer failed", slog.String("error", err.Error()))
	}
}
