package panel

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Action is the callback payload carried by an inline button.
type Action string

const (
	ActionPanel           Action = "panel"
	ActionAuth            Action = "auth"
	ActionAuthUpdate      Action = "auth_update"
	ActionKeywords        Action = "keywords"
	ActionAddKeywords     Action = "keywords_add"
	ActionDeleteKeywords  Action = "keywords_delete"
	ActionAutolift        Action = "autolift"
	ActionAddAutolift     Action = "autolift_add"
	ActionDeleteAutolift  Action = "autolift_delete"
	ActionEnableReupload  Action = "reupload_enable"
	ActionDisableReupload Action = "reupload_disable"
	ActionEnableAutolift  Action = "autolift_enable"
	ActionDisableAutolift Action = "autolift_disable"
)

// Prefixes of per-row delete actions; the suffix is the primary key.
const (
	prefixDeleteKeyword  = "kw_del:"
	prefixDeleteAutolift = "al_del:"
)

// Button identifies a static panel button.
type Button int

const (
	BtnAuth Button = iota
	BtnKeywords
	BtnAutolift
	BtnEnableReupload
	BtnDisableReupload
	BtnEnableAutolift
	BtnDisableAutolift
	BtnConfirmUpdate
	BtnDeclineUpdate
	BtnAddKeywords
	BtnDeleteKeywords
	BtnAddAutolift
	BtnDeleteAutolift
	BtnBackToPanel
	BtnBackToKeywords
	BtnBackToAutolift
)

type buttonSpec struct {
	label  string
	action Action
}

var buttons = map[Button]buttonSpec{
	BtnAuth:            {"🔐 Authorization 🔐", ActionAuth},
	BtnKeywords:        {"✏️ Reupload keywords ✏️", ActionKeywords},
	BtnAutolift:        {"📈 Autolift keywords 📈", ActionAutolift},
	BtnEnableReupload:  {"▶️ Enable reupload ▶️", ActionEnableReupload},
	BtnDisableReupload: {"⛔ Disable reupload ⛔", ActionDisableReupload},
	BtnEnableAutolift:  {"▶️ Enable autolift ▶️", ActionEnableAutolift},
	BtnDisableAutolift: {"⛔ Disable autolift ⛔", ActionDisableAutolift},
	BtnConfirmUpdate:   {"✅ Yes", ActionAuthUpdate},
	BtnDeclineUpdate:   {"❌ No", ActionPanel},
	BtnAddKeywords:     {"➕ Add keywords", ActionAddKeywords},
	BtnDeleteKeywords:  {"➖ Delete keywords", ActionDeleteKeywords},
	BtnAddAutolift:     {"➕ Add autolift keywords", ActionAddAutolift},
	BtnDeleteAutolift:  {"➖ Delete autolift keywords", ActionDeleteAutolift},
	BtnBackToPanel:     {"⬅️ Back", ActionPanel},
	BtnBackToKeywords:  {"⬅️ Back", ActionKeywords},
	BtnBackToAutolift:  {"⬅️ Back", ActionAutolift},
}

// Label returns the text shown on b.
func (b Button) Label() string { return buttons[b].label }

// Action returns the callback payload of b.
func (b Button) Action() Action { return buttons[b].action }

func (b Button) inline() tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(b.Label(), string(b.Action()))
}

// column lays buttons out one per row.
func column(btns ...tgbotapi.InlineKeyboardButton) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(btns))
	for _, b := range btns {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(b))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func deleteButton(prefix, label string, pk int64) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s%d", prefix, pk))
}

// parseDelete extracts the primary key from a per-row delete payload.
func parseDelete(data, prefix string) (int64, bool) {
	rest, ok := strings.CutPrefix(data, prefix)
	if !ok {
		return 0, false
	}
	pk, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || pk <= 0 {
		return 0, false
	}
	return pk, true
}
