package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/bowerhall/visage/internal/logger"
	"github.com/bowerhall/visage/internal/prompt"
	"github.com/bowerhall/visage/internal/session"
)

// Keyboard display order. The prompt catalogs are maps, so the menus
// fix their own ordering here.
var styleOrder = []prompt.Style{
	prompt.StyleRealistic, prompt.StyleCinematic, prompt.StyleFantasy,
	prompt.StyleCyberpunk, prompt.StyleVintage, prompt.StyleAnime,
}

var locationOrder = []prompt.Location{
	prompt.LocationStudio, prompt.LocationCity, prompt.LocationBeach,
	prompt.LocationForest, prompt.LocationMountains, prompt.LocationCafe,
}

var clothingOrder = []prompt.Clothing{
	prompt.ClothingCasual, prompt.ClothingBusiness, prompt.ClothingEvening,
	prompt.ClothingSport, prompt.ClothingLeather,
}

// handleCallback dispatches one inline-keyboard press. Stale presses
// from old menus fail their state guard and get a short toast instead
// of corrupting the wizard.
func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}

	userID := cb.Message.Chat.ID
	b.registry.Touch(userID)

	action, arg, _ := strings.Cut(cb.Data, ":")

	var err error
	switch action {
	case "gender":
		err = b.onGender(userID, arg)
	case "style":
		err = b.onStyle(userID, arg)
	case "loc":
		err = b.onLocation(userID, arg)
	case "cloth":
		err = b.onClothing(userID, arg)
	case "cat":
		err = b.onCategoryToggle(userID, arg, cb.Message.Chat.ID, cb.Message.MessageID)
	case "cats_done":
		err = b.onCategoriesDone(userID)
	case "pick":
		err = b.onChoice(userID, arg)
	case "edit":
		err = b.onEdit(userID, arg)
	case "go":
		b.startGeneration(userID)
	default:
		logger.Warn("unknown callback", "user", userID, "data", cb.Data)
	}

	answer := tgbotapi.NewCallback(cb.ID, "")
	if errors.Is(err, session.ErrWrongPromptState) {
		answer.Text = "Use the latest menu"
	} else if err != nil {
		logger.Warn("callback failed", "user", userID, "data", cb.Data, "error", err)
	}
	if _, err := b.api.Request(answer); err != nil {
		logger.Debug("callback answer failed", "error", err)
	}
}

func (b *Bot) onGender(userID int64, arg string) error {
	var g prompt.Gender
	switch arg {
	case "female":
		g = prompt.GenderFemale
	case "male":
		g = prompt.GenderMale
	default:
		g = prompt.GenderUnspecified
	}

	if err := b.registry.StartWizard(userID, g); err != nil {
		return err
	}

	b.askStyle(userID)
	return nil
}

func (b *Bot) onStyle(userID int64, arg string) error {
	style := prompt.Style(arg)
	if _, ok := prompt.Styles[style]; !ok {
		return fmt.Errorf("unknown style %q", arg)
	}

	if err := b.registry.SelectStyle(userID, style); err != nil {
		return err
	}

	b.askLocation(userID)
	return nil
}

func (b *Bot) onLocation(userID int64, arg string) error {
	loc := prompt.Location(arg)
	if _, ok := prompt.Locations[loc]; !ok {
		return fmt.Errorf("unknown location %q", arg)
	}

	if err := b.registry.SelectLocation(userID, loc); err != nil {
		return err
	}

	// an edit loops straight back to the summary
	if b.registry.Snapshot(userID).Prompt == session.PromptReady {
		b.showSummary(userID)
	} else {
		b.askClothing(userID)
	}
	return nil
}

func (b *Bot) onClothing(userID int64, arg string) error {
	clothing := prompt.Clothing(arg)
	if _, ok := prompt.Clothes[clothing]; !ok {
		return fmt.Errorf("unknown clothing %q", arg)
	}

	if err := b.registry.SelectClothing(userID, clothing); err != nil {
		return err
	}

	if b.registry.Snapshot(userID).Prompt == session.PromptReady {
		b.showSummary(userID)
		return nil
	}

	if err := b.registry.OfferCategories(userID); err != nil {
		return err
	}
	b.askCategories(userID)
	return nil
}

func (b *Bot) onCategoryToggle(userID int64, arg string, chatID int64, messageID int) error {
	c, ok := prompt.ParseCategory(arg)
	if !ok {
		return fmt.Errorf("unknown category %q", arg)
	}

	if _, err := b.registry.ToggleCategory(userID, c); err != nil {
		return err
	}

	// refresh the checkmarks in place
	markup := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, b.categoriesKeyboard(userID))
	if _, err := b.api.Request(markup); err != nil {
		logger.Debug("keyboard refresh failed", "error", err)
	}
	return nil
}

func (b *Bot) onCategoriesDone(userID int64) error {
	pending, err := b.registry.ConfirmCategories(userID)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		b.showSummary(userID)
	} else {
		b.askChoice(userID, pending[0])
	}
	return nil
}

func (b *Bot) onChoice(userID int64, arg string) error {
	catName, choiceName, ok := strings.Cut(arg, ":")
	if !ok {
		return fmt.Errorf("malformed choice %q", arg)
	}

	c, found := prompt.ParseCategory(catName)
	if !found {
		return fmt.Errorf("unknown category %q", catName)
	}
	choice := prompt.Choice(choiceName)
	if _, found := prompt.Choices[c][choice]; !found {
		return fmt.Errorf("unknown choice %q for %s", choiceName, c)
	}

	pending, err := b.registry.SelectChoice(userID, c, choice)
	if err != nil {
		return err
	}

	if len(pending) == 0 {
		b.showSummary(userID)
	} else {
		b.askChoice(userID, pending[0])
	}
	return nil
}

func (b *Bot) onEdit(userID int64, arg string) error {
	switch arg {
	case "location":
		if err := b.registry.EditLocation(userID); err != nil {
			return err
		}
		b.askLocation(userID)
	case "clothing":
		if err := b.registry.EditClothing(userID); err != nil {
			return err
		}
		b.askClothing(userID)
	case "details":
		if err := b.registry.EditDetails(userID); err != nil {
			return err
		}
		b.reply(userID, "Describe extra details in your own words, any language.")
	default:
		return fmt.Errorf("unknown edit target %q", arg)
	}
	return nil
}

func (b *Bot) askGender(userID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Woman", "gender:female"),
			tgbotapi.NewInlineKeyboardButtonData("Man", "gender:male"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Skip", "gender:skip"),
		),
	)
	b.sendKeyboard(userID, "Who should be in the picture?", kb)
}

func (b *Bot) askStyle(userID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range chunk(styleOrder, 2) {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, s := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(prompt.Styles[s].Label, "style:"+string(s)))
		}
		rows = append(rows, buttons)
	}
	b.sendKeyboard(userID, "Pick a style:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) askLocation(userID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range chunk(locationOrder, 2) {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, l := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(prompt.Locations[l].Label, "loc:"+string(l)))
		}
		rows = append(rows, buttons)
	}
	b.sendKeyboard(userID, "Where?", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) askClothing(userID int64) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range chunk(clothingOrder, 2) {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, c := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(prompt.Clothes[c].Label, "cloth:"+string(c)))
		}
		rows = append(rows, buttons)
	}
	b.sendKeyboard(userID, "What to wear?", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) askCategories(userID int64) {
	b.sendKeyboard(userID, "Fine-tune anything? Toggle what you want to control:", b.categoriesKeyboard(userID))
}

func (b *Bot) categoriesKeyboard(userID int64) tgbotapi.InlineKeyboardMarkup {
	s := b.registry.Snapshot(userID)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, row := range chunk(prompt.AllCategories(), 2) {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, c := range row {
			label := c.Label()
			if s.Selection.Categories[c] {
				label = "✅ " + label
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, "cat:"+c.String()))
		}
		rows = append(rows, buttons)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Done", "cats_done"),
	))

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) askChoice(userID int64, c prompt.Category) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, key := range prompt.ChoiceKeys(c) {
		f := prompt.Choices[c][key]
		data := fmt.Sprintf("pick:%s:%s", c, key)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(f.Label, data),
		))
	}
	b.sendKeyboard(userID, c.Label()+":", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) showSummary(userID int64) {
	s := b.registry.Snapshot(userID)
	sel := s.Selection

	var bld strings.Builder
	bld.WriteString("Your picture:\n")
	if f, ok := prompt.Styles[sel.Style]; ok {
		fmt.Fprintf(&bld, "Style: %s\n", f.Label)
	}
	if f, ok := prompt.Locations[sel.Location]; ok {
		fmt.Fprintf(&bld, "Location: %s\n", f.Label)
	}
	if f, ok := prompt.Clothes[sel.Clothing]; ok {
		fmt.Fprintf(&bld, "Clothing: %s\n", f.Label)
	}
	for _, c := range prompt.AllCategories() {
		if !sel.Categories[c] {
			continue
		}
		if f, ok := prompt.Choices[c][sel.Choices[c]]; ok {
			fmt.Fprintf(&bld, "%s: %s\n", c.Label(), f.Label)
		}
	}
	if sel.Details != "" {
		fmt.Fprintf(&bld, "Details: %s\n", sel.Details)
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎨 Generate", "go:"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Edit location", "edit:location"),
			tgbotapi.NewInlineKeyboardButtonData("Edit clothing", "edit:clothing"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Add details", "edit:details"),
		),
	)

	b.sendKeyboard(userID, bld.String(), kb)
}

func (b *Bot) sendKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = kb
	if _, err := b.api.Send(msg); err != nil {
		logger.Error("send keyboard failed", "chat", chatID, "error", err)
	}
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for size > 0 && len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
