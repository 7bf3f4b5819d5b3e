package telegram

import (
	"slices"
	"strings"
)

// handleLanguage switches the reply language of a chat. An unknown code
// answers with the available ones.
func (s *BotService) handleLanguage(chatID int64, arg string) string {
	langs := s.Localizer.Languages()
	code := strings.ToLower(strings.TrimSpace(arg))
	if !slices.Contains(langs, code) {
		return s.Localizer.GetStringf(s.language(chatID), "language_usage", strings.Join(langs, "|"))
	}

	s.mu.Lock()
	s.languages[chatID] = code
	s.mu.Unlock()
	return s.Localizer.GetString(code, "language_changed")
}
