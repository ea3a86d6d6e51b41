package telegram

import (
	"fmt"
	"log/slog"
	"strings"
)

// slogBotLogger routes tgbotapi's internal logging (update loop retries, debug dumps) through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (s *slogBotLogger) Println(v ...any) {
	s.log.Warn(strings.TrimSpace(fmt.Sprintln(v...)), slog.String("source", "tgbotapi"))
}

func (s *slogBotLogger) Printf(format string, v ...any) {
	s.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("source", "tgbotapi"))
}
