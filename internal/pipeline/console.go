package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

const (
	FormatSimple   = "simple"
	FormatDetailed = "detailed"
	FormatJSON     = "json"
)

// ConsoleStage logs every event in a human-readable form.
type ConsoleStage struct {
	logger *applogger.Logger
	format string
}

func NewConsoleStage(logger *applogger.Logger, format string) *ConsoleStage {
	return &ConsoleStage{logger: logger, format: format}
}

func (s *ConsoleStage) Name() string { return "console" }

func (s *ConsoleStage) Handle(_ context.Context, ev *models.MarketEvent) error {
	msg, err := s.render(ev)
	if err != nil {
		return err
	}
	s.logger.Info(msg)
	return nil
}

func (s *ConsoleStage) render(ev *models.MarketEvent) (string, error) {
	switch s.format {
	case FormatDetailed:
		return ev.String(), nil
	case FormatJSON:
		b, err := json.MarshalIndent(ev, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal event: %w", err)
		}
		return "market data update:\n" + string(b), nil
	default:
		return ev.SimpleString(), nil
	}
}
