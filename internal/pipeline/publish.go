package pipeline

import (
	"context"
	"fmt"

	"MarketPulse/internal/domain/models"
	drepo "MarketPulse/internal/domain/repository"
)

// PublishStage forwards events to the outbound event bus.
type PublishStage struct {
	pub drepo.EventPublisher
}

func NewPublishStage(pub drepo.EventPublisher) *PublishStage {
	return &PublishStage{pub: pub}
}

func (s *PublishStage) Name() string { return "publish" }

func (s *PublishStage) Handle(ctx context.Context, ev *models.MarketEvent) error {
	if err := s.pub.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Symbol, err)
	}
	return nil
}
