package whatsapp

import (
	"context"

	"github.com/talkincode/wamux/internal/errors"
	"github.com/talkincode/wamux/internal/webhook"
)

// ConfigureWebhook replaces the subscription of an existing instance.
func (s *Service) ConfigureWebhook(ctx context.Context, id, url string, events []string, secret string) (webhook.Subscription, error) {
	if _, err := s.registry.MustGet(id); err != nil {
		return webhook.Subscription{}, err
	}
	return s.dispatcher.Configure(ctx, id, url, events, secret)
}

func (s *Service) Webhook(id string) (webhook.Subscription, error) {
	if _, err := s.registry.MustGet(id); err != nil {
		return webhook.Subscription{}, err
	}
	sub, ok := s.dispatcher.Get(id)
	if !ok {
		return webhook.Subscription{}, errors.NewNotFound("webhook", id)
	}
	return sub, nil
}

func (s *Service) RemoveWebhook(ctx context.Context, id string) error {
	if _, err := s.registry.MustGet(id); err != nil {
		return err
	}
	if !s.dispatcher.Remove(ctx, id) {
		return errors.NewNotFound("webhook", id)
	}
	return nil
}

// TestWebhook posts a test envelope to url; it is not tied to any instance.
func (s *Service) TestWebhook(ctx context.Context, url string, data any) (webhook.TestResult, error) {
	return s.dispatcher.Test(ctx, url, data)
}
