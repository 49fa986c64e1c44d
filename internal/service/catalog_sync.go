package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/servicemarket/internal/model"
)

// StartCatalogSync запускает фоновую синхронизацию каталога услуг с внешней системой.
// Первая синхронизация выполняется сразу, далее раз в interval.
func (s *Service) StartCatalogSync(ctx context.Context, interval time.Duration) {
	if s.catalog == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := s.syncCatalog(ctx); err != nil {
				s.logger.Warn("catalog sync failed", zap.Error(err))
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// syncCatalog загружает каталог и сохраняет корректные позиции. Отсутствующие в ответе услуги не удаляются.
func (s *Service) syncCatalog(ctx context.Context) error {
	items, err := s.catalog.FetchServices(ctx)
	if err != nil {
		return err
	}

	services := make([]model.Service, 0, len(items))
	for _, it := range items {
		if it.ID <= 0 || it.Name == "" || it.Price < 0 {
			s.logger.Debug("skip catalog item", zap.Int64("id", it.ID), zap.String("name", it.Name))
			continue
		}
		services = append(services, model.Service{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Price:       it.Price,
		})
	}
	if len(services) == 0 {
		return nil
	}

	if err := s.repo.UpsertServices(ctx, services); err != nil {
		return fmt.Errorf("upsert services: %w", err)
	}
	s.logger.Info("catalog synced", zap.Int("services", len(services)))
	return nil
}
