package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// WatermarkStore implements domain.WatermarkStore.
type WatermarkStore struct {
	mu   sync.RWMutex
	data map[string]domain.Watermark
}

func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{data: make(map[string]domain.Watermark)}
}

func (s *WatermarkStore) Get(_ context.Context, address string) (domain.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wm, ok := s.data[address]
	if !ok {
		return domain.Watermark{}, fmt.Errorf("memory: watermark %s: %w", address, domain.ErrNotFound)
	}
	return wm, nil
}

func (s *WatermarkStore) Set(_ context.Context, wm domain.Watermark) error {
	if wm.UpdatedAt.IsZero() {
		wm.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.data[wm.Address] = wm
	s.mu.Unlock()
	return nil
}

func (s *WatermarkStore) List(_ context.Context) ([]domain.Watermark, error) {
	s.mu.RLock()
	out := make([]domain.Watermark, 0, len(s.data))
	for _, wm := range s.data {
		out = append(out, wm)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

var _ domain.WatermarkStore = (*WatermarkStore)(nil)
