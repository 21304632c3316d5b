package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/apimachinery/pkg/types"

	"github.com/helmcloud/release-watch/internal/podstatus"
)

const DefaultMemorySize = 1024

// Memory is the in-process status store. The least recently observed pods
// are evicted once size is reached.
type Memory struct {
	cache *lru.Cache[types.NamespacedName, podstatus.FlatStatus]
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}

	cache, err := lru.New[types.NamespacedName, podstatus.FlatStatus](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create status cache: %w", err)
	}

	return &Memory{cache: cache}, nil
}

func (m *Memory) LastStatus(_ context.Context, pod types.NamespacedName) (podstatus.FlatStatus, bool, error) {
	status, ok := m.cache.Get(pod)
	return status, ok, nil
}

func (m *Memory) RecordStatus(_ context.Context, pod types.NamespacedName, status podstatus.FlatStatus) error {
	m.cache.Add(pod, status)
	return nil
}

func (m *Memory) Close() error {
	m.cache.Purge()
	return nil
}
