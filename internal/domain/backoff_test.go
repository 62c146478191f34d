package domain_test

import (
	"testing"
	"time"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBackoff(t *testing.T) {
	base := 2 * time.Second
	max := 30 * time.Second

	tests := []struct {
		name        string
		retriesDone int
		min, max2   time.Duration
	}{
		{"first retry", 0, 2 * time.Second, 3 * time.Second},
		{"second retry", 1, 4 * time.Second, 5 * time.Second},
		{"third retry", 2, 8 * time.Second, 9 * time.Second},
		{"clamped", 10, 30 * time.Second, 31 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				got := domain.Backoff(base, max, tt.retriesDone)
				assert.GreaterOrEqual(t, got, tt.min)
				assert.LessOrEqual(t, got, tt.max2)
			}
		})
	}
}

func TestHostLockKeyStable(t *testing.T) {
	id := uuid.New()
	a := domain.HostLockKey(id)
	b := domain.HostLockKey(id)
	assert.Equal(t, a, b)
}
