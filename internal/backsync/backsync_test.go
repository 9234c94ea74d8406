package backsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/maniltns/AEGIS/internal/rag"
	"github.com/maniltns/AEGIS/internal/servicenow"
)

func TestNextRun(t *testing.T) {
	// 2025-01-05 is a Sunday
	cases := map[string]struct {
		now  time.Time
		want time.Time
	}{
		"midweek": {
			now:  time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 5, 2, 0, 0, 0, time.UTC),
		},
		"sunday before boundary": {
			now:  time.Date(2025, 1, 5, 1, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 5, 2, 0, 0, 0, time.UTC),
		},
		"exactly at boundary": {
			now:  time.Date(2025, 1, 5, 2, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 12, 2, 0, 0, 0, time.UTC),
		},
		"sunday after boundary": {
			now:  time.Date(2025, 1, 5, 3, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 12, 2, 0, 0, 0, time.UTC),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got := NextRun(tc.now)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, time.Sunday, got.Weekday())
			assert.True(t, got.After(tc.now))
		})
	}
}

func TestRunSkipsWhenUnconfigured(t *testing.T) {
	s := New(servicenow.NewClient("", "", ""), rag.NewClient("http://127.0.0.1:1"), nil)
	assert.NoError(t, s.Run(context.Background()))
}
