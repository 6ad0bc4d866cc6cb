package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nearcast/internal/core/domain"
)

func TestStaticCandidates(t *testing.T) {
	peers := []domain.CandidatePeer{
		{Name: "den", Host: "192.168.1.10", ControlPort: 7460},
		{Name: "office", Host: "192.168.1.11", ControlPort: 7460},
	}
	s := NewStatic(peers)

	got, err := s.Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, peers, got)

	// The returned slice is a copy; mutating it does not leak back.
	got[0].Host = "10.0.0.1"
	again, err := s.Candidates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10", again[0].Host)
}

func TestStaticEmpty(t *testing.T) {
	s := NewStatic(nil)

	got, err := s.Candidates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
