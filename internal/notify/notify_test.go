package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/signal-scanner/internal/signals"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Notify(ctx context.Context, c signals.Candidate) error {
	args := m.Called(ctx, c)
	return args.Error(0) //nolint:wrapcheck
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	c := signals.Candidate{Type: signals.DetectionHire, Company: "Acme", PersonName: "Jane Doe", Position: "CTO"}
	ev := NewEvent(c)
	require.Equal(t, signals.DetectionHire, ev.Type)
	require.Equal(t, "hire|jane doe|acme|cto", ev.DedupKey)
	require.Equal(t, "Jane Doe joined Acme as CTO", ev.Summary)
}

func TestMultiDeliversToAllSinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := signals.Candidate{Type: signals.DetectionJob, Company: "Acme", Title: "Engineer"}
	first := &mockSink{}
	first.On("Notify", ctx, c).Return(errors.New("webhook down")).Once()
	second := &mockSink{}
	second.On("Notify", ctx, c).Return(nil).Once()

	err := Multi{first, second}.Notify(ctx, c)
	require.EqualError(t, err, "webhook down")
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}

func TestMultiEmpty(t *testing.T) {
	t.Parallel()

	require.NoError(t, Multi(nil).Notify(context.Background(), signals.Candidate{}))
}
