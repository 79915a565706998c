package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifybell/internal/api"
	"github.com/nhle/notifybell/internal/model"
)

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Snapshot(ctx context.Context, token string, limit int) (*api.SnapshotResponse, error) {
	args := m.Called(ctx, token, limit)
	if r, _ := args.Get(0).(*api.SnapshotResponse); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestLoadReturnsSnapshot(t *testing.T) {
	f := &mockFetcher{}
	f.On("Snapshot", mock.Anything, "tok", 20).Return(&api.SnapshotResponse{
		Success:       true,
		Notifications: []model.Notification{{ID: "n1"}},
		UnreadCount:   1,
	}, nil)

	got, err := NewLoader(f, 0, zerolog.Nop()).Load(context.Background(), "tok")
	require.NoError(t, err)

	assert.Len(t, got.Notifications, 1)
	assert.Equal(t, 1, got.UnreadCount)
	f.AssertExpectations(t)
}

func TestLoadFailureYieldsEmptySnapshot(t *testing.T) {
	f := &mockFetcher{}
	f.On("Snapshot", mock.Anything, "tok", 5).Return(nil, errors.New("connection refused"))

	got, err := NewLoader(f, 5, zerolog.Nop()).Load(context.Background(), "tok")
	require.NoError(t, err)
	assert.Empty(t, got.Notifications)
	assert.Zero(t, got.UnreadCount)
}

func TestLoadSurfacesAuthRejection(t *testing.T) {
	f := &mockFetcher{}
	f.On("Snapshot", mock.Anything, "old", 20).Return(nil, &api.AuthError{Path: api.PathNotifications})

	got, err := NewLoader(f, 20, zerolog.Nop()).Load(context.Background(), "old")
	assert.True(t, api.IsAuthError(err))
	assert.Empty(t, got.Notifications)
}

func TestLoadClampsNegativeCount(t *testing.T) {
	f := &mockFetcher{}
	f.On("Snapshot", mock.Anything, "tok", 20).Return(&api.SnapshotResponse{Success: true, UnreadCount: -4}, nil)

	got, err := NewLoader(f, 20, zerolog.Nop()).Load(context.Background(), "tok")
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
}
