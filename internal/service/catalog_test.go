package service

import (
	"context"
	"errors"
	"testing"

	"lodge-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHousekeepingTransitions(t *testing.T) {
	all := []models.RoomStatus{models.RoomAvailable, models.RoomOccupied, models.RoomReserved, models.RoomDirty, models.RoomOutOfService}
	legal := map[[2]models.RoomStatus]bool{
		{models.RoomDirty, models.RoomAvailable}:        true,
		{models.RoomDirty, models.RoomOutOfService}:     true,
		{models.RoomAvailable, models.RoomOutOfService}: true,
		{models.RoomOutOfService, models.RoomAvailable}: true,
		{models.RoomOutOfService, models.RoomDirty}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[[2]models.RoomStatus{from, to}]
			assert.Equal(t, want, CanSetRoomStatus(from, to), "%s -> %s", from, to)
		}
	}
}

// Валидация отрабатывает до обращения к базе, поэтому репозиторий не нужен.
func TestCatalogValidation(t *testing.T) {
	svc := NewCatalogService(nil, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.CreateTenant(ctx, "Bad Slug!", "", "EURO")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, verr.Fields(), "slug")
	assert.Contains(t, verr.Fields(), "name")
	assert.Contains(t, verr.Fields(), "currency")

	_, err = svc.CreateRoomType(ctx, uuid.New(), CreateRoomTypeInput{Name: " ", MaxOccupancy: 0, BasePriceCents: -1, TotalUnits: -1})
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Fields(), 4)

	assert.ErrorIs(t, svc.UpdateRoomTypePrice(ctx, uuid.New(), uuid.New(), -5), ErrValidation)
	assert.ErrorIs(t, svc.SetRoomTypeUnits(ctx, uuid.New(), uuid.New(), -1), ErrValidation)

	_, err = svc.CreateRoom(ctx, uuid.New(), uuid.New(), "  ")
	assert.ErrorIs(t, err, ErrValidation)
}
