package service

import (
	"context"
	"fmt"
	"time"

	"lodge-service/internal/models"
	"lodge-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func validateStay(checkIn, checkOut time.Time) (time.Time, time.Time, error) {
	in, out := DateOnly(checkIn), DateOnly(checkOut)
	if !in.Before(out) {
		return in, out, validationErr("check_out", "must be after check_in")
	}
	return in, out, nil
}

// peakOccupancy: максимальное число занятых единиц каждого типа за любую ночь в [from, to).
// Интервалы полуоткрытые: выезд в день D не пересекается с заездом в день D.
func peakOccupancy(stays []repository.HoldingStay, from, to time.Time) map[uuid.UUID]int {
	peak := make(map[uuid.UUID]int)
	byType := make(map[uuid.UUID][]repository.HoldingStay)
	for _, st := range stays {
		byType[st.RoomTypeID] = append(byType[st.RoomTypeID], st)
	}
	for typeID, list := range byType {
		max := 0
		for night := from; night.Before(to); night = night.AddDate(0, 0, 1) {
			held := 0
			for _, st := range list {
				if !DateOnly(st.CheckIn).After(night) && night.Before(DateOnly(st.CheckOut)) {
					held += int(st.Units)
				}
			}
			if held > max {
				max = held
			}
		}
		peak[typeID] = max
	}
	return peak
}

// availableUnits считает свободные единицы по типам номеров для интервала.
// Внутри транзакции бронирования вызывается после блокировки строк room_types.
func availableUnits(ctx context.Context, repo *repository.Repository, tenantID uuid.UUID, types []models.RoomType, from, to time.Time, exclude *uuid.UUID) (map[uuid.UUID]int, error) {
	ids := make([]uuid.UUID, 0, len(types))
	for _, rt := range types {
		ids = append(ids, rt.ID)
	}
	out := make(map[uuid.UUID]int, len(types))
	if len(ids) == 0 {
		return out, nil
	}
	stays, err := repo.Reservations.ListHoldingStays(ctx, repository.HoldingFilter{
		TenantID:    tenantID,
		RoomTypeIDs: ids,
		From:        from,
		To:          to,
		ExcludeID:   exclude,
	})
	if err != nil {
		return nil, err
	}
	peak := peakOccupancy(stays, from, to)
	for _, rt := range types {
		out[rt.ID] = int(rt.TotalUnits) - peak[rt.ID]
	}
	return out, nil
}

func (s *bookingService) SearchAvailability(ctx context.Context, tenantID uuid.UUID, checkIn, checkOut time.Time, guests int) ([]AvailabilityResult, error) {
	in, out, err := validateStay(checkIn, checkOut)
	if err != nil {
		return nil, err
	}
	if guests < 1 {
		return nil, validationErr("guests", "must be at least 1")
	}
	if _, err := s.activeTenant(ctx, s.repo, tenantID); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:%s:%d", in.Format(time.DateOnly), out.Format(time.DateOnly), guests)
	version, verErr := s.cache.Version(ctx, tenantID)
	if verErr != nil {
		s.log.Warn("availability cache version read failed", zap.Error(verErr))
	} else if cached, ok, err := s.cache.Get(ctx, tenantID, version, key); err != nil {
		s.log.Warn("availability cache read failed", zap.Error(err))
	} else if ok {
		return cached, nil
	}

	all, err := s.repo.RoomTypes.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	types := make([]models.RoomType, 0, len(all))
	for _, rt := range all {
		if int(rt.MaxOccupancy) >= guests {
			types = append(types, rt)
		}
	}

	free, err := availableUnits(ctx, s.repo, tenantID, types, in, out, nil)
	if err != nil {
		return nil, err
	}

	results := make([]AvailabilityResult, 0, len(types))
	for _, rt := range types {
		n := free[rt.ID]
		if n <= 0 {
			continue
		}
		price, err := s.pricing.EffectivePrice(ctx, rt, in, out)
		if err != nil {
			return nil, err
		}
		results = append(results, AvailabilityResult{
			RoomTypeID:          rt.ID,
			Name:                rt.Name,
			MaxOccupancy:        rt.MaxOccupancy,
			AvailableCount:      n,
			EffectivePriceCents: price,
		})
	}

	if verErr == nil {
		if err := s.cache.Put(ctx, tenantID, version, key, results); err != nil {
			s.log.Warn("availability cache write failed", zap.Error(err))
		}
	}
	return results, nil
}
