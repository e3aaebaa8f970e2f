package repositories

import (
	"field-route-planner/internal/domain"
	"strconv"
)

// Keys of the settings table.
const (
	SettingMaxRadiusMiles          = "max_radius_miles"
	SettingMaxStopsPerVehicle      = "max_stops_per_vehicle"
	SettingMaxDailyMinutes         = "max_daily_minutes"
	SettingAvgTravelSpeedKmph      = "avg_travel_speed_kmph"
	SettingTrafficBufferMultiplier = "traffic_buffer_multiplier"
	SettingDayStartTime            = "day_start_time"
)

func floatSetting(kv map[string]string, key string, fallback float64) float64 {
	v, ok := kv[key]
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func paramsFromSettings(kv map[string]string) domain.PlanningParams {
	def := domain.DefaultPlanningParams()

	p := domain.PlanningParams{
		MaxDailyMinutes:         floatSetting(kv, SettingMaxDailyMinutes, def.MaxDailyMinutes),
		AvgTravelSpeedKmph:      floatSetting(kv, SettingAvgTravelSpeedKmph, def.AvgTravelSpeedKmph),
		TrafficBufferMultiplier: floatSetting(kv, SettingTrafficBufferMultiplier, def.TrafficBufferMultiplier),
		DayStartTime:            def.DayStartTime,
	}
	if v, ok := kv[SettingDayStartTime]; ok {
		if norm, err := domain.NormalizeClock(v); err == nil {
			p.DayStartTime = norm
		}
	}

	return p
}
