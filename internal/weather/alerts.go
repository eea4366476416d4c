package weather

import (
	"fmt"
	"math"
	"time"

	"github.com/meteo-pwa/meteo-hub/internal/config"
)

// 预报接口返回的本地时间格式，不带时区。
const hourlyLayout = "2006-01-02T15:04"

// AlertKind 区分降水与高温提醒。
type AlertKind string

const (
	AlertRain AlertKind = "rain"
	AlertHeat AlertKind = "heat"
)

// Rules 是提醒规则。
type Rules struct {
	RainCodes     []int
	TempThreshold float64
	// Horizon 是向后查看的小时数。
	Horizon int
}

func RulesFromConfig(cfg config.WeatherConfig) Rules {
	return Rules{
		RainCodes:     append([]int(nil), cfg.RainCodes...),
		TempThreshold: cfg.TempThreshold,
		Horizon:       cfg.AlertHorizon,
	}
}

// Alert 是一条待发送的提醒。
type Alert struct {
	Kind        AlertKind `json:"kind"`
	InHours     int       `json:"in_hours"`
	Temperature float64   `json:"temperature"`
	Message     string    `json:"message"`
}

// CurrentHourlyIndex 返回当前小时在 hourly 中的下标：
// 先精确匹配 currentTime，再找第一个不早于 now 的时段，都没有时取最后一个；没有数据返回 -1。
func CurrentHourlyIndex(hourly Hourly, currentTime string, now time.Time, loc *time.Location) int {
	if len(hourly.Time) == 0 {
		return -1
	}
	if currentTime != "" {
		for i, t := range hourly.Time {
			if t == currentTime {
				return i
			}
		}
	}
	if loc == nil {
		loc = time.Local
	}
	for i, raw := range hourly.Time {
		ts, err := time.ParseInLocation(hourlyLayout, raw, loc)
		if err != nil {
			continue
		}
		if !ts.Before(now) {
			return i
		}
	}
	return len(hourly.Time) - 1
}

// CheckAlert 查看当前小时之后 Horizon 个时段，第一个命中的时段决定提醒；同一时段降水优先。
func CheckAlert(report Report, rules Rules, now time.Time) (Alert, bool) {
	forecast := report.Forecast
	base := CurrentHourlyIndex(forecast.Hourly, forecast.CurrentWeather.Time, now, forecast.Location())
	if base < 0 {
		return Alert{}, false
	}
	horizon := rules.Horizon
	if horizon <= 0 {
		horizon = 4
	}

	rain := make(map[int]struct{}, len(rules.RainCodes))
	for _, code := range rules.RainCodes {
		rain[code] = struct{}{}
	}

	hourly := forecast.Hourly
	for i := 1; i <= horizon; i++ {
		idx := base + i
		if idx >= len(hourly.Time) {
			break
		}
		if idx < len(hourly.WeatherCode) {
			if _, ok := rain[hourly.WeatherCode[idx]]; ok && hourly.WeatherCode[idx] != 0 {
				return Alert{Kind: AlertRain, InHours: i, Message: rainMessage(i)}, true
			}
		}
		if idx < len(hourly.Temperature2m) {
			temp := hourly.Temperature2m[idx]
			if temp > rules.TempThreshold {
				return Alert{
					Kind:        AlertHeat,
					InHours:     i,
					Temperature: temp,
					Message:     fmt.Sprintf("🌡️ Temp > %s°C : %d°C", formatThreshold(rules.TempThreshold), Round(temp)),
				}, true
			}
		}
	}
	return Alert{}, false
}

// Upcoming 返回从当前小时开始的 n 个时段，用于展示。
func Upcoming(report Report, n int, now time.Time) []HourSlot {
	forecast := report.Forecast
	loc := forecast.Location()
	base := CurrentHourlyIndex(forecast.Hourly, forecast.CurrentWeather.Time, now, loc)
	if base < 0 {
		return nil
	}
	hourly := forecast.Hourly
	slots := make([]HourSlot, 0, n)
	for i := 0; i < n; i++ {
		idx := base + i
		if idx >= len(hourly.Time) {
			break
		}
		slot := HourSlot{Time: hourly.Time[idx]}
		if ts, err := time.ParseInLocation(hourlyLayout, hourly.Time[idx], loc); err == nil {
			slot.Hour = ts.Hour()
		}
		if idx < len(hourly.Temperature2m) {
			slot.Temperature = hourly.Temperature2m[idx]
		}
		if idx < len(hourly.WeatherCode) {
			slot.WeatherCode = hourly.WeatherCode[idx]
		}
		slot.Emoji = Emoji(slot.WeatherCode)
		slots = append(slots, slot)
	}
	return slots
}

// Round 按四舍五入（.5 向上）取整。
func Round(v float64) int {
	return int(math.Floor(v + 0.5))
}

func rainMessage(hours int) string {
	suffix := ""
	if hours > 1 {
		suffix = "s"
	}
	return fmt.Sprintf("🌧️ Pluie dans %d heure%s", hours, suffix)
}

func formatThreshold(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int(v))
	}
	return fmt.Sprintf("%g", v)
}
