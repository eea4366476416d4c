package weather

import (
	"testing"
	"time"
)

var hours = []string{
	"2024-05-01T12:00", "2024-05-01T13:00", "2024-05-01T14:00", "2024-05-01T15:00",
	"2024-05-01T16:00", "2024-05-01T17:00", "2024-05-01T18:00",
}

func at(clock string) time.Time {
	ts, _ := time.ParseInLocation(hourlyLayout, clock, time.UTC)
	return ts
}

func report(current string, temps []float64, codes []int) Report {
	return Report{
		Location: Location{Name: "Paris", Country: "France"},
		Forecast: Forecast{
			Timezone:       "UTC",
			CurrentWeather: CurrentWeather{Time: current},
			Hourly:         Hourly{Time: hours, Temperature2m: temps, WeatherCode: codes},
		},
	}
}

func defaultRules() Rules {
	return Rules{RainCodes: []int{51, 61, 95}, TempThreshold: 10, Horizon: 4}
}

func TestCurrentHourlyIndex(t *testing.T) {
	hourly := Hourly{Time: hours}
	cases := []struct {
		name    string
		current string
		now     time.Time
		want    int
	}{
		{"exact", "2024-05-01T14:00", at("2024-05-01T09:00"), 2},
		{"first-future-slot", "", at("2024-05-01T13:30"), 2},
		{"equal-counts-as-future", "2024-05-01T13:15", at("2024-05-01T13:00"), 1},
		{"past-all-slots", "", at("2024-05-02T00:00"), 6},
	}
	for _, tc := range cases {
		if got := CurrentHourlyIndex(hourly, tc.current, tc.now, time.UTC); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
	if got := CurrentHourlyIndex(Hourly{}, "2024-05-01T14:00", time.Now(), time.UTC); got != -1 {
		t.Fatalf("no hourly data should give -1, got %d", got)
	}
}

func TestCheckAlertRain(t *testing.T) {
	r := report("2024-05-01T12:00", []float64{5, 5, 5, 5, 5, 5, 5}, []int{0, 1, 61, 0, 0, 0, 0})
	alert, ok := CheckAlert(r, defaultRules(), at("2024-05-01T12:00"))
	if !ok || alert.Kind != AlertRain || alert.InHours != 2 {
		t.Fatalf("expected rain in 2 hours, got %+v %v", alert, ok)
	}
	if alert.Message != "🌧️ Pluie dans 2 heures" {
		t.Fatalf("unexpected message %q", alert.Message)
	}

	r = report("2024-05-01T12:00", []float64{5, 5, 5, 5, 5, 5, 5}, []int{0, 95, 0, 0, 0, 0, 0})
	alert, _ = CheckAlert(r, defaultRules(), at("2024-05-01T12:00"))
	if alert.Message != "🌧️ Pluie dans 1 heure" {
		t.Fatalf("unexpected singular message %q", alert.Message)
	}
}

func TestCheckAlertHeat(t *testing.T) {
	r := report("2024-05-01T12:00", []float64{5, 8, 12.6, 4, 4, 4, 4}, []int{0, 0, 0, 0, 0, 0, 0})
	alert, ok := CheckAlert(r, defaultRules(), at("2024-05-01T12:00"))
	if !ok || alert.Kind != AlertHeat || alert.InHours != 2 {
		t.Fatalf("expected heat alert, got %+v %v", alert, ok)
	}
	if alert.Message != "🌡️ Temp > 10°C : 13°C" {
		t.Fatalf("unexpected message %q", alert.Message)
	}
}

func TestCheckAlertFirstMatchingSlotWins(t *testing.T) {
	// 同一时段降水优先；更早的高温时段优先于更晚的降水。
	r := report("2024-05-01T12:00", []float64{5, 15, 15, 5, 5, 5, 5}, []int{0, 61, 0, 0, 0, 0, 0})
	alert, _ := CheckAlert(r, defaultRules(), at("2024-05-01T12:00"))
	if alert.Kind != AlertRain {
		t.Fatalf("rain should win within the same slot, got %s", alert.Kind)
	}

	r = report("2024-05-01T12:00", []float64{5, 15, 5, 5, 5, 5, 5}, []int{0, 0, 61, 0, 0, 0, 0})
	alert, _ = CheckAlert(r, defaultRules(), at("2024-05-01T12:00"))
	if alert.Kind != AlertHeat || alert.InHours != 1 {
		t.Fatalf("earlier heat slot should win, got %+v", alert)
	}
}

func TestCheckAlertHorizon(t *testing.T) {
	r := report("2024-05-01T12:00", []float64{5, 5, 5, 5, 5, 5, 5}, []int{0, 0, 0, 0, 0, 61, 0})
	if alert, ok := CheckAlert(r, defaultRules(), at("2024-05-01T12:00")); ok {
		t.Fatalf("rain beyond the horizon should not alert, got %+v", alert)
	}

	// 当前时段本身不参与判断。
	r = report("2024-05-01T12:00", []float64{30, 5, 5, 5, 5, 5, 5}, []int{61, 0, 0, 0, 0, 0, 0})
	if _, ok := CheckAlert(r, defaultRules(), at("2024-05-01T12:00")); ok {
		t.Fatalf("current slot should be ignored")
	}

	// 接近序列末尾时提前结束。
	r = report("2024-05-01T18:00", []float64{5, 5, 5, 5, 5, 5, 5}, []int{0, 0, 0, 0, 0, 0, 0})
	if _, ok := CheckAlert(r, defaultRules(), at("2024-05-01T18:00")); ok {
		t.Fatalf("no slots after the last hour")
	}
}

func TestUpcoming(t *testing.T) {
	r := report("2024-05-01T16:00", []float64{1, 2, 3, 4, 5, 6, 7}, []int{0, 0, 0, 0, 3, 61, 99})
	slots := Upcoming(r, 8, at("2024-05-01T16:00"))
	if len(slots) != 3 {
		t.Fatalf("expected 3 remaining slots, got %d", len(slots))
	}
	if slots[0].Hour != 16 || slots[0].Emoji != "☁️" || slots[2].Emoji != "⛈️" {
		t.Fatalf("unexpected slots %+v", slots)
	}
}

func TestEmojiAndRound(t *testing.T) {
	if Emoji(0) != "☀️" || Emoji(75) != "❄️" || Emoji(1234) != "🌤️" {
		t.Fatalf("unexpected emoji mapping")
	}
	if Round(12.5) != 13 || Round(-0.5) != 0 || Round(9.49) != 9 {
		t.Fatalf("unexpected rounding")
	}
}
