package weather

import "time"

// Location 是地理编码接口返回的第一条结果。
type Location struct {
	Name      string  `json:"name"`
	Admin1    string  `json:"admin1,omitempty"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// FullName 返回 "城市[, 行政区], 国家"。
func (l Location) FullName() string {
	name := l.Name
	if l.Admin1 != "" {
		name += ", " + l.Admin1
	}
	return name + ", " + l.Country
}

// CurrentWeather 对应 current_weather 字段。
type CurrentWeather struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"windspeed"`
	WeatherCode int     `json:"weathercode"`
}

// Hourly 是按小时排列的预报序列，三个切片下标一一对应。
type Hourly struct {
	Time          []string  `json:"time"`
	Temperature2m []float64 `json:"temperature_2m"`
	WeatherCode   []int     `json:"weather_code"`
}

// Forecast 是预报接口响应中用到的部分。
type Forecast struct {
	Timezone         string         `json:"timezone"`
	UTCOffsetSeconds int            `json:"utc_offset_seconds"`
	CurrentWeather   CurrentWeather `json:"current_weather"`
	Hourly           Hourly         `json:"hourly"`
}

// Location 返回预报时间所在的时区；接口给出的时间不带偏移量。
func (f Forecast) Location() *time.Location {
	if f.Timezone != "" {
		if loc, err := time.LoadLocation(f.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone(f.Timezone, f.UTCOffsetSeconds)
}

// Report 是一次查询的完整结果。
type Report struct {
	Location Location `json:"location"`
	Forecast Forecast `json:"forecast"`
}

// HourSlot 是渲染用的单个小时。
type HourSlot struct {
	Time        string  `json:"time"`
	Hour        int     `json:"hour"`
	Temperature float64 `json:"temperature"`
	WeatherCode int     `json:"weather_code"`
	Emoji       string  `json:"emoji"`
}
