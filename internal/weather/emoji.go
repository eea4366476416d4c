package weather

var weatherEmoji = map[int]string{
	0: "☀️", 1: "🌤️", 2: "⛅", 3: "☁️",
	45: "🌫️", 48: "🌫️",
	51: "🌦️", 53: "🌦️", 55: "🌧️", 56: "🌨️", 57: "🌨️",
	61: "🌧️", 63: "🌧️", 65: "🌧️", 66: "🌨️", 67: "🌨️",
	71: "🌨️", 73: "🌨️", 75: "❄️", 77: "🌨️",
	80: "🌦️", 81: "🌧️", 82: "⛈️", 85: "🌨️", 86: "❄️",
	95: "⛈️", 96: "⛈️", 99: "⛈️",
}

// Emoji 返回 WMO 天气代码对应的图标，未知代码使用 🌤️。
func Emoji(code int) string {
	if e, ok := weatherEmoji[code]; ok {
		return e
	}
	return "🌤️"
}
