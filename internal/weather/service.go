package weather

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/logging"
	"github.com/meteo-pwa/meteo-hub/internal/metrics"
)

// Notifier 发送提醒，返回是否已展示。
type Notifier interface {
	Send(ctx context.Context, title, body string) (bool, error)
}

// Result 是查询加提醒的完整结果。
type Result struct {
	City     string     `json:"city"`
	Emoji    string     `json:"emoji"`
	Current  int        `json:"temperature"`
	Wind     int        `json:"wind_speed"`
	Hours    []HourSlot `json:"hours"`
	Alert    *Alert     `json:"alert,omitempty"`
	Notified bool       `json:"notified"`
	Report   Report     `json:"report"`
}

// Service 串联查询、提醒判断与通知。
type Service struct {
	client   *Client
	rules    Rules
	notifier Notifier
	logger   *logrus.Entry
	now      func() time.Time
}

func NewService(client *Client, rules Rules, notifier Notifier, logger *logrus.Logger) *Service {
	return &Service{
		client:   client,
		rules:    rules,
		notifier: notifier,
		logger:   logging.Component(logger, "weather"),
		now:      time.Now,
	}
}

// Lookup 查询城市天气；命中提醒规则时发送通知，通知失败只记录日志。
func (s *Service) Lookup(ctx context.Context, city string) (Result, error) {
	report, err := s.client.Lookup(ctx, city)
	if err != nil {
		metrics.WeatherLookupsTotal.WithLabelValues(lookupResult(err)).Inc()
		s.logger.WithField("city", city).WithError(err).Warn("weather_lookup_failed")
		return Result{}, err
	}
	metrics.WeatherLookupsTotal.WithLabelValues("ok").Inc()

	now := s.now()
	current := report.Forecast.CurrentWeather
	result := Result{
		City:    report.Location.FullName(),
		Emoji:   Emoji(current.WeatherCode),
		Current: Round(current.Temperature),
		Wind:    Round(current.WindSpeed),
		Hours:   Upcoming(report, 8, now),
		Report:  report,
	}

	alert, ok := CheckAlert(report, s.rules, now)
	if !ok {
		return result, nil
	}
	result.Alert = &alert
	if s.notifier != nil {
		shown, err := s.notifier.Send(ctx, result.City, alert.Message)
		if err != nil {
			s.logger.WithError(err).Warn("notification_failed")
		}
		result.Notified = shown
	}
	metrics.AlertsTotal.WithLabelValues(string(alert.Kind), strconv.FormatBool(result.Notified)).Inc()
	s.logger.WithFields(logrus.Fields{
		"action": "weather_alert",
		"city":   result.City,
		"kind":   alert.Kind,
	}).Info("weather_alert")
	return result, nil
}

func lookupResult(err error) string {
	switch {
	case errors.Is(err, ErrOffline):
		return "offline"
	case errors.Is(err, ErrCityNotFound), errors.Is(err, ErrEmptyQuery):
		return "not_found"
	default:
		return "error"
	}
}
