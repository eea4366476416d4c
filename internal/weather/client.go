package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/meteo-pwa/meteo-hub/internal/config"
)

var (
	ErrEmptyQuery   = errors.New("entrez une ville")
	ErrCityNotFound = errors.New("ville non trouvée")
	ErrGeocoding    = errors.New("erreur géocodage")
	ErrForecast     = errors.New("erreur météo")
	// ErrOffline 表示 worker 合成了离线响应。
	ErrOffline = errors.New("offline")
)

// Doer 是发起请求的最小接口；服务内由页面客户端实现，请求会经过 worker。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client 访问地理编码与预报接口。
type Client struct {
	doer         Doer
	geocodingAPI string
	forecastAPI  string
	language     string
}

func NewClient(cfg config.WeatherConfig, doer Doer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		doer:         doer,
		geocodingAPI: cfg.GeocodingAPI,
		forecastAPI:  cfg.ForecastAPI,
		language:     cfg.Language,
	}
}

// Search 返回城市的第一条地理编码结果。
func (c *Client) Search(ctx context.Context, city string) (Location, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Location{}, ErrEmptyQuery
	}
	query := url.Values{}
	query.Set("name", city)
	query.Set("count", "1")
	query.Set("language", c.language)

	var payload struct {
		Results []Location `json:"results"`
	}
	if err := c.getJSON(ctx, c.geocodingAPI, query, ErrGeocoding, &payload); err != nil {
		return Location{}, err
	}
	if len(payload.Results) == 0 {
		return Location{}, ErrCityNotFound
	}
	return payload.Results[0], nil
}

// Forecast 获取当前天气与当天的逐小时预报。
func (c *Client) Forecast(ctx context.Context, loc Location) (Forecast, error) {
	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	query.Set("current_weather", "true")
	query.Set("hourly", "temperature_2m,weather_code")
	query.Set("timezone", "auto")
	query.Set("forecast_days", "1")

	var forecast Forecast
	if err := c.getJSON(ctx, c.forecastAPI, query, ErrForecast, &forecast); err != nil {
		return Forecast{}, err
	}
	return forecast, nil
}

// Lookup 依次完成地理编码与预报。
func (c *Client) Lookup(ctx context.Context, city string) (Report, error) {
	loc, err := c.Search(ctx, city)
	if err != nil {
		return Report{}, err
	}
	forecast, err := c.Forecast(ctx, loc)
	if err != nil {
		return Report{}, err
	}
	return Report{Location: loc, Forecast: forecast}, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, failure error, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", failure, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", failure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", failure, err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		var offline struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &offline) == nil && offline.Error != "" {
			return fmt.Errorf("%w: %s", ErrOffline, offline.Error)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", failure, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", failure, err)
	}
	return nil
}
