package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/httpkit"
)

// defaultWeatherBaseURL is the Open-Meteo forecast endpoint, which
// needs no API key.
const defaultWeatherBaseURL = "https://api.open-meteo.com"

func weatherTool(client *http.Client, baseURL string) *catalog.Tool {
	if baseURL == "" {
		baseURL = defaultWeatherBaseURL
	}

	return &catalog.Tool{
		Name:        "weather_lookup",
		Description: "Get current weather conditions for a location given latitude and longitude. Returns temperature, wind, and conditions.",
		Relevance:   "current weather, temperature outside, forecast, wind, is it raining",
		Schema: catalog.Schema{
			Required: []string{"latitude", "longitude"},
			Properties: map[string]catalog.Property{
				"latitude": {
					Type:        "number",
					Description: "Latitude in decimal degrees.",
				},
				"longitude": {
					Type:        "number",
					Description: "Longitude in decimal degrees.",
				},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			lat, ok := toFloat(args["latitude"])
			if !ok {
				return nil, fmt.Errorf("latitude must be a number")
			}
			lon, ok := toFloat(args["longitude"])
			if !ok {
				return nil, fmt.Errorf("longitude must be a number")
			}
			return lookupWeather(ctx, client, baseURL, lat, lon)
		},
	}
}

// currentWeather matches the Open-Meteo current_weather JSON block.
type currentWeather struct {
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"windspeed"`
	WeatherCode int     `json:"weathercode"`
}

func lookupWeather(ctx context.Context, client *http.Client, baseURL string, lat, lon float64) (*catalog.Result, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", lat))
	q.Set("longitude", fmt.Sprintf("%.4f", lon))
	q.Set("current_weather", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("weather API status %d: %s", resp.StatusCode, errBody)
	}

	var payload struct {
		CurrentWeather currentWeather `json:"current_weather"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode weather response: %w", err)
	}

	cw := payload.CurrentWeather
	return &catalog.Result{
		Data: fmt.Sprintf("Temperature: %.1f°C\nWind: %.1f km/h\nConditions: %s",
			cw.Temperature, cw.WindSpeed, describeWeatherCode(cw.WeatherCode)),
	}, nil
}

// describeWeatherCode translates WMO weather codes to plain text.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code >= 95:
		return "thunderstorm"
	}
	return fmt.Sprintf("weather code %d", code)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
