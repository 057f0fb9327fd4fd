// Package clock answers "what time is it" and "what is the weather"
// questions. Weather comes from OpenWeatherMap; the city is taken from
// the utterance or from the user's remembered default_city.
package clock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nugget/asistente/internal/httpkit"
	"github.com/nugget/asistente/internal/plugin"
)

// DefaultWeatherURL is the OpenWeatherMap current-weather endpoint.
const DefaultWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// CityKey is the user data key holding the default city.
const CityKey = "default_city"

const (
	timePhrase    = "dime la hora"
	weatherPhrase = "qué tiempo hace"
)

// Settings are read from the manifest.
type Settings struct {
	// APIKey defaults to $OPENWEATHERMAP_API_KEY.
	APIKey  string        `yaml:"api_key"`
	URL     string        `yaml:"url"`
	Units   string        `yaml:"units"`
	Lang    string        `yaml:"lang"`
	Timeout time.Duration `yaml:"timeout"`
}

// Clock is a command handler.
type Clock struct {
	settings Settings
	data     plugin.UserData
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// New is the plugin factory.
func New(_ string, raw plugin.Settings, caps plugin.Capabilities) (any, error) {
	s := Settings{URL: DefaultWeatherURL, Units: "metric", Lang: "es", Timeout: 10 * time.Second}
	if err := raw.Decode(&s); err != nil {
		return nil, err
	}
	if s.APIKey == "" {
		s.APIKey = os.Getenv("OPENWEATHERMAP_API_KEY")
	}
	logger := caps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := caps.HTTP
	if client == nil {
		client = httpkit.NewClient(httpkit.WithTimeout(s.Timeout), httpkit.WithLogger(logger))
	}
	return &Clock{settings: s, data: caps.Data, http: client, logger: logger, now: time.Now}, nil
}

// HandleCommand answers time and weather questions.
func (c *Clock) HandleCommand(ctx context.Context, text string) (string, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, timePhrase):
		return "Son las " + c.now().Format("15:04"), nil
	case strings.Contains(lower, weatherPhrase):
		city := cityFrom(lower)
		if city == "" && c.data != nil {
			saved, ok, err := c.data.Get(CityKey)
			if err != nil {
				c.logger.Warn("reading default city failed", "error", err)
			} else if ok {
				city = saved
			}
		}
		if city == "" {
			return "No sé cuál es tu ciudad. ¿De qué ciudad quieres saber el tiempo?", nil
		}
		return c.Weather(ctx, city), nil
	}
	return "", nil
}

// cityFrom extracts X from "qué tiempo hace en X".
func cityFrom(text string) string {
	_, rest, ok := strings.Cut(text, weatherPhrase)
	if !ok {
		return ""
	}
	rest = strings.TrimSpace(rest)
	if city, ok := strings.CutPrefix(rest, "en "); ok {
		return strings.Trim(strings.TrimSpace(city), "?¿.!")
	}
	return ""
}

type weatherResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
	} `json:"main"`
}

var errBadKey = errors.New("weather api key rejected")

// Weather describes the current weather in city. Every failure becomes
// a sentence the user can act on.
func (c *Clock) Weather(ctx context.Context, city string) string {
	if c.settings.APIKey == "" {
		return "La API key de OpenWeatherMap no está configurada. Por favor, añádela al archivo .env."
	}
	w, status, err := c.fetch(ctx, city)
	switch {
	case status == http.StatusUnauthorized:
		return "La API key de OpenWeatherMap no es válida. Por favor, revísala."
	case status == http.StatusNotFound:
		return fmt.Sprintf("No pude encontrar la ciudad '%s'. Por favor, prueba con otra.", city)
	case err != nil && status != 0:
		c.logger.Error("weather request failed", "city", city, "status", status, "error", err)
		return "Lo siento, no pude obtener el pronóstico del tiempo en este momento."
	case err != nil:
		c.logger.Error("weather request failed", "city", city, "error", err)
		return "Ocurrió un error inesperado al consultar el tiempo."
	}

	description := "despejado"
	if len(w.Weather) > 0 {
		description = w.Weather[0].Description
	}
	return fmt.Sprintf("En %s, el cielo está %s. La temperatura es de %.0f grados, con una sensación térmica de %.0f. La mínima será de %.0f y la máxima de %.0f grados.",
		city, description, w.Main.Temp, w.Main.FeelsLike, w.Main.TempMin, w.Main.TempMax)
}

// fetch returns the decoded response, the HTTP status (0 when no
// response arrived) and an error.
func (c *Clock) fetch(ctx context.Context, city string) (*weatherResponse, int, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", c.settings.APIKey)
	q.Set("units", c.settings.Units)
	q.Set("lang", c.settings.Lang)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.settings.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<16)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, resp.StatusCode, errBadKey
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("weather API returned %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	var w weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode weather: %w", err)
	}
	return &w, resp.StatusCode, nil
}
