package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	feedTracking = "tracking"
	feedGtfsRt   = "gtfsrt"
	feedSiriJSON = "siri_json"
)

type ServerConfig struct {
	Port              int    `yaml:"port" validate:"gt=0,lt=65536"`
	StaticDir         string `yaml:"staticDir"`
	ShutdownTimeoutMS int    `yaml:"shutdownTimeoutMS" validate:"gte=0"`
}

type APIConfig struct {
	BaseURL   string `yaml:"baseURL" validate:"required,url"`
	TimeoutMS int    `yaml:"timeoutMS" validate:"gt=0"`
}

type FeedConfig struct {
	Kind            string     `yaml:"kind" validate:"oneof=tracking gtfsrt siri_json"`
	URL             string     `yaml:"url" validate:"omitempty,url"`
	IntervalMS      int        `yaml:"intervalMS" validate:"gt=0"`
	TimeoutMS       int        `yaml:"timeoutMS" validate:"gt=0"`
	StaleAfterMS    int        `yaml:"staleAfterMS" validate:"gte=0"`
	DefaultLocation [2]float64 `yaml:"defaultLocation"`
}

type HistoryConfig struct {
	DurationMinutes int `yaml:"durationMinutes" validate:"gt=0"`
	TimeoutMS       int `yaml:"timeoutMS" validate:"gt=0"`
	RetainMinutes   int `yaml:"retainMinutes" validate:"gt=0"`
	MaxPoints       int `yaml:"maxPoints" validate:"gt=1"`
}

type MapConfig struct {
	AccessToken string     `yaml:"accessToken"`
	Style       string     `yaml:"style" validate:"required"`
	Center      [2]float64 `yaml:"center"`
	Zoom        float64    `yaml:"zoom" validate:"gte=0,lte=24"`
	Pitch       float64    `yaml:"pitch" validate:"gte=0,lte=85"`
	Bearing     float64    `yaml:"bearing"`
}

type SessionConfig struct {
	RedisAddr string `yaml:"redisAddr" validate:"omitempty,hostname_port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type AppConfig struct {
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Feed    FeedConfig    `yaml:"feed"`
	History HistoryConfig `yaml:"history"`
	Map     MapConfig     `yaml:"map"`
	Session SessionConfig `yaml:"session"`
}

// portAuPrince is the depot the fleet runs out of.
var portAuPrince = [2]float64{-72.3074, 18.5944}

func defaultConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{Port: 8080, StaticDir: "./static", ShutdownTimeoutMS: 10000},
		API:    APIConfig{BaseURL: "https://limajsmotors.up.railway.app/api/v1", TimeoutMS: 5000},
		Feed: FeedConfig{
			Kind:            feedTracking,
			IntervalMS:      5000,
			TimeoutMS:       5000,
			StaleAfterMS:    300000,
			DefaultLocation: portAuPrince,
		},
		History: HistoryConfig{DurationMinutes: 15, TimeoutMS: 5000, RetainMinutes: 60, MaxPoints: 720},
		Map: MapConfig{
			Style:   defaultMapStyle,
			Center:  portAuPrince,
			Zoom:    15.5,
			Pitch:   45,
			Bearing: -17.6,
		},
	}
}

// loadConfig starts from the defaults, overlays the YAML file at path (if
// any) and then the FLEET_* environment variables.
func loadConfig(path string) (AppConfig, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.API.BaseURL = envOrDefault("FLEET_API_URL", cfg.API.BaseURL)
	cfg.Map.AccessToken = envOrDefault("FLEET_MAP_TOKEN", cfg.Map.AccessToken)
	cfg.Session.RedisAddr = envOrDefault("FLEET_REDIS_ADDR", cfg.Session.RedisAddr)
	cfg.Session.Username = envOrDefault("FLEET_USERNAME", cfg.Session.Username)
	cfg.Session.Password = envOrDefault("FLEET_PASSWORD", cfg.Session.Password)
	return cfg, nil
}

func (c AppConfig) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Feed.Kind != feedTracking && c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required for feed kind %q", c.Feed.Kind)
	}
	if !lngLatFrom(c.Feed.DefaultLocation).Valid() {
		return fmt.Errorf("feed.defaultLocation %v is not a valid coordinate", c.Feed.DefaultLocation)
	}
	if !lngLatFrom(c.Map.Center).Valid() {
		return fmt.Errorf("map.center %v is not a valid coordinate", c.Map.Center)
	}
	return nil
}

func (c AppConfig) mapView() MapView {
	return MapView{
		AccessToken: c.Map.AccessToken,
		Style:       c.Map.Style,
		Center:      c.Map.Center,
		Zoom:        c.Map.Zoom,
		Pitch:       c.Map.Pitch,
		Bearing:     c.Map.Bearing,
	}
}

func lngLatFrom(p [2]float64) LngLat {
	return LngLat{Lon: p[0], Lat: p[1]}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
