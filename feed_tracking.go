package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	activeVehiclesPath = "/transport/tracking_bus/active_buses/"
	historyPathFormat  = "/transport/tracking_bus/%s/history/"
)

// TrackingVehicleFeedSource reads the fleet backend's tracking API through an
// authenticated session.
type TrackingVehicleFeedSource struct {
	session *Session
}

func NewTrackingVehicleFeedSource(session *Session) *TrackingVehicleFeedSource {
	return &TrackingVehicleFeedSource{session: session}
}

type trackingRecord struct {
	DeviceID  flexValue `json:"device_id"`
	Longitude flexValue `json:"longitude"`
	Latitude  flexValue `json:"latitude"`
	Speed     flexValue `json:"speed"`
	Timestamp string    `json:"timestamp"`
}

func (s *TrackingVehicleFeedSource) Fetch(ctx context.Context) ([]rawVehicle, error) {
	resp, err := s.session.Do(ctx, http.MethodGet, activeVehiclesPath, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("active vehicles http status: %d", resp.StatusCode)
	}
	var records []trackingRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode active vehicles: %w", err)
	}
	vehicles := make([]rawVehicle, 0, len(records))
	for _, r := range records {
		v := rawVehicle{
			DeviceID:  string(r.DeviceID),
			Longitude: string(r.Longitude),
			Latitude:  string(r.Latitude),
		}
		if sp, err := strconv.ParseFloat(strings.TrimSpace(string(r.Speed)), 64); err == nil {
			v.Speed = &sp
		}
		if r.Timestamp != "" {
			ts, err := time.Parse(time.RFC3339, r.Timestamp)
			if err != nil {
				log.Printf("vehicle %s: bad timestamp %q", v.DeviceID, r.Timestamp)
			} else {
				v.Timestamp = ts
			}
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, nil
}

type historyResponse struct {
	Coordinates [][]float64 `json:"coordinates"`
}

func (s *TrackingVehicleFeedSource) History(ctx context.Context, vehicleID string, duration time.Duration) (Trajectory, error) {
	q := url.Values{}
	q.Set("duration", strconv.Itoa(int(duration/time.Minute)))
	path := fmt.Sprintf(historyPathFormat, url.PathEscape(vehicleID))
	resp, err := s.session.Do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return Trajectory{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Trajectory{}, fmt.Errorf("history %s http status: %d", vehicleID, resp.StatusCode)
	}
	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Trajectory{}, fmt.Errorf("decode history %s: %w", vehicleID, err)
	}
	t := Trajectory{VehicleID: vehicleID, Points: make([]LngLat, 0, len(body.Coordinates))}
	for _, c := range body.Coordinates {
		if len(c) < 2 {
			continue
		}
		p := LngLat{Lon: c[0], Lat: c[1]}
		if !p.Valid() {
			continue
		}
		t.Points = append(t.Points, p)
	}
	return t, nil
}
