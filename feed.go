package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"
)

// VehicleFeedSource fetches the raw active-vehicle records of one poll.
type VehicleFeedSource interface {
	Fetch(ctx context.Context) ([]rawVehicle, error)
}

// HistorySource returns the recent path of one vehicle.
type HistorySource interface {
	History(ctx context.Context, vehicleID string, duration time.Duration) (Trajectory, error)
}

// rawVehicle is a provider record before normalization. Coordinates are kept
// as text so a formatting glitch is caught by normalize instead of the decoder.
type rawVehicle struct {
	DeviceID  string
	Longitude string
	Latitude  string
	Speed     *float64
	Timestamp time.Time
}

// flexValue accepts a JSON string or number and keeps its text.
type flexValue string

func (f *flexValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexValue(s)
		return nil
	}
	*f = flexValue(b)
	return nil
}

const lastUpdateUnknown = "--:--:--"

type positionFeed struct {
	fallback   LngLat
	staleAfter time.Duration
	loc        *time.Location
	now        func() time.Time
}

func newPositionFeed(fallback LngLat, staleAfter time.Duration) *positionFeed {
	return &positionFeed{
		fallback:   fallback,
		staleAfter: staleAfter,
		loc:        time.Local,
		now:        time.Now,
	}
}

// normalize turns raw records into a snapshot. Records with bad coordinates
// are placed at the fallback location, never dropped.
func (f *positionFeed) normalize(seq uint64, records []rawVehicle) Snapshot {
	now := f.now()
	snap := Snapshot{
		Seq:       seq,
		FetchedAt: now,
		Vehicles:  make(map[string]VehiclePosition, len(records)),
	}
	for _, r := range records {
		id := strings.TrimSpace(r.DeviceID)
		if id == "" {
			continue
		}
		loc, err := parseLocation(r.Longitude, r.Latitude)
		fallback := err != nil
		if fallback {
			log.Printf("vehicle %s: %v, using default location", id, err)
			loc = f.fallback
		}
		snap.Vehicles[id] = VehiclePosition{
			ID:              id,
			Name:            "Bus " + id,
			Status:          f.status(r.Timestamp, now),
			Location:        loc,
			SpeedLabel:      speedLabel(r.Speed),
			LastUpdateLabel: f.lastUpdateLabel(r.Timestamp),
			Timestamp:       r.Timestamp,
			Fallback:        fallback,
		}
	}
	return snap
}

func (f *positionFeed) status(ts, now time.Time) VehicleStatus {
	if f.staleAfter > 0 && !ts.IsZero() && now.Sub(ts) > f.staleAfter {
		return StatusStale
	}
	return StatusActive
}

func (f *positionFeed) lastUpdateLabel(ts time.Time) string {
	if ts.IsZero() {
		return lastUpdateUnknown
	}
	return ts.In(f.loc).Format("15:04:05")
}

func parseLocation(lonText, latText string) (LngLat, error) {
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonText), 64)
	if err != nil {
		return LngLat{}, fmt.Errorf("%w: longitude %q", ErrMalformedPosition, lonText)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return LngLat{}, fmt.Errorf("%w: latitude %q", ErrMalformedPosition, latText)
	}
	p := LngLat{Lon: lon, Lat: lat}
	if !p.Valid() {
		return LngLat{}, fmt.Errorf("%w: out of range (%v, %v)", ErrMalformedPosition, lon, lat)
	}
	return p, nil
}

func speedLabel(speed *float64) string {
	if speed == nil || *speed == 0 {
		return "0 km/h"
	}
	return fmt.Sprintf("%.1f km/h", *speed)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
