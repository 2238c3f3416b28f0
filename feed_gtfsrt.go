package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// GtfsRtVehicleFeedSource reads a GTFS-RT VehiclePositions feed.
type GtfsRtVehicleFeedSource struct {
	url        string
	httpClient *http.Client
}

func NewGtfsRtVehicleFeedSource(url string, timeout time.Duration) *GtfsRtVehicleFeedSource {
	return &GtfsRtVehicleFeedSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *GtfsRtVehicleFeedSource) Fetch(ctx context.Context) ([]rawVehicle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gtfs-rt http status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var feed gtfs.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, err
	}
	return vehiclesFromFeed(&feed), nil
}

func vehiclesFromFeed(feed *gtfs.FeedMessage) []rawVehicle {
	vehicles := make([]rawVehicle, 0, len(feed.GetEntity()))
	for _, ent := range feed.GetEntity() {
		vp := ent.GetVehicle()
		if vp == nil {
			continue
		}
		id := vp.GetVehicle().GetId()
		if id == "" {
			continue
		}
		v := rawVehicle{DeviceID: id}
		// A missing position is left empty so it falls back instead of vanishing.
		if pos := vp.GetPosition(); pos != nil {
			v.Longitude = strconv.FormatFloat(float64(pos.GetLongitude()), 'f', -1, 32)
			v.Latitude = strconv.FormatFloat(float64(pos.GetLatitude()), 'f', -1, 32)
			if pos.Speed != nil {
				kmh := float64(pos.GetSpeed()) * 3.6
				v.Speed = &kmh
			}
		}
		if ts := vp.GetTimestamp(); ts > 0 {
			v.Timestamp = time.Unix(int64(ts), 0)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles
}
