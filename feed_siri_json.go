package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// SiriJsonVehicleFeedSource reads a SIRI VehicleMonitoring JSON delivery.
type SiriJsonVehicleFeedSource struct {
	url        string
	httpClient *http.Client
}

func NewSiriJsonVehicleFeedSource(url string, timeout time.Duration) *SiriJsonVehicleFeedSource {
	return &SiriJsonVehicleFeedSource{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *SiriJsonVehicleFeedSource) Fetch(ctx context.Context) ([]rawVehicle, error) {
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
		return nil, fmt.Errorf("siri json http status: %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseSiriJSON(b)
}

// parseSiriJSON walks Siri?.ServiceDelivery.VehicleMonitoringDelivery[].VehicleActivity[].
func parseSiriJSON(b []byte) ([]rawVehicle, error) {
	var root map[string]any
	if err := json.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	if siri, ok := root["Siri"].(map[string]any); ok && siri != nil {
		root = siri
	}
	sd, _ := root["ServiceDelivery"].(map[string]any)
	vmdArr, _ := sd["VehicleMonitoringDelivery"].([]any)
	vehicles := make([]rawVehicle, 0, 256)
	for _, vmdAny := range vmdArr {
		vmd, _ := vmdAny.(map[string]any)
		vaArr, _ := vmd["VehicleActivity"].([]any)
		for _, vaAny := range vaArr {
			va, _ := vaAny.(map[string]any)
			mvj, _ := va["MonitoredVehicleJourney"].(map[string]any)
			if mvj == nil {
				continue
			}
			id := textFrom(mvj["VehicleRef"])
			if id == "" {
				id = textFromNested(mvj, "FramedVehicleJourneyRef", "DatedVehicleJourneyRef")
			}
			if id == "" {
				continue
			}
			v := rawVehicle{
				DeviceID:  id,
				Longitude: textFromNested(mvj, "VehicleLocation", "Longitude"),
				Latitude:  textFromNested(mvj, "VehicleLocation", "Latitude"),
			}
			if sp, err := strconv.ParseFloat(textFrom(mvj["Velocity"]), 64); err == nil {
				v.Speed = &sp
			}
			if ts, err := time.Parse(time.RFC3339, textFrom(va["RecordedAtTime"])); err == nil {
				v.Timestamp = ts
			}
			vehicles = append(vehicles, v)
		}
	}
	return vehicles, nil
}

func textFrom(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return formatCoord(x)
	default:
		return ""
	}
}

func textFromNested(m map[string]any, k1, k2 string) string {
	m1, _ := m[k1].(map[string]any)
	return textFrom(m1[k2])
}
