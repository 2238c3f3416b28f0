package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

var testFallback = LngLat{Lon: -72.3074, Lat: 18.5944}

func newTestFeed(now time.Time, staleAfter time.Duration) *positionFeed {
	f := newPositionFeed(testFallback, staleAfter)
	f.loc = time.UTC
	f.now = func() time.Time { return now }
	return f
}

func speed(v float64) *float64 { return &v }

func TestNormalize(t *testing.T) {
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	f := newTestFeed(now, 5*time.Minute)

	records := []rawVehicle{
		{DeviceID: "b1", Longitude: "-72.30", Latitude: "18.59", Speed: speed(31.04), Timestamp: now.Add(-30 * time.Second)},
		{DeviceID: " b2 ", Longitude: "", Latitude: "18.59"},
		{DeviceID: "b3", Longitude: "-72.31", Latitude: "95", Speed: speed(0)},
		{DeviceID: "b4", Longitude: "-72.32", Latitude: "18.57", Timestamp: now.Add(-10 * time.Minute)},
		{DeviceID: "", Longitude: "-72.30", Latitude: "18.59"},
	}
	snap := f.normalize(7, records)

	assert.Equal(t, uint64(7), snap.Seq)
	assert.Equal(t, now, snap.FetchedAt)
	assert.Equal(t, []string{"b1", "b2", "b3", "b4"}, snap.IDs())

	want := map[string]VehiclePosition{
		"b1": {ID: "b1", Name: "Bus b1", Status: StatusActive, Location: LngLat{Lon: -72.30, Lat: 18.59}, SpeedLabel: "31.0 km/h", LastUpdateLabel: "09:59:30", Timestamp: now.Add(-30 * time.Second)},
		"b2": {ID: "b2", Name: "Bus b2", Status: StatusActive, Location: testFallback, SpeedLabel: "0 km/h", LastUpdateLabel: "--:--:--", Fallback: true},
		"b3": {ID: "b3", Name: "Bus b3", Status: StatusActive, Location: testFallback, SpeedLabel: "0 km/h", LastUpdateLabel: "--:--:--", Fallback: true},
		"b4": {ID: "b4", Name: "Bus b4", Status: StatusStale, Location: LngLat{Lon: -72.32, Lat: 18.57}, SpeedLabel: "0 km/h", LastUpdateLabel: "09:50:00", Timestamp: now.Add(-10 * time.Minute)},
	}
	if diff := cmp.Diff(want, snap.Vehicles); diff != "" {
		t.Errorf("normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeEmptyFeed(t *testing.T) {
	snap := newTestFeed(time.Now(), 0).normalize(1, nil)
	assert.NotNil(t, snap.Vehicles)
	assert.Empty(t, snap.List())
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		lon, lat string
		want     LngLat
		wantErr  bool
	}{
		{lon: "-72.3", lat: "18.5", want: LngLat{Lon: -72.3, Lat: 18.5}},
		{lon: " -72.3 ", lat: "18.5", want: LngLat{Lon: -72.3, Lat: 18.5}},
		{lon: "abc", lat: "18.5", wantErr: true},
		{lon: "-72.3", lat: "", wantErr: true},
		{lon: "NaN", lat: "18.5", wantErr: true},
		{lon: "181", lat: "18.5", wantErr: true},
		{lon: "-72.3", lat: "-91", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseLocation(tt.lon, tt.lat)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrMalformedPosition), "(%q, %q)", tt.lon, tt.lat)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestSpeedLabel(t *testing.T) {
	assert.Equal(t, "0 km/h", speedLabel(nil))
	assert.Equal(t, "0 km/h", speedLabel(speed(0)))
	assert.Equal(t, "12.3 km/h", speedLabel(speed(12.34)))
	assert.Equal(t, "40.0 km/h", speedLabel(speed(40)))
}

func TestFlexValue(t *testing.T) {
	var v struct {
		A flexValue `json:"a"`
		B flexValue `json:"b"`
		C flexValue `json:"c"`
		D flexValue `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": "18.59", "b": -72.3, "c": null, "d": 42}`), &v))
	assert.Equal(t, flexValue("18.59"), v.A)
	assert.Equal(t, flexValue("-72.3"), v.B)
	assert.Equal(t, flexValue(""), v.C)
	assert.Equal(t, flexValue("42"), v.D)
}

func testGtfsFeed() *gtfs.FeedMessage {
	return &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{GtfsRealtimeVersion: proto.String("2.0")},
		Entity: []*gtfs.FeedEntity{
			{
				Id: proto.String("e1"),
				Vehicle: &gtfs.VehiclePosition{
					Vehicle:   &gtfs.VehicleDescriptor{Id: proto.String("b1")},
					Position:  &gtfs.Position{Latitude: proto.Float32(18.59), Longitude: proto.Float32(-72.3), Speed: proto.Float32(10)},
					Timestamp: proto.Uint64(1714989600),
				},
			},
			{
				Id:      proto.String("e2"),
				Vehicle: &gtfs.VehiclePosition{Vehicle: &gtfs.VehicleDescriptor{Id: proto.String("b2")}},
			},
			{Id: proto.String("e3"), Vehicle: &gtfs.VehiclePosition{}},
			{Id: proto.String("e4")},
		},
	}
}

func TestVehiclesFromGtfsFeed(t *testing.T) {
	got := vehiclesFromFeed(testGtfsFeed())
	require.Len(t, got, 2)

	assert.Equal(t, "b1", got[0].DeviceID)
	require.NotNil(t, got[0].Speed)
	assert.InDelta(t, 36.0, *got[0].Speed, 1e-6)
	assert.Equal(t, time.Unix(1714989600, 0), got[0].Timestamp)

	assert.Equal(t, rawVehicle{DeviceID: "b2"}, got[1])

	snap := newTestFeed(time.Unix(1714989600, 0), 0).normalize(1, got)
	assert.InDelta(t, -72.3, snap.Vehicles["b1"].Location.Lon, 1e-5)
	assert.InDelta(t, 18.59, snap.Vehicles["b1"].Location.Lat, 1e-5)
	assert.Equal(t, "36.0 km/h", snap.Vehicles["b1"].SpeedLabel)
	assert.True(t, snap.Vehicles["b2"].Fallback)
}

func TestGtfsRtFetch(t *testing.T) {
	body, err := proto.Marshal(testGtfsFeed())
	require.NoError(t, err)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(body)
	}))
	defer ts.Close()

	got, err := NewGtfsRtVehicleFeedSource(ts.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestGtfsRtFetchBadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewGtfsRtVehicleFeedSource(ts.URL, time.Second).Fetch(context.Background())
	assert.ErrorContains(t, err, "502")
}

const testSiriDelivery = `{"Siri": {"ServiceDelivery": {"VehicleMonitoringDelivery": [{"VehicleActivity": [
	{"RecordedAtTime": "2024-05-06T10:00:00Z", "MonitoredVehicleJourney": {
		"VehicleRef": "b1", "Velocity": 18.5,
		"VehicleLocation": {"Longitude": -72.3, "Latitude": "18.59"}}},
	{"MonitoredVehicleJourney": {
		"FramedVehicleJourneyRef": {"DatedVehicleJourneyRef": "j7"},
		"VehicleLocation": {"Longitude": "x", "Latitude": 18.6}}},
	{"MonitoredVehicleJourney": {"VehicleLocation": {"Longitude": -72.3, "Latitude": 18.6}}},
	{"RecordedAtTime": "2024-05-06T10:00:00Z"}
]}]}}}`

func TestParseSiriJSON(t *testing.T) {
	got, err := parseSiriJSON([]byte(testSiriDelivery))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, rawVehicle{
		DeviceID:  "b1",
		Longitude: "-72.3",
		Latitude:  "18.59",
		Speed:     speed(18.5),
		Timestamp: time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC),
	}, got[0])
	assert.Equal(t, rawVehicle{DeviceID: "j7", Longitude: "x", Latitude: "18.6"}, got[1])

	_, err = parseSiriJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestSiriJSONFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testSiriDelivery))
	}))
	defer ts.Close()

	got, err := NewSiriJsonVehicleFeedSource(ts.URL, time.Second).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
