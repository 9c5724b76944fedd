package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tablecast/internal/geom"
	"github.com/banshee-data/tablecast/internal/playfield"
)

func TestParseEnvDefaults(t *testing.T) {
	e, err := ParseEnvMap(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, "localhost", e.MQTTBroker)
	assert.Equal(t, 1883, e.MQTTPort)
	assert.Equal(t, "playfield", e.MQTTTopic)
	assert.Equal(t, 1920, e.ProjectorWidth)
	assert.Equal(t, 1080, e.ProjectorHeight)
	assert.Equal(t, "tcp://localhost:1883", e.BrokerURL())
}

func TestParseEnvValues(t *testing.T) {
	e, err := ParseEnvMap(map[string]string{
		"MQTT_BROKER":      "broker.lan",
		"MQTT_PORT":        "8883",
		"MQTT_TOPIC":       "table/a",
		"MQTT_USER":        "organizer",
		"MQTT_PASSWORD":    "secret",
		"MQTT_TLS":         "true",
		"PROJECTOR_WIDTH":  "1280",
		"PROJECTOR_HEIGHT": "720",
	})
	require.NoError(t, err)
	assert.Equal(t, "organizer", e.MQTTUser)
	assert.Equal(t, "secret", e.MQTTPassword)
	assert.Equal(t, 1280, e.ProjectorWidth)
	assert.Equal(t, "ssl://broker.lan:8883", e.BrokerURL())
}

func TestParseEnvFromProcess(t *testing.T) {
	t.Setenv("MQTT_TOPIC", "from-env")
	e, err := ParseEnv()
	require.NoError(t, err)
	assert.Equal(t, "from-env", e.MQTTTopic)
}

func TestParseEnvRejects(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{"port not a number", map[string]string{"MQTT_PORT": "abc"}},
		{"port out of range", map[string]string{"MQTT_PORT": "70000"}},
		{"zero projector", map[string]string{"PROJECTOR_WIDTH": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvMap(tt.vars)
			assert.Error(t, err)
		})
	}
}

func TestSceneDefaults(t *testing.T) {
	s, err := ParseScene([]byte(`{}`))
	require.NoError(t, err)

	w, h := s.GetTableSize()
	assert.Equal(t, 1000, w)
	assert.Equal(t, 500, h)
	assert.Equal(t, DefaultCameraCalibration, s.GetCameraCalibration())
	assert.Equal(t, DefaultTableCalibration, s.GetTableCalibration())
	assert.Equal(t, DefaultProjectorCalibration, s.GetProjectorCalibration())
	assert.Equal(t, 800*time.Millisecond, s.GetDwell())
	assert.Equal(t, 5*time.Second, s.GetResyncInterval())
	assert.Equal(t, playfield.White, s.GetZoneColor())
	assert.Equal(t, playfield.RGB{G: 255}, s.GetZoneActiveColor())

	steps, err := s.GetSteps()
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestSceneValues(t *testing.T) {
	s, err := ParseScene([]byte(`{
		"table_width": 1200,
		"table_height": 600,
		"projector_calibration": "proj.json",
		"zone": [{"x":0,"y":0},{"x":100,"y":0},{"x":100,"y":100}],
		"dwell": "2s",
		"zone_color": "#336699",
		"resync_interval": "30s",
		"steps": [
			{"type":"Text","position":{"x":10,"y":20},"text":"Schritt 1"},
			{"type":"Circle","color":[255,0,0],"center":{"x":5,"y":5},"radius":3}
		]
	}`))
	require.NoError(t, err)

	w, h := s.GetTableSize()
	assert.Equal(t, 1200, w)
	assert.Equal(t, 600, h)
	assert.Equal(t, "proj.json", s.GetProjectorCalibration())
	assert.Equal(t, []geom.Point{geom.Pt(0, 0), geom.Pt(100, 0), geom.Pt(100, 100)}, s.Zone)
	assert.Equal(t, 2*time.Second, s.GetDwell())
	assert.Equal(t, 30*time.Second, s.GetResyncInterval())
	assert.Equal(t, playfield.RGB{R: 0x33, G: 0x66, B: 0x99}, s.GetZoneColor())

	steps, err := s.GetSteps()
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, playfield.Text{Color: playfield.White, Position: geom.Pt(10, 20), Text: "Schritt 1", Size: playfield.DefaultTextSize}, steps[0])
	assert.Equal(t, playfield.KindCircle, steps[1].Kind())
}

func TestSceneValidate(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"negative width", `{"table_width": -1}`, "table_width"},
		{"short zone", `{"zone": [{"x":0,"y":0},{"x":1,"y":1}]}`, "zone"},
		{"bad dwell", `{"dwell": "soon"}`, "dwell"},
		{"negative resync", `{"resync_interval": "-1s"}`, "resync_interval"},
		{"bad color", `{"zone_color": "blue"}`, "zone_color"},
		{"bad step", `{"steps": [{"type":"Hexagon"}]}`, "step 0"},
		{"null step", `{"steps": [null]}`, "step 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScene([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#f00")
	require.NoError(t, err)
	assert.Equal(t, playfield.RGB{R: 255}, c)

	_, err = ParseColor("nope")
	assert.Error(t, err)
}

func TestLoadScene(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "scene.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"table_width": 800}`), 0o644))
	s, err := LoadScene(path)
	require.NoError(t, err)
	w, _ := s.GetTableSize()
	assert.Equal(t, 800, w)

	_, err = LoadScene(filepath.Join(dir, "scene.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), ".json extension")

	_, err = LoadScene(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	big := filepath.Join(dir, "big.json")
	require.NoError(t, os.WriteFile(big, []byte(`{"steps":[`+strings.Repeat(" ", maxSceneFileSize)+`]}`), 0o644))
	_, err = LoadScene(big)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
