package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarStateBaseline(t *testing.T) {
	st := NewCarState("car-1")
	assert.Equal(t, "car-1", st.ID)
	assert.Equal(t, 100.0, st.Battery)
	assert.Equal(t, 300.0, st.Range)
	assert.Equal(t, 20.0, st.Temperature)
	assert.False(t, st.Lock || st.Lights || st.Climate || st.Heating)
	assert.Nil(t, st.Latitude)
	assert.NotNil(t, st.Extra)
}

func TestSnapshotRounding(t *testing.T) {
	st := NewCarState("c")
	st.Battery = 87.5
	st.Range = 437.49
	st.Temperature = 20.149
	snap := st.Snapshot()
	assert.Equal(t, 88.0, snap.Battery)
	assert.Equal(t, 437.0, snap.Range)
	assert.Equal(t, 20.1, snap.Temperature)

	st.Temperature = -0.25
	assert.Equal(t, -0.2, st.Snapshot().Temperature)
}

func TestSnapshotIsDetached(t *testing.T) {
	st := NewCarState("c")
	lat := 1.0
	st.Latitude = &lat
	st.Extra["doors"] = "closed"
	snap := st.Snapshot()
	*st.Latitude = 2
	st.Extra["doors"] = "open"
	assert.Equal(t, 1.0, *snap.Latitude)
	assert.Equal(t, "closed", snap.Extra["doors"])
}

func TestSnapshotJSONFlattensExtras(t *testing.T) {
	st := NewCarState("c")
	st.Lock = true
	st.Extra["tyres/front"] = 2.4
	st.Extra["battery"] = "shadowed"
	data, err := json.Marshal(st.Snapshot())
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 100.0, out["battery"])
	assert.Equal(t, true, out["lock"])
	assert.Equal(t, 2.4, out["tyres/front"])
	_, hasLat := out["latitude"]
	assert.False(t, hasLat)
}

func TestSnapshotWithCarID(t *testing.T) {
	out := NewCarState("c").Snapshot().WithCarID("car-9")
	assert.Equal(t, "car-9", out["carId"])
	assert.Equal(t, 300.0, out["range"])
}

func TestParseCoordinate(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    Coordinate
		wantErr bool
	}{
		{"long form", `{"latitude":48.86,"longitude":9.18}`, Coordinate{48.86, 9.18}, false},
		{"short form", `{"lat":48.86,"lng":9.18}`, Coordinate{48.86, 9.18}, false},
		{"missing lng", `{"lat":48.86}`, Coordinate{}, true},
		{"out of range", `{"lat":120,"lng":9}`, Coordinate{}, true},
		{"not json", `north`, Coordinate{}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseCoordinate([]byte(c.payload))
			if c.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}
