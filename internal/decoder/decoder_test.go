package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasense/probelink/internal/model"
)

const testDevice = "probe-01"

func TestDecodeDelimited(t *testing.T) {
	r, err := Decode("7.2,450.5,0.85,23.5,255,128,64,65.3,1.23,-0.45,0.78,2.15,-1.67,0.92,1.44", testDevice)
	require.NoError(t, err)

	assert.Equal(t, testDevice, r.DeviceID)
	assert.Equal(t, 7.2, r.PH)
	assert.Equal(t, 450.5, r.TDS)
	assert.Equal(t, 0.85, r.UV)
	assert.Equal(t, 23.5, r.Temperature)
	assert.Equal(t, model.Color{R: 255, G: 128, B: 64}, r.Color)
	assert.Equal(t, 65.3, r.Moisture)
	assert.Equal(t, model.Electrodes{
		Pt: 1.23, Ag: -0.45, AgCl: 0.78, SS: 2.15, Cu: -1.67, C: 0.92, Zn: 1.44,
	}, r.Electrodes)
	assert.Greater(t, r.Timestamp, int64(0))
}

func TestDecodeDelimitedRangeViolation(t *testing.T) {
	// Acidity 20 is outside 0..14.
	_, err := Decode("20.0,450.5,0.85,23.5,255,128,64,65.3,1.23,-0.45,0.78,2.15,-1.67,0.92,1.44", testDevice)
	assert.ErrorIs(t, err, ErrRangeViolation)
}

func TestDecodeDelimitedFieldCount(t *testing.T) {
	_, err := Decode("7.2,450.5,0.85", testDevice)
	assert.ErrorIs(t, err, ErrFieldCount)

	_, err = Decode("1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16", testDevice)
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestDecodeDelimitedNonNumeric(t *testing.T) {
	_, err := Decode("7.2,abc,0.85,23.5,255,128,64,65.3,1.23,-0.45,0.78,2.15,-1.67,0.92,1.44", testDevice)
	assert.ErrorIs(t, err, ErrNotNumeric)
}

func TestDecodeCompact(t *testing.T) {
	r, err := Decode(`{"SS": 1.0, "Cu": 2.0, "pH": 7.5}`, testDevice)
	require.NoError(t, err)

	assert.Equal(t, 7.5, r.PH)
	assert.Equal(t, 1.0, r.Electrodes.SS)
	assert.Equal(t, 2.0, r.Electrodes.Cu)
	// Unlisted electrode slots stay at zero.
	assert.Zero(t, r.Electrodes.Pt)
	assert.Zero(t, r.Electrodes.Ag)
	assert.Zero(t, r.Electrodes.AgCl)
	assert.Zero(t, r.Electrodes.C)
	assert.Zero(t, r.Electrodes.Zn)
	// Missing environmental fields take their defaults.
	assert.Equal(t, 25.0, r.Temperature)
	assert.Zero(t, r.TDS)
}

func TestDecodeCompactFull(t *testing.T) {
	r, err := Decode(`{"timestamp":1700000000000,"Temp":21.5,"pH":6.8,"TDS":310,"UV":1.2,"Soil":55,"Pt":0.1,"Ag":0.2,"AgCl":0.3,"SS":0.4,"Cu":0.5,"C":0.6,"Zn":0.7}`, testDevice)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000000), r.Timestamp)
	assert.Equal(t, 21.5, r.Temperature)
	assert.Equal(t, 6.8, r.PH)
	assert.Equal(t, 310.0, r.TDS)
	assert.Equal(t, 1.2, r.UV)
	assert.Equal(t, 55.0, r.Moisture)
	assert.Equal(t, [7]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}, r.Electrodes.Slice())
}

func TestDecodeLegacy(t *testing.T) {
	raw := `{
		"timestamp": 1700000000000,
		"sensors": {"ph": 6.5, "tds": 420, "uv": 0.9, "temperature": 19.5, "moisture": 33, "color": {"r": 10, "g": 20, "b": 30}},
		"electrodes": {"pt": 0.11, "ag": 0.22, "agcl": 0.33, "ss": 0.44, "cu": 0.55, "c": 0.66, "zn": 0.77}
	}`
	r, err := Decode(raw, testDevice)
	require.NoError(t, err)

	assert.Equal(t, int64(1700000000000), r.Timestamp)
	assert.Equal(t, 6.5, r.PH)
	assert.Equal(t, 420.0, r.TDS)
	assert.Equal(t, model.Color{R: 10, G: 20, B: 30}, r.Color)
	assert.Equal(t, 0.44, r.Electrodes.SS)
}

func TestDecodeLegacyDefaults(t *testing.T) {
	r, err := Decode(`{"sensors": {"tds": 100}}`, testDevice)
	require.NoError(t, err)

	assert.Equal(t, 7.0, r.PH)
	assert.Equal(t, 25.0, r.Temperature)
	assert.Equal(t, 100.0, r.TDS)
	assert.Zero(t, r.Moisture)
	assert.Equal(t, model.Color{}, r.Color)
	// Missing timestamp falls back to now.
	assert.InDelta(t, time.Now().UnixMilli(), r.Timestamp, float64(5*time.Second/time.Millisecond))
}

func TestDecodeLegacyNeverRangeFails(t *testing.T) {
	// The structured path accepts out-of-range values instead of rejecting.
	r, err := Decode(`{"sensors": {"ph": 42.0}}`, testDevice)
	require.NoError(t, err)
	assert.Equal(t, 42.0, r.PH)
}

func TestDecodeTimestampString(t *testing.T) {
	r, err := Decode(`{"timestamp": "2023-11-14T22:13:20Z", "sensors": {}}`, testDevice)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).UnixMilli(), r.Timestamp)
}

func TestDecodeUnrecognized(t *testing.T) {
	for _, raw := range []string{"", "hello world", "12345", "CONNECTED"} {
		_, err := Decode(raw, testDevice)
		assert.ErrorIs(t, err, ErrUnrecognizedFormat, "input %q", raw)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode(`{"sensors": `, testDevice)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, IsValidFormat(`{"pH": 7.0}`))
	assert.True(t, IsValidFormat("1,2,3,4,5,6,7,8,9,10,11,12,13,14,15"))
	assert.False(t, IsValidFormat("1,2,3"))
	assert.False(t, IsValidFormat("1,2,x,4,5,6,7,8,9,10,11,12,13,14,15"))
	assert.False(t, IsValidFormat(`{"broken": `))
	assert.False(t, IsValidFormat("plain text"))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	orig := model.Reading{
		Timestamp:   time.Now().UnixMilli(),
		DeviceID:    testDevice,
		PH:          7.2,
		TDS:         450.5,
		UV:          0.85,
		Temperature: 23.5,
		Color:       model.Color{R: 255, G: 128, B: 64},
		Moisture:    65.3,
		Electrodes: model.Electrodes{
			Pt: 1.23, Ag: -0.45, AgCl: 0.78, SS: 2.15, Cu: -1.67, C: 0.92, Zn: 1.44,
		},
	}

	decoded, err := Decode(EncodeDelimited(orig), testDevice)
	require.NoError(t, err)

	// Timestamp is regenerated on the delimited path; everything else must
	// survive the round trip exactly.
	decoded.Timestamp = orig.Timestamp
	assert.Equal(t, orig, decoded)
}
