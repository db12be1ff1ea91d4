package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSeedYAML = `
locations:
  - name: Boston
    latitude: 42.3601
    longitude: -71.0589
    country: United States
    region: Massachusetts
    city: Boston
  - name: Reykjavik
    latitude: 64.1466
    longitude: -21.9426
    country: Iceland

pages:
  - title: Boston
  - title: Reykjavik
    language: is
    namespace: 0
`

func TestParse(t *testing.T) {
	file, err := Parse([]byte(sampleSeedYAML))
	require.NoError(t, err)

	require.Len(t, file.Locations, 2)
	assert.Equal(t, "Boston", file.Locations[0].Name)
	assert.InDelta(t, 42.3601, file.Locations[0].Latitude, 1e-9)
	assert.Equal(t, "Iceland", file.Locations[1].Country)

	require.Len(t, file.Pages, 2)
	assert.Equal(t, "en", file.Pages[0].Language, "language should default to en")
	assert.Equal(t, "is", file.Pages[1].Language)
}

func TestParseRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing location name",
			yaml: "locations:\n  - latitude: 1.0\n    longitude: 2.0\n",
		},
		{
			name: "latitude out of range",
			yaml: "locations:\n  - name: Nowhere\n    latitude: 91.0\n    longitude: 0.0\n",
		},
		{
			name: "longitude out of range",
			yaml: "locations:\n  - name: Nowhere\n    latitude: 0.0\n    longitude: -181.0\n",
		},
		{
			name: "missing page title",
			yaml: "pages:\n  - language: en\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSeedEntry)
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("locations: [unclosed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeedFileUnreadable)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/seed.yml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSeedFileUnreadable)
}
