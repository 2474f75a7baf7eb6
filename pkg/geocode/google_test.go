package geocode

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geobatch/internal/cost"
)

func TestGoogleGeocode_AllCandidates(t *testing.T) {
	stub := newGoogleStub(t, okReply(`{
		"status": "OK",
		"results": [{
			"geometry": {"location": {"lat": -25.2822, "lng": -57.6351}, "location_type": "GEOMETRIC_CENTER"},
			"formatted_address": "Palma, Asunción, Paraguay",
			"address_components": [
				{"long_name": "1209", "types": ["postal_code"]},
				{"long_name": "Asunción", "types": ["locality", "political"]},
				{"long_name": "Capital", "types": ["administrative_area_level_1", "political"]},
				{"long_name": "Paraguay", "types": ["country", "political"]}
			]
		}, {
			"geometry": {"location_type": "APPROXIMATE"},
			"formatted_address": "Paraguay"
		}]
	}`))

	cands, err := stub.client(WithRegion("py")).Geocode(context.Background(),
		AddressInput{Street: "Calle Palma 123", City: "Asunción", Country: "Paraguay"})
	require.NoError(t, err)
	require.Len(t, cands, 2)

	q := stub.lastQuery()
	assert.Equal(t, "Calle Palma 123, Asunción, Paraguay", q.Get("address"))
	assert.Equal(t, "py", q.Get("region"))
	assert.Equal(t, "test-key", q.Get("key"))

	assert.InDelta(t, -25.2822, cands[0].Location.Lat, 0.0001)
	assert.Equal(t, "GEOMETRIC_CENTER", cands[0].LocationType)
	assert.Equal(t, "1209", cands[0].PostalCode)
	assert.Equal(t, "Asunción", cands[0].Locality)
	assert.Equal(t, "Capital", cands[0].AdminArea)
	assert.Equal(t, "Paraguay", cands[0].Country)
	assert.Nil(t, cands[1].Location)
}

func TestGoogleGeocode_ZeroResults(t *testing.T) {
	stub := newGoogleStub(t, okReply(`{"status": "ZERO_RESULTS", "results": []}`))

	cands, err := stub.client().Geocode(context.Background(), AddressInput{Street: "Nowhere"})
	require.NoError(t, err)
	assert.NotNil(t, cands)
	assert.Empty(t, cands)
}

func TestGoogleGeocode_EmptyAddressSkipsCall(t *testing.T) {
	stub := newGoogleStub(t)

	cands, err := stub.client().Geocode(context.Background(), AddressInput{})
	require.NoError(t, err)
	assert.Empty(t, cands)
	assert.Zero(t, stub.calls())
}

func TestGoogleGeocode_RetriesTransient(t *testing.T) {
	stub := newGoogleStub(t,
		reply{code: http.StatusServiceUnavailable},
		okReply(`{"status": "OVER_QUERY_LIMIT"}`),
		okReply(`{"status": "OK", "results": [{"geometry": {"location": {"lat": 1, "lng": 2}, "location_type": "ROOFTOP"}}]}`),
	)

	tracker := cost.NewTracker()
	ctx := cost.WithTracker(context.Background(), tracker)
	cands, err := stub.client().Geocode(ctx, AddressInput{Street: "Ruta 1"})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 3, stub.calls())
	// Only the request that returned results is billable.
	assert.Equal(t, 1, tracker.Usage().GeocodeRequests)
}

func TestGoogleGeocode_RequestDenied(t *testing.T) {
	stub := newGoogleStub(t, okReply(`{"status": "REQUEST_DENIED", "error_message": "The provided API key is invalid."}`))

	_, err := stub.client().Geocode(context.Background(), AddressInput{Street: "Ruta 1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_DENIED")
	assert.Equal(t, 1, stub.calls())
}

func TestGoogleGeocode_NoKey(t *testing.T) {
	_, err := NewGoogle("").Geocode(context.Background(), AddressInput{Street: "x"})
	assert.Error(t, err)
}

func TestGoogleReverse(t *testing.T) {
	stub := newGoogleStub(t, okReply(`{"status": "OK", "results": [{
		"geometry": {"location": {"lat": -25.3, "lng": -57.6}, "location_type": "APPROXIMATE"},
		"address_components": [
			{"long_name": "2160", "types": ["postal_code"]},
			{"long_name": "Villa Morra", "types": ["neighborhood", "political"]}
		]
	}]}`))

	cands, err := stub.client().Reverse(context.Background(), -25.3, -57.6)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "-25.3,-57.6", stub.lastQuery().Get("latlng"))
	assert.Equal(t, "2160", cands[0].PostalCode)
	assert.Equal(t, "Villa Morra", cands[0].Sublocality)
}

func TestAddressInput_Query(t *testing.T) {
	assert.Equal(t, "Ruta 2, Capiatá", AddressInput{Street: " Ruta 2 ", City: "Capiatá"}.Query())
	assert.Empty(t, AddressInput{}.Query())
}
