package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andygrunwald/fuel-price-scraper/internal/api/minetur"
	"github.com/andygrunwald/fuel-price-scraper/internal/models"
)

var testDate = time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)

func sampleRecord() minetur.Record {
	return minetur.Record{
		"IDEESS":                             "4375",
		"Rótulo":                             "REPSOL",
		"C.P.":                               "28001",
		"Dirección":                          "CALLE SERRANO, 10",
		"Latitud":                            "40,424833",
		"Longitud (WGS84)":                   "-3,687806",
		"Municipio":                          "Madrid",
		"Provincia":                          "MADRID",
		"Precio Gasoleo A":                   "1,459",
		"Precio Gasoleo B":                   "",
		"Precio Gasolina 95 E5":              "1,529",
		"Precio Gasolina 98 E5":              "1,689",
		"Precio Gases licuados del petróleo": "0,859",
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		state   models.PriceState
		wantErr bool
	}{
		{name: "comma decimal", input: "1,459", want: 1.459, state: models.PriceAvailable},
		{name: "dot decimal", input: "1.459", want: 1.459, state: models.PriceAvailable},
		{name: "surrounding whitespace", input: " 0,859 ", want: 0.859, state: models.PriceAvailable},
		{name: "blank", input: "", want: 0.0, state: models.PriceUnavailable},
		{name: "whitespace only", input: "   ", want: 0.0, state: models.PriceUnavailable},
		{name: "garbage", input: "n/a", wantErr: true},
		{name: "negative", input: "-1,2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePrice(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.state, got.State)
			assert.InDelta(t, tt.want, got.Float(), 1e-9)
		})
	}
}

func TestFoldKey(t *testing.T) {
	assert.Equal(t, FoldKey("Rotulo"), FoldKey("Rótulo"))
	assert.Equal(t, "precio gases licuados del petroleo", FoldKey("Precio  Gases licuados del Petróleo"))
	assert.Equal(t, "direccion", FoldKey("Dirección"))
}

func TestRecord(t *testing.T) {
	station, obs, err := Record(sampleRecord(), testDate.Add(15*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, models.Station{
		ID:           "4375",
		Brand:        "REPSOL",
		PostalCode:   "28001",
		Address:      "CALLE SERRANO, 10",
		Latitude:     "40,424833",
		Longitude:    "-3,687806",
		Municipality: "Madrid",
		Province:     "MADRID",
	}, station)

	assert.Equal(t, "4375", obs.StationID)
	assert.Equal(t, testDate, obs.Date)
	assert.InDelta(t, 1.459, obs.DieselA.Float(), 1e-9)
	assert.Equal(t, models.PriceUnavailable, obs.DieselB.State)
	assert.Equal(t, 0.0, obs.DieselB.Float())
	assert.InDelta(t, 1.529, obs.Gasoline95.Float(), 1e-9)
	assert.InDelta(t, 1.689, obs.Gasoline98.Float(), 1e-9)
	assert.InDelta(t, 0.859, obs.LPG.Float(), 1e-9)
}

func TestRecord_UnaccentedLabelsMatch(t *testing.T) {
	accented, _, err := Record(sampleRecord(), testDate)
	require.NoError(t, err)

	plain := sampleRecord()
	plain["Rotulo"] = plain["Rótulo"]
	delete(plain, "Rótulo")
	plain["Direccion"] = plain["Dirección"]
	delete(plain, "Dirección")

	unaccented, _, err := Record(plain, testDate)
	require.NoError(t, err)
	assert.Equal(t, accented, unaccented)
}

func TestRecord_MissingPriceFieldIsUnknown(t *testing.T) {
	rec := sampleRecord()
	delete(rec, "Precio Gasolina 98 E5")

	_, obs, err := Record(rec, testDate)
	require.NoError(t, err)
	assert.Equal(t, models.PriceUnknown, obs.Gasoline98.State)
	assert.Nil(t, obs.Gasoline98.Ptr())
}

func TestRecord_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(minetur.Record)
	}{
		{name: "missing id", mutate: func(r minetur.Record) { delete(r, "IDEESS") }},
		{name: "blank id", mutate: func(r minetur.Record) { r["IDEESS"] = " " }},
		{name: "missing province", mutate: func(r minetur.Record) { delete(r, "Provincia") }},
		{name: "malformed price", mutate: func(r minetur.Record) { r["Precio Gasoleo A"] = "1,4,5" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mutate(rec)
			_, _, err := Record(rec, testDate)
			assert.ErrorIs(t, err, ErrMalformedRecord)
		})
	}
}

func TestRecord_NonStringValues(t *testing.T) {
	rec := sampleRecord()
	rec["IDEESS"] = float64(4375)
	rec["Municipio"] = nil

	station, _, err := Record(rec, testDate)
	require.NoError(t, err)
	assert.Equal(t, "4375", station.ID)
	assert.Equal(t, "", station.Municipality)
}

func TestSnapshot_RejectsSingleRecord(t *testing.T) {
	broken := sampleRecord()
	delete(broken, "IDEESS")

	second := sampleRecord()
	second["IDEESS"] = "5122"

	duplicate := sampleRecord()
	duplicate["Rótulo"] = "CEPSA"

	res := Snapshot([]minetur.Record{sampleRecord(), broken, second, duplicate}, testDate)

	require.Len(t, res.Stations, 2)
	require.Len(t, res.Observations, 2)
	assert.Equal(t, "4375", res.Stations[0].ID)
	assert.Equal(t, "REPSOL", res.Stations[0].Brand)
	assert.Equal(t, "5122", res.Stations[1].ID)

	require.Len(t, res.Rejected, 2)
	assert.ErrorIs(t, res.Rejected[0], ErrMalformedRecord)
	assert.ErrorIs(t, res.Rejected[1], ErrMalformedRecord)
	assert.Contains(t, res.Rejected[1].Error(), "record 3")
	assert.Contains(t, res.Rejected[1].Error(), "duplicate station id 4375")
}
