package export

import (
	"io"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/model"
)

// Record is the flat Parquet row of a processed address.
type Record struct {
	RowIndex        int64   `parquet:"row_index"`
	Status          string  `parquet:"status"`
	ConfidenceScore float64 `parquet:"confidence_score"`

	Address string `parquet:"address"`
	City    string `parquet:"city"`
	State   string `parquet:"state"`
	Phone   string `parquet:"phone"`
	Email   string `parquet:"email"`

	OriginalAddress string `parquet:"original_address"`

	Latitude         *float64 `parquet:"latitude,optional"`
	Longitude        *float64 `parquet:"longitude,optional"`
	FormattedAddress string   `parquet:"formatted_address"`
	PrecisionTier    string   `parquet:"precision_tier"`
	MapsLink         string   `parquet:"maps_link"`

	ZipCode       string `parquet:"zip_code"`
	Department    string `parquet:"department"`
	District      string `parquet:"district"`
	Neighborhood  string `parquet:"neighborhood"`
	ZipConfidence string `parquet:"zip_confidence"`

	DuplicateOf *int64   `parquet:"duplicate_of,optional"`
	Issues      []string `parquet:"issues,list"`
	Backfilled  bool     `parquet:"backfilled"`
	Error       string   `parquet:"error"`
}

// NewRecord flattens a processed row.
func NewRecord(r model.ProcessedRow) Record {
	rec := Record{
		RowIndex:        int64(r.RowIndex),
		Status:          string(r.Status),
		ConfidenceScore: r.Score,
		Address:         r.Cleaned.Address,
		City:            r.Cleaned.City,
		State:           r.Cleaned.State,
		Phone:           r.Cleaned.Phone,
		Email:           r.Cleaned.Email,
		OriginalAddress: r.Original.Address,
		Issues:          r.Issues,
		Backfilled:      r.Backfilled,
		Error:           r.Error,
	}
	if r.DuplicateOf != nil {
		d := int64(*r.DuplicateOf)
		rec.DuplicateOf = &d
	}
	if g := r.Geocoding; g != nil {
		lat, lng := g.Latitude, g.Longitude
		rec.Latitude, rec.Longitude = &lat, &lng
		rec.FormattedAddress = g.FormattedAddress
		rec.PrecisionTier = string(g.PrecisionTier)
		rec.MapsLink = g.MapsLink
	}
	if z := r.ZipInfo; z != nil {
		rec.ZipCode = z.ZipCode
		rec.Department = z.Department
		rec.District = z.District
		rec.Neighborhood = z.Neighborhood
		rec.ZipConfidence = string(z.Confidence)
	}
	return rec
}

func writeParquet(w io.Writer, rows []model.ProcessedRow) error {
	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = NewRecord(r)
	}

	pw := parquet.NewGenericWriter[Record](w, parquet.Compression(&parquet.Snappy))
	if _, err := pw.Write(records); err != nil {
		_ = pw.Close()
		return eris.Wrap(err, "export: write parquet rows")
	}
	return eris.Wrap(pw.Close(), "export: close parquet writer")
}
