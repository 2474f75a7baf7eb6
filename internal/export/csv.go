package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/model"
)

// CSVHeader is the column order of CSV output.
var CSVHeader = []string{
	"row_index", "status", "confidence_score",
	"address", "city", "state", "phone", "email",
	"original_address", "original_city", "original_state",
	"latitude", "longitude", "formatted_address", "precision_tier", "maps_link",
	"zip_code", "department", "district", "neighborhood", "zip_confidence",
	"duplicate_of", "issues", "backfilled", "error",
}

func writeCSV(w io.Writer, rows []model.ProcessedRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, r := range rows {
		if err := cw.Write(csvRecord(r)); err != nil {
			return eris.Wrapf(err, "export: write csv row %d", r.RowIndex)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

func csvRecord(r model.ProcessedRow) []string {
	var lat, lng, formatted, tier, link string
	if g := r.Geocoding; g != nil {
		lat = strconv.FormatFloat(g.Latitude, 'f', -1, 64)
		lng = strconv.FormatFloat(g.Longitude, 'f', -1, 64)
		formatted, tier, link = g.FormattedAddress, string(g.PrecisionTier), g.MapsLink
	}
	var zip, dept, district, hood, zipConf string
	if z := r.ZipInfo; z != nil {
		zip, dept, district, hood, zipConf = z.ZipCode, z.Department, z.District, z.Neighborhood, string(z.Confidence)
	}

	var dupOf string
	if r.DuplicateOf != nil {
		dupOf = strconv.Itoa(*r.DuplicateOf)
	}

	return []string{
		strconv.Itoa(r.RowIndex),
		string(r.Status),
		strconv.FormatFloat(r.Score, 'f', -1, 64),
		r.Cleaned.Address, r.Cleaned.City, r.Cleaned.State, r.Cleaned.Phone, r.Cleaned.Email,
		r.Original.Address, r.Original.City, r.Original.State,
		lat, lng, formatted, tier, link,
		zip, dept, district, hood, zipConf,
		dupOf, strings.Join(r.Issues, ";"),
		strconv.FormatBool(r.Backfilled),
		r.Error,
	}
}
