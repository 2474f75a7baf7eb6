package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

const sampleCSV = "\ufeffNombre,Dirección,Ciudad,Departamento,Teléfono,Correo\n" +
	"Ana,Av. Mcal. López 1234,Asunción,Central,0981 123456,ana@example.com\n" +
	",,,,,\n" +
	"Luis,xxx,NULL,Alto Paraná,0000,n/a\n"

func TestRead_CSV(t *testing.T) {
	tbl, err := Read(context.Background(), strings.NewReader(sampleCSV), FormatCSV, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Nombre", "Dirección", "Ciudad", "Departamento", "Teléfono", "Correo"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2)

	first := tbl.Rows[0]
	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "Av. Mcal. López 1234", first.Fields.Address)
	assert.Equal(t, "Asunción", first.Fields.City)
	assert.Equal(t, "Central", first.Fields.State)
	assert.Equal(t, "0981 123456", first.Fields.Phone)
	assert.Equal(t, "ana@example.com", first.Fields.Email)
	assert.Equal(t, "Ana", first.Values["Nombre"])

	// Junk placeholders are blanked in Fields but kept in Values.
	second := tbl.Rows[1]
	assert.Equal(t, 1, second.Index)
	assert.Empty(t, second.Fields.Address)
	assert.Empty(t, second.Fields.City)
	assert.Equal(t, "Alto Paraná", second.Fields.State)
	assert.Empty(t, second.Fields.Phone)
	assert.Empty(t, second.Fields.Email)
	assert.Equal(t, "xxx", second.Values["Dirección"])
}

func TestRead_Limit(t *testing.T) {
	tbl, err := Read(context.Background(), strings.NewReader(sampleCSV), FormatCSV, Options{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 1)
}

func TestRead_TSVAndRaggedRows(t *testing.T) {
	input := "address\tcity\tcity\nCalle 1\tLuque\n"
	tbl, err := Read(context.Background(), strings.NewReader(input), FormatTSV, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"address", "city", "city_2"}, tbl.Headers)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Luque", tbl.Rows[0].Fields.City)
	assert.Equal(t, "", tbl.Rows[0].Values["city_2"])
}

func TestRead_SniffsDelimiter(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		columns int
	}{
		{"semicolon", "Dirección;Ciudad;Teléfono\nPalma 123, Centro;Asunción;0981 123456\n", 3},
		{"tab", "Dirección\tCiudad\tTeléfono\nPalma 123, Centro\tAsunción\t0981 123456\n", 3},
		{
			"comma with quoted semicolons",
			"Dirección,Ciudad,Teléfono,\"Notas; internas; varias\"\n\"Palma 123, Centro\",Asunción,0981 123456,x\n",
			4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := Read(context.Background(), strings.NewReader(tt.input), FormatCSV, Options{})
			require.NoError(t, err)
			require.Len(t, tbl.Headers, tt.columns)
			require.Len(t, tbl.Rows, 1)
			assert.Equal(t, "Palma 123, Centro", tbl.Rows[0].Fields.Address)
			assert.Equal(t, "Asunción", tbl.Rows[0].Fields.City)
			assert.Equal(t, "0981 123456", tbl.Rows[0].Fields.Phone)
		})
	}
}

func TestRead_DelimiterOverride(t *testing.T) {
	input := "address|city\nCalle 1|Luque\n"
	tbl, err := Read(context.Background(), strings.NewReader(input), FormatCSV, Options{Delimiter: '|'})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 1)
	assert.Equal(t, "Luque", tbl.Rows[0].Fields.City)
}

func TestRead_NoAddressColumns(t *testing.T) {
	_, err := Read(context.Background(), strings.NewReader("name,age\nAna,30\n"), FormatCSV, Options{})
	assert.ErrorIs(t, err, ErrNoAddressColumns)
}

func TestRead_EmptyCSV(t *testing.T) {
	_, err := Read(context.Background(), strings.NewReader(""), FormatCSV, Options{})
	assert.Error(t, err)
}

func TestRead_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Read(ctx, strings.NewReader(sampleCSV), FormatCSV, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRead_JSON(t *testing.T) {
	input := `[{"direccion":"Calle 1","ciudad":"Luque","zip":1209},{"direccion":"Calle 2","telefono":null}]`
	tbl, err := Read(context.Background(), strings.NewReader(input), FormatJSON, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ciudad", "direccion", "zip", "telefono"}, tbl.Headers)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Calle 1", tbl.Rows[0].Fields.Address)
	assert.Equal(t, "1209", tbl.Rows[0].Values["zip"])
	assert.Equal(t, "", tbl.Rows[1].Values["ciudad"])
}

func TestRead_JSONNotArray(t *testing.T) {
	_, err := Read(context.Background(), strings.NewReader(`{"address":"x"}`), FormatJSON, Options{})
	assert.Error(t, err)
}

func TestReadFile_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	for _, name := range []string{"Summary", "Clientes"} {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, cells := range [][]string{{"Direccion", "Ciudad"}, {"Calle 1", "Luque"}, {"", ""}, {"Calle 2", "Limpio"}} {
			row := sheet.AddRow()
			for _, c := range cells {
				row.AddCell().SetString(c)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "clientes.xlsx")
	require.NoError(t, f.Save(path))

	tbl, err := ReadFile(context.Background(), path, Options{Sheet: "Clientes"})
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Calle 2", tbl.Rows[1].Fields.Address)
	assert.Equal(t, "Limpio", tbl.Rows[1].Fields.City)

	_, err = ReadFile(context.Background(), path, Options{Sheet: "Missing"})
	assert.ErrorContains(t, err, "not found")
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "none.csv"), Options{})
	assert.Error(t, err)
}

func TestReadFile_CSVWithAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("ubicacion,zona\nCalle 1,Central\n"), 0o644))

	tbl, err := ReadFile(context.Background(), path, Options{Aliases: Aliases{FieldAddress: {"ubicacion"}, FieldState: {"zona"}}})
	require.NoError(t, err)
	assert.Equal(t, "Calle 1", tbl.Rows[0].Fields.Address)
	assert.Equal(t, "Central", tbl.Rows[0].Fields.State)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatXLSX, FormatFromPath("a/B.XLSX"))
	assert.Equal(t, FormatJSON, FormatFromPath("rows.json"))
	assert.Equal(t, FormatTSV, FormatFromPath("rows.tsv"))
	assert.Equal(t, FormatCSV, FormatFromPath("rows.txt"))
}
