package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// sniffLimit caps how much of the header line is inspected.
const sniffLimit = 64 << 10

// readCSV returns the header row and up to limit non-blank records. A zero
// delim is sniffed from the header line.
func readCSV(ctx context.Context, r io.Reader, delim rune, limit int) ([]string, [][]string, error) {
	if delim == 0 {
		br := bufio.NewReaderSize(r, sniffLimit)
		delim = sniffDelimiter(br)
		r = br
	}
	reader := csv.NewReader(r)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, nil, eris.New("csv: empty input")
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "csv: read header")
	}
	if len(headers) > 0 {
		headers[0] = stripBOM(headers[0])
	}

	var records [][]string
	for limit <= 0 || len(records) < limit {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "csv: context cancelled")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, eris.Wrap(err, "csv: read row")
		}
		if blank(record) {
			continue
		}
		records = append(records, record)
	}
	return headers, records, nil
}

// sniffDelimiter picks the most frequent of , ; and tab outside quotes in
// the first line. Ties and lines with none of them fall back to a comma.
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(sniffLimit)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}

	counts := map[byte]int{}
	quoted := false
	for _, b := range head {
		switch {
		case b == '"':
			quoted = !quoted
		case !quoted && (b == ',' || b == ';' || b == '\t'):
			counts[b]++
		}
	}

	best := byte(',')
	for _, c := range []byte{';', '\t'} {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return rune(best)
}
