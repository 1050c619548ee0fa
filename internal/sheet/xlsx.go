package sheet

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/subletmap/subletmap/internal/model"
)

// ReadXLSX parses a downloaded XLSX copy of the spreadsheet into normalized
// listings, using the first sheet's first row as the header.
func ReadXLSX(path string) ([]model.Listing, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("sheet: xlsx has no sheets")
	}

	rows := f.Sheets[0].Rows
	if len(rows) == 0 {
		return nil, nil
	}

	header := rowToStrings(rows[0])

	var listings []model.Listing
	for _, row := range rows[1:] {
		record := rowToStrings(row)
		l := model.FromRecord(recordMap(header, record), header)
		if !l.HasLocation() {
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for i, cell := range row.Cells {
		cells[i] = cell.String()
	}
	return cells
}
