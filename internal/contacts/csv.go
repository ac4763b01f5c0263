package contacts

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
)

// ReadCSV reads a delimited file into a ContactTable. The delimiter is
// sniffed from the header line: semicolon-separated exports (common from
// spreadsheet tools in es locales) are accepted alongside commas.
func ReadCSV(r io.Reader) (domain.ContactTable, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return domain.ContactTable{}, fmt.Errorf("read contact list: %w", err)
	}
	if len(bytes.TrimSpace(head)) == 0 {
		return domain.ContactTable{}, ErrEmptyTable
	}

	csvReader := csv.NewReader(br)
	csvReader.FieldsPerRecord = -1 // Allow variable fields
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.Comma = sniffDelimiter(head)

	records, err := csvReader.ReadAll()
	if err != nil {
		return domain.ContactTable{}, fmt.Errorf("parse contact list: %w", err)
	}
	if len(records) == 0 {
		return domain.ContactTable{}, ErrEmptyTable
	}

	return domain.ContactTable{Header: records[0], Rows: records[1:]}, nil
}

func sniffDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	commas := bytes.Count(line, []byte{','})
	semis := bytes.Count(line, []byte{';'})
	tabs := bytes.Count(line, []byte{'\t'})
	switch {
	case semis > commas && semis >= tabs:
		return ';'
	case tabs > commas && tabs > semis:
		return '\t'
	default:
		return ','
	}
}
