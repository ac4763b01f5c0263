package contacts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/whatsapp-dispatch/internal/domain"
	"github.com/ignite/whatsapp-dispatch/internal/phone"
)

func newTestParser() *Parser {
	return NewParser(phone.NewNormalizer("57", []string{"3"}))
}

func TestParsePartition(t *testing.T) {
	table := domain.ContactTable{
		Header: []string{"Nombre", "Celular", "Ciudad"},
		Rows: [][]string{
			{"Ana", "300 123 4567", "Bogotá"},
			{"Luis", "12345", "Cali"},
			{"", "", ""},
			{"Marta", "", "Medellín"},
			{"Ana bis", "+573001234567", "Bogotá"},
			{"Pedro", "+1 415 555 2671", "SF"},
		},
	}

	res, err := newTestParser().Parse(table)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Total)
	require.Len(t, res.Valid, 2)
	assert.Equal(t, "+573001234567", res.Valid[0].NormalizedPhone)
	assert.Equal(t, "Ana", res.Valid[0].Name)
	assert.Equal(t, "Bogotá", res.Valid[0].Fields["ciudad"])
	assert.Equal(t, 2, res.Valid[0].Row)
	assert.Equal(t, "+14155552671", res.Valid[1].NormalizedPhone)
	assert.True(t, res.Valid[1].Valid)

	assert.Equal(t, []domain.RejectedRow{
		{Row: 3, Phone: "12345", Reason: domain.RejectValidation},
		{Row: 5, Reason: domain.RejectMissingPhone},
		{Row: 6, Phone: "+573001234567", Reason: domain.RejectDuplicate},
	}, res.Rejected)
}

func TestParseDeterministic(t *testing.T) {
	table := domain.ContactTable{
		Header: []string{"phone", "name"},
		Rows:   [][]string{{"3001112222", "a"}, {"bad", "b"}, {"3003334444", "c"}},
	}
	p := newTestParser()

	first, err := p.Parse(table)
	require.NoError(t, err)
	second, err := p.Parse(table)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseNoValidContacts(t *testing.T) {
	table := domain.ContactTable{
		Header: []string{"phone"},
		Rows:   [][]string{{"123"}, {"abc"}},
	}

	res, err := newTestParser().Parse(table)
	assert.ErrorIs(t, err, ErrNoValidContacts)
	require.NotNil(t, res)
	assert.Len(t, res.Rejected, 2)
}

func TestParseNoPhoneColumn(t *testing.T) {
	_, err := newTestParser().Parse(domain.ContactTable{Header: []string{"email"}, Rows: [][]string{{"a@b.co"}}})
	assert.ErrorIs(t, err, ErrNoPhoneColumn)

	_, err = newTestParser().Parse(domain.ContactTable{})
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestParsePhoneAliases(t *testing.T) {
	for _, header := range []string{"Phone Number", "WhatsApp", "Teléfono", "MOBILE", " tel "} {
		res, err := newTestParser().Parse(domain.ContactTable{
			Header: []string{header},
			Rows:   [][]string{{"3001234567"}},
		})
		require.NoError(t, err, header)
		assert.Len(t, res.Valid, 1, header)
	}
}

func TestReadCSVQuoting(t *testing.T) {
	input := "name,phone,note\n\"Pérez, Juan\",300 123 4567,\"said \"\"hola\"\"\"\n"
	table, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "phone", "note"}, table.Header)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Pérez, Juan", table.Rows[0][0])
	assert.Equal(t, `said "hola"`, table.Rows[0][2])
}

func TestReadCSVSemicolon(t *testing.T) {
	input := "\ufeffNombre;Celular\nAna;3001234567\n"
	table, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)

	res, err := newTestParser().Parse(table)
	require.NoError(t, err)
	assert.Equal(t, "Ana", res.Valid[0].Name)
	assert.Equal(t, "+573001234567", res.Valid[0].NormalizedPhone)
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("  \n"))
	assert.ErrorIs(t, err, ErrEmptyTable)
}
