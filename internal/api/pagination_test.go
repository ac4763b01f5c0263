package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		query string
		want  Window
	}{
		{"", Window{Limit: 50, Offset: 0}},
		{"?limit=0", Window{Limit: 50, Offset: 0}},
		{"?limit=1000", Window{Limit: 200, Offset: 0}},
		{"?limit=10&page=3", Window{Limit: 10, Offset: 20}},
		{"?limit=10&page=3&offset=5", Window{Limit: 10, Offset: 5}},
		{"?page=-2", Window{Limit: 50, Offset: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/campaigns"+tt.query, nil)
			assert.Equal(t, tt.want, ParseWindow(r, 50, 200))
		})
	}
}

func TestNewPage(t *testing.T) {
	p := NewPage([]string{"a", "b"}, Window{Limit: 2, Offset: 0}, 5)
	assert.True(t, p.Pagination.HasMore)
	require.NotNil(t, p.Pagination.NextOffset)
	assert.Equal(t, 2, *p.Pagination.NextOffset)

	last := NewPage([]string{"e"}, Window{Limit: 2, Offset: 4}, 5)
	assert.False(t, last.Pagination.HasMore)
	assert.Nil(t, last.Pagination.NextOffset)

	empty := NewPage[int](nil, Window{Limit: 2}, 0)
	assert.NotNil(t, empty.Data)
	assert.Empty(t, empty.Data)
}
