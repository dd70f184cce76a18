package jsonapi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginationLinks(t *testing.T) {
	base, err := url.Parse("/employee?sort=name")
	require.NoError(t, err)

	page := func(offset string) string {
		return "/employee?page%5Blimit%5D=10&page%5Boffset%5D=" + offset + "&sort=name"
	}

	tests := []struct {
		name   string
		offset int
		limit  int
		total  int64
		want   map[string]string
	}{
		{
			name: "first page", offset: 0, limit: 10, total: 25,
			want: map[string]string{"first": page("0"), "last": page("20"), "next": page("10")},
		},
		{
			name: "middle page", offset: 10, limit: 10, total: 25,
			want: map[string]string{"first": page("0"), "last": page("20"), "prev": page("0"), "next": page("20")},
		},
		{
			name: "last page", offset: 20, limit: 10, total: 25,
			want: map[string]string{"first": page("0"), "last": page("20"), "prev": page("10")},
		},
		{
			name: "unaligned offset", offset: 5, limit: 10, total: 22,
			want: map[string]string{"first": page("0"), "last": page("20"), "prev": page("0"), "next": page("15")},
		},
		{
			name: "empty", offset: 0, limit: 10, total: 0,
			want: map[string]string{"first": page("0"), "last": page("0")},
		},
		{
			name: "no limit", offset: 0, limit: 0, total: 25,
			want: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := PaginationLinks(base, tt.offset, tt.limit, tt.total)
			assert.Equal(t, "/employee?sort=name", links["self"])
			delete(links, "self")
			assert.Equal(t, tt.want, links)
		})
	}
}
