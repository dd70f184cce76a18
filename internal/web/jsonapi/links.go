package jsonapi

import (
	"net/url"
	"strconv"
)

// PaginationLinks builds self, first, last, prev and next links for an
// offset based page. prev and next are only present when such a page exists.
// A limit of zero or less yields only the self link.
func PaginationLinks(base *url.URL, offset, limit int, total int64) map[string]string {
	links := map[string]string{"self": base.String()}
	if limit <= 0 {
		return links
	}

	lastOffset := 0
	if total > 0 {
		lastOffset = int((total - 1) / int64(limit) * int64(limit))
	}

	links["first"] = pageURL(base, 0, limit)
	links["last"] = pageURL(base, lastOffset, limit)
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		links["prev"] = pageURL(base, prev, limit)
	}
	if int64(offset+limit) < total {
		links["next"] = pageURL(base, offset+limit, limit)
	}
	return links
}

func pageURL(base *url.URL, offset, limit int) string {
	u := *base
	q := u.Query()
	q.Set("page[limit]", strconv.Itoa(limit))
	q.Set("page[offset]", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}
