package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/nihonselect/api/internal/domain"
	pfirestore "github.com/nihonselect/api/internal/platform/firestore"
	"github.com/nihonselect/api/internal/platform/pagination"
)

// pageQuery orders by (createdAt desc, id desc), resumes after the decoded cursor and fetches one
// extra document so the caller can tell whether another page exists.
func pageQuery(query firestore.Query, pager domain.Pagination) (firestore.Query, int, error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return query, 0, err
	}
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if !cursor.IsZero() {
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	return query.Limit(size + 1), size, nil
}

func buildPage[D, T any](docs []pfirestore.Document[D], size int, createdAt func(D) time.Time, convert func(pfirestore.Document[D]) T) domain.CursorPage[T] {
	page := domain.CursorPage[T]{Items: make([]T, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			last := docs[size-1]
			page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: createdAt(last.Data), ID: last.ID})
			break
		}
		page.Items = append(page.Items, convert(doc))
	}
	return page
}
