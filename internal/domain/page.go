package domain

// CurrencyJPY is the only settlement currency. Amounts are whole yen.
const CurrencyJPY = "JPY"

// Pagination is a cursor page request. An empty PageToken starts at the newest record.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage is one page of results. NextPageToken is empty on the last page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
