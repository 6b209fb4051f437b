package soar

import (
	"context"
	"errors"
	"iter"
	"maps"
	"net/http"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ErrEmptyIterator is returned by First when the iterator yields no items.
var ErrEmptyIterator = errors.New("iterator is empty")

// Collect gathers all items from an iterator into a slice.
// It stops on the first error and returns all items collected so far along with the error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	result := make([]T, 0)
	for item, err := range seq {
		if err != nil {
			return result, err
		}
		result = append(result, item)
	}
	return result, nil
}

// CollectN gathers up to n items from an iterator.
// It stops on the first error and returns all items collected so far along with the error.
func CollectN[T any](seq iter.Seq2[T, error], n int) ([]T, error) {
	result := make([]T, 0, n)
	if n <= 0 {
		return result, nil
	}
	for item, err := range seq {
		if err != nil {
			return result, err
		}
		result = append(result, item)
		if len(result) >= n {
			break
		}
	}
	return result, nil
}

// First returns the first item from an iterator, or an error if the iterator is empty or fails.
func First[T any](seq iter.Seq2[T, error]) (T, error) {
	for item, err := range seq {
		return item, err
	}
	var zero T
	return zero, ErrEmptyIterator
}

// Take returns an iterator that yields at most n items from the source iterator.
func Take[T any](seq iter.Seq2[T, error], n int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if n <= 0 {
			return
		}
		count := 0
		for item, err := range seq {
			if !yield(item, err) || err != nil {
				return
			}
			count++
			if count >= n {
				return
			}
		}
	}
}

// Filter returns an iterator that yields only items matching the predicate.
func Filter[T any](seq iter.Seq2[T, error], pred func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for item, err := range seq {
			if err != nil {
				yield(item, err)
				return
			}
			if pred(item) {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// paginate walks a SOAR list endpoint page by page, converting each raw
// object with build. Pages are fetched lazily as the caller iterates.
func paginate[T any](ctx context.Context, gw Gateway, path string, query Query, build func(map[string]any) T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		params := maps.Clone(query)
		if params == nil {
			params = Query{}
		}
		pageSize := defaultPageSize
		if n, ok := toInt(params["page_size"]); ok && n > 0 {
			pageSize = min(int(n), maxPageSize)
		}
		params["page_size"] = pageSize

		for page := 0; ; page++ {
			params["page"] = page

			var result listPage
			if err := send(ctx, gw, http.MethodGet, path, params, nil, &result); err != nil {
				var zero T
				yield(zero, err)
				return
			}

			for _, raw := range result.Data {
				if err := ctx.Err(); err != nil {
					var zero T
					yield(zero, err)
					return
				}
				if !yield(build(raw), nil) {
					return
				}
			}

			if len(result.Data) == 0 || page+1 >= result.NumPages {
				return
			}
		}
	}
}
