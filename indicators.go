package soar

import (
	"context"
	"errors"
	"iter"
	"net/http"
)

// IndicatorService provides read access to indicators.
type IndicatorService interface {
	// List returns an iterator over indicators matching the query.
	List(ctx context.Context, query Query) iter.Seq2[*Indicator, error]

	// Get retrieves an indicator by id.
	Get(ctx context.Context, id int64) (*Indicator, error)

	// ByValue returns the indicator with exactly the given value.
	ByValue(ctx context.Context, value string) (*Indicator, error)
}

type indicatorService struct {
	gw Gateway
}

func newIndicatorService(gw Gateway) *indicatorService {
	return &indicatorService{gw: gw}
}

func (s *indicatorService) List(ctx context.Context, query Query) iter.Seq2[*Indicator, error] {
	return paginate(ctx, s.gw, "indicator", query, func(raw map[string]any) *Indicator {
		return &Indicator{Record: newRecord(raw)}
	})
}

func (s *indicatorService) Get(ctx context.Context, id int64) (*Indicator, error) {
	if id == 0 {
		return nil, validationError("indicator id cannot be zero")
	}
	raw, err := getRecord(ctx, s.gw, idPath("indicator", id), nil)
	if err != nil {
		return nil, notFound(err, "indicator", id)
	}
	return &Indicator{Record: newRecord(raw)}, nil
}

func (s *indicatorService) ByValue(ctx context.Context, value string) (*Indicator, error) {
	if value == "" {
		return nil, validationError("indicator value cannot be empty")
	}
	indicator, err := First(s.List(ctx, Query{"_filter_value": value, "page_size": 1}))
	if errors.Is(err, ErrEmptyIterator) {
		return nil, &NotFoundError{
			APIError:     APIError{StatusCode: http.StatusNotFound, Message: "indicator not found"},
			ResourceType: "indicator",
			ResourceID:   value,
		}
	}
	return indicator, err
}
