// Package pager walks cursor-paginated collections from the remote API.
package pager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentworkforce/graphsync/internal/checkpoint"
	"github.com/agentworkforce/graphsync/internal/graph"
	"go.uber.org/zap"
)

// Fetcher performs one GET of an absolute or base-relative link.
type Fetcher interface {
	Get(ctx context.Context, link string) graph.FetchResult
}

type Query struct {
	Resource string
	Select   []string
	// FilterField, when set, bounds the query to records at or after the
	// checkpoint timestamp.
	FilterField string
	Top         int
}

// Request is an opaque position in a page sequence.
type Request struct {
	Link string
}

// Begin builds the first request of a walk. Without a checkpoint, or for a
// query with no FilterField, the request is unbounded.
func Begin(q Query, cp *checkpoint.Checkpoint) Request {
	params := make([]string, 0, 3)
	if len(q.Select) > 0 {
		params = append(params, "$select="+strings.Join(q.Select, ","))
	}
	if cp != nil && q.FilterField != "" && !cp.LastFetchTimestamp.IsZero() {
		expr := q.FilterField + " ge " + cp.FilterValue()
		params = append(params, "$filter="+url.PathEscape(expr))
	}
	if q.Top > 0 {
		params = append(params, "$top="+strconv.Itoa(q.Top))
	}
	link := strings.Trim(q.Resource, "/")
	if len(params) > 0 {
		link += "?" + strings.Join(params, "&")
	}
	return Request{Link: link}
}

// Page is one decoded response. End marks a page that carried no usable
// records, which terminates the walk normally. Next is nil on the last page.
type Page[T any] struct {
	Number    int
	Records   []T
	Next      *Request
	End       bool
	EndReason string
	// Rejected counts records that were present but could not be decoded.
	Rejected int
	// RejectedIDs holds the ids of rejected records that carried a readable id.
	RejectedIDs []string
}

type envelope struct {
	Value    *[]json.RawMessage `json:"value"`
	NextLink string             `json:"@odata.nextLink"`
}

type WalkerOptions struct {
	Stream string
	Logger *zap.Logger
}

type Walker[T any] struct {
	fetcher    Fetcher
	controller *Controller
	stream     string
	logger     *zap.Logger
}

func NewWalker[T any](fetcher Fetcher, controller *Controller, opts WalkerOptions) *Walker[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if controller == nil {
		controller = NewController(ControllerOptions{Logger: logger})
	}
	return &Walker[T]{
		fetcher:    fetcher,
		controller: controller,
		stream:     opts.Stream,
		logger:     logger.With(zap.String("stream", opts.Stream)),
	}
}

// Fetch retrieves and decodes the page at req. A returned error is a
// transport failure; a body without records is reported through Page.End.
func (w *Walker[T]) Fetch(ctx context.Context, req Request) (Page[T], error) {
	body, err := w.controller.Do(ctx, func(ctx context.Context) graph.FetchResult {
		return w.fetcher.Get(ctx, req.Link)
	})
	if err != nil {
		return Page[T]{}, fmt.Errorf("fetch %s: %w", req.Link, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return w.end("unparseable response body: " + err.Error()), nil
	}
	if env.Value == nil {
		return w.end("response has no value field"), nil
	}
	if len(*env.Value) == 0 {
		return w.end("response value is empty"), nil
	}

	page := Page[T]{Records: make([]T, 0, len(*env.Value))}
	for i, raw := range *env.Value {
		var record T
		if err := json.Unmarshal(raw, &record); err != nil {
			id := rawID(raw)
			page.Rejected++
			if id != "" {
				page.RejectedIDs = append(page.RejectedIDs, id)
			}
			w.logger.Warn("skipping undecodable record", zap.Int("index", i), zap.String("record_id", id), zap.Error(err))
			continue
		}
		page.Records = append(page.Records, record)
	}
	if next := strings.TrimSpace(env.NextLink); next != "" {
		page.Next = &Request{Link: next}
	}
	return page, nil
}

// Walk fetches pages from req until the sequence is exhausted, handing each
// to fn. The controller's pacing delay separates successive fetches.
func (w *Walker[T]) Walk(ctx context.Context, req Request, fn func(Page[T]) error) error {
	for number := 1; ; number++ {
		if number > 1 {
			if err := w.controller.Pace(ctx); err != nil {
				return err
			}
		}
		page, err := w.Fetch(ctx, req)
		if err != nil {
			return err
		}
		page.Number = number
		if err := fn(page); err != nil {
			return err
		}
		if page.End || page.Next == nil {
			return nil
		}
		req = *page.Next
	}
}

func (w *Walker[T]) end(reason string) Page[T] {
	w.logger.Warn("ending stream", zap.String("reason", reason))
	return Page[T]{End: true, EndReason: reason}
}

func rawID(raw json.RawMessage) string {
	var head struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.ID == nil {
		return ""
	}
	return fmt.Sprint(head.ID)
}
