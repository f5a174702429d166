package discourse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"topic_syncer/internal/domain"
)

const (
	SourceID   = "discourse"
	SourceName = "Discourse forum"
)

// Selectors locates the parts of origin pages. Empty fields are not allowed.
type Selectors struct {
	CategoryContainer string
	CategoryRow       string
	CategoryItem      string
	CategoryName      string
	CategoryLink      string
	CategoryDesc      string
	TopicContainer    string
	TopicLink         string
	TopicBody         string
}

// Config holds origin source configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Selectors Selectors
}

// Source reads category listings and topic pages from the origin forum.
// It never retries: the poll loop is the retry mechanism.
type Source struct {
	httpClient *http.Client
	baseURL    *url.URL
	userAgent  string
	sel        Selectors
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Source, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:   base,
		userAgent: cfg.UserAgent,
		sel:       cfg.Selectors,
		logger:    logger.With("source", SourceID),
	}, nil
}

func (s *Source) ID() string {
	return SourceID
}

func (s *Source) Name() string {
	return SourceName
}

// ListCategories reads the category index at the base URL.
func (s *Source) ListCategories(ctx context.Context) ([]domain.Category, error) {
	pageURL := s.baseURL.String()

	doc, err := s.fetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	if doc.Find(s.sel.CategoryContainer).Length() == 0 {
		return nil, &domain.ParseError{URL: pageURL, Reason: fmt.Sprintf("no %q element", s.sel.CategoryContainer)}
	}

	categories := parseCategories(doc, s.sel, s.baseURL)
	s.logger.Debug("listed categories", "count", len(categories))

	return categories, nil
}

// ListTopics returns the first limit topics of a listing page, newest first.
func (s *Source) ListTopics(ctx context.Context, listingURL string, limit int) ([]domain.TopicRef, error) {
	doc, err := s.fetchDocument(ctx, listingURL)
	if err != nil {
		return nil, err
	}

	if doc.Find(s.sel.TopicContainer).Length() == 0 {
		return nil, &domain.ParseError{URL: listingURL, Reason: fmt.Sprintf("no %q element", s.sel.TopicContainer)}
	}

	listing, err := url.Parse(listingURL)
	if err != nil {
		return nil, &domain.ParseError{URL: listingURL, Reason: "invalid listing url", Err: err}
	}

	topics := parseTopics(doc, s.sel, listing, limit)
	s.logger.Debug("listed topics", "url", listingURL, "count", len(topics))

	return topics, nil
}

// FetchTopicBody returns the normalized text of a topic, or domain.NoTopicBody
// when the page has no content region.
func (s *Source) FetchTopicBody(ctx context.Context, topicURL string) (string, error) {
	doc, err := s.fetchDocument(ctx, topicURL)
	if err != nil {
		return "", err
	}

	body := doc.Find(s.sel.TopicBody).First()
	if body.Length() == 0 {
		s.logger.Debug("topic has no body", "url", topicURL)
		return domain.NoTopicBody, nil
	}

	return normalizeText(body), nil
}

func (s *Source) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: pageURL, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Accept", "text/html")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FetchError{URL: pageURL, Err: fmt.Errorf("execute request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.FetchError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	// html parsing is lenient; an error here comes from reading the body.
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{URL: pageURL, Err: fmt.Errorf("read body: %w", err)}
	}

	return doc, nil
}
