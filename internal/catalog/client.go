package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Marquee/pkg/logger"
)

const (
	DefaultBaseUrl = "https://api.themoviedb.org/3"

	listPageTemplate    = "%s/movie/%s"
	movieDetailTemplate = "%s/movie/%d"
	appendToResponse    = "reviews,videos"
)

var log = logger.Get("Catalog")

type (
	Config struct {
		ApiKey         string        `yaml:"api_key" env:"CATALOG_API_KEY"`
		BaseUrl        string        `yaml:"base_url" env:"CATALOG_BASE_URL" env-default:"https://api.themoviedb.org/3"`
		Language       string        `yaml:"language" env:"CATALOG_LANGUAGE" env-default:"en-US"`
		RequestTimeout time.Duration `yaml:"request_timeout" env:"CATALOG_REQUEST_TIMEOUT" env-default:"15s"`
	}

	// Client fetches movie lists and movie details from a TMDB-compatible
	// catalog service. See https://developer.themoviedb.org/reference/intro/getting-started
	// for information on the API.
	Client struct {
		config     Config
		httpClient *http.Client
		validate   *validator.Validate
	}
)

func NewClient(config Config) *Client {
	if config.BaseUrl == "" {
		config.BaseUrl = DefaultBaseUrl
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		validate:   validator.New(),
	}
}

// FetchListPage fetches a single page of the named list. Items in the page
// which are malformed (e.g. missing an ID or title) are logged and skipped
// without discarding the rest of the page. The returned summaries are in
// the order provided by the catalog.
func (client *Client) FetchListPage(ctx context.Context, listName string, page int) ([]*Summary, error) {
	path := fmt.Sprintf(listPageTemplate, client.config.BaseUrl, url.PathEscape(listName))
	query := url.Values{"page": []string{strconv.Itoa(page)}}

	var response listPage
	if err := client.httpGetJsonResponse(ctx, path, query, &response); err != nil {
		return nil, err
	}

	results := make([]*Summary, 0, len(response.Results))
	for index, raw := range response.Results {
		var summary Summary
		if err := json.Unmarshal(raw, &summary); err != nil {
			log.Warnf("Skipping malformed item %d in page %d of list %s: %v\n", index, page, listName, err)
			continue
		}
		summary.normalize()
		if err := client.validate.Struct(&summary); err != nil {
			log.Warnf("Skipping invalid item %d (id=%d) in page %d of list %s: %v\n", index, summary.ID, page, listName, err)
			continue
		}

		results = append(results, &summary)
	}

	log.Debugf("Fetched %d/%d movies from page %d of list %s\n", len(results), len(response.Results), page, listName)
	return results, nil
}

// FetchMovieDetail fetches the full detail of a movie, including its reviews
// and videos. Reviews or videos which are malformed are logged and dropped, but a
// detail response without a valid ID or title fails with ErrParse.
func (client *Client) FetchMovieDetail(ctx context.Context, movieID int64) (*Detail, error) {
	path := fmt.Sprintf(movieDetailTemplate, client.config.BaseUrl, movieID)
	query := url.Values{"append_to_response": []string{appendToResponse}}

	var detail Detail
	if err := client.httpGetJsonResponse(ctx, path, query, &detail); err != nil {
		return nil, err
	}
	detail.Summary.normalize()
	if err := client.validate.Struct(&detail.Summary); err != nil {
		return nil, fmt.Errorf("%w: detail for movie %d is invalid: %w", ErrParse, movieID, err)
	}

	reviews := make([]Review, 0, len(detail.Reviews.Results))
	seenReviews := make(map[string]struct{}, len(detail.Reviews.Results))
	for _, review := range detail.Reviews.Results {
		if err := client.validate.Struct(&review); err != nil {
			log.Warnf("Dropping invalid review for movie %d: %v\n", movieID, err)
			continue
		}
		if _, ok := seenReviews[review.ID]; ok {
			log.Warnf("Dropping duplicate review %s for movie %d\n", review.ID, movieID)
			continue
		}

		seenReviews[review.ID] = struct{}{}
		reviews = append(reviews, review)
	}

	videos := make([]Video, 0, len(detail.Videos.Results))
	for _, video := range detail.Videos.Results {
		if err := client.validate.Struct(&video); err != nil {
			log.Warnf("Dropping invalid video for movie %d: %v\n", movieID, err)
			continue
		}
		videos = append(videos, video)
	}

	detail.Reviews.Results = reviews
	detail.Videos.Results = videos
	return &detail, nil
}

func (client *Client) httpGetJsonResponse(ctx context.Context, path string, query url.Values, target interface{}) error {
	query.Set("api_key", client.config.ApiKey)
	if client.config.Language != "" {
		query.Set("language", client.config.Language)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path+"?"+query.Encode(), nil)
	if err != nil {
		return &UnknownRequestError{reason: fmt.Sprintf("failed to construct GET(%s): %s", path, redactKey(err.Error(), client.config.ApiKey))}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.httpClient.Do(req)
	if err != nil {
		return &UnknownRequestError{reason: fmt.Sprintf("failed to perform GET(%s): %s", path, redactKey(err.Error(), client.config.ApiKey)), err: ctxErrOr(ctx, err)}
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var catalogErr catalogError
		if err := json.Unmarshal(respBody, &catalogErr); err != nil {
			return &FailedRequestError{httpCode: resp.StatusCode, message: "non-OK response could not be unmarshalled", catalogCode: -1}
		}

		return &FailedRequestError{httpCode: resp.StatusCode, message: catalogErr.StatusMessage, catalogCode: catalogErr.StatusCode}
	}

	if err != nil {
		return &UnknownRequestError{reason: fmt.Sprintf("failed to read response body: %s", err), err: ctxErrOr(ctx, err)}
	}

	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("%w: response JSON could not be unmarshalled: %w", ErrParse, err)
	}

	return nil
}

// ctxErrOr returns the context error if the context is done, otherwise the
// fallback error. This ensures timeouts surface as context.DeadlineExceeded.
func ctxErrOr(ctx context.Context, fallback error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fallback
}

func redactKey(message string, key string) string {
	if key == "" {
		return message
	}

	return strings.ReplaceAll(message, key, "<redacted>")
}
