package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// Open implements stream.Transport. The token travels as a query
// parameter because EventSource-style clients cannot set headers; it is
// redacted from every log line.
func (c *Client) Open(ctx context.Context, conversationID, token string) (io.ReadCloser, error) {
	query := url.Values{"token": []string{token}}
	target := c.endpoint(conversationPath(conversationID, "stream"), query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build stream request: %v", models.ErrConnection, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	c.logger.Debug().Str("url", logging.RedactURL(target)).Msg("opening stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open stream: %v", models.ErrConnection, logging.Redact(err.Error()))
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		statusErr := newStatusError(http.MethodGet, conversationPath(conversationID, "stream"), resp.StatusCode, body)
		if errors.Is(statusErr, models.ErrAuthorization) {
			return nil, statusErr
		}
		return nil, fmt.Errorf("%w: %v", models.ErrConnection, statusErr)
	}

	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected content type %q", models.ErrConnection, mediaType)
	}

	return resp.Body, nil
}
