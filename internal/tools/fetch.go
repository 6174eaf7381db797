package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/httpkit"
)

func fetchURL(ctx context.Context, client *http.Client, url string) (*catalog.Result, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("url must be absolute http(s), got %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return &catalog.Result{
				Advice: adviceForStatus(resp.StatusCode),
			}, fmt.Errorf("fetch %s: status %d: %s", url, resp.StatusCode, errBody)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	result := &catalog.Result{Data: string(body)}
	if len(body) == maxFetchBytes {
		result.Advice = "The page was truncated; ask for a more specific URL if detail is missing."
	}
	return result, nil
}

// adviceForStatus maps common HTTP failures to user-facing guidance.
func adviceForStatus(code int) string {
	switch {
	case code == http.StatusNotFound:
		return "The page does not exist; the link may be stale or mistyped."
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "The site refused access; it may require a login I don't have."
	case code == http.StatusTooManyRequests:
		return "The site is rate limiting; trying again later may work."
	case code >= 500:
		return "The site is having trouble; trying again later may work."
	}
	return ""
}
