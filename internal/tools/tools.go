// Package tools provides the built-in tool handlers registered in the
// catalog. Each handler is a plain function behind the uniform invoke
// contract; tools that need outbound HTTP share the httpkit client.
package tools

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/murmurhq/murmur/internal/catalog"
	"github.com/murmurhq/murmur/internal/httpkit"
)

// Config controls which built-ins are registered and how they behave.
type Config struct {
	// WorkspacePath is the root directory read_file may serve. Empty
	// disables the tool.
	WorkspacePath string
	// WeatherBaseURL overrides the forecast API endpoint (tests).
	WeatherBaseURL string
}

// Builtins returns the built-in tool set for the given config, ready
// for catalog registration.
func Builtins(cfg Config) []*catalog.Tool {
	client := httpkit.NewClient(httpkit.WithTimeout(30 * time.Second))

	list := []*catalog.Tool{
		clockTool(),
		fetchTool(client),
		weatherTool(client, cfg.WeatherBaseURL),
	}

	if cfg.WorkspacePath != "" {
		list = append(list, readFileTool(cfg.WorkspacePath))
	}

	return list
}

func clockTool() *catalog.Tool {
	return &catalog.Tool{
		Name:        "clock",
		Description: "Get the current date and time. Use when the user asks what time or day it is, or when a calculation needs the current moment.",
		Relevance:   "current time, today's date, day of week, timestamps",
		Schema: catalog.Schema{
			Properties: map[string]catalog.Property{
				"timezone": {
					Type:        "string",
					Description: "IANA timezone name (e.g. America/Chicago). Defaults to the server's local zone.",
				},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			now := time.Now()
			if tz, _ := args["timezone"].(string); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q: %w", tz, err)
				}
				now = now.In(loc)
			}
			return &catalog.Result{
				Data: now.Format("Monday, January 2, 2006 15:04:05 MST"),
			}, nil
		},
	}
}

// maxFetchBytes caps how much of a remote body is returned to the
// pipeline. Large pages get truncated, not refused.
const maxFetchBytes = 64 * 1024

func fetchTool(client *http.Client) *catalog.Tool {
	return &catalog.Tool{
		Name:        "http_fetch",
		Description: "Fetch the contents of a URL with an HTTP GET request. Use for retrieving web pages, APIs, or documents the user references.",
		Relevance:   "download web page, call HTTP API, fetch URL contents, look up online resource",
		Schema: catalog.Schema{
			Required: []string{"url"},
			Properties: map[string]catalog.Property{
				"url": {
					Type:        "string",
					Description: "The absolute http(s) URL to fetch.",
				},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) (*catalog.Result, error) {
			url, _ := args["url"].(string)
			return fetchURL(ctx, client, url)
		},
	}
}
