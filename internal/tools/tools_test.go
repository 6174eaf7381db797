package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/murmurhq/murmur/internal/catalog"
)

func findTool(t *testing.T, tools []*catalog.Tool, name string) *catalog.Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("tool %q not registered", name)
	return nil
}

func TestBuiltinsRegistration(t *testing.T) {
	without := Builtins(Config{})
	for _, tool := range without {
		if tool.Name == "read_file" {
			t.Error("read_file registered without a workspace")
		}
	}

	with := Builtins(Config{WorkspacePath: t.TempDir()})
	findTool(t, with, "clock")
	findTool(t, with, "http_fetch")
	findTool(t, with, "weather_lookup")
	findTool(t, with, "read_file")
}

func TestClock(t *testing.T) {
	tool := findTool(t, Builtins(Config{}), "clock")

	res, err := tool.Invoke(context.Background(), map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Data == "" {
		t.Error("empty clock output")
	}

	res, err = tool.Invoke(context.Background(), map[string]any{"timezone": "UTC"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Data, "UTC") {
		t.Errorf("timezone not applied: %q", res.Data)
	}

	if _, err := tool.Invoke(context.Background(), map[string]any{"timezone": "Mars/Olympus"}); err == nil {
		t.Error("want error for unknown timezone")
	}
}

func TestWeatherLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/forecast" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("latitude"); got != "59.9100" {
			t.Errorf("latitude: got %q", got)
		}
		w.Write([]byte(`{"current_weather": {"temperature": 12.5, "windspeed": 7.2, "weathercode": 61}}`))
	}))
	defer srv.Close()

	tool := findTool(t, Builtins(Config{WeatherBaseURL: srv.URL}), "weather_lookup")
	res, err := tool.Invoke(context.Background(), map[string]any{
		"latitude":  59.91,
		"longitude": 10.75,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"12.5", "7.2", "rain"} {
		if !strings.Contains(res.Data, want) {
			t.Errorf("result missing %q: %q", want, res.Data)
		}
	}
}

func TestWeatherUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of teapots", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tool := findTool(t, Builtins(Config{WeatherBaseURL: srv.URL}), "weather_lookup")
	_, err := tool.Invoke(context.Background(), map[string]any{"latitude": 0.0, "longitude": 0.0})
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), "500") {
		t.Errorf("error missing status: %v", err)
	}
}

func TestDescribeWeatherCode(t *testing.T) {
	cases := []struct {
		code int
		want string
	}{
		{0, "clear sky"},
		{2, "partly cloudy"},
		{48, "fog"},
		{55, "drizzle"},
		{65, "rain"},
		{75, "snow"},
		{81, "rain showers"},
		{96, "thunderstorm"},
		{40, "weather code 40"},
	}
	for _, tc := range cases {
		if got := describeWeatherCode(tc.code); got != tc.want {
			t.Errorf("code %d: got %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestFetchRejectsNonHTTP(t *testing.T) {
	tool := findTool(t, Builtins(Config{}), "http_fetch")
	if _, err := tool.Invoke(context.Background(), map[string]any{"url": "ftp://example.com"}); err == nil {
		t.Error("want error for non-http url")
	}
}

func TestFetchReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello body"))
	}))
	defer srv.Close()

	tool := findTool(t, Builtins(Config{}), "http_fetch")
	res, err := tool.Invoke(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if res.Data != "hello body" {
		t.Errorf("got %q", res.Data)
	}
}

func TestFetchAttachesAdviceOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	tool := findTool(t, Builtins(Config{}), "http_fetch")
	res, err := tool.Invoke(context.Background(), map[string]any{"url": srv.URL + "/missing"})
	if err == nil {
		t.Fatal("want error for 404")
	}
	if res == nil || !strings.Contains(res.Advice, "stale or mistyped") {
		t.Errorf("advice: %+v", res)
	}
}

func TestReadFileServesWorkspace(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "notes"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "notes", "todo.txt"), []byte("buy milk"), 0o644); err != nil {
		t.Fatal(err)
	}

	tool := findTool(t, Builtins(Config{WorkspacePath: ws}), "read_file")
	res, err := tool.Invoke(context.Background(), map[string]any{"path": "notes/todo.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Data != "buy milk" {
		t.Errorf("got %q", res.Data)
	}
}

func TestReadFileRefusesEscape(t *testing.T) {
	tool := findTool(t, Builtins(Config{WorkspacePath: t.TempDir()}), "read_file")

	res, err := tool.Invoke(context.Background(), map[string]any{"path": "../../etc/passwd"})
	if err == nil {
		t.Fatal("want error for workspace escape")
	}
	if res == nil || res.Advice == "" {
		t.Error("escape refusal should carry advice")
	}
}

func TestReadFileMissingFileAdvice(t *testing.T) {
	tool := findTool(t, Builtins(Config{WorkspacePath: t.TempDir()}), "read_file")

	res, err := tool.Invoke(context.Background(), map[string]any{"path": "nope.txt"})
	if err == nil {
		t.Fatal("want error for missing file")
	}
	if res == nil || !strings.Contains(res.Advice, "does not exist") {
		t.Errorf("advice: %+v", res)
	}
}
