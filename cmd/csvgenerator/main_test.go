package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateIsDeterministicAndShaped(t *testing.T) {
	t.Parallel()

	cfg := config{Rows: 500, Seed: 7, DuplicateRatio: 0.2, MissingRatio: 0.1}
	var first, second bytes.Buffer
	if err := generate(&first, cfg); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := generate(&second, cfg); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first.String() != second.String() {
		t.Fatal("same seed produced different output")
	}

	lines := strings.Split(strings.TrimSuffix(first.String(), "\n"), "\n")
	if len(lines) != cfg.Rows+1 {
		t.Fatalf("unexpected line count: got=%d want=%d", len(lines), cfg.Rows+1)
	}
	if lines[0] != "plate_number,mv_file,dealer" {
		t.Fatalf("unexpected header: %q", lines[0])
	}

	seen := map[string]bool{}
	duplicates, missing := 0, 0
	for _, line := range lines[1:] {
		fields := strings.Split(line, ",")
		if len(fields) != 3 {
			t.Fatalf("unexpected row: %q", line)
		}
		if fields[0] == "" || fields[1] == "" {
			missing++
			continue
		}
		if seen["p"+fields[0]] || seen["m"+fields[1]] {
			duplicates++
		}
		seen["p"+fields[0]] = true
		seen["m"+fields[1]] = true
	}
	if duplicates == 0 || missing == 0 {
		t.Fatalf("expected duplicates and missing keys, got duplicates=%d missing=%d", duplicates, missing)
	}
}

func TestLoadConfigReadsYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gen.yaml")
	body := "rows: 25\nseed: 3\nduplicate_ratio: 0.5\noutput: out.csv\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Rows != 25 || cfg.Seed != 3 || cfg.DuplicateRatio != 0.5 || cfg.MissingRatio != 0.01 || cfg.Mode != "stream" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("rows: 10\nduplicate_ratio: 0.9\nmissing_ratio: 0.5\noutput: x.csv\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadConfig(bad); err == nil {
		t.Fatal("expected ratio validation error")
	}
	if _, err := loadConfig(""); err == nil {
		t.Fatal("expected error without output or base_url")
	}
}

func TestUploadPostsToImportAPI(t *testing.T) {
	t.Parallel()

	var (
		gotQuery  string
		gotOffice string
		gotBody   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotOffice = r.Header.Get("X-Office-ID")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"job-1"}`))
	}))
	defer server.Close()

	cfg := config{BaseURL: server.URL + "/", OfficeID: 4, Mode: "bounded"}
	if err := upload(server.Client(), cfg, []byte("plate_number,mv_file\n")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.Contains(gotQuery, "mode=bounded") || !strings.Contains(gotQuery, "async=true") {
		t.Fatalf("unexpected query: %q", gotQuery)
	}
	if gotOffice != "4" || gotBody != "plate_number,mv_file\n" {
		t.Fatalf("unexpected request: office=%q body=%q", gotOffice, gotBody)
	}
}
