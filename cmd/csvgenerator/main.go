package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var dealers = []string{"TOYOTA", "HONDA", "FORD", "NISSAN", ""}

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	if err := generate(&buf, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "generate:", err)
		os.Exit(1)
	}

	if cfg.Output != "" {
		if err := os.WriteFile(cfg.Output, buf.Bytes(), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "write output:", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %d rows to %s\n", cfg.Rows, cfg.Output)
	}

	if cfg.BaseURL != "" {
		client := &http.Client{Timeout: 10 * time.Minute}
		if err := upload(client, cfg, buf.Bytes()); err != nil {
			fmt.Fprintln(os.Stderr, "upload error:", err)
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (config, error) {
	v := viper.New()
	v.SetDefault("rows", 10000)
	v.SetDefault("seed", 1)
	v.SetDefault("duplicate_ratio", 0.05)
	v.SetDefault("missing_ratio", 0.01)
	v.SetDefault("mode", "stream")

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Output = strings.TrimSpace(cfg.Output)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.UserID = strings.TrimSpace(cfg.UserID)
	cfg.Mode = strings.TrimSpace(cfg.Mode)

	if cfg.Rows <= 0 {
		return config{}, fmt.Errorf("rows must be positive")
	}
	if cfg.DuplicateRatio < 0 || cfg.MissingRatio < 0 || cfg.DuplicateRatio+cfg.MissingRatio > 1 {
		return config{}, fmt.Errorf("duplicate_ratio and missing_ratio must be non-negative and sum to at most 1")
	}
	if cfg.Output == "" && cfg.BaseURL == "" {
		return config{}, fmt.Errorf("config must include output or base_url")
	}
	return cfg, nil
}

// generate writes a header and cfg.Rows data rows. Duplicates repeat the plate
// or MV file of an earlier row; missing rows blank one key.
func generate(w io.Writer, cfg config) error {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	bw := bufio.NewWriter(w)
	out := csv.NewWriter(bw)

	if err := out.Write([]string{"plate_number", "mv_file", "dealer"}); err != nil {
		return err
	}
	for i := 0; i < cfg.Rows; i++ {
		plate := fmt.Sprintf("GEN%07d", i)
		mv := fmt.Sprintf("%09d", 100000000+i)

		roll := rng.Float64()
		switch {
		case roll < cfg.MissingRatio:
			if rng.IntN(2) == 0 {
				plate = ""
			} else {
				mv = ""
			}
		case roll < cfg.MissingRatio+cfg.DuplicateRatio && i > 0:
			earlier := rng.IntN(i)
			if rng.IntN(2) == 0 {
				plate = fmt.Sprintf("GEN%07d", earlier)
			} else {
				mv = fmt.Sprintf("%09d", 100000000+earlier)
			}
		}

		if err := out.Write([]string{plate, mv, dealers[rng.IntN(len(dealers))]}); err != nil {
			return err
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

func upload(client *http.Client, cfg config, body []byte) error {
	query := url.Values{}
	query.Set("mode", cfg.Mode)
	query.Set("filename", "generated.csv")
	query.Set("async", "true")

	request, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		strings.TrimRight(cfg.BaseURL, "/")+"/api/imports?"+query.Encode(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	request.Header.Set("Content-Type", "text/csv")
	request.Header.Set("X-Office-ID", strconv.FormatInt(cfg.OfficeID, 10))
	if cfg.UserID != "" {
		request.Header.Set("X-User-ID", cfg.UserID)
	}

	resp, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("import rejected: %s %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	fmt.Printf("Import accepted: %s %s\n", resp.Status, strings.TrimSpace(string(payload)))
	return nil
}
