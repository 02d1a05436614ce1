package filter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/samber/lo"
)

// Source says where the blocklist comes from. Path wins over URL when both
// are set.
type Source struct {
	URL  string
	Path string
}

// Load reads the blocklist once and builds the Filter. Any failure here is
// meant to stop startup.
func Load(ctx context.Context, log *slog.Logger, src Source, mask rune) (*Filter, error) {
	var (
		terms []string
		err   error
	)
	switch {
	case src.Path != "":
		log.Info("Loading blocklist", "path", src.Path)
		terms, err = readFile(src.Path)
	case src.URL != "":
		log.Info("Loading blocklist", "url", src.URL)
		terms, err = fetch(ctx, src.URL)
	default:
		return nil, fmt.Errorf("blocklist: no source configured")
	}
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}

	if masked := lo.Filter(terms, func(term string, _ int) bool { return strings.ContainsRune(term, mask) }); len(masked) > 0 {
		log.Warn("Ignoring blocklist terms containing the mask character", "mask", string(mask), "terms", masked)
	}
	f, err := New(terms, mask)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	log.Info("Blocklist loaded", "terms", len(terms))
	return f, nil
}

func readFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseTerms(file)
}

func fetch(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return ParseTerms(resp.Body)
}

// ParseTerms reads one term per line, dropping blank lines.
func ParseTerms(r io.Reader) ([]string, error) {
	var terms []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		term := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(term) == "" {
			continue
		}
		terms = append(terms, term)
	}
	return terms, scanner.Err()
}
