package filter

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const mask = '*'

func TestFilter_Sanitize(t *testing.T) {
	req := require.New(t)
	f, err := New([]string{"badger", "snake", "mushroom", "bad"}, mask)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Single word", "The badger is here", "The ****** is here"},
		{"Repeated words", "badger badger", "****** ******"},
		{"Longest match wins at the same position", "badgers", "******s"},
		{"Inside a larger word", "rattlesnakes", "rattle*****s"},
		{"Case sensitive", "Snake and BADGER", "Snake and BADGER"},
		{"Multibyte runes around a match", "été snake été", "été ***** été"},
		{"Nothing to mask", "Chat is fine", "Chat is fine"},
		{"Empty", "", ""},
		{"Invalid UTF-8 before a match", "\xffbad", "\xff***"},
		{"Invalid UTF-8 between matches", "snake\xfe\xffsnake", "*****\xfe\xff*****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req.Equal(tt.expected, f.Sanitize(tt.input))
		})
	}
}

func TestFilter_Sanitize_Properties(t *testing.T) {
	req := require.New(t)
	terms := []string{"abc", "cde", "b", "mushroom"}
	f, err := New(terms, mask)
	req.NoError(err)

	inputs := []string{
		"abcde",
		"xxabcxxcdexx",
		"mushroomabc b",
		"no match at all",
		"ccdeabcbb",
		"\xffabc\xc3 b\x80",
	}
	for _, in := range inputs {
		once := f.Sanitize(in)
		req.Equal(once, f.Sanitize(once), "input=%q", in)
		req.Equal(len([]rune(in)), len([]rune(once)), "input=%q", in)
		req.Equal(len(in), len(once), "input=%q", in)
		for _, term := range terms {
			req.NotContains(once, term, "input=%q", in)
		}
	}
}

func TestFilter_New_IgnoresBlankAndMaskTerms(t *testing.T) {
	req := require.New(t)

	_, err := New([]string{"", "  ", "**"}, mask)
	req.ErrorIs(err, ErrEmptyBlocklist)

	f, err := New([]string{"", "a*b", "snake"}, mask)
	req.NoError(err)
	req.Equal("a*b *****", f.Sanitize("a*b snake"))
}

func TestParseTerms(t *testing.T) {
	req := require.New(t)
	terms, err := ParseTerms(strings.NewReader("one\r\n\n two\nthree\n"))
	req.NoError(err)
	req.Equal([]string{"one", " two", "three"}, terms)
}

func TestLoad_FromFile(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "list.txt")
	req.NoError(os.WriteFile(path, []byte("snake\nbadger\n"), 0o600))

	f, err := Load(context.Background(), log, Source{Path: path, URL: "http://unused.invalid"}, mask)
	req.NoError(err)
	req.Equal("a ***** !", f.Sanitize("a snake !"))
}

func TestLoad_WarnsAboutIgnoredTerms(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	path := filepath.Join(t.TempDir(), "list.txt")
	req.NoError(os.WriteFile(path, []byte("snake\nf*ck\n"), 0o600))

	f, err := Load(context.Background(), log, Source{Path: path}, mask)
	req.NoError(err)
	req.Equal("*****", f.Sanitize("snake"))
	req.Contains(buf.String(), "level=WARN")
	req.Contains(buf.String(), "f*ck")
	req.NotContains(buf.String(), "terms=[snake")
}

func TestLoad_FromURL(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("snake\n"))
	}))
	defer server.Close()

	f, err := Load(context.Background(), log, Source{URL: server.URL}, mask)
	req.NoError(err)
	req.Equal("*****", f.Sanitize("snake"))
}

func TestLoad_Failures(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := Load(context.Background(), log, Source{URL: server.URL}, mask)
	req.Error(err)

	_, err = Load(context.Background(), log, Source{Path: filepath.Join(t.TempDir(), "missing")}, mask)
	req.Error(err)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	req.NoError(os.WriteFile(empty, []byte("\n\n"), 0o600))
	_, err = Load(context.Background(), log, Source{Path: empty}, mask)
	req.ErrorIs(err, ErrEmptyBlocklist)

	_, err = Load(context.Background(), log, Source{}, mask)
	req.Error(err)
}
