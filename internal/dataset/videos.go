package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"sam2-eval/internal/runstore"
)

var ErrNoVideosKey = errors.New(`metadata has no "videos" object`)

// VideoIDsFromMetadata returns the keys of the top-level "videos" object in
// document order, each once at its first position. Values are skipped
// without being decoded.
func VideoIDsFromMetadata(r io.Reader) ([]string, error) {
	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		key, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		if key != "videos" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("skip metadata field %q: %w", key, err)
			}
			continue
		}
		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoVideosKey, err)
		}
		ids := []string{}
		seen := map[string]bool{}
		for dec.More() {
			id, err := readKey(dec)
			if err != nil {
				return nil, err
			}
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("skip video %q: %w", id, err)
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil
	}
	return nil, ErrNoVideosKey
}

func ReadMetadataFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata %s: %w", path, err)
	}
	defer f.Close()
	ids, err := VideoIDsFromMetadata(f)
	if err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return ids, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q in metadata, got %v", want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("read metadata key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key in metadata, got %v", tok)
	}
	return key, nil
}

// ReadVideoList reads newline-delimited video ids, ignoring blank lines.
func ReadVideoList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open video list %s: %w", path, err)
	}
	defer f.Close()

	ids := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		v := strings.TrimSpace(scanner.Text())
		if v == "" {
			continue
		}
		ids = append(ids, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read video list %s: %w", path, err)
	}
	return ids, nil
}

func WriteVideoList(path string, ids []string) error {
	return runstore.WriteLines(path, ids)
}

// CountFrames counts .jpg frames (any case) directly inside dir.
func CountFrames(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".jpg") {
			n++
		}
	}
	return n, nil
}

type Sampling struct {
	Fraction float64
	Seed     uint64
}

func (s Sampling) Enabled() bool {
	return s.Fraction > 0 && s.Fraction < 1
}

// Sample picks floor(len(ids)*Fraction) ids with a PCG source seeded from
// Seed, in draw order. The same ids and Sampling always give the same result.
func Sample(ids []string, s Sampling) []string {
	if !s.Enabled() {
		return append([]string(nil), ids...)
	}
	k := int(math.Floor(float64(len(ids))*s.Fraction + 1e-9))
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(len(ids))
	out := make([]string, 0, k)
	for _, idx := range perm[:k] {
		out = append(out, ids[idx])
	}
	return out
}
