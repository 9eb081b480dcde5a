// Package dirstore stores encoded pyramid tiles as individual files, with paths built
// from a pattern like "/data/tiles/{pyramid}/{mosaic}/{row}/{col}.tile".
package dirstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/eak1mov/go-libpyramid/tile"
)

var ErrInvalidPattern = errors.New("libpyramid: invalid file pattern")

var placeholders = []string{"{pyramid}", "{mosaic}", "{col}", "{row}"}

func validatePattern(pattern string) error {
	for _, p := range placeholders {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %v not found", ErrInvalidPattern, p)
		}
	}
	return nil
}

func validateID(tileID tile.ID) error {
	for _, s := range []string{tileID.Pyramid, tileID.Mosaic} {
		if s == "" || strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
			return fmt.Errorf("%w: id %q cannot be used in a path", ErrInvalidPattern, s)
		}
	}
	return nil
}

func formatPattern(pattern string, tileID tile.ID) string {
	return strings.NewReplacer(
		"{pyramid}", tileID.Pyramid,
		"{mosaic}", tileID.Mosaic,
		"{col}", strconv.FormatUint(uint64(tileID.Col), 10),
		"{row}", strconv.FormatUint(uint64(tileID.Row), 10),
	).Replace(pattern)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	regexPattern := regexp.QuoteMeta(filepath.Clean(pattern))
	regexPattern = strings.NewReplacer(
		regexp.QuoteMeta("{pyramid}"), `(?P<pyramid>[^/\\]+)`,
		regexp.QuoteMeta("{mosaic}"), `(?P<mosaic>[^/\\]+)`,
		regexp.QuoteMeta("{col}"), `(?P<col>\d+)`,
		regexp.QuoteMeta("{row}"), `(?P<row>\d+)`,
	).Replace(regexPattern)
	pathRegex, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return pathRegex, nil
}

// rootDir returns the longest directory prefix shared by every path of the pattern.
func rootDir(pattern string) string {
	path0 := formatPattern(pattern, tile.ID{Pyramid: "p0", Mosaic: "m0", Col: 0, Row: 0})
	path1 := formatPattern(pattern, tile.ID{Pyramid: "p1", Mosaic: "m1", Col: 1, Row: 1})
	for path0 != path1 {
		path0 = filepath.Dir(path0)
		path1 = filepath.Dir(path1)
	}
	return path0
}
