// Package detect infers character encoding and delimiter conventions
// from untrusted tabular data. Detection only ever looks at a bounded
// sample; explicit per-resource overrides bypass it entirely.
package detect

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strconv"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	// maxSampleBytes bounds how much of the payload detection reads
	maxSampleBytes = 64 * 1024

	// maxSampleLines bounds the number of lines fed to the encoding guesser
	maxSampleLines = 200

	// confidenceThreshold stops the guesser early once reached
	confidenceThreshold = 80
)

// ErrNoDelimiter is returned when no candidate delimiter fits the sample
var ErrNoDelimiter = errors.New("could not determine delimiter")

// Dialect is the delimiter/quoting convention of a delimited text file
type Dialect struct {
	Delimiter rune
	Quote     rune
}

// DefaultDialect is comma-separated, double-quoted
var DefaultDialect = Dialect{Delimiter: ',', Quote: '"'}

// Encoding runs a statistical character-encoding guess over a bounded
// prefix of the data, feeding it line by line and stopping early once
// the guesser is confident. It returns fallback when inconclusive.
func Encoding(data []byte, fallback string) string {
	if len(data) == 0 {
		return fallback
	}
	if len(data) > maxSampleBytes {
		data = data[:maxSampleBytes]
	}

	detector := chardet.NewTextDetector()
	lines := bytes.SplitAfter(data, []byte("\n"))
	if len(lines) > maxSampleLines {
		lines = lines[:maxSampleLines]
	}

	var (
		fed  []byte
		best *chardet.Result
	)
	for i, line := range lines {
		fed = append(fed, line...)
		// Re-guess every few lines; one line is rarely enough signal
		if i%10 != 9 && i != len(lines)-1 {
			continue
		}
		result, err := detector.DetectBest(fed)
		if err != nil {
			continue
		}
		best = result
		if result.Confidence >= confidenceThreshold {
			break
		}
	}

	if best == nil || best.Charset == "" {
		return fallback
	}
	return strings.ToLower(best.Charset)
}

// Decode converts raw bytes to a string using the named encoding,
// best-effort: undecodable sequences are replaced rather than failing.
func Decode(data []byte, name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		return string(data)
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return string(data)
	}

	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		// Partial output is still preferable to dropping the payload
		if len(decoded) > 0 {
			return string(decoded)
		}
		return string(data)
	}
	return string(decoded)
}

// Dialect candidates, in preference order on ties
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// SniffDialect determines the delimiter of a sample by looking for a
// candidate that appears a consistent, nonzero number of times per line
// outside quoted regions.
func SniffDialect(sample string) (Dialect, error) {
	lines := sampleLines(sample, 20)
	if len(lines) == 0 {
		return Dialect{}, ErrNoDelimiter
	}

	type score struct {
		consistent bool
		mean       float64
	}

	best := -1
	var bestScore score
	for i, delim := range candidateDelimiters {
		counts := make([]int, 0, len(lines))
		for _, line := range lines {
			counts = append(counts, countOutsideQuotes(line, delim, '"'))
		}

		total := 0
		consistent := true
		for _, c := range counts {
			total += c
			if c != counts[0] {
				consistent = false
			}
		}
		if counts[0] == 0 {
			continue
		}

		s := score{consistent: consistent, mean: float64(total) / float64(len(counts))}
		if best == -1 {
			best, bestScore = i, s
			continue
		}
		// A consistent delimiter beats an inconsistent one; among equals
		// the higher mean count wins.
		if s.consistent && !bestScore.consistent {
			best, bestScore = i, s
		} else if s.consistent == bestScore.consistent && s.mean > bestScore.mean {
			best, bestScore = i, s
		}
	}

	if best == -1 {
		return Dialect{}, ErrNoDelimiter
	}
	return Dialect{Delimiter: candidateDelimiters[best], Quote: '"'}, nil
}

// HasHeader reports whether the first row of the sample looks like a
// header: its cells are compared against the column-wise types of the
// body rows, and columns where the body is numeric but the first row is
// not vote for a header.
func HasHeader(sample string, dialect Dialect) bool {
	reader := csv.NewReader(strings.NewReader(sample))
	reader.Comma = dialect.Delimiter
	reader.FieldsPerRecord = -1

	rows := make([][]string, 0, 16)
	for len(rows) < 16 {
		row, err := reader.Read()
		if err != nil {
			break
		}
		rows = append(rows, row)
	}
	if len(rows) < 2 {
		return true
	}

	first := rows[0]
	votes := 0
	for col := range first {
		bodyNumeric := true
		seen := false
		for _, row := range rows[1:] {
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				continue
			}
			seen = true
			if !isNumeric(row[col]) {
				bodyNumeric = false
				break
			}
		}
		if !seen || !bodyNumeric {
			continue
		}
		if isNumeric(first[col]) {
			votes--
		} else {
			votes++
		}
	}
	return votes >= 0
}

func sampleLines(sample string, max int) []string {
	var lines []string
	for _, line := range strings.Split(sample, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == max {
			break
		}
	}
	return lines
}

func countOutsideQuotes(line string, delim, quote rune) int {
	count := 0
	inQuotes := false
	for _, r := range line {
		switch {
		case r == quote:
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			count++
		}
	}
	return count
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	return err == nil
}
