package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/cve-sync/pkg/record"
)

// Page is the decoded result of one source query.
type Page struct {
	TotalResults   int
	ResultsPerPage int
	StartIndex     int
	Records        []record.Record
}

// NumPages returns ceil(totalResults / resultsPerPage).
func NumPages(totalResults, resultsPerPage int) int {
	if totalResults <= 0 || resultsPerPage <= 0 {
		return 0
	}
	return (totalResults + resultsPerPage - 1) / resultsPerPage
}

// wirePage mirrors the CVE API 2.0 response body.
type wirePage struct {
	TotalResults    *int               `json:"totalResults"`
	ResultsPerPage  int                `json:"resultsPerPage"`
	StartIndex      int                `json:"startIndex"`
	Vulnerabilities *[]json.RawMessage `json:"vulnerabilities"`
}

// decodePage parses a response body, unwrapping every entry with envelopeKey.
func decodePage(body []byte, envelopeKey string) (*Page, error) {
	var wire wirePage
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if wire.TotalResults == nil {
		return nil, errors.New("totalResults missing")
	}
	if wire.Vulnerabilities == nil {
		return nil, errors.New("vulnerabilities missing")
	}

	page := &Page{
		TotalResults:   *wire.TotalResults,
		ResultsPerPage: wire.ResultsPerPage,
		StartIndex:     wire.StartIndex,
		Records:        make([]record.Record, 0, len(*wire.Vulnerabilities)),
	}
	for i, entry := range *wire.Vulnerabilities {
		rec, err := record.Decode(entry, envelopeKey)
		if err != nil {
			return nil, fmt.Errorf("vulnerabilities[%d]: %w", i, err)
		}
		page.Records = append(page.Records, rec)
	}
	return page, nil
}
