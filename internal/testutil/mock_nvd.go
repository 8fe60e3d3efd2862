// Package testutil provides testing utilities for the NVD sync engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockNVD is a configurable mock of the CVE API 2.0 listing endpoint. It
// serves TotalResults synthetic CVEs, honouring resultsPerPage and
// startIndex.
type MockNVD struct {
	server *httptest.Server
	mu     sync.RWMutex

	totalResults int
	maxPageSize  int
	delay        time.Duration
	idPrefix     string

	// failures maps a startIndex to the statuses returned on successive
	// requests for it; once exhausted the page is served normally.
	failures map[int][]int
	// bodies maps a startIndex to a raw body served with 200.
	bodies map[int]string

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	Queries           []map[string]string
	inFlight          int
	MaxInFlight       int
}

// NewMockNVD creates a mock serving totalResults records.
func NewMockNVD(totalResults int) *MockNVD {
	mock := &MockNVD{
		totalResults: totalResults,
		idPrefix:     "CVE-2024-",
		failures:     make(map[int][]int),
		bodies:       make(map[int]string),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockNVD) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockNVD) Close() {
	m.server.Close()
}

// SetTotalResults changes the number of records served.
func (m *MockNVD) SetTotalResults(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalResults = n
}

// SetMaxPageSize caps resultsPerPage the way the NVD caps it at 2000.
func (m *MockNVD) SetMaxPageSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxPageSize = n
}

// SetDelay adds latency to every response.
func (m *MockNVD) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetIDPrefix changes the prefix of generated identifiers.
func (m *MockNVD) SetIDPrefix(prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idPrefix = prefix
}

// FailPage makes requests for startIndex answer with the given statuses,
// one per request, before serving the page normally.
func (m *MockNVD) FailPage(startIndex int, statuses ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[startIndex] = append(m.failures[startIndex], statuses...)
}

// SetRawBody serves body with status 200 for startIndex.
func (m *MockNVD) SetRawBody(startIndex int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies[startIndex] = body
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockNVD) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetMaxInFlight returns the highest number of concurrent requests seen.
func (m *MockNVD) GetMaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MaxInFlight
}

// GetQueries returns a copy of the query parameters of every request.
func (m *MockNVD) GetQueries() []map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]map[string]string, len(m.Queries))
	copy(out, m.Queries)
	return out
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockNVD) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func (m *MockNVD) handle(w http.ResponseWriter, r *http.Request) {
	query := map[string]string{}
	for key := range r.URL.Query() {
		query[key] = r.URL.Query().Get(key)
	}
	startIndex, _ := strconv.Atoi(query["startIndex"])
	perPage, _ := strconv.Atoi(query["resultsPerPage"])

	m.mu.Lock()
	m.RequestCount++
	m.LastRequestHeader = r.Header.Clone()
	m.Queries = append(m.Queries, query)
	m.inFlight++
	if m.inFlight > m.MaxInFlight {
		m.MaxInFlight = m.inFlight
	}
	delay := m.delay
	total := m.totalResults
	prefix := m.idPrefix
	if m.maxPageSize > 0 && (perPage <= 0 || perPage > m.maxPageSize) {
		perPage = m.maxPageSize
	}
	var failStatus int
	if statuses := m.failures[startIndex]; len(statuses) > 0 {
		failStatus = statuses[0]
		m.failures[startIndex] = statuses[1:]
	}
	rawBody, hasRaw := m.bodies[startIndex]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")

	if failStatus != 0 {
		w.WriteHeader(failStatus)
		fmt.Fprintf(w, `{"message":"mock failure %d"}`, failStatus)
		return
	}

	if hasRaw {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(rawBody))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(BuildPage(prefix, total, perPage, startIndex))
}

// BuildPage builds a CVE API 2.0 response body for one page.
func BuildPage(idPrefix string, totalResults, resultsPerPage, startIndex int) map[string]any {
	vulns := []map[string]any{}
	for i := startIndex; i < totalResults && i < startIndex+resultsPerPage; i++ {
		vulns = append(vulns, map[string]any{"cve": CVE(fmt.Sprintf("%s%05d", idPrefix, i))})
	}
	return map[string]any{
		"resultsPerPage":  len(vulns),
		"startIndex":      startIndex,
		"totalResults":    totalResults,
		"format":          "NVD_CVE",
		"version":         "2.0",
		"timestamp":       "2024-03-01T00:00:00.000",
		"vulnerabilities": vulns,
	}
}

// CVE builds a minimal CVE payload.
func CVE(id string) map[string]any {
	return map[string]any{
		"id":               id,
		"sourceIdentifier": "cve@mitre.org",
		"published":        "2024-01-01T00:00:00.000",
		"lastModified":     "2024-03-01T12:00:00.000",
		"vulnStatus":       "Analyzed",
		"descriptions": []map[string]string{
			{"lang": "en", "value": "Synthetic vulnerability " + id},
		},
	}
}
