package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPBackend is a SearchBackend backed by a remote document-search
// service's HTTP API. The core never owns the full-text index itself
// (spec Non-goal); this client only consumes the two read-only
// operations spec.md §6 names.
type HTTPBackend struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPBackend constructs a document search client against baseURL. An
// empty apiKey omits the Authorization header.
func NewHTTPBackend(baseURL, apiKey string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPBackend{baseURL: baseURL, apiKey: apiKey, httpClient: client}
}

type documentWire struct {
	ID              int64      `json:"id"`
	Title           string     `json:"title"`
	Abstract        string     `json:"abstract"`
	Authors         []string   `json:"authors"`
	PublicationDate *time.Time `json:"publication_date"`
	Journal         string     `json:"journal"`
	PMID            string     `json:"pmid"`
	DOI             string     `json:"doi"`
	SourceID        string     `json:"source_id"`
}

func (d documentWire) toDocument() Document {
	return Document{
		ID:              d.ID,
		Title:           d.Title,
		Abstract:        d.Abstract,
		Authors:         d.Authors,
		PublicationDate: d.PublicationDate,
		Journal:         d.Journal,
		PMID:            d.PMID,
		DOI:             d.DOI,
		SourceID:        d.SourceID,
	}
}

func (b *HTTPBackend) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document: backend request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("document: reading backend response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("document: backend returned status %d: %s", resp.StatusCode, raw)
	}
	return raw, nil
}

// FindAbstracts retrieves up to limit documents matching tsquery starting
// at offset via the backend's /abstracts search endpoint.
func (b *HTTPBackend) FindAbstracts(tsquery string, limit, offset int) ([]Document, error) {
	q := url.Values{}
	q.Set("q", tsquery)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		b.baseURL+"/abstracts?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	raw, err := b.do(req)
	if err != nil {
		return nil, err
	}

	var wire []documentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("document: decoding abstracts response: %w", err)
	}

	docs := make([]Document, len(wire))
	for i, d := range wire {
		docs[i] = d.toDocument()
	}
	return docs, nil
}

// FetchDocumentsByIDs retrieves the documents named by ids via the
// backend's /documents endpoint.
func (b *HTTPBackend) FetchDocumentsByIDs(ids []int64) ([]Document, error) {
	body, err := json.Marshal(struct {
		IDs []int64 `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost,
		b.baseURL+"/documents/fetch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := b.do(req)
	if err != nil {
		return nil, err
	}

	var wire []documentWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("document: decoding documents response: %w", err)
	}

	docs := make([]Document, len(wire))
	for i, d := range wire {
		docs[i] = d.toDocument()
	}
	return docs, nil
}
