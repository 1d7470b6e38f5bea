package cluster

import (
	"context"
	"encoding/json"
	"fmt"
)

// docResponse is the wire form of single-document reads and writes.
type docResponse struct {
	ID     string          `json:"_id"`
	SeqNo  int64           `json:"_seq_no"`
	Found  bool            `json:"found"`
	Source json.RawMessage `json:"_source"`
}

// searchResponse is the wire form of a document search.
type searchResponse struct {
	Hits struct {
		Hits []docResponse `json:"hits"`
	} `json:"hits"`
}

// GetDocument fetches a document with its sequence metadata.
func (c *Client) GetDocument(ctx context.Context, index, id string) (Document, error) {
	var resp docResponse
	err := c.get(ctx, "/"+pathEscape(index)+"/_doc/"+pathEscape(id), &resp)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
			if apiErr.Type == "index_not_found_exception" {
				return Document{}, ErrIndexNotFound
			}
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	if !resp.Found {
		return Document{}, ErrDocumentNotFound
	}
	return Document{ID: resp.ID, Seq: resp.SeqNo, Source: resp.Source}, nil
}

// CreateDocument creates a document, failing when the id is already taken.
// It returns the new sequence number.
func (c *Client) CreateDocument(ctx context.Context, index, id string, source json.RawMessage) (int64, error) {
	var resp docResponse
	err := c.put(ctx, "/"+pathEscape(index)+"/_create/"+pathEscape(id)+"?refresh=true", json.RawMessage(source), &resp)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok {
			if apiErr.IsConflict() {
				return 0, ErrDocumentExists
			}
			if apiErr.IsNotFound() {
				return 0, ErrIndexNotFound
			}
		}
		return 0, fmt.Errorf("failed to create document %s/%s: %w", index, id, err)
	}
	return resp.SeqNo, nil
}

// UpdateDocument replaces a document conditionally on ifSeq and returns the
// new sequence number. A lost race surfaces as ErrSeqConflict.
func (c *Client) UpdateDocument(ctx context.Context, index, id string, source json.RawMessage, ifSeq int64) (int64, error) {
	path := fmt.Sprintf("/%s/_doc/%s?if_seq_no=%d&if_primary_term=1&refresh=true", pathEscape(index), pathEscape(id), ifSeq)
	var resp docResponse
	err := c.put(ctx, path, json.RawMessage(source), &resp)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok {
			if apiErr.IsConflict() {
				return 0, ErrSeqConflict
			}
			if apiErr.IsNotFound() {
				return 0, ErrIndexNotFound
			}
		}
		return 0, fmt.Errorf("failed to update document %s/%s: %w", index, id, err)
	}
	return resp.SeqNo, nil
}

// DeleteDocument deletes a document. Deleting an absent document returns
// ErrDocumentNotFound.
func (c *Client) DeleteDocument(ctx context.Context, index, id string) error {
	err := c.do(ctx, "DELETE", "/"+pathEscape(index)+"/_doc/"+pathEscape(id)+"?refresh=true", nil, nil)
	if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
		return ErrDocumentNotFound
	}
	return err
}

// SearchDocuments returns documents whose source matches every term filter.
func (c *Client) SearchDocuments(ctx context.Context, index string, terms map[string]string) ([]Document, error) {
	filters := make([]map[string]any, 0, len(terms))
	for field, value := range terms {
		filters = append(filters, map[string]any{
			"term": map[string]any{field: value},
		})
	}

	body := map[string]any{
		"size":    10000,
		"seq_no_primary_term": true,
		"query": map[string]any{
			"bool": map[string]any{"filter": filters},
		},
	}

	var resp searchResponse
	if err := c.post(ctx, "/"+pathEscape(index)+"/_search", body, &resp); err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("failed to search %s: %w", index, err)
	}

	docs := make([]Document, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		docs = append(docs, Document{ID: hit.ID, Seq: hit.SeqNo, Source: hit.Source})
	}
	return docs, nil
}
