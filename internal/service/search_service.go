package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"license-service/internal/client"
	"license-service/internal/models"
)

// licenseDocument is the flattened shape stored in the search index.
type licenseDocument struct {
	ID                 string     `json:"id"`
	Key                string     `json:"key"`
	Type               string     `json:"type"`
	Status             string     `json:"status"`
	UserID             string     `json:"user_id"`
	ProductID          string     `json:"product_id"`
	MaxActivations     int        `json:"max_activations"`
	CurrentActivations int        `json:"current_activations"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type SearchQuery struct {
	UserID    string
	ProductID string
	Status    string
	Type      string
	From      int
	Size      int
}

type SearchResult struct {
	Total    int64             `json:"total"`
	Licenses []licenseDocument `json:"licenses"`
}

// SearchService keeps the Elasticsearch license index in sync and serves
// admin queries against it. The durable store stays authoritative; the
// index is a derived view.
type SearchService struct {
	es    *client.ESClient
	index string
}

func NewSearchService(es *client.ESClient, index string) *SearchService {
	return &SearchService{es: es, index: index}
}

func (s *SearchService) IndexLicense(ctx context.Context, lic *models.License) error {
	doc := licenseDocument{
		ID:                 lic.ID,
		Key:                lic.Key,
		Type:               string(lic.Type),
		Status:             string(lic.Status),
		UserID:             lic.UserID,
		ProductID:          lic.ProductID,
		MaxActivations:     lic.MaxActivations,
		CurrentActivations: lic.CurrentActivations,
		ExpiresAt:          lic.ExpiresAt,
		CreatedAt:          lic.CreatedAt,
		UpdatedAt:          lic.UpdatedAt,
	}
	return s.es.IndexDocument(ctx, s.index, lic.ID, doc)
}

func (s *SearchService) RemoveLicense(ctx context.Context, id string) error {
	return s.es.DeleteDocument(ctx, s.index, id)
}

func (s *SearchService) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	must := make([]map[string]interface{}, 0, 4)
	addTerm := func(field, value string) {
		if value != "" {
			must = append(must, map[string]interface{}{
				"term": map[string]interface{}{field: value},
			})
		}
	}
	addTerm("user_id", q.UserID)
	addTerm("product_id", q.ProductID)
	addTerm("status", q.Status)
	addTerm("type", q.Type)

	size := q.Size
	if size <= 0 || size > 100 {
		size = 25
	}

	query := map[string]interface{}{
		"from": q.From,
		"size": size,
		"sort": []map[string]interface{}{
			{"created_at": map[string]interface{}{"order": "desc"}},
		},
	}
	if len(must) > 0 {
		query["query"] = map[string]interface{}{
			"bool": map[string]interface{}{"must": must},
		}
	} else {
		query["query"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	res, err := s.es.Search(ctx, s.index, query)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("license search failed: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source licenseDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("error decoding search response: %w", err)
	}

	result := &SearchResult{
		Total:    parsed.Hits.Total.Value,
		Licenses: make([]licenseDocument, 0, len(parsed.Hits.Hits)),
	}
	for _, hit := range parsed.Hits.Hits {
		result.Licenses = append(result.Licenses, hit.Source)
	}
	return result, nil
}
