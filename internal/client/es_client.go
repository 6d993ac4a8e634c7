package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"registration-service/internal/config"
)

type ESClient struct {
	Client *elasticsearch.Client
	logger *zap.Logger
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch
	if esConfig.URL == "" {
		return nil, fmt.Errorf("elasticsearch url is required")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(), // dev clusters use self-signed certs
		},
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{Client: client, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := esClient.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}

	logger.Info("Elasticsearch client initialized", zap.String("url", esConfig.URL))
	return esClient, nil
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

// IndexDocument stores document under id in index.
func (e *ESClient) IndexDocument(ctx context.Context, index, id string, document interface{}) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(document); err != nil {
		return fmt.Errorf("error encoding document: %w", err)
	}

	res, err := e.Client.Index(
		index,
		&buf,
		e.Client.Index.WithContext(ctx),
		e.Client.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("error indexing document: %w", err)
	}
	return checkResponse(res)
}

func checkResponse(res *esapi.Response) error {
	defer res.Body.Close()
	if !res.IsError() {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	var body struct {
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("elasticsearch error: [%s]", res.Status())
	}
	return fmt.Errorf("elasticsearch error: [%s] %s", res.Status(), body.Error.Reason)
}
