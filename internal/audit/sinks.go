package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"registration-service/internal/models"
)

// BatchInserter is the subset of client.ClickHouseClient used here.
type BatchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// ClickHouseSink appends events to an analytics table.
type ClickHouseSink struct {
	client BatchInserter
	table  string
	query  string
}

func NewClickHouseSink(client BatchInserter, table string) *ClickHouseSink {
	return &ClickHouseSink{
		client: client,
		table:  table,
		query: fmt.Sprintf(`INSERT INTO %s (event_id, event_bucket, event_date, event_time, event_type,
            subject_hash, user_id, purpose, channel, details)`, table),
	}
}

// EnsureTable creates the events table if it is missing.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	return s.client.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            event_id String,
            event_bucket Int32,
            event_date String,
            event_time DateTime64(3, 'UTC'),
            event_type LowCardinality(String),
            subject_hash String,
            user_id String,
            purpose LowCardinality(String),
            channel LowCardinality(String),
            details String
        ) ENGINE = MergeTree
        PARTITION BY event_date
        ORDER BY (event_type, event_time)`, s.table))
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, e models.SecurityEvent) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to encode details: %w", err)
	}
	row := []interface{}{
		e.EventID, int32(e.EventBucket), e.EventDate, e.EventTime, e.EventType,
		e.SubjectHash, e.UserID, e.Purpose, e.Channel, string(details),
	}
	return s.client.BatchInsert(ctx, s.query, [][]interface{}{row})
}

// DocumentIndexer is the subset of client.ESClient used here.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink makes events searchable for investigations.
type ElasticsearchSink struct {
	client DocumentIndexer
	index  string
}

func NewElasticsearchSink(client DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{client: client, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, e models.SecurityEvent) error {
	return s.client.IndexDocument(ctx, s.index, e.EventID, e)
}
