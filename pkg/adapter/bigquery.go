package adapter

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// QueryOutput is the structured result of one read-only query run.
type QueryOutput struct {
	Columns []string
	Rows    []map[string]any
	Elapsed time.Duration
}

// Database is the relational execution capability. Only statements that
// passed safety validation ever reach it.
type Database interface {
	// DryRun validates the statement and returns the number of bytes it
	// would scan, without touching any data.
	DryRun(ctx context.Context, query string) (int64, error)

	// RunQuery executes the statement and collects all rows.
	RunQuery(ctx context.Context, query string) (*QueryOutput, error)
}

type bigqueryClient struct {
	client *bigquery.Client
}

// NewBigQuery creates a read-only BigQuery execution client.
func NewBigQuery(ctx context.Context, projectID string) (Database, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &bigqueryClient{client: client}, nil
}

func (bq *bigqueryClient) DryRun(ctx context.Context, query string) (int64, error) {
	q := bq.client.Query(query)
	q.DryRun = true

	job, err := q.Run(ctx)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to run dry-run query")
	}

	status := job.LastStatus()
	if status == nil || status.Statistics == nil {
		return 0, goerr.New("no statistics available from dry-run")
	}

	return status.Statistics.TotalBytesProcessed, nil
}

func (bq *bigqueryClient) RunQuery(ctx context.Context, query string) (*QueryOutput, error) {
	started := time.Now()

	q := bq.client.Query(query)
	job, err := q.Run(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to run query")
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to wait for query completion")
	}
	if status.Err() != nil {
		return nil, goerr.Wrap(status.Err(), "query execution failed")
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read query result")
	}

	out := &QueryOutput{}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate query result")
		}

		if out.Columns == nil {
			for _, field := range it.Schema {
				out.Columns = append(out.Columns, field.Name)
			}
		}

		rowMap := make(map[string]any, len(row))
		for k, v := range row {
			rowMap[k] = v
		}
		out.Rows = append(out.Rows, rowMap)
	}

	// An empty result still carries column names when the schema is known.
	if out.Columns == nil {
		for _, field := range it.Schema {
			out.Columns = append(out.Columns, field.Name)
		}
	}

	out.Elapsed = time.Since(started)
	return out, nil
}
