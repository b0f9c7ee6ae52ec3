// ingestor Lambda runs one dataset ingestion pipeline per invocation.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	intlambda "github.com/dwsmith1983/tidemark/internal/lambda"
	"github.com/dwsmith1983/tidemark/pkg/types"
)

var (
	depsOnce sync.Once
	deps     *intlambda.Deps
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

// handleIngest resolves the config and runs the pipeline. Run failures are
// reported in the response, not as handler errors, so the invocation result
// always carries the run ID and status.
func handleIngest(ctx context.Context, d *intlambda.Deps, req intlambda.IngestRequest) (intlambda.IngestResponse, error) {
	cfg, err := d.ResolveConfig(ctx, req)
	if err != nil {
		return intlambda.IngestResponse{Status: string(types.RunError), Error: err.Error()}, nil
	}

	result := d.Driver().Run(ctx, cfg)
	resp := intlambda.IngestResponse{
		RunID:     result.RunID,
		DatasetID: result.DatasetID,
		Version:   result.VersionTS,
		Status:    string(result.Status),
		RowsAdded: result.RowsAdded,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp, nil
}

func handler(ctx context.Context, req intlambda.IngestRequest) (intlambda.IngestResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.IngestResponse{}, err
	}
	return handleIngest(ctx, d, req)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
