package query

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stoatlab/stoat/pkg/adapter"
	"github.com/stoatlab/stoat/pkg/model"
	"github.com/stoatlab/stoat/pkg/utils/logging"
)

// execute runs one validated statement under the execution timeout. A
// dry run caps the scan size before any data is touched.
func (uc *UseCase) execute(ctx context.Context, stmt string) (*adapter.QueryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, uc.execTimeout)
	defer cancel()

	scanned, err := uc.db.DryRun(ctx, stmt)
	if err != nil {
		return nil, goerr.Wrap(model.ErrExecutionFailed, "dry-run rejected: "+err.Error())
	}
	if uc.maxScanBytes > 0 && scanned > uc.maxScanBytes {
		return nil, goerr.Wrap(model.ErrExecutionFailed, "scan size over limit",
			goerr.V("bytes", scanned),
			goerr.V("max_bytes", uc.maxScanBytes),
		)
	}
	logging.From(ctx).Debug("dry-run passed", "scan_bytes", scanned)

	out, err := uc.db.RunQuery(ctx, stmt)
	if err != nil {
		return nil, goerr.Wrap(model.ErrExecutionFailed, "query failed: "+err.Error())
	}
	return out, nil
}

// retryablePatterns match database errors caused by the model referencing
// a column or table that does not exist. Those are worth one
// regeneration; everything else is final.
var retryablePatterns = []string{
	"unrecognized name",
	"not found",
	"no such column",
	"no such table",
	"invalid field",
}

func retryableExecution(err error) bool {
	if !errors.Is(err, model.ErrExecutionFailed) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
