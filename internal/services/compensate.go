package services

import (
	"context"
	"errors"
	"time"

	"tenantcore/internal/apperr"
	"tenantcore/internal/logger"
)

const compensationTimeout = 10 * time.Second

// compensate undoes the completed steps of a failed multi-step write. The
// steps run under a fresh deadline so a cancelled caller context does not
// prevent cleanup. When any step fails the result carries both errors.
func compensate(ctx context.Context, log logger.Logger, original error, steps ...func(ctx context.Context) error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var failed []error
	for _, step := range steps {
		if err := step(cctx); err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == 0 {
		return original
	}

	rollback := errors.Join(failed...)
	log.Error("Compensation failed",
		logger.Error(rollback),
		logger.String("original_error", original.Error()),
	)
	return apperr.Compensated(original, rollback)
}
