package gatewayctl

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/G-Research/analytics-gateway/internal/common"
)

func (a *App) ShowQuota() error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	status, err := a.Params.QuotaAPI.Show(ctx)
	if err != nil {
		return errors.WithMessage(err, "error getting quota")
	}
	fmt.Fprintf(a.Out, "User: %s\nRemaining: %d of %d\nOutstanding debits: %d\n",
		status.Username, status.Remaining, status.Allotment, status.OutstandingDebits)
	return nil
}

func (a *App) SetAllotment(allotment int) error {
	if allotment < 0 {
		return fmt.Errorf("allotment must not be negative, got %d", allotment)
	}
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	response, err := a.Params.QuotaAPI.SetAllotment(ctx, allotment)
	if err != nil {
		return errors.WithMessage(err, "error setting allotment")
	}
	fmt.Fprintln(a.Out, response.Status)
	return nil
}

func (a *App) ResetQuota(username string) error {
	ctx, cancel := common.ContextWithDefaultTimeout()
	defer cancel()
	response, err := a.Params.QuotaAPI.Reset(ctx, username)
	if err != nil {
		return errors.WithMessagef(err, "error resetting quota of %s", username)
	}
	fmt.Fprintln(a.Out, response.Status)
	return nil
}
