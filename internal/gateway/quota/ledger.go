package quota

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/analytics-gateway/internal/common/gatewayerrors"
	"github.com/G-Research/analytics-gateway/internal/common/logging"
	"github.com/G-Research/analytics-gateway/internal/common/util"
	"github.com/G-Research/analytics-gateway/internal/gateway/domain"
	"github.com/G-Research/analytics-gateway/internal/gateway/metrics"
	"github.com/G-Research/analytics-gateway/internal/gateway/repository"
)

// Ledger keeps the remaining quota of every user. Each unit consumed is recorded as a debit
// and handed back individually once it is older than the refresh window.
type Ledger struct {
	quotaRepository repository.QuotaRepository
	userRepository  repository.UserRepository
	clock           clock.PassiveClock
	metrics         *metrics.Metrics
}

func NewLedger(
	quotaRepository repository.QuotaRepository,
	userRepository repository.UserRepository,
	clock clock.PassiveClock,
	metrics *metrics.Metrics,
) *Ledger {
	return &Ledger{
		quotaRepository: quotaRepository,
		userRepository:  userRepository,
		clock:           clock,
		metrics:         metrics,
	}
}

// Decrement takes one unit from the user and records the debit. The decrement stands even
// if the debit cannot be written; that unit is then never given back by a refresh.
func (l *Ledger) Decrement(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	remaining, err := l.quotaRepository.DecrementQuota(username)
	if err != nil {
		return err
	}

	now := l.clock.Now()
	record := domain.QuotaDebitRecord{
		Id:        util.NewULIDAt(now),
		Username:  username,
		Timestamp: now,
	}
	if err := l.quotaRepository.AppendDebit(record); err != nil {
		l.metrics.QuotaDebitFailures.Inc()
		logging.WithStacktrace(log.WithField("user", username), err).
			Errorf("quota decremented but debit %s was not recorded", record.Id)
		return nil
	}
	log.WithField("user", username).Debugf("quota decremented, %d remaining", remaining)
	return nil
}

// Reset gives the user their whole allotment back and forgets their outstanding debits.
func (l *Ledger) Reset(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var result *multierror.Error
	if err := l.quotaRepository.RestoreAllotment(username); err != nil {
		var notFound *gatewayerrors.ErrNotFound
		if errors.As(err, &notFound) {
			return err
		}
		result = multierror.Append(result, err)
	}
	if err := l.quotaRepository.DeleteDebitsOf(username); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// SetAllotmentForAll changes the allotment of every user. Remaining quotas are left as they are.
func (l *Ledger) SetAllotmentForAll(ctx context.Context, allotment int) error {
	if allotment < 0 {
		return &gatewayerrors.ErrInvalidArgument{
			Name:    "newQuota",
			Value:   allotment,
			Message: "must not be negative",
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	users, err := l.userRepository.GetUsers()
	if err != nil {
		return err
	}
	usernames := make([]string, len(users))
	for i, user := range users {
		usernames[i] = user.Username
	}
	return l.quotaRepository.SetAllotment(usernames, allotment)
}

// Refresh gives back every debit recorded before now-window and returns how many units
// were restored. A failure on one debit does not stop the others.
func (l *Ledger) Refresh(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	ids, err := l.quotaRepository.ExpiredDebits(now.Add(-window))
	if err != nil {
		return 0, err
	}

	var result *multierror.Error
	restored := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		claim, err := l.quotaRepository.ClaimDebit(id)
		if err != nil {
			l.metrics.QuotaRefreshErrors.Inc()
			result = multierror.Append(result, err)
			continue
		}
		switch claim {
		case repository.DebitRestored:
			restored++
		case repository.DebitDropped:
			log.WithField("debit", id).Debug("dropped debit of deleted user")
		}
	}
	l.metrics.QuotaRestored.Add(float64(restored))
	return restored, result.ErrorOrNil()
}

// RefreshTask returns a function suitable for periodic execution by the task manager.
func (l *Ledger) RefreshTask(ctx context.Context, window time.Duration) func() {
	return func() {
		restored, err := l.Refresh(ctx, l.clock.Now(), window)
		if err != nil {
			logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Error("quota refresh failed")
		}
		if restored > 0 {
			log.Infof("quota refresh restored %d units", restored)
		}
	}
}

func (l *Ledger) Status(ctx context.Context, username string) (domain.QuotaStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.QuotaStatus{}, err
	}
	return l.quotaRepository.GetQuotaStatus(username)
}
