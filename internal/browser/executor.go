package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// LookupResult is the decoded portal response for one plate. Money fields
// carry the portal's raw scaled units (hundredths of a balboa).
type LookupResult struct {
	Plate         string `json:"plate"`
	Success       bool   `json:"success"`
	ChkDefaulter  string `json:"chkDefaulter"`
	TypeAccount   string `json:"typeAccount"`
	BalanceAmount int64  `json:"balanceAmount"`
	TotalAmount   int64  `json:"totalAmount"`
	Message       string `json:"message"`
}

// Balance converts the raw scaled balance to balboas.
func (r *LookupResult) Balance() float64 {
	return float64(r.BalanceAmount) / 100
}

// Owed converts the raw scaled amount owed to balboas.
func (r *LookupResult) Owed() float64 {
	return float64(r.TotalAmount) / 100
}

// AccountResult is the decoded portal response for one Panapass account
// number. Unlike the plate endpoint, the account endpoint reports the
// balance as a decimal string already in balboas.
type AccountResult struct {
	Account string `json:"panapass"`
	Success bool   `json:"success"`
	Saldo   string `json:"saldo"`
	Message string `json:"message"`
}

// Balance parses the portal's decimal balance string.
func (r *AccountResult) Balance() (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(r.Saldo), 64)
}

// Executor performs the site-specific exchanges against an established
// session: one per lookup key kind the portal exposes.
type Executor interface {
	Lookup(ctx context.Context, session *Session, plate string) (*LookupResult, error)
	LookupAccount(ctx context.Context, session *Session, account string) (*AccountResult, error)
}

// PortalExecutor implements Executor by evaluating the challenge-token and
// form-POST exchange inside the portal page itself.
type PortalExecutor struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewPortalExecutor creates a PortalExecutor with the given per-lookup
// timeout.
func NewPortalExecutor(timeout time.Duration, logger *slog.Logger) *PortalExecutor {
	return &PortalExecutor{
		timeout: timeout,
		logger:  logger,
	}
}

// lookupScript obtains a fresh challenge token and posts the lookup form
// from within the page, so the request carries the page's own origin and
// cookies.
const lookupScript = `(async () => {
	const token = await new Promise((resolve, reject) => {
		grecaptcha.ready(() => {
			grecaptcha.execute().then(resolve).catch(reject);
		});
	});

	const resp = await fetch('/api/v2/test/get-morosidad-tag/json', {
		method: 'POST',
		headers: {
			'Content-Type': 'application/x-www-form-urlencoded; charset=UTF-8',
			'X-Requested-With': 'XMLHttpRequest'
		},
		body: new URLSearchParams({
			plate: %q,
			captcha_token: token
		})
	});

	return await resp.json();
})()`

// accountScript mirrors lookupScript against the account-balance
// endpoint, keyed by Panapass number instead of plate.
const accountScript = `(async () => {
	const token = await new Promise((resolve, reject) => {
		grecaptcha.ready(() => {
			grecaptcha.execute().then(resolve).catch(reject);
		});
	});

	const resp = await fetch('/api/v2/get-saldo-panapass/json', {
		method: 'POST',
		headers: {
			'Content-Type': 'application/x-www-form-urlencoded; charset=UTF-8',
			'X-Requested-With': 'XMLHttpRequest'
		},
		body: new URLSearchParams({
			panapass: %q,
			captcha_token: token
		})
	});

	return await resp.json();
})()`

func (e *PortalExecutor) Lookup(ctx context.Context, session *Session, plate string) (*LookupResult, error) {
	e.logger.Debug("Executing portal lookup",
		slog.String("plate", plate),
	)

	runCtx, cancel := context.WithTimeout(session.Ctx, e.timeout)
	defer cancel()

	var result LookupResult
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf(lookupScript, plate), &result,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}),
	)
	if err != nil {
		return nil, fmt.Errorf("portal lookup for plate %s failed: %w", plate, err)
	}

	result.Plate = plate

	e.logger.Debug("Portal lookup completed",
		slog.String("plate", plate),
		slog.Bool("success", result.Success),
	)

	return &result, nil
}

func (e *PortalExecutor) LookupAccount(ctx context.Context, session *Session, account string) (*AccountResult, error) {
	e.logger.Debug("Executing account balance lookup",
		slog.String("account", account),
	)

	runCtx, cancel := context.WithTimeout(session.Ctx, e.timeout)
	defer cancel()

	var result AccountResult
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(fmt.Sprintf(accountScript, account), &result,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			}),
	)
	if err != nil {
		return nil, fmt.Errorf("account lookup for %s failed: %w", account, err)
	}

	result.Account = account

	e.logger.Debug("Account balance lookup completed",
		slog.String("account", account),
		slog.Bool("success", result.Success),
	)

	return &result, nil
}
