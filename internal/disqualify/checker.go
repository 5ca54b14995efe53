package disqualify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"contest/internal/models"
	"contest/internal/repository"
)

// Rules is the per-contest rule configuration stored on the contest row.
// Instrument, volume and trade-count rules need full order history, which
// the snapshot refresh does not carry; they are accepted here and always
// pass.
type Rules struct {
	CheckInitialDeposit bool            `json:"check_initial_deposit"`
	InitialDeposit      decimal.Decimal `json:"initial_deposit"`
	CheckLeverage       bool            `json:"check_leverage"`
	AllowedLeverage     int             `json:"allowed_leverage"`
	CheckMinProfit      bool            `json:"check_min_profit"`
	MinProfit           decimal.Decimal `json:"min_profit"`
}

func ParseRules(raw datatypes.JSON) (Rules, error) {
	var rules Rules
	if len(raw) == 0 {
		return rules, nil
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Result of one rule evaluation.
type Result struct {
	Disqualified bool
	Reasons      []string
}

// Checker evaluates contest rules against refreshed account snapshots and
// marks violators disqualified.
type Checker struct {
	Store  repository.Store
	Logger *zap.Logger
}

// Evaluate applies the rule set to one account snapshot. It is pure; the
// caller decides whether to persist the verdict.
func (c *Checker) Evaluate(acc *models.Account, rules Rules) Result {
	var reasons []string

	if rules.CheckInitialDeposit && rules.InitialDeposit.IsPositive() {
		deposit := accountDeposit(acc)
		if deposit.GreaterThan(rules.InitialDeposit) {
			reasons = append(reasons, fmt.Sprintf(
				"deposit %s exceeds allowed initial deposit %s",
				deposit.String(), rules.InitialDeposit.String()))
		}
	}

	if rules.CheckLeverage && rules.AllowedLeverage > 0 && acc.Leverage > rules.AllowedLeverage {
		reasons = append(reasons, fmt.Sprintf(
			"leverage 1:%d exceeds allowed 1:%d", acc.Leverage, rules.AllowedLeverage))
	}

	// MinProfit is normally negative: the maximum tolerated drawdown.
	if rules.CheckMinProfit && acc.Profit.LessThan(rules.MinProfit) {
		reasons = append(reasons, fmt.Sprintf(
			"profit %s fell below floor %s", acc.Profit.String(), rules.MinProfit.String()))
	}

	return Result{Disqualified: len(reasons) > 0, Reasons: reasons}
}

// accountDeposit reconstructs the opening deposit when it was not captured
// on the account row.
func accountDeposit(acc *models.Account) decimal.Decimal {
	if acc.InitialDeposit != nil {
		return *acc.InitialDeposit
	}
	return acc.Balance.Sub(acc.Profit)
}

// CheckAccount re-reads the account and its contest rules and persists a
// disqualified status when a rule is violated. Accounts of inactive
// contests and accounts already disqualified are left alone.
func (c *Checker) CheckAccount(ctx context.Context, accountID int64) error {
	if c == nil || c.Store == nil {
		return nil
	}
	acc, err := c.Store.GetAccount(ctx, accountID)
	if err != nil || acc == nil {
		return err
	}
	if acc.ConnectionStatus == models.ConnectionDisqualified {
		return nil
	}
	contest, err := c.Store.GetContest(ctx, acc.ContestID)
	if err != nil || contest == nil || !contest.IsActive() {
		return err
	}
	rules, err := ParseRules(contest.RulesJSON)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("contest rules unparseable",
				zap.Int64("contest", contest.ID), zap.Error(err))
		}
		return nil
	}

	verdict := c.Evaluate(acc, rules)
	if !verdict.Disqualified {
		return nil
	}
	reason := strings.Join(verdict.Reasons, "; ")
	if err := c.Store.MarkAccountDisqualified(ctx, acc.ID, reason, time.Now().UTC()); err != nil {
		return err
	}
	if c.Logger != nil {
		c.Logger.Info("account disqualified",
			zap.Int64("account", acc.ID),
			zap.Int64("contest", acc.ContestID),
			zap.String("reason", reason))
	}
	return nil
}
