package reconciliation_services

import (
	"sort"
	"strings"
	"time"

	payment_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/payment/entities"
	reconciliation_entities "github.com/nyumbani-pay/nyumbani-pay/pkg/domain/reconciliation/entities"
)

// Additive score signals. Tiered signals (amount, date) contribute only
// their strongest applicable tier.
const (
	scoreRefIntentID      = 40
	scoreRefExternalID    = 35
	scoreRefIdemKey       = 30
	scoreRefDescPrefix    = 10
	scoreAmountExact      = 30
	scoreAmountTolerance  = 20
	scoreAmountWithin1Pct = 10
	scoreAmountWithin5Pct = 5
	scoreDateSameDay      = 20
	scoreDateWithin1Day   = 10
	scoreDateWithin2Days  = 5
	scoreWordOverlapEach  = 5
	scoreWordOverlapCap   = 10
)

// MatcherConfig tunes bank-transaction matching.
type MatcherConfig struct {
	// MatchThreshold is the minimum score for an automatic match.
	MatchThreshold int
	// AmbiguousThreshold is the minimum score to consume a candidate for
	// manual review instead of leaving the payment unmatched.
	AmbiguousThreshold int
	// AmountToleranceMinor is the absolute amount difference still treated
	// as an exact match.
	AmountToleranceMinor int64
}

// DefaultMatcherConfig returns the standard thresholds.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{MatchThreshold: 60, AmbiguousThreshold: 40, AmountToleranceMinor: 0}
}

// MatchReport is the outcome of matching one payment set against one bank
// feed.
type MatchReport struct {
	Matched                   []reconciliation_entities.MatchedItem
	UnmatchedPayments         []*payment_entities.PaymentIntent
	UnmatchedBankTransactions []reconciliation_entities.BankTransaction
}

// BankMatcher scores internal payments against external bank transactions.
// Matching is deterministic: payments iterate in (paid_at, id) order and
// candidates in (date, id) order, and each bank transaction is consumed by
// at most one payment.
type BankMatcher struct {
	config MatcherConfig
}

func NewBankMatcher(config MatcherConfig) *BankMatcher {
	if config.MatchThreshold == 0 {
		config = DefaultMatcherConfig()
	}

	return &BankMatcher{config: config}
}

type scoredCandidate struct {
	index    int
	score    int
	dateDist time.Duration
	exact    bool
	date     time.Time
}

// Match pairs payments with bank transactions one-to-one.
func (m *BankMatcher) Match(payments []*payment_entities.PaymentIntent, transactions []reconciliation_entities.BankTransaction) *MatchReport {
	ordered := make([]*payment_entities.PaymentIntent, len(payments))
	copy(ordered, payments)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := ordered[i], ordered[j]

		switch {
		case pi.PaidAt == nil:
			return false
		case pj.PaidAt == nil:
			return true
		case !pi.PaidAt.Equal(*pj.PaidAt):
			return pi.PaidAt.Before(*pj.PaidAt)
		default:
			return pi.ID < pj.ID
		}
	})

	candidates := make([]reconciliation_entities.BankTransaction, len(transactions))
	copy(candidates, transactions)
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].Date.Equal(candidates[j].Date) {
			return candidates[i].Date.Before(candidates[j].Date)
		}

		return candidates[i].ID < candidates[j].ID
	})

	consumed := make([]bool, len(candidates))
	report := &MatchReport{}

	for _, payment := range ordered {
		best, ok := m.bestCandidate(payment, candidates, consumed)
		if !ok || best.score < m.config.AmbiguousThreshold {
			report.UnmatchedPayments = append(report.UnmatchedPayments, payment)
			continue
		}

		txn := candidates[best.index]
		consumed[best.index] = true

		outcome := reconciliation_entities.MatchAmbiguous

		if best.score >= m.config.MatchThreshold {
			if best.exact {
				outcome = reconciliation_entities.MatchExact
			} else {
				outcome = reconciliation_entities.MatchPartial
			}
		}

		report.Matched = append(report.Matched, reconciliation_entities.MatchedItem{
			PaymentIntentID:   payment.ID,
			BankTransactionID: txn.ID,
			Score:             best.score,
			Outcome:           outcome,
			AmountDeltaMinor:  txn.Amount.AmountMinor - payment.Amount.AmountMinor,
		})
	}

	for i, txn := range candidates {
		if !consumed[i] {
			report.UnmatchedBankTransactions = append(report.UnmatchedBankTransactions, txn)
		}
	}

	return report
}

func (m *BankMatcher) bestCandidate(payment *payment_entities.PaymentIntent, candidates []reconciliation_entities.BankTransaction, consumed []bool) (scoredCandidate, bool) {
	var best scoredCandidate

	found := false

	for i, txn := range candidates {
		if consumed[i] || txn.Amount.Currency != payment.Amount.Currency {
			continue
		}

		score := m.score(payment, txn)
		cand := scoredCandidate{
			index:    i,
			score:    score,
			dateDist: dateDistance(payment, txn),
			exact:    m.amountExact(payment, txn),
			date:     txn.Date,
		}

		if !found || better(cand, best) {
			best = cand
			found = true
		}
	}

	return best, found
}

// better breaks score ties: smaller date distance, then exact amount
// equality, then FIFO by bank-transaction date. Candidates are already
// iterated in (date, id) order so equal candidates keep the earlier one.
func better(a, b scoredCandidate) bool {
	if a.score != b.score {
		return a.score > b.score
	}

	if a.dateDist != b.dateDist {
		return a.dateDist < b.dateDist
	}

	if a.exact != b.exact {
		return a.exact
	}

	return a.date.Before(b.date)
}

func (m *BankMatcher) amountExact(payment *payment_entities.PaymentIntent, txn reconciliation_entities.BankTransaction) bool {
	return absInt64(txn.Amount.AmountMinor-payment.Amount.AmountMinor) <= m.config.AmountToleranceMinor
}

func (m *BankMatcher) score(payment *payment_entities.PaymentIntent, txn reconciliation_entities.BankTransaction) int {
	score := 0
	reference := strings.ToLower(txn.Reference)

	// One identifier signal per candidate, strongest first.
	switch {
	case strings.Contains(reference, strings.ToLower(payment.ID.String())):
		score += scoreRefIntentID
	case payment.ExternalID != "" && strings.Contains(reference, strings.ToLower(payment.ExternalID)):
		score += scoreRefExternalID
	case payment.IdempotencyKey != "" && strings.Contains(reference, strings.ToLower(payment.IdempotencyKey)):
		score += scoreRefIdemKey
	}

	if len(payment.Description) >= 5 {
		prefix := payment.Description
		if len(prefix) > 10 {
			prefix = prefix[:10]
		}

		if strings.Contains(reference, strings.ToLower(prefix)) {
			score += scoreRefDescPrefix
		}
	}

	score += m.amountScore(payment, txn)
	score += dateScore(payment, txn)
	score += overlapScore(payment.Description, txn.Reference+" "+txn.Description)

	return score
}

func (m *BankMatcher) amountScore(payment *payment_entities.PaymentIntent, txn reconciliation_entities.BankTransaction) int {
	diff := absInt64(txn.Amount.AmountMinor - payment.Amount.AmountMinor)

	switch {
	case diff == 0:
		return scoreAmountExact
	case diff <= m.config.AmountToleranceMinor:
		return scoreAmountTolerance
	case within(diff, payment.Amount.AmountMinor, 1):
		return scoreAmountWithin1Pct
	case within(diff, payment.Amount.AmountMinor, 5):
		return scoreAmountWithin5Pct
	default:
		return 0
	}
}

// within reports diff ≤ pct% of base, in integer arithmetic.
func within(diff, base int64, pct int64) bool {
	return diff*100 <= absInt64(base)*pct
}

func dateScore(payment *payment_entities.PaymentIntent, txn reconciliation_entities.BankTransaction) int {
	if payment.PaidAt == nil {
		return 0
	}

	days := calendarDayDistance(*payment.PaidAt, txn.Date)

	switch {
	case days == 0:
		return scoreDateSameDay
	case days == 1:
		return scoreDateWithin1Day
	case days == 2:
		return scoreDateWithin2Days
	default:
		return 0
	}
}

func dateDistance(payment *payment_entities.PaymentIntent, txn reconciliation_entities.BankTransaction) time.Duration {
	if payment.PaidAt == nil {
		return time.Duration(1<<62 - 1)
	}

	d := txn.Date.Sub(*payment.PaidAt)
	if d < 0 {
		d = -d
	}

	return d
}

func calendarDayDistance(a, b time.Time) int {
	au := a.UTC().Truncate(24 * time.Hour)
	bu := b.UTC().Truncate(24 * time.Hour)

	days := int(au.Sub(bu).Hours() / 24)
	if days < 0 {
		days = -days
	}

	return days
}

// overlapScore counts shared description tokens of ≥ 3 characters, capped.
func overlapScore(description, reference string) int {
	descTokens := tokenize(description)
	if len(descTokens) == 0 {
		return 0
	}

	refTokens := tokenize(reference)
	score := 0

	for token := range descTokens {
		if refTokens[token] {
			score += scoreWordOverlapEach
			if score >= scoreWordOverlapCap {
				return scoreWordOverlapCap
			}
		}
	}

	return score
}

func tokenize(s string) map[string]bool {
	tokens := map[string]bool{}

	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,;:()[]\"'")
		if len(word) >= 3 {
			tokens[word] = true
		}
	}

	return tokens
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}

	return v
}
