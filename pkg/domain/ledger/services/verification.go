package ledger_services

import (
	"context"
	"log/slog"
	"sort"

	common "github.com/nyumbani-pay/nyumbani-pay/pkg/domain"
)

// VerifyAccountBalance compares the materialised balance against the balance
// recomputed from entries. Integrity errors never auto-heal; mismatches are
// reported for reconciliation to escalate.
func (s *LedgerService) VerifyAccountBalance(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) (*VerificationReport, error) {
	account, err := s.accounts.GetByID(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	if account == nil {
		return nil, common.Ef(common.KindNotFound, "account_not_found", "account %s not found", accountID)
	}

	recomputed, err := s.entries.SumDirectional(ctx, tenantID, accountID, nil)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{
		AccountID:         accountID,
		MaterialisedMinor: account.BalanceMinor,
		RecomputedMinor:   recomputed,
		DiscrepancyMinor:  account.BalanceMinor - recomputed,
		Valid:             account.BalanceMinor == recomputed,
	}

	if !report.Valid {
		slog.ErrorContext(ctx, "balance drift detected",
			"tenant_id", tenantID,
			"account_id", accountID,
			"materialised", report.MaterialisedMinor,
			"recomputed", report.RecomputedMinor,
		)
	}

	return report, nil
}

// VerifySequence checks that the account's sequence numbers equal
// {1, …, entry_count}. Gaps are fatal for reconciliation.
func (s *LedgerService) VerifySequence(ctx context.Context, tenantID common.TenantID, accountID common.AccountID) (*SequenceReport, error) {
	account, err := s.accounts.GetByID(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	if account == nil {
		return nil, common.Ef(common.KindNotFound, "account_not_found", "account %s not found", accountID)
	}

	numbers, err := s.entries.ListSequenceNumbers(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	report := &SequenceReport{
		AccountID:  accountID,
		EntryCount: account.EntryCount,
	}

	seen := map[int64]int{}
	maxSeq := int64(0)

	for _, n := range numbers {
		seen[n]++
		if n > maxSeq {
			maxSeq = n
		}
	}

	if account.EntryCount > maxSeq {
		maxSeq = account.EntryCount
	}

	for n := int64(1); n <= maxSeq; n++ {
		switch seen[n] {
		case 0:
			report.Gaps = append(report.Gaps, n)
		case 1:
			// expected
		default:
			report.Duplicates = append(report.Duplicates, n)
		}
	}

	report.Valid = len(report.Gaps) == 0 && len(report.Duplicates) == 0 && int64(len(numbers)) == account.EntryCount

	if !report.Valid {
		slog.ErrorContext(ctx, "sequence integrity violation",
			"tenant_id", tenantID,
			"account_id", accountID,
			"gaps", report.Gaps,
			"duplicates", report.Duplicates,
		)
	}

	return report, nil
}
