package billing

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Finding kinds reported by the reconciliation sweep.
const (
	FindingProviderOrphan  = "provider_orphan"
	FindingUnbackedPremium = "unbacked_premium"
)

// Finding is one reported discrepancy between local and remote state.
type Finding struct {
	Kind       string
	CustomerID string
	Username   string
}

func (f Finding) String() string {
	switch f.Kind {
	case FindingProviderOrphan:
		return fmt.Sprintf("remote subscription without local account: customer %s", f.CustomerID)
	case FindingUnbackedPremium:
		return fmt.Sprintf("premium account without remote subscription: %s (customer %q)", f.Username, f.CustomerID)
	default:
		return fmt.Sprintf("%s: %s %s", f.Kind, f.Username, f.CustomerID)
	}
}

// SweepReport summarizes one reconciliation run.
type SweepReport struct {
	RemoteSubscriptions int
	BillableCustomers   int
	PremiumAccounts     int
	Findings            []Finding
}

// ReconcileSweep audits local entitlement state against the full remote
// subscription listing. It reports drift and mutates nothing; corrective
// action is an operator decision. Findings are advisory: a transition
// landing mid-sweep may produce a false positive, which the next run clears.
func (s *Service) ReconcileSweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	// Phase one: collect remote customer ids holding a billable
	// subscription, flagging those with no local account.
	billable := make(map[string]struct{})
	seenOrphan := make(map[string]struct{})
	cursor := ""
	for {
		items, next, err := s.gateway.ListSubscriptions(ctx, cursor)
		if err != nil {
			return nil, err
		}
		report.RemoteSubscriptions += len(items)

		for _, item := range items {
			if item.CustomerID == "" || !IsBillableStatus(item.Status) {
				continue
			}
			billable[item.CustomerID] = struct{}{}

			_, err := s.repo.GetUserByCustomerID(item.CustomerID)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if _, dup := seenOrphan[item.CustomerID]; !dup {
					seenOrphan[item.CustomerID] = struct{}{}
					report.Findings = append(report.Findings, Finding{
						Kind:       FindingProviderOrphan,
						CustomerID: item.CustomerID,
					})
				}
				continue
			}
			if err != nil {
				return nil, err
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}
	report.BillableCustomers = len(billable)

	// Phase two: every premium account must be backed by one of the
	// collected customer ids.
	premium, err := s.repo.ListPremium()
	if err != nil {
		return nil, err
	}
	report.PremiumAccounts = len(premium)

	for _, user := range premium {
		if _, ok := billable[user.StripeCustomerID]; ok {
			continue
		}
		report.Findings = append(report.Findings, Finding{
			Kind:       FindingUnbackedPremium,
			CustomerID: user.StripeCustomerID,
			Username:   user.Username,
		})
	}

	return report, nil
}
