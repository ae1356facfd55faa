package absence

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/warp/absence-engine/generic"
)

// SaveRule validates and stores a rule, keeping the original creation time
// when it replaces an existing one. Sub-rules inherit the rule id.
func (s *Service) SaveRule(ctx context.Context, rule ConflictRule) (*ConflictRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	err := s.Store.WithTx(ctx, func(tx Store) error {
		rule.CreatedAt = now
		if existing, err := tx.GetRule(ctx, rule.ID); err == nil {
			rule.CreatedAt = existing.CreatedAt
		}
		rule.UpdatedAt = now
		for i := range rule.SubRules {
			rule.SubRules[i].RuleID = rule.ID
			if rule.SubRules[i].CreatedAt.IsZero() {
				rule.SubRules[i].CreatedAt = now
			}
		}
		return tx.SaveRule(ctx, rule)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"rule_id":    rule.ID,
		"max_absent": rule.MaxAbsent,
		"active":     rule.Active,
		"sub_rules":  len(rule.SubRules),
	}).Info("conflict rule saved")
	return &rule, nil
}

// DeactivateRule turns a rule off without deleting it. Situations already
// submitted keep their status; AuditPending reflects the change.
func (s *Service) DeactivateRule(ctx context.Context, id generic.RuleID) (*ConflictRule, error) {
	return s.modifyRule(ctx, id, func(r *ConflictRule) error {
		r.Active = false
		return nil
	})
}

// AddSubRule attaches a stricter limit to an existing rule.
func (s *Service) AddSubRule(ctx context.Context, ruleID generic.RuleID, sub ConflictSubRule) (*ConflictRule, error) {
	return s.modifyRule(ctx, ruleID, func(r *ConflictRule) error {
		if sub.ID == "" {
			sub.ID = r.NextSubRuleID()
		}
		if _, exists := r.SubRule(sub.ID); exists {
			return fmt.Errorf("%w: sub-rule %s", generic.ErrDuplicateID, sub.ID)
		}
		sub.RuleID = ruleID
		sub.CreatedAt = s.now()
		r.SubRules = append(r.SubRules, sub)
		return nil
	})
}

// RemoveSubRule detaches a sub-rule; the parent keeps its own limit.
func (s *Service) RemoveSubRule(ctx context.Context, ruleID generic.RuleID, subID generic.SubRuleID) (*ConflictRule, error) {
	return s.modifyRule(ctx, ruleID, func(r *ConflictRule) error {
		for i, sub := range r.SubRules {
			if sub.ID == subID {
				r.SubRules = append(r.SubRules[:i], r.SubRules[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: sub-rule %s of rule %s", generic.ErrRuleNotFound, subID, ruleID)
	})
}

func (s *Service) modifyRule(ctx context.Context, id generic.RuleID, fn func(*ConflictRule) error) (*ConflictRule, error) {
	var out ConflictRule
	err := s.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetRule(ctx, id)
		if err != nil {
			return err
		}
		out = *current
		out.SubRules = append([]ConflictSubRule(nil), current.SubRules...)
		if err := fn(&out); err != nil {
			return err
		}
		if err := out.Validate(); err != nil {
			return err
		}
		out.UpdatedAt = s.now()
		return tx.SaveRule(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{"rule_id": id, "active": out.Active, "sub_rules": len(out.SubRules)}).Info("conflict rule updated")
	return &out, nil
}
