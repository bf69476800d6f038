package app

import "context"

// Review transitions for the approved/reimbursed flags. The fields have
// always existed on the record; these operations are the extension that makes
// them reachable. Both are one-way flips restricted to the master identity.

func (s *Service) ApproveViolation(ctx context.Context, actor Actor, shortID string) error {
	if !s.gate.IsMaster(actor.ID) {
		return errForbidden()
	}
	changed, err := s.store.SetViolationApproved(ctx, shortID)
	if err != nil {
		return err
	}
	if !changed {
		return errNotFound("violation", shortID)
	}
	return nil
}

func (s *Service) ReimburseViolation(ctx context.Context, actor Actor, shortID string) error {
	if !s.gate.IsMaster(actor.ID) {
		return errForbidden()
	}
	changed, err := s.store.SetViolationReimbursed(ctx, shortID)
	if err != nil {
		return err
	}
	if !changed {
		return errNotFound("violation", shortID)
	}
	return nil
}
