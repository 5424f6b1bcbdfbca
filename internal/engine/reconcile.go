package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"orderline/internal/domain"
	"orderline/internal/repo"
)

type ReconcileOptions struct {
	OrderID string
	Desired map[string]int
	ActorID string
}

type ReconcileResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// ReconcileServices moves an order's service instances to the desired
// per-service counts. Services absent from the desired map are removed
// entirely. Instances whose work unit has an assignee are never removed;
// if a removal request exceeds the removable instances of a service the
// whole call fails before any change is made.
func (e Engine) ReconcileServices(ctx context.Context, opts ReconcileOptions) (ReconcileResult, error) {
	var res ReconcileResult
	for serviceID, count := range opts.Desired {
		if count < 1 {
			return res, fmt.Errorf("desired count for service %s must be at least 1; omit the service to remove it", serviceID)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOrderTx(ctx, tx, opts.OrderID)
	if err != nil {
		return res, err
	}
	if o.Status == "completed" || o.Status == "cancelled" {
		return res, LockedOrderError{OrderID: o.ID, Status: o.Status}
	}

	states, err := e.Repo.ListInstanceStatesTx(ctx, tx, o.ID)
	if err != nil {
		return res, err
	}
	groups := groupByService(states)
	before := map[string]int{}
	for serviceID, group := range groups {
		before[serviceID] = len(group)
	}

	seen := map[string]bool{}
	var serviceIDs []string
	for serviceID := range groups {
		seen[serviceID] = true
		serviceIDs = append(serviceIDs, serviceID)
	}
	for serviceID := range opts.Desired {
		if !seen[serviceID] {
			serviceIDs = append(serviceIDs, serviceID)
		}
	}
	sort.Strings(serviceIDs)

	// Plan the whole diff before touching anything so a capacity failure
	// leaves the order untouched.
	type removalPlan struct {
		serviceID string
		instances []repo.InstanceState
	}
	type additionPlan struct {
		serviceID string
		count     int
	}
	var removals []removalPlan
	var additions []additionPlan
	for _, serviceID := range serviceIDs {
		current := len(groups[serviceID])
		desired := opts.Desired[serviceID]
		switch {
		case desired > current:
			additions = append(additions, additionPlan{serviceID: serviceID, count: desired - current})
		case desired < current:
			requested := current - desired
			removable, _ := partitionRemovable(groups[serviceID])
			if requested > len(removable) {
				return res, CapacityError{ServiceID: serviceID, Requested: requested, Removable: len(removable)}
			}
			removals = append(removals, removalPlan{serviceID: serviceID, instances: removable[:requested]})
		}
	}

	// Removals run before additions so no instance created by this call is
	// ever considered for removal.
	for _, plan := range removals {
		for _, st := range plan.instances {
			switch st.UnitKind {
			case "direct":
				if err := e.Repo.DeleteTasksByInstanceTx(ctx, tx, st.Instance.ID); err != nil {
					return res, err
				}
			case "asking":
				if err := e.Repo.DeleteAskingTasksByInstanceTx(ctx, tx, st.Instance.ID); err != nil {
					return res, err
				}
			}
			if err := e.Repo.DeleteInstanceTx(ctx, tx, st.Instance.ID); err != nil {
				return res, err
			}
			res.Removed++
		}
	}
	for _, plan := range additions {
		svc, err := e.Repo.GetServiceTx(ctx, tx, plan.serviceID)
		if err != nil {
			return res, fmt.Errorf("service %s: %w", plan.serviceID, err)
		}
		for i := 0; i < plan.count; i++ {
			inst := domain.ServiceInstance{
				ID:        uuid.NewString(),
				OrderID:   o.ID,
				ServiceID: svc.ID,
				CreatedAt: e.timestamp(),
			}
			if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
				return res, err
			}
			if err := e.createUnit(ctx, tx, o, inst, svc); err != nil {
				return res, err
			}
			res.Added++
		}
	}

	after := map[string]int{}
	for serviceID, count := range before {
		after[serviceID] = count
	}
	for _, plan := range removals {
		after[plan.serviceID] -= len(plan.instances)
		if after[plan.serviceID] == 0 {
			delete(after, plan.serviceID)
		}
	}
	for _, plan := range additions {
		after[plan.serviceID] += plan.count
	}

	o.Customized = isCustomized(e.Config.Templates[o.Type], after)
	o.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdateOrderTx(ctx, tx, o); err != nil {
		return res, err
	}
	err = e.Audit.Record(ctx, tx, "order", o.ID, "order.services.reconciled", opts.ActorID,
		before, after, fmt.Sprintf("added %d, removed %d instance(s)", res.Added, res.Removed))
	if err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	return res, nil
}

func groupByService(states []repo.InstanceState) map[string][]repo.InstanceState {
	groups := map[string][]repo.InstanceState{}
	for _, st := range states {
		groups[st.Instance.ServiceID] = append(groups[st.Instance.ServiceID], st)
	}
	return groups
}

// partitionRemovable splits a service's instances into those whose unit
// carries no assignee and those locked by an assignment.
func partitionRemovable(states []repo.InstanceState) (removable, locked []repo.InstanceState) {
	for _, st := range states {
		if st.Assigned {
			locked = append(locked, st)
		} else {
			removable = append(removable, st)
		}
	}
	return removable, locked
}

// isCustomized reports whether the instance counts diverge from the order
// type's template, which lists each service exactly once.
func isCustomized(template []string, counts map[string]int) bool {
	inTemplate := map[string]bool{}
	for _, serviceID := range template {
		inTemplate[serviceID] = true
	}
	for serviceID := range counts {
		if !inTemplate[serviceID] {
			return true
		}
	}
	for _, serviceID := range template {
		if counts[serviceID] != 1 {
			return true
		}
	}
	return false
}
