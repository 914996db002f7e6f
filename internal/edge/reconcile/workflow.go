// Package reconcile runs the handshake-time tenant/customer reconciliation
// as a Temporal workflow: "ensure tenant record exists" and, when the
// handshake's customer id changed, "ensure customer record exists". Both
// are external, idempotent upserts against the cloud's directory service;
// Temporal gives the session controller retries and durability across
// process restarts for free.
package reconcile

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the Temporal task queue the handshake reconciliation
// workflow and its activities run on.
const TaskQueue = "edge-handshake-reconcile"

// Request is the workflow input.
type Request struct {
	TenantID           string
	EdgeID             string
	CustomerID         string // the handshake's customer id; used only when EnsureCustomer is set
	EnsureCustomer     bool
}

// Result is the workflow output.
type Result struct {
	TenantEnsured   bool
	CustomerEnsured bool
}

// Directory is the external collaborator that performs the actual
// tenant/customer upserts. Implementations are registered as activities.
type Directory interface {
	EnsureTenant(ctx context.Context, tenantID, edgeID string) error
	EnsureCustomer(ctx context.Context, tenantID, customerID string) error
}

// Activities adapts a Directory to Temporal's activity registration shape.
type Activities struct {
	Directory Directory
}

// EnsureTenantActivity upserts the tenant record.
func (a *Activities) EnsureTenantActivity(ctx context.Context, tenantID, edgeID string) error {
	return a.Directory.EnsureTenant(ctx, tenantID, edgeID)
}

// EnsureCustomerActivity upserts the customer record.
func (a *Activities) EnsureCustomerActivity(ctx context.Context, tenantID, customerID string) error {
	return a.Directory.EnsureCustomer(ctx, tenantID, customerID)
}

var defaultActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Second,
	RetryPolicy: &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    5,
	},
}

// HandshakeReconcileWorkflow ensures the tenant record exists and, when
// requested, the customer record exists — the durable version of spec
// §4.6 step 5 ("Ensure tenant record exists; ... ensure customer record
// exists if so").
func HandshakeReconcileWorkflow(ctx workflow.Context, req Request) (Result, error) {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions)
	var a *Activities

	if err := workflow.ExecuteActivity(ctx, a.EnsureTenantActivity, req.TenantID, req.EdgeID).Get(ctx, nil); err != nil {
		return Result{}, err
	}
	result := Result{TenantEnsured: true}

	if req.EnsureCustomer {
		if err := workflow.ExecuteActivity(ctx, a.EnsureCustomerActivity, req.TenantID, req.CustomerID).Get(ctx, nil); err != nil {
			return result, err
		}
		result.CustomerEnsured = true
	}

	return result, nil
}

// RegisterWorker registers the workflow and its activities on w.
func RegisterWorker(w worker.Worker, activities *Activities) {
	w.RegisterWorkflow(HandshakeReconcileWorkflow)
	w.RegisterActivity(activities.EnsureTenantActivity)
	w.RegisterActivity(activities.EnsureCustomerActivity)
}
