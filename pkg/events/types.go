// Package events provides the in-process event bus: a bounded ring of
// structured events with typed subscriptions, filtered queries, and a
// background retention sweep.
//
// Every subsystem publishes its lifecycle onto the bus; the API exposes the
// ring as the system's observability surface. Delivery is single-node and
// best-effort: the ring drops its oldest entry when full, and handler
// failures are logged, never propagated to the emitter.
package events

// Task lifecycle event types.
const (
	EventTypeTaskEnqueued     = "task.enqueued"
	EventTypeTaskDequeued     = "task.dequeued"
	EventTypeTaskCancelled    = "task.cancelled"
	EventTypeTaskAssigned     = "task.assigned"
	EventTypeTaskAcknowledged = "task.acknowledged"
	EventTypeTaskProgress     = "task.progress"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeTaskTimeout      = "task.timeout"
	EventTypeTaskReassigned   = "task.reassigned"
)

// Agent lifecycle event types.
const (
	EventTypeAgentRegistered        = "agent.registered"
	EventTypeAgentUnregistered      = "agent.unregistered"
	EventTypeAgentPerformanceUpdate = "agent.performance.updated"
)

// Routing event types.
const (
	EventTypeRoutingDecided = "routing.decided"
)

// Arbitration event types. One arbitration.started .. arbitration.completed
// (or arbitration.failed) bracket per session; the rest fire per operation
// inside the bracket.
const (
	EventTypeArbitrationStarted       = "arbitration.started"
	EventTypeArbitrationRuleEvaluated = "arbitration.rule.evaluated"
	EventTypeArbitrationVerdict       = "arbitration.verdict"
	EventTypeWaiverDecided            = "arbitration.waiver.decided"
	EventTypeAppealDecided            = "arbitration.appeal.decided"
	EventTypePrecedentRecorded        = "arbitration.precedent.recorded"
	EventTypeArbitrationCompleted     = "arbitration.completed"
	EventTypeArbitrationFailed        = "arbitration.failed"
)

// Security event types.
const (
	EventTypeSecurityDenied = "security.denied"
)

// System event types.
const (
	EventTypeSystemShutdown = "system.shutdown"
)
