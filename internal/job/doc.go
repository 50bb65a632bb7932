// Package job defines the content pipeline's job lifecycle: the stage enum,
// the trigger-driven transition table, and the models persisted for jobs,
// approvals, and generated artifacts.
//
// Advance is a pure function of (stage, trigger); it never inspects job
// content. Every forward move through an approval-gated checkpoint passes
// through an awaiting stage, and a rejection returns the job to the producing
// stage of that checkpoint while the revision counter increments.
//
// Treat this package as the single source of truth for lifecycle semantics;
// when you add new stages or triggers, extend the transition table and the
// stage metadata maps together.
package job
