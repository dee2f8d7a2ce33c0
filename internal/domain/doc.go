// Package domain models the weather emergency response workflow.
//
// # Data Flow
//
// Each polling cycle produces one Incident per monitored location. An
// Incident carries a weather Observation through disaster classification,
// severity gating, an optional human approval step, and alert dispatch.
// The workflow engine is the only writer of Incident state; every state
// transition is recorded by the audit package.
//
// # Severity Scale
//
// Severity uses a four-level scale: Critical, High, Medium, Low. The scale
// drives the approval gating rule: high-stakes events (Critical, High) are
// dispatched immediately because the classifier has already validated them,
// while Medium and Low events require a human operator to confirm before an
// alert goes out, suppressing false positives. A classifier response with an
// unrecognized severity normalizes to Medium so that ambiguous output always
// fails toward human oversight, never toward auto-dispatch.
//
// # Disaster Types
//
// The classifier vocabulary is open-ended but typically one of: Hurricane,
// Flood, Heatwave, Severe Storm, Winter Storm, or No Immediate Threat.
//
// # ID Generation
//
// Incident IDs are deterministic SHA-256 hashes of location|cycle-time.
// Reprocessing the same cycle for the same location produces the same ID,
// which keeps audit trails replay-safe. See [NewIncident].
package domain
