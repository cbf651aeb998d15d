// Package threat implements the incident-response domain carried by the
// pipeline: a Monitor that emits detection events, an Analyzer that adds
// business context and picks a remediation, and an Orchestrator that
// executes it.
//
// Analyzer.Func and Orchestrator.Func plug into stage runners; payloads
// travel as RawEvent, Analysis and Remediation.
package threat
