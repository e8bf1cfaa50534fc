// Package harness runs scripted scenarios against the message engine.
//
// A scenario loads a catalog, then drives the engine through ticks, game
// events, player responses and reloads, checking each step's outcome and
// the final emission log.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: drawdown_cut
//	description: "A drawdown email is answered once"
//	catalog: ../catalog/messages.json
//	samples: { news-flavor-coffee: 0.01 }
//	default_sample: 0.99
//	steps:
//	  - tick: 1
//	    expect:
//	      emitted: [news-flavor-coffee]
//	  - event: pod_drawdown
//	    payload: { pod_name: Alpha, drawdown_pct: 12, allocation: 1000000 }
//	    expect:
//	      emitted: [email-drawdown]
//	      content:
//	        email-drawdown: { subject: "Drawdown Alert: Alpha" }
//	  - respond: { emission: msg-000002, key: cut }
//	    expect:
//	      action: reduce_allocation
//	assertions:
//	  - type: emitted_count
//	    message: email-drawdown
//	    count: 1
//	  - type: final_state
//	    table: responses
//	    where: { emission_id: msg-000002 }
//	    expect: { response_key: cut }
//
// Paths are relative to the scenario file.
//
// # Assertion Types
//
//   - emitted_contains: a message was emitted, optionally with content fields
//   - emitted_order: messages were first emitted in the given order
//   - emitted_count: a message was emitted exactly N times
//   - dropped: an emission was dropped with the given code
//   - final_state: a row in the emission log has the expected values
//
// # Deterministic Testing
//
// Emission ids come from a sequential generator (msg-000001, ...), the
// clock starts at zero and samples come from a fixed source when the
// scenario lists samples, or a seeded hash source otherwise. Each run gets a
// fresh in-memory SQLite log, so traces are identical across runs and can
// be compared against golden files.
package harness
