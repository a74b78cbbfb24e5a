// Package harness replays scripted multiplayer sessions against a real room
// server and checks that every session ends with the grid the log rebuilds.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	file_id: budget            # defaults to name
//	sessions:
//	  - id: alice
//	    first_name: Alice
//	  - id: bob
//	steps:
//	  - session: alice
//	    action: set
//	    x: 0
//	    y: 0
//	    value: Revenue
//	  - session: bob
//	    action: format
//	    x: 0
//	    y: 0
//	    w: 2
//	    bold: true
//	  - session: bob
//	    action: leave
//	expect:
//	  cells:
//	    - { x: 0, y: 0, value: Revenue, kind: text, bold: true }
//	  undo_depth: { alice: 1, bob: 1 }
//	  players: { alice: [] }
//
// # Actions
//
//   - set: writes value into the cell at x, y
//   - clear: deletes the values in the rectangle x, y, w, h
//   - format: patches bold, italic and fill_color over the rectangle
//   - undo, redo: walk the session's own history
//   - add_sheet: appends a sheet named value; delete_sheet removes sheet
//   - leave, join: take the session out of the room and back. Edits made
//     while out are queued and sent on join.
//
// Any action may name a sheet; the first sheet is the default. A step the
// local grid refuses must be marked reject: true.
//
// # Determinism
//
// Every session runs a real engine and multiplayer client, connected to a
// room server over in-memory pipes. Time is frozen, so no heartbeat or
// presence timer ever fires, and transaction IDs count up per session
// ("alice-0001"). After each step the harness waits until every session in
// the room has been acknowledged, has seen the last sequence number and
// lists the others in its roster. Traces are therefore identical across
// runs and are compared against testdata/golden with goldie.
//
// # Convergence
//
// After the last step the file is rebuilt from the log, from its latest
// checkpoint, and fingerprinted. Every session still in the room must hold
// the same grid; a session that differs fails the scenario.
package harness
