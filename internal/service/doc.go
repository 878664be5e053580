// Package service supervises the automation worker process.
//
// Overview
// The Supervisor owns at most one worker process. Start resolves the worker
// through a Resolver (locator.Locator in production), writes the worker
// configuration to DataDir/bot_config.json and spawns the process in its
// own process group. Start returns as soon as the process runs.
//
// Every worker lifetime has a run with two reader goroutines:
//   - stdout lines are classified by marker substrings (Classify)
//   - stderr lines are always reported as errors
//
// Each line is published as an EventLog to all subscribers. Delivery never
// blocks a reader, a subscriber with a full buffer misses the event.
//
// Data flow:
//
//   Supervisor              run{cmd}                 subscribers
//       |                      |                          |
//   Start() --- spawn -------->| stdout reader ---------->| EventLog
//       |                      | stderr reader ---------->| EventLog
//       |                      | (stdout closed)          |
//       |<--- state Idle ------| cmd.Wait()               |
//       |                      |------------------------->| EventStopped
//
// Stop protocol:
//  1. write DataDir/stop_signal.txt, the worker polls for it
//  2. poll every PollInterval until the worker exits or StopTimeout passes
//  3. on timeout terminate the process tree (SIGTERM, KillGrace, SIGKILL
//     to the group on unix, taskkill /T on windows), then kill the process
//  4. remove the signal file and return to Idle
//
// Invariants:
//   - At most one worker is Starting or Running at a time.
//   - State moves Idle -> Starting -> Running -> Stopping -> Idle, a failed
//     Start goes back to Idle.
//   - Each worker lifetime publishes exactly one EventStopped, it carries the
//     exit code, so a crash can be told apart from a clean exit.
//   - Stop is idempotent, Stop on Idle does nothing.
//   - A stale stop signal file is removed before every spawn.
package service
