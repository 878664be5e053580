// Package locator finds a runnable worker for the current install.
//
// A worker is either a self-contained sidecar binary or a script tree (a
// directory holding main.py) run by a Python interpreter. Both are looked up
// in ordered candidate tables, first existing path wins. The tables depend
// on the platform only, see Candidates, so new install layouts are added as
// data.
//
// Mode policy:
//   - development installs prefer the script tree, so edits apply without
//     a rebuild
//   - production installs prefer the sidecar binary
//   - whichever exists is used otherwise
//
// Lookups never modify the filesystem. Interpreter probes run
// "<python> --version" and an import check, nothing else.
package locator
