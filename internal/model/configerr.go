package model

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrorDetail is one config problem in a form fit for the log.
type CueErrorDetail struct {
	Path    string // stop.timeout
	Code    string // unknown_field | missing_required | invalid_value | type_mismatch | validation_error
	Message string
	Pos     CueErrorPosition
	Raw     string
}

func (c CueErrorDetail) Attr(name string) slog.Attr {
	return slog.GroupAttrs(
		name,
		slog.String("code", c.Code),
		slog.String("path", c.Path),
		slog.String("message", c.Message),
		slog.String("file", c.Pos.Filename),
		slog.Int("line", c.Pos.Line),
		slog.Int("column", c.Pos.Column),
	)
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

// errorRules map raw CUE messages to codes, first match wins.
var errorRules = []struct {
	re     *regexp.Regexp
	code   string
	format string
}{
	{regexp.MustCompile(`(?i)not allowed|unknown field`), "unknown_field", "Field %s is not allowed"},
	{regexp.MustCompile(`(?i)incomplete value`), "missing_required", "Field %s is required"},
	{regexp.MustCompile(`(?i)empty disjunction|does not match|conflicting values|invalid value|out of bound`), "invalid_value", "Field %s has invalid value"},
	{regexp.MustCompile(`(?i)mismatched types|expected .* got .*`), "type_mismatch", "Field %s has wrong type"},
}

const durationHint = "a Go duration such as 500ms, 10s or 1h"

// fieldHints tell what a field accepts, appended to its message.
var fieldHints = map[string]string{
	"install_mode": fmt.Sprintf("possible values (%s,%s,%s) (default %s)",
		InstallModeAuto, InstallModeDevelopment, InstallModeProduction, InstallModeAuto),
	"stop.timeout":       durationHint,
	"stop.poll_interval": durationHint,
	"stop.kill_grace":    durationHint,
	"upload.cooldown":    durationHint,
	"upload.repository":  "owner/name of a GitHub repository, empty disables log upload",
}

// CueErrDetails turns an error returned by LoadConfig into a list of
// user friendly records, one per position. Errors not coming from CUE
// yield nil.
func CueErrDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}

	seen := make(map[CueErrorPosition]struct{})
	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		pos, ok := position(e)
		if !ok {
			continue
		}
		if _, dup := seen[pos]; dup {
			continue
		}
		seen[pos] = struct{}{}

		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := fieldPath(e.Path())

		d := CueErrorDetail{Path: path, Code: "validation_error", Message: raw, Pos: pos, Raw: e.Error()}
		field := path[strings.LastIndexByte(path, '.')+1:]
		for _, r := range errorRules {
			if r.re.MatchString(raw) {
				d.Code, d.Message = r.code, fmt.Sprintf(r.format, field)
				break
			}
		}
		if hint, ok := fieldHints[path]; ok && d.Code != "unknown_field" {
			d.Message += ": " + hint
		}
		out = append(out, d)
	}
	return out
}

func position(err cueerrors.Error) (CueErrorPosition, bool) {
	for _, p := range cueerrors.Positions(err) {
		if p.Filename() != "" {
			return CueErrorPosition{Filename: p.Filename(), Line: p.Line(), Column: p.Column()}, true
		}
	}
	return CueErrorPosition{}, false
}

// fieldPath joins a CUE path, dropping the leading #Config definition.
func fieldPath(p []string) string {
	if len(p) > 0 && strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
