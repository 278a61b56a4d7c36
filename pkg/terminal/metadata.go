package terminal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The prompt marker is a self-delimited block the shell re-emits on every
// prompt redraw. Everything between the sentinels is key=value lines that
// let the session recover the previous command's exit code and the shell's
// working directory without running extra commands.
//
// Rendered by bash, a marker looks like:
//
//	###OHSH-CMD###
//	exit_code=0
//	pid=1234
//	cwd=/workspace
//	shell=bash
//	###OHSH-END###
const (
	markerBegin = "###OHSH-CMD###"
	markerEnd   = "###OHSH-END###"
)

var markerRegexp = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(markerBegin) + `\s*(.*?)` + regexp.QuoteMeta(markerEnd))

// Marker is one occurrence of the prompt marker block within a screen
// snapshot. Start and End are byte offsets into the snapshot.
type Marker struct {
	Start int
	End   int
	body  string
}

// MarkerInfo is the decoded content of a marker block.
type MarkerInfo struct {
	ExitCode   int
	PID        int
	WorkingDir string
	Shell      string
}

// BuildPromptString returns the bash PS1 value that renders the marker block
// on every prompt redraw. The \n sequences are PS1 escapes decoded at
// display time; $?, $$ and $(pwd) are expanded by the shell each time the
// prompt is drawn (either via promptvars or via the PROMPT_COMMAND re-export
// installed at session start).
func BuildPromptString() string {
	return `\n` + markerBegin + `\n` +
		`exit_code=$?\n` +
		`pid=$$\n` +
		`cwd=$(pwd)\n` +
		`shell=bash\n` +
		markerEnd + `\n`
}

// BuildPowerShellPrompt returns the body of a PowerShell prompt function
// that renders the same marker block. Backtick-n is PowerShell's newline
// escape inside a double-quoted string.
func BuildPowerShellPrompt() string {
	return "function prompt { \"`n" + markerBegin + "`n" +
		"exit_code=$(if ($global:LASTEXITCODE -ne $null) { $global:LASTEXITCODE } else { 0 })`n" +
		"pid=$PID`n" +
		"cwd=$($PWD.Path)`n" +
		"shell=powershell`n" +
		markerEnd + "`n\" }"
}

// FindMarkers returns all non-overlapping marker occurrences in text, in
// order. Zero matches means no command has completed inside the buffered
// window; multiple matches mean the buffer still holds several completed
// commands.
func FindMarkers(text string) []Marker {
	idx := markerRegexp.FindAllStringSubmatchIndex(text, -1)
	if len(idx) == 0 {
		return nil
	}
	markers := make([]Marker, 0, len(idx))
	for _, m := range idx {
		markers = append(markers, Marker{
			Start: m[0],
			End:   m[1],
			body:  text[m[2]:m[3]],
		})
	}
	return markers
}

// ParseMarker decodes the key=value lines of a marker block. Unknown keys
// are ignored; a missing or unparseable exit_code decodes as 0 so a marker
// emitted before any command ran still parses.
func ParseMarker(m Marker) (MarkerInfo, error) {
	info := MarkerInfo{}
	for _, line := range strings.Split(m.body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return info, fmt.Errorf("malformed marker line %q", line)
		}
		switch key {
		case "exit_code":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				info.ExitCode = n
			}
		case "pid":
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				info.PID = n
			}
		case "cwd":
			info.WorkingDir = strings.TrimSpace(value)
		case "shell":
			info.Shell = strings.TrimSpace(value)
		}
	}
	return info, nil
}

// EndsWithPrompt reports whether the screen's trailing content is the end of
// a rendered prompt marker, i.e. the shell is sitting at a fresh prompt.
// This also covers the case where the marker's beginning scrolled out of a
// bounded buffer.
func EndsWithPrompt(screen string) bool {
	return strings.HasSuffix(strings.TrimRight(screen, " \t\r\n"), markerEnd)
}
