// SPDX-License-Identifier: MIT

// Package parser turns raw workflow and composite-action YAML into
// position-tracked facts. It runs two passes over every file: a structural
// yaml.v3 parse that supplies the authoritative trigger set and per-job step
// counts, and a line-oriented scanner that supplies 1-based line/column
// coordinates for every permission, step, run line, and with entry. The two
// passes are cross-checked; disagreement surfaces as a warning, never as a
// hard failure.
package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PoliticalSphere/validate-ci/utils"
)

// Warning codes attached to a parse result.
const (
	WarnParseError        = "PARSE_ERROR"
	WarnYAMLAlias         = "YAML_ALIAS"
	WarnStepCountMismatch = "STEP_COUNT_MISMATCH"
	WarnNotAWorkflow      = "NOT_A_WORKFLOW"
)

// Permission levels. Anything outside none/read/write classifies as unknown
// and compares as elevated.
const (
	LevelNone    = "none"
	LevelRead    = "read"
	LevelWrite   = "write"
	LevelUnknown = "unknown"
)

// LevelRank orders permission levels: none < read < write < unknown.
func LevelRank(level string) int {
	switch level {
	case LevelNone:
		return 0
	case LevelRead:
		return 1
	case LevelWrite:
		return 2
	}
	return 3
}

// NormalizeLevel maps a raw permission value onto the closed level set.
func NormalizeLevel(v string) string {
	v = strings.Trim(strings.TrimSpace(v), `"'`)
	switch v {
	case LevelNone, LevelRead, LevelWrite:
		return v
	}
	return LevelUnknown
}

// PermissionEntry is one `name: level` line of a permissions block.
type PermissionEntry struct {
	Level            string
	HasJustification bool
	Line             int
	Column           int
}

// WithValue is one `key: value` entry of a step's with block. Block-scalar
// values keep their newlines.
type WithValue struct {
	Value  string
	Line   int
	Column int
}

// RunLine is one line of an inline run body with its source position.
type RunLine struct {
	Text   string
	Line   int
	Column int
}

// Step is a single entry of a job's steps sequence.
type Step struct {
	Name       string
	ID         string
	Uses       string
	UsesLine   int
	UsesColumn int
	Run        string
	RunLines   []RunLine
	With       map[string]WithValue
	Line       int
	Column     int
}

// Job is one entry of the jobs mapping.
type Job struct {
	ID                  string
	PermissionsDeclared bool
	Permissions         map[string]PermissionEntry
	Steps               []*Step
	Line                int
	Column              int
}

// Warning is a non-fatal parse anomaly.
type Warning struct {
	Code    string
	Message string
	Line    int
}

// Workflow is the parsed form of one workflow file.
type Workflow struct {
	Path                string
	Key                 string
	Triggers            []string
	PermissionsDeclared bool
	Permissions         map[string]PermissionEntry
	Jobs                map[string]*Job
	JobOrder            []string
	Warnings            []Warning
}

// Parse reads a workflow file into its structured form. It never fails:
// malformed YAML downgrades to line-only parsing with a PARSE_ERROR warning.
//
// -path: Source path, used for the workflow key and diagnostics.
// -data: Raw file contents.
// Returns: The parsed workflow; never nil.
func Parse(path string, data []byte) *Workflow {
	wf := &Workflow{
		Path:        path,
		Key:         utils.WorkflowKey(path),
		Permissions: make(map[string]PermissionEntry),
		Jobs:        make(map[string]*Job),
	}

	info := parseStructural(data, wf)

	sc := &scanner{wf: wf}
	for i, raw := range strings.Split(string(data), "\n") {
		sc.line(i+1, raw)
	}
	sc.finish()

	if info != nil {
		wf.Triggers = info.triggers
		if !info.hasOn && !info.hasJobs {
			wf.Warnings = append(wf.Warnings, Warning{
				Code:    WarnNotAWorkflow,
				Message: fmt.Sprintf("%s parses as YAML but has neither 'on' nor 'jobs'", path),
				Line:    1,
			})
		}
		for jobID, want := range info.stepCounts {
			job, ok := wf.Jobs[jobID]
			if !ok {
				continue
			}
			if len(job.Steps) != want {
				wf.Warnings = append(wf.Warnings, Warning{
					Code: WarnStepCountMismatch,
					Message: fmt.Sprintf(
						"job %q: YAML reports %d steps, line scan found %d",
						jobID, want, len(job.Steps)),
					Line: job.Line,
				})
			}
		}
	} else if len(wf.Triggers) == 0 {
		wf.Triggers = sc.fallbackTriggers
	}

	return wf
}

// structuralInfo carries the facts the yaml.v3 pass is authoritative for.
type structuralInfo struct {
	triggers   []string
	stepCounts map[string]int
	hasOn      bool
	hasJobs    bool
}

func parseStructural(data []byte, wf *Workflow) *structuralInfo {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		wf.Warnings = append(wf.Warnings, Warning{
			Code:    WarnParseError,
			Message: fmt.Sprintf("YAML parse failed, falling back to line scan: %v", err),
			Line:    1,
		})
		return nil
	}
	if len(root.Content) == 0 {
		return nil
	}
	doc := root.Content[0]

	collectAliasWarnings(doc, wf)

	if doc.Kind != yaml.MappingNode {
		return nil
	}

	info := &structuralInfo{stepCounts: make(map[string]int)}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key, val := doc.Content[i], doc.Content[i+1]
		switch key.Value {
		case "on":
			info.hasOn = true
			info.triggers = triggersFromNode(val)
		case "jobs":
			info.hasJobs = true
			if val.Kind != yaml.MappingNode {
				continue
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				jobKey, jobVal := val.Content[j], val.Content[j+1]
				steps := mappingValue(jobVal, "steps")
				if steps != nil && steps.Kind == yaml.SequenceNode {
					info.stepCounts[jobKey.Value] = len(steps.Content)
				}
			}
		}
	}
	return info
}

// collectAliasWarnings walks the node tree and records every anchor or
// alias. The line scanner does not expand aliases, so positions derived
// from aliased content would lie; the warning makes that visible.
func collectAliasWarnings(node *yaml.Node, wf *Workflow) {
	if node == nil {
		return
	}
	if node.Kind == yaml.AliasNode {
		wf.Warnings = append(wf.Warnings, Warning{
			Code:    WarnYAMLAlias,
			Message: fmt.Sprintf("YAML alias *%s is not expanded by the line scanner", node.Value),
			Line:    node.Line,
		})
		return
	}
	if node.Anchor != "" {
		wf.Warnings = append(wf.Warnings, Warning{
			Code:    WarnYAMLAlias,
			Message: fmt.Sprintf("YAML anchor &%s is not expanded by the line scanner", node.Anchor),
			Line:    node.Line,
		})
	}
	for _, child := range node.Content {
		collectAliasWarnings(child, wf)
	}
}

func triggersFromNode(node *yaml.Node) []string {
	var triggers []string
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value != "" {
			triggers = append(triggers, node.Value)
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind == yaml.ScalarNode {
				triggers = append(triggers, item.Value)
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			triggers = append(triggers, node.Content[i].Value)
		}
	}
	return triggers
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// Indent anchors of the canonical workflow layout. The scanner keys on
// these: top-level permission entries at 2, job ids at 2, job keys at 4,
// job permission entries at 6, step dashes at 6, step keys at 8, with
// entries at 10.
const (
	indentTopChild  = 2
	indentJobKey    = 4
	indentJobChild  = 6
	indentStepKey   = 8
	indentWithEntry = 10
)

type scanner struct {
	wf *Workflow

	section string // current top-level key: "permissions", "on", "jobs", or ""

	curJob     *Job
	inJobPerms bool
	inSteps    bool

	curStep *Step
	inWith  bool

	inRun           bool
	runBodyIndent   int // 0 until the first content line fixes it
	runHeaderIndent int
	runBuf          []RunLine

	withBlockKey    string
	withBlockLine   int
	withBlockColumn int
	withBlockIndent int
	withBuf         []string

	fallbackTriggers []string
}

func (s *scanner) line(n int, raw string) {
	if s.inRun {
		if s.captureRunLine(n, raw) {
			return
		}
	}
	if s.withBlockKey != "" {
		if s.captureWithBlockLine(raw) {
			return
		}
	}

	indent := leadingSpaces(raw)
	content := strings.TrimSpace(raw)
	if content == "" || strings.HasPrefix(content, "#") {
		return
	}

	if indent == 0 {
		s.topLevel(n, raw, content)
		return
	}

	switch s.section {
	case "permissions":
		s.permEntry(n, raw, indent, content, s.wf.Permissions)
	case "on":
		s.fallbackTrigger(indent, content)
	case "jobs":
		s.jobsLine(n, raw, indent, content)
	}
}

func (s *scanner) topLevel(n int, raw, content string) {
	s.closeStep()
	s.curJob = nil
	s.inJobPerms = false
	s.inSteps = false

	key, rest, ok := splitKey(content)
	if !ok {
		s.section = ""
		return
	}
	switch key {
	case "permissions":
		s.section = "permissions"
		s.wf.PermissionsDeclared = true
		if rest != "" {
			s.flowPermissions(n, raw, rest, s.wf.Permissions)
		}
	case "on":
		s.section = "on"
		if rest != "" {
			s.inlineTriggers(rest)
		}
	case "jobs":
		s.section = "jobs"
	default:
		s.section = ""
	}
}

func (s *scanner) jobsLine(n int, raw string, indent int, content string) {
	switch {
	case indent == indentTopChild:
		s.closeStep()
		key, rest, ok := splitKey(content)
		if !ok || stripComment(rest) != "" {
			s.curJob = nil
			return
		}
		job := &Job{
			ID:          key,
			Permissions: make(map[string]PermissionEntry),
			Line:        n,
			Column:      indent + 1,
		}
		s.wf.Jobs[key] = job
		s.wf.JobOrder = append(s.wf.JobOrder, key)
		s.curJob = job
		s.inJobPerms = false
		s.inSteps = false

	case s.curJob == nil:
		return

	case indent == indentJobKey:
		s.closeStep()
		key, rest, ok := splitKey(content)
		if !ok {
			return
		}
		s.inJobPerms = false
		s.inSteps = false
		switch key {
		case "permissions":
			s.curJob.PermissionsDeclared = true
			s.inJobPerms = true
			if rest != "" {
				s.flowPermissions(n, raw, rest, s.curJob.Permissions)
			}
		case "steps":
			s.inSteps = true
		}

	case indent == indentJobChild:
		if s.inJobPerms {
			s.permEntry(n, raw, indent, content, s.curJob.Permissions)
			return
		}
		if s.inSteps && (content == "-" || strings.HasPrefix(content, "- ")) {
			s.closeStep()
			step := &Step{
				With:   make(map[string]WithValue),
				Line:   n,
				Column: indent + 1,
			}
			s.curJob.Steps = append(s.curJob.Steps, step)
			s.curStep = step
			if content != "-" {
				s.stepKey(n, raw, strings.TrimSpace(content[2:]))
			}
		}

	case indent == indentStepKey && s.curStep != nil:
		s.stepKey(n, raw, content)

	case indent == indentWithEntry && s.inWith && s.curStep != nil:
		s.withEntry(n, raw, indent, content)
	}
}

func (s *scanner) stepKey(n int, raw, content string) {
	key, rest, ok := splitKey(content)
	if !ok {
		return
	}
	if key != "with" {
		s.inWith = false
	}
	switch key {
	case "name":
		s.curStep.Name = stripComment(rest)
	case "id":
		s.curStep.ID = stripComment(rest)
	case "uses":
		s.curStep.Uses = stripComment(rest)
		s.curStep.UsesLine = n
		s.curStep.UsesColumn = valueColumn(raw, key)
	case "run":
		if isBlockScalarHeader(rest) {
			s.inRun = true
			s.runHeaderIndent = leadingSpaces(raw)
			s.runBodyIndent = 0
			s.runBuf = nil
		} else {
			text := stripComment(rest)
			s.curStep.RunLines = []RunLine{{Text: text, Line: n, Column: valueColumn(raw, key)}}
			s.curStep.Run = text
		}
	case "with":
		s.inWith = true
	}
}

func (s *scanner) withEntry(n int, raw string, indent int, content string) {
	key, rest, ok := splitKey(content)
	if !ok {
		return
	}
	if isBlockScalarHeader(rest) {
		s.withBlockKey = key
		s.withBlockLine = n
		s.withBlockColumn = indent + 1
		s.withBlockIndent = 0
		s.withBuf = nil
		return
	}
	s.curStep.With[key] = WithValue{
		Value:  stripComment(rest),
		Line:   n,
		Column: indent + 1,
	}
}

// captureRunLine consumes one line of a run block scalar. Returns false
// when the block has ended and the line still needs normal handling.
func (s *scanner) captureRunLine(n int, raw string) bool {
	if strings.TrimSpace(raw) == "" {
		s.runBuf = append(s.runBuf, RunLine{Text: "", Line: n, Column: 1})
		return true
	}
	indent := leadingSpaces(raw)
	if s.runBodyIndent == 0 {
		if indent <= s.runHeaderIndent {
			s.closeRun()
			return false
		}
		s.runBodyIndent = indent
	}
	if indent < s.runBodyIndent {
		s.closeRun()
		return false
	}
	s.runBuf = append(s.runBuf, RunLine{
		Text:   raw[s.runBodyIndent:],
		Line:   n,
		Column: s.runBodyIndent + 1,
	})
	return true
}

func (s *scanner) closeRun() {
	if !s.inRun {
		return
	}
	s.inRun = false
	// Trailing blank lines belong to the enclosing document, not the block.
	for len(s.runBuf) > 0 && s.runBuf[len(s.runBuf)-1].Text == "" {
		s.runBuf = s.runBuf[:len(s.runBuf)-1]
	}
	if s.curStep != nil && len(s.runBuf) > 0 {
		s.curStep.RunLines = append(s.curStep.RunLines, s.runBuf...)
		texts := make([]string, len(s.curStep.RunLines))
		for i, rl := range s.curStep.RunLines {
			texts[i] = rl.Text
		}
		s.curStep.Run = strings.Join(texts, "\n")
	}
	s.runBuf = nil
}

func (s *scanner) captureWithBlockLine(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		s.withBuf = append(s.withBuf, "")
		return true
	}
	indent := leadingSpaces(raw)
	if s.withBlockIndent == 0 {
		if indent <= indentWithEntry {
			s.closeWithBlock()
			return false
		}
		s.withBlockIndent = indent
	}
	if indent < s.withBlockIndent {
		s.closeWithBlock()
		return false
	}
	s.withBuf = append(s.withBuf, raw[s.withBlockIndent:])
	return true
}

func (s *scanner) closeWithBlock() {
	if s.withBlockKey == "" {
		return
	}
	for len(s.withBuf) > 0 && s.withBuf[len(s.withBuf)-1] == "" {
		s.withBuf = s.withBuf[:len(s.withBuf)-1]
	}
	if s.curStep != nil {
		s.curStep.With[s.withBlockKey] = WithValue{
			Value:  strings.Join(s.withBuf, "\n"),
			Line:   s.withBlockLine,
			Column: s.withBlockColumn,
		}
	}
	s.withBlockKey = ""
	s.withBuf = nil
}

func (s *scanner) closeStep() {
	s.closeRun()
	s.closeWithBlock()
	s.curStep = nil
	s.inWith = false
}

func (s *scanner) finish() {
	s.closeStep()
}

func (s *scanner) permEntry(n int, raw string, indent int, content string, into map[string]PermissionEntry) {
	key, rest, ok := splitKey(content)
	if !ok {
		return
	}
	into[key] = PermissionEntry{
		Level:            NormalizeLevel(stripComment(rest)),
		HasJustification: hasJustificationComment(raw),
		Line:             n,
		Column:           indent + 1,
	}
}

// flowPermissions parses the inline form `permissions: {contents: read}`.
// A bare scalar (e.g. read-all) declares the block with no entries.
func (s *scanner) flowPermissions(n int, raw, rest string, into map[string]PermissionEntry) {
	rest = stripComment(rest)
	if !strings.HasPrefix(rest, "{") {
		return
	}
	body := strings.TrimSuffix(strings.TrimPrefix(rest, "{"), "}")
	justified := hasJustificationComment(raw)
	for _, pair := range strings.Split(body, ",") {
		key, val, ok := splitKey(strings.TrimSpace(pair))
		if !ok || key == "" {
			continue
		}
		col := strings.Index(raw, key) + 1
		into[key] = PermissionEntry{
			Level:            NormalizeLevel(val),
			HasJustification: justified,
			Line:             n,
			Column:           col,
		}
	}
}

func (s *scanner) inlineTriggers(rest string) {
	rest = stripComment(rest)
	if strings.HasPrefix(rest, "[") {
		body := strings.TrimSuffix(strings.TrimPrefix(rest, "["), "]")
		for _, item := range strings.Split(body, ",") {
			if t := strings.TrimSpace(item); t != "" {
				s.fallbackTriggers = append(s.fallbackTriggers, t)
			}
		}
		return
	}
	if rest != "" {
		s.fallbackTriggers = append(s.fallbackTriggers, rest)
	}
}

func (s *scanner) fallbackTrigger(indent int, content string) {
	if indent != indentTopChild {
		return
	}
	if strings.HasPrefix(content, "- ") {
		if t := stripComment(strings.TrimSpace(content[2:])); t != "" {
			s.fallbackTriggers = append(s.fallbackTriggers, t)
		}
		return
	}
	if key, _, ok := splitKey(content); ok {
		s.fallbackTriggers = append(s.fallbackTriggers, key)
	}
}

// UsesLine is one `uses:` occurrence found by the flat line scan used for
// composite action files.
type UsesLine struct {
	Value  string
	Line   int
	Column int
}

// ScanUsesLines finds every `uses:` line in a file without building the
// full workflow structure. Composite actions only need their references
// checked, not their shape.
func ScanUsesLines(data []byte) []UsesLine {
	var found []UsesLine
	for i, raw := range strings.Split(string(data), "\n") {
		content := strings.TrimSpace(raw)
		content = strings.TrimPrefix(content, "- ")
		key, rest, ok := splitKey(content)
		if !ok || key != "uses" {
			continue
		}
		value := stripComment(rest)
		if value == "" {
			continue
		}
		found = append(found, UsesLine{
			Value:  value,
			Line:   i + 1,
			Column: valueColumn(raw, "uses"),
		})
	}
	return found
}

// --- low-level line helpers ---

func leadingSpaces(s string) int {
	n := 0
	for n < len(s) && s[n] == ' ' {
		n++
	}
	return n
}

// splitKey splits "key: rest" at the first colon. A colon-less line is not
// a key.
func splitKey(content string) (key, rest string, ok bool) {
	idx := strings.Index(content, ":")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(content[:idx])
	rest = strings.TrimSpace(content[idx+1:])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, rest, true
}

// stripComment removes a trailing YAML comment, respecting single and
// double quotes so shell fragments like `echo '#'` survive.
func stripComment(v string) string {
	var quote byte
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#' && (i == 0 || v[i-1] == ' ' || v[i-1] == '\t'):
			return strings.TrimSpace(v[:i])
		}
	}
	return strings.TrimSpace(v)
}

// commentOf returns the trailing comment of a raw line, empty when none.
func commentOf(raw string) string {
	var quote byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '#' && (i == 0 || raw[i-1] == ' ' || raw[i-1] == '\t'):
			return strings.TrimSpace(raw[i+1:])
		}
	}
	return ""
}

func hasJustificationComment(raw string) bool {
	return strings.Contains(strings.ToLower(commentOf(raw)), "justification")
}

// valueColumn returns the 1-based column where the value after "key:"
// starts on the raw line.
func valueColumn(raw, key string) int {
	idx := strings.Index(raw, key+":")
	if idx < 0 {
		return leadingSpaces(raw) + 1
	}
	pos := idx + len(key) + 1
	for pos < len(raw) && raw[pos] == ' ' {
		pos++
	}
	return pos + 1
}

// isBlockScalarHeader reports whether a value starts a literal or folded
// block scalar, allowing chomping/indentation indicators (|-, >+, |2).
func isBlockScalarHeader(rest string) bool {
	rest = stripComment(rest)
	if rest == "" {
		return false
	}
	if rest[0] != '|' && rest[0] != '>' {
		return false
	}
	for _, c := range rest[1:] {
		if c != '-' && c != '+' && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
