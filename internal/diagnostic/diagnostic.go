// Diagnostic reporting for tensor IR verification.
// Turns verifier violations into coded diagnostics, filters and renders them.

package diagnostic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/orizon-lang/tensorir/internal/tir"
)

// DiagnosticLevel represents the severity level of a diagnostic message.
type DiagnosticLevel int

const (
	DiagnosticError DiagnosticLevel = iota
	DiagnosticWarning
	DiagnosticInfo
)

func (dl DiagnosticLevel) String() string {
	switch dl {
	case DiagnosticError:
		return "error"
	case DiagnosticWarning:
		return "warning"
	case DiagnosticInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Location identifies the instruction a diagnostic is attached to.
type Location struct {
	Function string
	Name     string
	Instr    tir.InstrID
}

func (l Location) String() string {
	if l.Name == "" {
		return "@" + l.Function
	}
	return fmt.Sprintf("@%s:%%%s", l.Function, l.Name)
}

// Diagnostic represents a single diagnostic message.
type Diagnostic struct {
	Code     string
	Title    string
	Message  string
	Snippet  string
	Tags     []string
	Location Location
	Level    DiagnosticLevel
	Category tir.Category
}

// DiagnosticBuilder helps construct diagnostic messages with fluent API.
type DiagnosticBuilder struct {
	diagnostic *Diagnostic
}

// NewDiagnostic creates a new diagnostic builder.
func NewDiagnostic() *DiagnosticBuilder {
	return &DiagnosticBuilder{
		diagnostic: &Diagnostic{
			Tags: make([]string, 0),
		},
	}
}

func (db *DiagnosticBuilder) Error() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticError

	return db
}

func (db *DiagnosticBuilder) Warning() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticWarning

	return db
}

func (db *DiagnosticBuilder) Info() *DiagnosticBuilder {
	db.diagnostic.Level = DiagnosticInfo

	return db
}

func (db *DiagnosticBuilder) Category(c tir.Category) *DiagnosticBuilder {
	db.diagnostic.Category = c

	return db
}

func (db *DiagnosticBuilder) Code(code string) *DiagnosticBuilder {
	db.diagnostic.Code = code

	return db
}

func (db *DiagnosticBuilder) Title(title string) *DiagnosticBuilder {
	db.diagnostic.Title = title

	return db
}

func (db *DiagnosticBuilder) Message(message string) *DiagnosticBuilder {
	db.diagnostic.Message = message

	return db
}

func (db *DiagnosticBuilder) Snippet(snippet string) *DiagnosticBuilder {
	db.diagnostic.Snippet = snippet

	return db
}

func (db *DiagnosticBuilder) At(loc Location) *DiagnosticBuilder {
	db.diagnostic.Location = loc

	return db
}

func (db *DiagnosticBuilder) Tag(tag string) *DiagnosticBuilder {
	db.diagnostic.Tags = append(db.diagnostic.Tags, tag)

	return db
}

func (db *DiagnosticBuilder) Build() *Diagnostic {
	return db.diagnostic
}

// FromViolation converts one verifier violation into an error diagnostic.
func FromViolation(v tir.Violation) *Diagnostic {
	b := NewDiagnostic().
		Error().
		Category(v.Category()).
		Code(v.Rule.Code()).
		Title(fmt.Sprintf("%s contract violated", v.Kind)).
		Message(v.Summary()).
		Snippet(v.Dump).
		At(Location{Function: v.Function, Name: v.Name, Instr: v.Instr}).
		Tag(v.Category().String())
	for _, op := range v.Operands {
		b.Tag(op)
	}
	return b.Build()
}

// DiagnosticEngine manages the collection and processing of diagnostics.
type DiagnosticEngine struct {
	diagnostics []Diagnostic
	config      DiagnosticConfig
	truncated   bool
}

// DiagnosticConfig controls diagnostic behavior.
type DiagnosticConfig struct {
	IgnoreCategories []tir.Category
	IgnoreCodes      []string
	// MaxErrors stops collection after this many errors; zero means no limit.
	MaxErrors   int
	ShowSnippet bool
}

// NewDiagnosticEngine creates a new diagnostic engine.
func NewDiagnosticEngine(config DiagnosticConfig) *DiagnosticEngine {
	return &DiagnosticEngine{
		diagnostics: make([]Diagnostic, 0),
		config:      config,
	}
}

// AddDiagnostic adds a diagnostic to the engine.
func (de *DiagnosticEngine) AddDiagnostic(diagnostic *Diagnostic) {
	if de.truncated || de.shouldIgnore(diagnostic) {
		return
	}

	de.diagnostics = append(de.diagnostics, *diagnostic)

	// Stop adding diagnostics if max errors reached.
	if de.config.MaxErrors > 0 && len(de.GetErrors()) >= de.config.MaxErrors {
		de.truncated = true
		truncationDiag := NewDiagnostic().
			Info().
			Code("TIR000").
			Title("Too many errors").
			Message(fmt.Sprintf("Stopping after %d errors", de.config.MaxErrors)).
			Build()
		de.diagnostics = append(de.diagnostics, *truncationDiag)
	}
}

// AddReport adds one diagnostic per violation of r.
func (de *DiagnosticEngine) AddReport(r *tir.Report) {
	if r == nil {
		return
	}
	for _, v := range r.Violations {
		de.AddDiagnostic(FromViolation(v))
	}
}

// shouldIgnore checks if a diagnostic should be ignored based on config.
func (de *DiagnosticEngine) shouldIgnore(diagnostic *Diagnostic) bool {
	if diagnostic.Level == DiagnosticError {
		for _, cat := range de.config.IgnoreCategories {
			if diagnostic.Category == cat {
				return true
			}
		}
	}

	for _, code := range de.config.IgnoreCodes {
		if diagnostic.Code == code {
			return true
		}
	}

	return false
}

// GetDiagnostics returns all diagnostics.
func (de *DiagnosticEngine) GetDiagnostics() []Diagnostic {
	return de.diagnostics
}

// GetErrors returns only error-level diagnostics.
func (de *DiagnosticEngine) GetErrors() []Diagnostic {
	errors := make([]Diagnostic, 0)

	for _, diag := range de.diagnostics {
		if diag.Level == DiagnosticError {
			errors = append(errors, diag)
		}
	}

	return errors
}

// HasErrors returns true if there are any errors.
func (de *DiagnosticEngine) HasErrors() bool {
	return len(de.GetErrors()) > 0
}

// Truncated reports whether MaxErrors cut collection short.
func (de *DiagnosticEngine) Truncated() bool { return de.truncated }

// Clear removes all diagnostics.
func (de *DiagnosticEngine) Clear() {
	de.diagnostics = de.diagnostics[:0]
	de.truncated = false
}

// SortDiagnostics sorts diagnostics by location and severity. Functions keep
// the order in which they were first reported, which for a module report is
// program order; instruction ids follow creation order within a function.
// Diagnostics without a function, such as the truncation notice, go last.
func (de *DiagnosticEngine) SortDiagnostics() {
	rank := make(map[string]int)
	for i, diag := range de.diagnostics {
		if _, seen := rank[diag.Location.Function]; !seen && diag.Location.Function != "" {
			rank[diag.Location.Function] = i
		}
	}
	rankOf := func(fn string) int {
		if r, ok := rank[fn]; ok {
			return r
		}
		return len(de.diagnostics)
	}

	sort.SliceStable(de.diagnostics, func(i, j int) bool {
		a, b := de.diagnostics[i], de.diagnostics[j]

		if ra, rb := rankOf(a.Location.Function), rankOf(b.Location.Function); ra != rb {
			return ra < rb
		}

		if a.Location.Instr != b.Location.Instr {
			return a.Location.Instr < b.Location.Instr
		}

		if a.Level != b.Level {
			return a.Level < b.Level
		}

		return a.Code < b.Code
	})
}

// FormatDiagnostics returns a formatted string representation of all diagnostics.
func (de *DiagnosticEngine) FormatDiagnostics() string {
	if len(de.diagnostics) == 0 {
		return de.formatSummary()
	}

	de.SortDiagnostics()

	var result strings.Builder

	for _, diag := range de.diagnostics {
		result.WriteString(de.formatSingleDiagnostic(&diag))
	}

	result.WriteString(de.formatSummary())

	return result.String()
}

// formatSingleDiagnostic formats a single diagnostic.
func (de *DiagnosticEngine) formatSingleDiagnostic(diag *Diagnostic) string {
	var result strings.Builder

	if diag.Location.Function == "" {
		fmt.Fprintf(&result, "%s[%s]: %s\n", diag.Level, diag.Code, diag.Title)
	} else {
		fmt.Fprintf(&result, "%s: %s[%s]: %s\n", diag.Location, diag.Level, diag.Code, diag.Title)
	}

	if diag.Message != "" {
		fmt.Fprintf(&result, "  %s\n", diag.Message)
	}

	if de.config.ShowSnippet && diag.Snippet != "" {
		fmt.Fprintf(&result, "  | %s\n", diag.Snippet)
	}

	return result.String()
}

// formatSummary formats a summary of all diagnostics.
func (de *DiagnosticEngine) formatSummary() string {
	errorCount := len(de.GetErrors())
	if errorCount == 0 {
		return "no violations found\n"
	}

	return fmt.Sprintf("found %d violation(s)\n", errorCount)
}
