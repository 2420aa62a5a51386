// Package errors wraps the standard library errors package with a builder that
// attaches a component, a category and free-form context to an error.
//
//	return errors.Newf("unknown sync tag %q", tag).
//		Component("backgroundsync").
//		Category(errors.CategoryValidation).
//		Context("tag", tag).
//		Build()
//
// Errors built this way are forwarded to the registered telemetry reporter unless
// their category marks them as expected (validation, not found).
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
	"sync"
)

// Category classifies an error for logging and telemetry.
type Category string

const (
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not-found"
	CategoryNetwork       Category = "network"
	CategoryCache         Category = "cache"
	CategoryDatabase      Category = "database"
	CategoryConfiguration Category = "configuration"
	CategoryLifecycle     Category = "lifecycle"
	CategorySync          Category = "sync"
	CategoryGeneric       Category = "generic"
)

// EnhancedError carries the builder metadata alongside the wrapped error.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

func (e *EnhancedError) Error() string {
	if e.component == "" {
		return e.Err.Error()
	}
	return e.component + ": " + e.Err.Error()
}

func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string {
	return e.component
}

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category {
	return e.category
}

// GetContext returns a copy of the attached context.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  Category
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder around a formatted message. %w verbs are honoured.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component.
func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.component = name
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(c Category) *ErrorBuilder {
	b.category = c
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalises the error and reports it to telemetry when appropriate.
func (b *ErrorBuilder) Build() error {
	ee := &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
	}
	report(ee)
	return ee
}

// Reporter receives built errors, typically forwarding them to an error tracker.
type Reporter func(*EnhancedError)

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs the telemetry reporter. Passing nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(ee *EnhancedError) {
	if ee.category == CategoryValidation || ee.category == CategoryNotFound {
		return
	}
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r(ee)
	}
}

// NewStd creates a plain error, for package-level sentinels.
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join combines errors, discarding nils.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// CategoryOf returns the category of the first EnhancedError in err's tree.
func CategoryOf(err error) Category {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// String renders the context in key=value form for log lines.
func (e *EnhancedError) String() string {
	if len(e.context) == 0 {
		return e.Error()
	}
	parts := make([]string, 0, len(e.context))
	for k, v := range e.context {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return e.Error() + " [" + strings.Join(parts, " ") + "]"
}
