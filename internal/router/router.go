// Package router turns free-text chat messages into FHIR lookups using
// ordered keyword matching and formats the first result for display.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"FhirChat/internal/fhir"
)

const instrumentationName = "FhirChat/internal/router"

// HelpText is returned verbatim when no keyword matches.
const HelpText = `I can help you with:
- Patient search (e.g., "search patient name Karketi")
- Conditions (e.g., "get conditions for patient 10006")
- Procedures (e.g., "show procedures for patient 10117")
- Encounters (e.g., "get encounters for patient 10006")
- Observations (e.g., "show observations for patient 10011")
- Prescriptions (e.g., "get prescriptions for patient 42458")

Please specify what you'd like to search for.`

// Resources is the subset of the FHIR client the router dispatches to.
type Resources interface {
	SearchPatient(ctx context.Context, q fhir.PatientQuery) (*fhir.Bundle, error)
	GetCondition(ctx context.Context, subject, code string) (*fhir.Bundle, error)
	GetProcedure(ctx context.Context, subject, encounter, code string) (*fhir.Bundle, error)
	GetEncounter(ctx context.Context, subject string) (*fhir.Bundle, error)
	GetObservations(ctx context.Context, subject, code, encounter string) (*fhir.Bundle, error)
	GetPrescription(ctx context.Context, subject, prescriptionID string) (*fhir.Bundle, error)
}

// Router maps a message to one resource lookup. It is safe for concurrent use.
type Router struct {
	resources Resources
	logger    *slog.Logger
	tracer    trace.Tracer
	queries   metric.Int64Counter
}

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Router) {
		r.tracer = tracer
	}
}

// WithMeter records a chat.queries counter, by category, on the given meter.
func WithMeter(meter metric.Meter) Option {
	return func(r *Router) {
		counter, err := meter.Int64Counter(
			"chat.queries",
			metric.WithDescription("Routed chat queries by category"),
		)
		if err == nil {
			r.queries = counter
		}
	}
}

// New creates a Router dispatching to resources.
func New(resources Resources, opts ...Option) *Router {
	r := &Router{resources: resources}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(instrumentationName)
	}
	if r.queries == nil {
		WithMeter(otel.Meter(instrumentationName))(r)
	}
	return r
}

// Route answers a user message. It never fails: lookup errors, and panics
// raised while serving the lookup, become an apology string.
func (r *Router) Route(ctx context.Context, message string) (reply string) {
	category := Classify(message)

	ctx, span := r.tracer.Start(ctx, "router.route",
		trace.WithAttributes(attribute.String("chat.category", category.String())),
	)
	defer span.End()

	if r.queries != nil {
		r.queries.Add(ctx, 1, metric.WithAttributes(attribute.String("chat.category", category.String())))
	}

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%v", p)
			span.RecordError(err)
			r.logger.Error("panic while processing query", "category", category.String(), "error", err)
			reply = Apology(err)
		}
	}()

	reply, err := r.dispatch(ctx, category, message)
	if err != nil {
		span.RecordError(err)
		r.logger.Error("failed to process query", "category", category.String(), "error", err)
		return Apology(err)
	}
	return reply
}

// Apology is the user-visible text for a failed query.
func Apology(err error) string {
	return fmt.Sprintf("Sorry, I encountered an error: %v. Please try again.", err)
}

func (r *Router) dispatch(ctx context.Context, category Category, message string) (string, error) {
	if category == CategoryHelp {
		return HelpText, nil
	}

	if category == CategoryPatient {
		family := ExtractFamilyName(message)
		r.logger.Debug("routing patient search", "family", family)
		bundle, err := r.resources.SearchPatient(ctx, fhir.PatientQuery{Family: family})
		if err != nil {
			return "", err
		}
		return formatPatients(bundle), nil
	}

	subject := ExtractSubject(message, category.DefaultSubject())
	r.logger.Debug("routing clinical lookup", "category", category.String(), "subject", subject)

	var (
		bundle *fhir.Bundle
		err    error
	)
	switch category {
	case CategoryCondition:
		bundle, err = r.resources.GetCondition(ctx, subject, "")
	case CategoryProcedure:
		bundle, err = r.resources.GetProcedure(ctx, subject, "", "")
	case CategoryEncounter:
		bundle, err = r.resources.GetEncounter(ctx, subject)
	case CategoryObservation:
		bundle, err = r.resources.GetObservations(ctx, subject, "", "")
	case CategoryPrescription:
		bundle, err = r.resources.GetPrescription(ctx, subject, "")
	default:
		return "", fmt.Errorf("unknown category: %s", category)
	}
	if err != nil {
		return "", err
	}
	return formatForSubject(category.Kind(), subject, bundle), nil
}

func formatPatients(bundle *fhir.Bundle) string {
	total := bundle.Count()
	if total == 0 {
		return "No patients found matching your search criteria."
	}
	return fmt.Sprintf("Found %d patient(s). %s", total, firstClause("patient", bundle))
}

func formatForSubject(kind, subject string, bundle *fhir.Bundle) string {
	total := bundle.Count()
	if total == 0 {
		return fmt.Sprintf("No %ss found for patient %s.", kind, subject)
	}
	return fmt.Sprintf("Found %d %s(s) for patient %s. %s", total, kind, subject, firstClause(kind, bundle))
}

func firstClause(kind string, bundle *fhir.Bundle) string {
	pretty, ok := bundle.FirstResource()
	if !ok {
		return ""
	}
	return fmt.Sprintf("First %s: %s", kind, pretty)
}

// normalize is the form keyword tests run against.
func normalize(message string) string {
	return strings.ToLower(strings.TrimSpace(message))
}
