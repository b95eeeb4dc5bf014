package periods

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/workflu/workflu/internal/platform/httpx"
	"github.com/workflu/workflu/internal/shared"
)

// DefaultDateFields is the heuristic list of request-body fields checked for
// financial dates when no explicit configuration is given.
var DefaultDateFields = []string{"date", "purchaseDate", "transactionDate", "entryDate", "saleDate", "operationDate"}

// ResolverFunc resolves period ids for requests whose period is keyed by an
// indirect entity reference instead of a date in the body, e.g. warehouse
// operations keyed by the upstream purchase.
type ResolverFunc func(r *http.Request, body map[string]any) ([]int64, error)

// GuardOptions configures one guard instance.
type GuardOptions struct {
	DateFields       []string
	AllowAdminBypass bool
	// Resolver, when set, is used exclusively; date fields are ignored.
	Resolver ResolverFunc
}

// RejectionCounter counts guard rejections per machine-readable reason code.
type RejectionCounter interface {
	CountGuardRejection(reason string)
}

// Guard rejects mutations dated inside closed or locked periods.
type Guard struct {
	periods *Service
	audit   shared.Auditor
	logger  *slog.Logger
	metrics RejectionCounter
}

// NewGuard constructs a Guard.
func NewGuard(periods *Service, audit shared.Auditor, logger *slog.Logger) *Guard {
	return &Guard{periods: periods, audit: audit, logger: logger}
}

// SetMetrics wires the rejection counter. Optional.
func (g *Guard) SetMetrics(m RejectionCounter) {
	g.metrics = m
}

type closedPeriodView struct {
	ID           int64      `json:"id"`
	PeriodNumber string     `json:"periodNumber"`
	ClosedAt     *time.Time `json:"closedAt"`
	ClosedBy     *int64     `json:"closedBy"`
}

type rejectionBody struct {
	Message       string             `json:"message"`
	Code          string             `json:"error"`
	ClosedPeriods []closedPeriodView `json:"closedPeriods"`
}

// Protect returns the middleware enforcing the period check.
func (g *Guard) Protect(opts GuardOptions) func(http.Handler) http.Handler {
	dateFields := opts.DateFields
	if len(dateFields) == 0 {
		dateFields = DefaultDateFields
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isMutation(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			actor := shared.ActorFromContext(r.Context())
			if actor == nil {
				httpx.Error(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
				return
			}
			if opts.AllowAdminBypass && actor.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}

			body, err := snapshotBody(r)
			if err != nil {
				g.logger.Error("period guard read body", slog.Any("error", err))
				httpx.Error(w, http.StatusInternalServerError, "period check failed", httpx.CodePeriodCheckFailed)
				return
			}

			periodIDs, err := g.resolvePeriodIDs(r, body, opts.Resolver, dateFields)
			if err != nil {
				g.logger.Error("period guard resolve", slog.Any("error", err), slog.String("path", r.URL.Path))
				httpx.Error(w, http.StatusInternalServerError, "period check failed", httpx.CodePeriodCheckFailed)
				return
			}
			if len(periodIDs) == 0 {
				// No financial date present: not period-sensitive.
				next.ServeHTTP(w, r)
				return
			}

			touched, err := g.periods.ListByIDs(r.Context(), periodIDs)
			if err != nil {
				g.logger.Error("period guard load periods", slog.Any("error", err))
				httpx.Error(w, http.StatusInternalServerError, "period check failed", httpx.CodePeriodCheckFailed)
				return
			}
			var closed []Period
			for _, p := range touched {
				if p.Blocked() {
					closed = append(closed, p)
				}
			}
			if len(closed) > 0 {
				g.reject(w, r, actor, closed)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) resolvePeriodIDs(r *http.Request, body map[string]any, resolver ResolverFunc, dateFields []string) ([]int64, error) {
	if resolver != nil {
		ids, err := resolver(r, body)
		if err != nil {
			return nil, err
		}
		return dedupe(ids), nil
	}
	if body == nil {
		return nil, nil
	}
	var ids []int64
	for _, date := range collectDates(body, dateFields, g.logger) {
		period, err := g.periods.FindPeriodForDate(r.Context(), date)
		if err != nil {
			return nil, err
		}
		if period != nil {
			ids = append(ids, period.ID)
		}
	}
	return dedupe(ids), nil
}

func (g *Guard) reject(w http.ResponseWriter, r *http.Request, actor *shared.Actor, closed []Period) {
	views := make([]closedPeriodView, 0, len(closed))
	numbers := make([]string, 0, len(closed))
	for _, p := range closed {
		views = append(views, closedPeriodView{ID: p.ID, PeriodNumber: p.PeriodNumber, ClosedAt: p.ClosedAt, ClosedBy: p.ClosedBy})
		numbers = append(numbers, p.PeriodNumber)
	}
	msg := fmt.Sprintf("Operation rejected: Cannot modify data in closed period(s): %s", strings.Join(numbers, ", "))
	if g.metrics != nil {
		g.metrics.CountGuardRejection(httpx.CodePeriodClosed)
	}
	if g.audit != nil {
		_ = g.audit.Record(r.Context(), shared.AuditEntry{
			UserID:      actor.ID,
			UserName:    actor.Name,
			Source:      "period_guard",
			Severity:    shared.SeverityWarning,
			EntityType:  "accounting_period",
			EntityID:    strings.Join(numbers, ","),
			Action:      "mutation_rejected",
			Description: msg,
		})
	}
	httpx.JSON(w, http.StatusForbidden, rejectionBody{
		Message:       msg,
		Code:          httpx.CodePeriodClosed,
		ClosedPeriods: views,
	})
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// snapshotBody decodes the JSON body and restores it so the downstream
// handler can read it again. Empty or non-JSON bodies yield nil without error.
func snapshotBody(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		// Not a JSON object; nothing to scan.
		return nil, nil
	}
	return body, nil
}

// collectDates scans the configured fields at the top level and one level
// deep inside arrays of objects (multi-line requests). Unparseable values
// are logged and skipped; they never abort the whole check.
func collectDates(body map[string]any, fields []string, logger *slog.Logger) []time.Time {
	var dates []time.Time
	appendField := func(obj map[string]any, field string) {
		raw, ok := obj[field]
		if !ok {
			return
		}
		str, ok := raw.(string)
		if !ok {
			return
		}
		date, err := parseDate(str)
		if err != nil {
			if logger != nil {
				logger.Warn("period guard skip date field", slog.String("field", field), slog.String("value", str))
			}
			return
		}
		dates = append(dates, date)
	}
	for _, field := range fields {
		appendField(body, field)
	}
	for _, value := range body {
		items, ok := value.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, field := range fields {
				appendField(obj, field)
			}
		}
	}
	return dates
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("periods: unparseable date %q", value)
}

func dedupe(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Preset guard configurations. Specialisations differ only in configuration.

// ForPurchases guards purchase mutations by purchase date.
func ForPurchases() GuardOptions {
	return GuardOptions{DateFields: []string{"purchaseDate", "date"}, AllowAdminBypass: true}
}

// ForCapital guards capital entry mutations by entry date.
func ForCapital() GuardOptions {
	return GuardOptions{DateFields: []string{"entryDate", "date"}, AllowAdminBypass: true}
}

// ForAdvances guards supplier advance mutations by advance date.
func ForAdvances() GuardOptions {
	return GuardOptions{DateFields: []string{"advanceDate", "date"}, AllowAdminBypass: true}
}

// ForReturns guards purchase returns by return date.
func ForReturns() GuardOptions {
	return GuardOptions{DateFields: []string{"returnDate", "date"}, AllowAdminBypass: true}
}

// ForWarehouse guards warehouse operations through an indirect resolver keyed
// by the upstream purchase rather than a date in the request body.
func ForWarehouse(resolver ResolverFunc) GuardOptions {
	return GuardOptions{Resolver: resolver, AllowAdminBypass: false}
}
