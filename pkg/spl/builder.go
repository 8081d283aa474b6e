package spl

import (
	"fmt"
	"strings"
	"time"

	"github.com/kiranshivaraju/dupreaper/pkg/models"
)

const (
	// DefaultEventIDExpr hashes the fields that make two events identical copies.
	DefaultEventIDExpr = "md5(host.source.sourcetype._time._raw)"
	// DefaultKeyField is Splunk's per-copy bucket/offset locator.
	DefaultKeyField = "_cd"
)

// QueryBuilder constructs SPL query strings.
// All methods are pure functions with no side effects.
type QueryBuilder struct {
	EventIDExpr string
	KeyField    string
}

// NewQueryBuilder returns a builder with the default event hash and key field.
func NewQueryBuilder() QueryBuilder {
	return QueryBuilder{EventIDExpr: DefaultEventIDExpr, KeyField: DefaultKeyField}
}

// Scope bounds a search to one index and time window.
type Scope struct {
	Index    string
	Earliest time.Time
	Latest   time.Time
}

// BuildDiscoveryQuery returns a query yielding one copy of each duplicated
// event, as (eventID, cd) rows: the copy that first(cd) picks in search order.
// Groups of three or more copies need more than one pass to reach a single copy.
func (b QueryBuilder) BuildDiscoveryQuery(s Scope) string {
	base := b.buildBase(s)
	eval := b.buildEval(true)
	sub := fmt.Sprintf("[| %s | %s | stats first(cd) as cd count by eventID | search count>1 | table cd eventID]", base, eval)

	return strings.Join([]string{
		base,
		eval,
		"search " + sub,
		"fields eventID cd",
	}, " | ")
}

// BuildPredicate returns the predicate matching exactly one candidate.
func (b QueryBuilder) BuildPredicate(c models.Candidate) string {
	return fmt.Sprintf(`(eventID=%s AND %s=%s)`, quote(c.EventID), b.keyField(), quote(c.DedupKey))
}

// BuildDeleteQuery returns a query that deletes exactly the given candidates.
func (b QueryBuilder) BuildDeleteQuery(s Scope, records []models.Candidate) string {
	keys := make([]string, len(records))
	preds := make([]string, len(records))
	for i, r := range records {
		keys[i] = fmt.Sprintf("%s=%s", b.keyField(), quote(r.DedupKey))
		preds[i] = b.BuildPredicate(r)
	}

	return strings.Join([]string{
		fmt.Sprintf("%s (%s)", b.buildBase(s), strings.Join(keys, " OR ")),
		b.buildEval(false),
		"search " + strings.Join(preds, " OR "),
		"delete",
	}, " | ")
}

func (b QueryBuilder) buildBase(s Scope) string {
	return fmt.Sprintf("search index=%s earliest=%d latest=%d", s.Index, s.Earliest.Unix(), s.Latest.Unix())
}

func (b QueryBuilder) buildEval(withKey bool) string {
	if withKey {
		return fmt.Sprintf("eval eventID=%s, cd=%s", b.eventIDExpr(), b.keyField())
	}
	return fmt.Sprintf("eval eventID=%s", b.eventIDExpr())
}

func (b QueryBuilder) eventIDExpr() string {
	if b.EventIDExpr == "" {
		return DefaultEventIDExpr
	}
	return b.EventIDExpr
}

func (b QueryBuilder) keyField() string {
	if b.KeyField == "" {
		return DefaultKeyField
	}
	return b.KeyField
}

var quoter = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quote(v string) string {
	return `"` + quoter.Replace(v) + `"`
}
