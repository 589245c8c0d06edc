package semantic

import (
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/strix-dfir/strix/errors"
	"github.com/strix-dfir/strix/semantic/storage"
	"github.com/strix-dfir/strix/semantic/types"
)

// Options tunes evaluator behavior. The zero value is the safe default:
// in-memory evaluation only, one satisfied condition suffices, no FTS.
type Options struct {
	// MinIndicatorsRequired is the number of distinct satisfied conditions a
	// rule needs before it labels a match. Values below 1 are treated as 1.
	MinIndicatorsRequired int

	// UseQueryPath enables compiling eligible rules to SQL against the
	// Feather tables named in FeatherTables. The in-memory path remains
	// authoritative; see the package docs for where the two diverge.
	UseQueryPath bool

	// EnableFTS builds a trigram index for identity candidate lookup when
	// the SQLite build supports it.
	EnableFTS bool

	// FeatherTables maps feather IDs to their table names in the case
	// database, for the compiled path. A rule touching an unmapped feather
	// always evaluates in memory.
	FeatherTables map[string]string
}

func (o Options) minIndicators() int {
	if o.MinIndicatorsRequired < 1 {
		return 1
	}
	return o.MinIndicatorsRequired
}

// Evaluator applies semantic rules to correlated matches and writes the
// resulting annotations back to the matches table.
type Evaluator struct {
	db        *sql.DB
	store     *storage.MatchStore
	qb        *QueryBuilder
	validator *Validator
	fts       *ftsIndex
	opts      Options
	logger    *zap.SugaredLogger
}

// NewEvaluator creates an evaluator over an open case database.
func NewEvaluator(conn *sql.DB, opts Options, logger *zap.SugaredLogger) (*Evaluator, error) {
	e := &Evaluator{
		db:        conn,
		store:     storage.NewMatchStore(conn, logger),
		qb:        NewQueryBuilder(logger),
		validator: NewValidator(logger),
		opts:      opts,
		logger:    logger,
	}

	if opts.EnableFTS {
		fts, err := newFTSIndex(conn, logger)
		if err != nil {
			return nil, errors.Wrap(err, "initialize FTS index")
		}
		e.fts = fts
	}
	return e, nil
}

// Validator exposes the evaluator's identity validator, for hosts that want
// its filter statistics.
func (e *Evaluator) Validator() *Validator {
	return e.validator
}

// EvaluateIdentityMatches evaluates every rule against every match referencing
// the given identity. Returned matches carry the freshly computed results
// merged into their SemanticData; when updateDatabase is set the same merge
// is persisted. A noise identity (empty, boolean, bare number) is rejected
// up front and yields no matches and no error.
func (e *Evaluator) EvaluateIdentityMatches(identity string, rules []*types.Rule, updateDatabase bool) ([]*types.Match, error) {
	trimmed, reason := e.validator.Validate(identity, "")
	if reason != FilterNone {
		if e.logger != nil {
			e.logger.Infow("Identity rejected, skipping evaluation",
				"identity", identity,
				"reason", string(reason),
			)
		}
		return nil, nil
	}

	matches, err := e.findMatches(trimmed)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 || len(rules) == 0 {
		return matches, nil
	}

	// One identity is one entity: rules see the union of its records across
	// every match, and each result annotates every match of the identity
	records := aggregateFeatherRecords(matches)

	var results []*types.MatchResult
	for _, rule := range rules {
		if result := e.evaluateRule(rule, trimmed, records); result != nil {
			results = append(results, result)
		}
	}

	for _, match := range matches {
		for _, result := range results {
			match.SemanticData[result.RuleID] = result
		}
	}

	if updateDatabase && len(results) > 0 {
		matchIDs := make([]string, len(matches))
		for i, match := range matches {
			matchIDs[i] = match.MatchID
		}
		if _, err := e.store.UpdateSemanticData(matchIDs, results); err != nil {
			return nil, errors.Wrapf(err, "persist results for identity %q", trimmed)
		}
	}

	if e.logger != nil {
		e.logger.Infow("Identity evaluation complete",
			"identity", trimmed,
			"matches", len(matches),
			"rule_results", len(results),
			"persisted", updateDatabase,
		)
	}
	return matches, nil
}

// EvaluateAllMatches evaluates every rule against every match (up to limit
// when limit > 0), returning only the matches that gained at least one
// annotation. Identity-level conditions see each match's application name,
// or its file path when the application is empty. A match whose persistence
// fails is logged and skipped; the scan continues.
func (e *Evaluator) EvaluateAllMatches(rules []*types.Rule, limit int, updateDatabase bool) ([]*types.Match, error) {
	matches, err := e.store.GetAllMatches(limit)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return e.evaluateMatches(matches, rules, updateDatabase), nil
}

// findMatches locates candidate matches for an identity, through the FTS
// index when it can answer and the LIKE scan otherwise. FTS candidates are
// re-verified with a direct substring check so both routes return the same
// set.
func (e *Evaluator) findMatches(identity string) ([]*types.Match, error) {
	if e.fts != nil {
		if err := e.fts.Refresh(); err != nil {
			if e.logger != nil {
				e.logger.Warnw("FTS refresh failed, using LIKE scan", "error", err)
			}
		} else if ids, ok := e.fts.Search(identity); ok {
			candidates, err := e.store.GetMatchesByIDs(ids)
			if err != nil {
				return nil, err
			}
			var verified []*types.Match
			for _, m := range candidates {
				if containsFold(m.Application, identity) || containsFold(m.FilePath, identity) {
					verified = append(verified, m)
				}
			}
			return verified, nil
		}
	}
	return e.store.GetMatchesForIdentity(identity)
}

// evaluateMatches is the batch path: each match is evaluated on its own
// records, with identity-level conditions seeing the match's application
// name (or file path when that is empty). It returns the matches that
// produced at least one result. A per-match persistence failure never stops
// the scan; the store already logged it.
func (e *Evaluator) evaluateMatches(matches []*types.Match, rules []*types.Rule, updateDatabase bool) []*types.Match {
	var annotated []*types.Match
	rulesMatched := 0
	for _, match := range matches {
		matchIdentity := match.Application
		if matchIdentity == "" {
			matchIdentity = match.FilePath
		}

		records := filterMetadataRecords(match.FeatherRecords)

		var results []*types.MatchResult
		for _, rule := range rules {
			result := e.evaluateRule(rule, matchIdentity, records)
			if result == nil {
				continue
			}
			results = append(results, result)
			match.SemanticData[result.RuleID] = result
		}
		if len(results) == 0 {
			continue
		}
		annotated = append(annotated, match)
		rulesMatched += len(results)

		if updateDatabase {
			if _, err := e.store.UpdateSemanticData([]string{match.MatchID}, results); err != nil && e.logger != nil {
				e.logger.Errorw("Failed to persist results, continuing with remaining matches",
					"match_id", match.MatchID,
					"error", err,
				)
			}
		}
	}

	if e.logger != nil {
		e.logger.Infow("Evaluation pass complete",
			"matches_examined", len(matches),
			"matches_annotated", len(annotated),
			"rule_results", rulesMatched,
			"persisted", updateDatabase,
		)
	}
	return annotated
}

// aggregateFeatherRecords merges the metadata-filtered records of several
// matches into one per-feather view, deduplicated, so an AND rule can be
// satisfied by evidence split across the identity's matches.
func aggregateFeatherRecords(matches []*types.Match) map[string][]types.Record {
	aggregated := map[string][]types.Record{}
	for _, match := range matches {
		for featherID, records := range filterMetadataRecords(match.FeatherRecords) {
			for _, rec := range records {
				aggregated[featherID] = appendRecordOnce(aggregated[featherID], rec)
			}
		}
	}
	return aggregated
}

// filterMetadataRecords drops feather_metadata structural rows; they describe
// the capture, not the entity, and must never satisfy a condition.
func filterMetadataRecords(featherRecords map[string][]types.Record) map[string][]types.Record {
	filtered := make(map[string][]types.Record, len(featherRecords))
	for featherID, records := range featherRecords {
		if featherID == types.MetadataTableName {
			continue
		}
		kept := make([]types.Record, 0, len(records))
		for _, rec := range records {
			if rec.IsMetadata() {
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) > 0 {
			filtered[featherID] = kept
		}
	}
	return filtered
}

// evaluateRule applies one rule to one match's aggregated records, returning
// nil when the rule is not satisfied. The compiled SQL path is tried first
// when enabled and the rule is eligible; everything else runs the in-memory
// algorithm.
func (e *Evaluator) evaluateRule(rule *types.Rule, identity string, records map[string][]types.Record) *types.MatchResult {
	if rule == nil || len(rule.Conditions) == 0 || !rule.LogicOperator.Valid() {
		return nil
	}

	if satisfied, ok := e.evaluateRuleSQL(rule, identity); ok {
		if !satisfied {
			return nil
		}
		result := e.newResult(rule)
		for _, featherID := range rule.Feathers() {
			result.AddFeather(featherID)
		}
		result.MatchedRecords = e.collectSupportingRecords(rule, records)
		return result
	}

	return e.evaluateRuleInMemory(rule, identity, records)
}

// evaluateRuleInMemory is the authoritative evaluation path. A condition is
// satisfied when any record of its feather matches; identity conditions test
// the identity string itself. The rule is satisfied when its logic operator
// holds over the per-condition verdicts and at least MinIndicatorsRequired
// distinct conditions are satisfied.
func (e *Evaluator) evaluateRuleInMemory(rule *types.Rule, identity string, records map[string][]types.Record) *types.MatchResult {
	minIndicators := e.opts.minIndicators()
	// Short-circuits are only sound when a single verdict can decide the
	// rule; an indicator threshold needs the full count
	canShortCircuit := minIndicators <= 1

	result := e.newResult(rule)
	satisfied := 0
	for _, cond := range rule.Conditions {
		condMatched := false

		if cond.IsIdentity() {
			condMatched = matchOperator(cond.Operator, types.String(identity), cond.Value, e.logger)
		} else {
			for _, rec := range records[cond.FeatherID] {
				field, present := rec.Field(cond.FieldName)
				if !present {
					field = types.Null()
				}
				if matchOperator(cond.Operator, field, cond.Value, e.logger) {
					condMatched = true
					result.AddFeather(cond.FeatherID)
					result.MatchedRecords = appendRecordOnce(result.MatchedRecords, rec)
					// Other records of this feather cannot change the
					// condition's verdict
					break
				}
			}
		}

		if condMatched {
			satisfied++
			if rule.LogicOperator == types.LogicOr && canShortCircuit {
				return result
			}
		} else if rule.LogicOperator == types.LogicAnd {
			return nil
		}
	}

	if satisfied == 0 || satisfied < minIndicators {
		return nil
	}
	return result
}

// evaluateRuleSQL attempts the compiled path: one verdict query of
// per-condition EXISTS subqueries, so each condition may be satisfied by a
// different row of its feather, exactly like the in-memory record walk.
// ok=false means the path could not run (disabled, untranslatable rule,
// unmapped feather, indicator threshold, or SQL failure) and the caller must
// fall back; satisfied is only meaningful when ok is true.
func (e *Evaluator) evaluateRuleSQL(rule *types.Rule, identity string) (satisfied, ok bool) {
	if !e.opts.UseQueryPath || e.db == nil || len(e.opts.FeatherTables) == 0 {
		return false, false
	}
	// Counting distinct satisfied conditions is not expressible in the
	// generated SQL shape
	if e.opts.minIndicators() > 1 {
		return false, false
	}
	if !e.qb.CanTranslate(rule) {
		return false, false
	}

	identityVerdict, identityCount := e.evaluateIdentityConditions(rule, identity)
	if rule.LogicOperator == types.LogicAnd && identityCount > 0 && !identityVerdict {
		return false, true
	}
	if rule.LogicOperator == types.LogicOr && identityCount > 0 && identityVerdict {
		return true, true
	}

	// Keys are "<type>:<lowercased value>", so scope on the value part
	pattern := "%:" + escapeLikePattern(strings.ToLower(identity))
	query, params, built := e.qb.BuildIdentityVerdictQuery(rule, e.opts.FeatherTables, pattern)
	if !built {
		return false, false
	}

	var exists bool
	if err := e.db.QueryRow(query, params...).Scan(&exists); err != nil {
		if e.logger != nil {
			e.logger.Warnw("Compiled rule query failed, falling back to in-memory evaluation",
				"rule_id", rule.RuleID,
				"error", err,
			)
		}
		return false, false
	}
	return exists, true
}

// evaluateIdentityConditions resolves the _identity conditions the SQL path
// drops from its WHERE clause. verdict follows the rule's logic operator over
// just those conditions; count is how many there were.
func (e *Evaluator) evaluateIdentityConditions(rule *types.Rule, identity string) (verdict bool, count int) {
	matched := 0
	for _, cond := range rule.Conditions {
		if !cond.IsIdentity() {
			continue
		}
		count++
		if matchOperator(cond.Operator, types.String(identity), cond.Value, e.logger) {
			matched++
		}
	}
	if count == 0 {
		return false, 0
	}
	if rule.LogicOperator == types.LogicAnd {
		return matched == count, count
	}
	return matched > 0, count
}

// collectSupportingRecords gathers the records that satisfy at least one of
// the rule's conditions, for reporting on the SQL path.
func (e *Evaluator) collectSupportingRecords(rule *types.Rule, records map[string][]types.Record) []types.Record {
	var supporting []types.Record
	for _, cond := range rule.Conditions {
		if cond.IsIdentity() {
			continue
		}
		for _, rec := range records[cond.FeatherID] {
			field, present := rec.Field(cond.FieldName)
			if !present {
				field = types.Null()
			}
			if matchOperator(cond.Operator, field, cond.Value, e.logger) {
				supporting = appendRecordOnce(supporting, rec)
				break
			}
		}
	}
	return supporting
}

func (e *Evaluator) newResult(rule *types.Rule) *types.MatchResult {
	return &types.MatchResult{
		RuleID:        rule.RuleID,
		RuleName:      rule.Name,
		SemanticValue: rule.SemanticValue,
		Confidence:    rule.Confidence,
	}
}

// appendRecordOnce appends rec unless an identical record is already present.
// Records are small maps; linear comparison beats hashing at match sizes.
func appendRecordOnce(records []types.Record, rec types.Record) []types.Record {
	for _, existing := range records {
		if recordsEqual(existing, rec) {
			return records
		}
	}
	return append(records, rec)
}

func recordsEqual(a, b types.Record) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || av != bv {
			return false
		}
	}
	return true
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
