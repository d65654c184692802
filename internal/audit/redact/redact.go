// Package redact masks sensitive fields in audit payloads. Two passes share
// one rule set: the ingestion pass rewrites envelopes before they are stored
// (destructive; masked values are gone for good), and the viewer pass
// re-applies the rules per request so low-privilege readers never see a
// sensitive value even if it survived ingestion under mode off.
package redact

import (
	"strconv"
	"strings"

	"poscore/internal/audit"
	"poscore/internal/authz"
)

// DefaultMask is the sentinel written over redacted leaves when the
// deployment does not configure its own token. Masking an already-masked
// field is a no-op because the sentinel is stable.
const DefaultMask = "***REDACTED***"

// Mode controls what a rule does when its path resolves.
type Mode string

const (
	// ModeOff disables the rule without removing it from configuration.
	ModeOff Mode = "off"
	// ModeLog masks and counts, used to validate a staged rollout.
	ModeLog Mode = "log"
	// ModeEnforce masks unconditionally. Same mechanism as ModeLog today;
	// the two differ by intent and metric label.
	ModeEnforce Mode = "enforce"
)

// ParseMode normalizes external mode strings; anything unrecognized falls
// back to enforce, the conservative choice for a privacy control.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(s)) {
	case ModeOff:
		return ModeOff
	case ModeLog:
		return ModeLog
	case ModeEnforce:
		return ModeEnforce
	default:
		return ModeEnforce
	}
}

// Rule targets one dot-path in payload or meta. Paths use the minimal
// grammar "a.b.0.c": map keys and numeric array indexes, nothing more.
type Rule struct {
	Path string
	Mode Mode
	Mask string
}

func (r Rule) mask() string {
	if r.Mask != "" {
		return r.Mask
	}
	return DefaultMask
}

// Engine applies a fixed rule set loaded at startup.
type Engine struct {
	rules   []Rule
	metrics *Metrics
}

// New creates a redaction engine. A nil metrics disables metering, which
// keeps the viewer pass cheap in tests.
func New(rules []Rule, metrics *Metrics) *Engine {
	return &Engine{rules: rules, metrics: metrics}
}

// Ingest applies the ingestion-time pass and projects the envelope into its
// stored form. The envelope's maps are deep-copied before masking, so the
// caller's copy is untouched.
func (e *Engine) Ingest(env audit.Envelope) audit.StoredRecord {
	payload := copyValue(env.Payload).(map[string]any)
	meta := copyValue(env.Meta).(map[string]any)

	for _, rule := range e.rules {
		if rule.Mode == ModeOff {
			continue
		}
		masked := maskPath(payload, rule.Path, rule.mask())
		masked = maskPath(meta, rule.Path, rule.mask()) || masked
		if masked && e.metrics != nil {
			e.metrics.ObserveRedaction(string(rule.Mode))
		}
	}

	return audit.StoredRecord{
		EventID:       env.EventID,
		SchemaVersion: env.SchemaVersion,
		Action:        env.Action,
		Severity:      env.Severity,
		TenantID:      env.TenantID,
		ActorID:       env.ActorID,
		Roles:         append([]string(nil), env.Roles...),
		TraceID:       env.TraceID,
		OccurredAt:    env.OccurredAt,
		Payload:       payload,
		Meta:          meta,
	}
}

// ForViewer applies the response-time pass. A viewer without the audit
// admin capability always gets every rule re-applied, regardless of
// includeRedacted; a privileged viewer asking for includeRedacted sees the
// stored values as-is (which, under destructive ingestion, are already
// masked for enforce/log rules).
func (e *Engine) ForViewer(rec audit.StoredRecord, viewerRoles []authz.Role, includeRedacted bool) audit.ViewRecord {
	payload := copyValue(rec.Payload).(map[string]any)
	meta := copyValue(rec.Meta).(map[string]any)

	privileged := authz.Allowed(viewerRoles, authz.CapabilityAuditAdmin)
	if !privileged || !includeRedacted {
		for _, rule := range e.rules {
			if rule.Mode == ModeOff {
				continue
			}
			maskPath(payload, rule.Path, rule.mask())
			maskPath(meta, rule.Path, rule.mask())
		}
	}

	return audit.ViewRecord{
		EventID:       rec.EventID,
		SchemaVersion: rec.SchemaVersion,
		Action:        rec.Action,
		Severity:      rec.Severity,
		TenantID:      rec.TenantID,
		ActorID:       rec.ActorID,
		TraceID:       rec.TraceID,
		OccurredAt:    rec.OccurredAt,
		Payload:       payload,
		Meta:          meta,
	}
}

// maskPath resolves a dot-path and replaces the leaf with mask. A missing
// path is a silent no-op: configuration targets fields that only some
// action families carry.
func maskPath(root map[string]any, path, mask string) bool {
	if root == nil || path == "" {
		return false
	}
	segments := strings.Split(path, ".")
	var current any = root
	for i, seg := range segments {
		last := i == len(segments)-1
		switch node := current.(type) {
		case map[string]any:
			if last {
				if _, ok := node[seg]; !ok {
					return false
				}
				node[seg] = mask
				return true
			}
			next, ok := node[seg]
			if !ok {
				return false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return false
			}
			if last {
				node[idx] = mask
				return true
			}
			current = node[idx]
		default:
			return false
		}
	}
	return false
}

// copyValue deep-copies the JSON-shaped value graph (maps, slices, scalars).
// Always returns a non-nil map for a nil map input so callers can mask
// without nil checks.
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = copyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	case nil:
		return map[string]any{}
	default:
		return val
	}
}
