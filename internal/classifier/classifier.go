// Package classifier decides whether a query refers back to the ongoing
// conversation (answerable from session history) or is a genuine long-term
// memory query. Pure functions over frozen regex lists, no I/O.
package classifier

import "strings"

// Classification labels.
const (
	General    = "GENERAL"
	Positional = "POSITIONAL"
	Topical    = "TOPICAL"
	Overview   = "OVERVIEW"
)

// Context is what the caller knows about the ongoing session.
type Context struct {
	SessionID    string `json:"sessionId,omitempty"`
	MessageCount int    `json:"messageCount,omitempty"`
	HasHistory   bool   `json:"hasHistory,omitempty"`
}

// ContextInfo echoes the context signals the decision used.
type ContextInfo struct {
	HasSessionContext bool `json:"hasSessionContext"`
	HasMessageHistory bool `json:"hasMessageHistory"`
	MessageCount      int  `json:"messageCount"`
}

// Result is the classification verdict. IsConversational is true for every
// classification except GENERAL.
type Result struct {
	IsConversational bool        `json:"isConversational"`
	Classification   string      `json:"classification"`
	Confidence       float64     `json:"confidence"`
	Reasoning        string      `json:"reasoning"`
	ContextInfo      ContextInfo `json:"contextInfo"`
}

// Classify applies the rule ladder to a query. With session context the
// full ladder runs, first match wins; without it only unmistakable markers
// (explicit discourse, or conversational pronouns plus a temporal marker)
// can override the GENERAL default, since there is no conversation to
// refer back to.
func Classify(query string, ctx Context) Result {
	q := strings.TrimSpace(query)

	info := ContextInfo{
		HasSessionContext: ctx.SessionID != "",
		HasMessageHistory: ctx.HasHistory || ctx.MessageCount > 0,
		MessageCount:      ctx.MessageCount,
	}
	hasContext := info.HasSessionContext && info.HasMessageHistory

	discourse := matchAny(discoursePatterns, q)
	pronouns := conversationalPronouns.MatchString(q)
	temporal := matchAny(temporalPatterns, q)

	if !hasContext {
		switch {
		case discourse:
			return verdict(Positional, 0.90, "discourse marker without session context", info)
		case pronouns && temporal:
			return verdict(Positional, 0.75, "conversational pronouns with temporal marker, no session context", info)
		default:
			return verdict(General, 0.95, "no conversation context", info)
		}
	}

	switch {
	case discourse:
		return verdict(Positional, 0.98, "explicit discourse marker", info)
	case matchAny(positionalPatterns, q), temporal && pronouns:
		return verdict(Positional, 0.95, "positional or temporal reference", info)
	case matchAny(topicalPatterns, q):
		return verdict(Topical, 0.92, "asks what the conversation covered", info)
	case matchAny(overviewPatterns, q):
		return verdict(Overview, 0.90, "asks for a conversation overview", info)
	case matchAny(anaphoraPatterns, q) && pronouns:
		return verdict(Positional, 0.85, "anaphoric reference with conversational pronouns", info)
	case pronouns:
		return verdict(General, 0.60, "conversational pronouns only", info)
	default:
		return verdict(General, 0.90, "no conversational markers", info)
	}
}

func verdict(class string, confidence float64, reasoning string, info ContextInfo) Result {
	return Result{
		IsConversational: class != General,
		Classification:   class,
		Confidence:       confidence,
		Reasoning:        reasoning,
		ContextInfo:      info,
	}
}
