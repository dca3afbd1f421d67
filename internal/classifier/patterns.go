package classifier

import "regexp"

// The pattern lists below are part of the service contract: callers tune
// their retrieval behaviour around these exact matches, so changes here
// are breaking changes. The tests pin them.

// discoursePatterns are explicit references to earlier speech.
var discoursePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bas (you|i|we) (said|mentioned|discussed|noted)\b`),
	regexp.MustCompile(`(?i)\blike (you|i|we) (said|mentioned)\b`),
	regexp.MustCompile(`(?i)\byou (told|asked) me\b`),
	regexp.MustCompile(`(?i)\bi (told|asked) you\b`),
}

// positionalPatterns point at a position in the conversation.
var positionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhat (did|was) (i|you|we) (say|said|ask|asked|mention|mentioned|tell|told)\b`),
	regexp.MustCompile(`(?i)\b(first|last|initial|opening) (message|question|thing|topic)\b`),
	regexp.MustCompile(`(?i)\b(say|ask|mention|tell) (first|last|earlier|initially)\b`),
	regexp.MustCompile(`(?i)\bgo back to\b`),
	regexp.MustCompile(`(?i)\b(repeat|restate) (that|what)\b`),
}

// temporalPatterns mark conversation-relative time.
var temporalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(earlier|before|previously)\b`),
	regexp.MustCompile(`(?i)\ba (moment|minute|second|while) ago\b`),
	regexp.MustCompile(`(?i)\bjust (now|said|asked|mentioned)\b`),
	regexp.MustCompile(`(?i)\bat the (beginning|start)\b`),
}

// topicalPatterns ask what the conversation covered.
var topicalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhat (did|have) we (discuss|discussed|talk about|talked about|cover|covered)\b`),
	regexp.MustCompile(`(?i)\bwhat (were|are) we (discussing|talking about)\b`),
	regexp.MustCompile(`(?i)\bwhat (topics|subjects) (did|have) we\b`),
	regexp.MustCompile(`(?i)\bdid we (talk about|discuss|cover)\b`),
}

// overviewPatterns ask for the conversation as a whole.
var overviewPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(summarize|summarise) (our|the|this) (conversation|chat|discussion|session)\b`),
	regexp.MustCompile(`(?i)\b(summary|recap|overview) of (our|the|this) (conversation|chat|discussion|session)\b`),
	regexp.MustCompile(`(?i)\brecap (our|the|this) (conversation|chat|discussion|session)\b`),
	regexp.MustCompile(`(?i)\bwhat (have we|did we) (covered|talked about) so far\b`),
}

// anaphoraPatterns need an antecedent from the conversation to resolve.
var anaphoraPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(tell me )?more about (that|this|it|those|these)\b`),
	regexp.MustCompile(`(?i)\bwhat about (that|this|it)\b`),
	regexp.MustCompile(`(?i)\b(that|this) (one|thing|topic|point)\b`),
	regexp.MustCompile(`(?i)\b(explain|elaborate on) (that|this|it)\b`),
}

// conversationalPronouns signal dialogue with the assistant. First person
// singular is deliberately absent: "what did I eat" is a perfectly good
// long-term memory query.
var conversationalPronouns = regexp.MustCompile(`(?i)\b(you|your|yours|we|us|our|ours)\b`)

func matchAny(patterns []*regexp.Regexp, q string) bool {
	for _, p := range patterns {
		if p.MatchString(q) {
			return true
		}
	}
	return false
}
