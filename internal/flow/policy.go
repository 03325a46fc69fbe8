package flow

import (
	"golang.org/x/text/language"
)

// Agent identifies the real-estate agent this assistant works for.
type Agent struct {
	ID   string
	Name string
}

// Policy holds the routing and formatting constants of the assistant.
type Policy struct {
	// ConfidenceThreshold is the minimum classifier confidence for a routed intent;
	// anything lower is answered as general chat.
	ConfidenceThreshold float64
	// SearchLeadIn is stripped from property search messages before the suburb lookup.
	SearchLeadIn string
	// MaxResults caps how many listings are listed in one reply.
	MaxResults int
	// AssistantName is how the assistant introduces itself.
	AssistantName string
	// CurrencyPrefix and Locale control listing price formatting.
	CurrencyPrefix string
	Locale         language.Tag
}

// DefaultPolicy returns the policy the assistant ships with.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.7,
		SearchLeadIn:        "show me houses in",
		MaxResults:          5,
		AssistantName:       "Optimus",
		CurrencyPrefix:      "R",
		Locale:              language.MustParse("en-ZA"),
	}
}

// displayName returns name, or a neutral greeting target when the contact has none.
func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}
