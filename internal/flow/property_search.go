package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// PropertySearchFlow answers listing searches by suburb. It keeps no session state.
type PropertySearchFlow struct {
	leads   store.LeadStore
	agent   Agent
	policy  Policy
	leadIn  *regexp.Regexp
	printer *message.Printer
}

// NewPropertySearchFlow creates the property search handler.
func NewPropertySearchFlow(leads store.LeadStore, agent Agent, policy Policy) *PropertySearchFlow {
	f := &PropertySearchFlow{
		leads:   leads,
		agent:   agent,
		policy:  policy,
		printer: message.NewPrinter(policy.Locale),
	}
	if policy.SearchLeadIn != "" {
		f.leadIn = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(policy.SearchLeadIn))
	}
	return f
}

// SearchLocation strips the lead-in phrase and normalizes what remains into a suburb key.
func (f *PropertySearchFlow) SearchLocation(msg string) string {
	if f.leadIn != nil {
		if loc := f.leadIn.FindStringIndex(msg); loc != nil {
			msg = msg[:loc[0]] + msg[loc[1]:]
		}
	}
	return strings.ToLower(strings.TrimSpace(msg))
}

// Handle searches the agent's listings for the location named in the message.
func (f *PropertySearchFlow) Handle(ctx context.Context, tc *TurnContext) (string, error) {
	location := f.SearchLocation(tc.Message)
	slog.Debug("PropertySearchFlow.Handle: searching listings", "agentID", f.agent.ID, "location", location)

	found, err := f.leads.SearchProperties(ctx, f.agent.ID, location)
	if err != nil {
		slog.Error("PropertySearchFlow.Handle: search failed", "agentID", f.agent.ID, "location", location, "error", err)
		return "I'm sorry, I'm having trouble searching the property database right now.", nil
	}
	if len(found) == 0 {
		slog.Debug("PropertySearchFlow.Handle: no matching listings", "location", location)
		return "I'm sorry, I couldn't find any properties in that area. Please try another suburb.", nil
	}
	return f.formatResults(found), nil
}

func (f *PropertySearchFlow) formatResults(props []models.Property) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on your request, I found %d properties for you:\n\n", len(props))

	shown := props
	if limit := f.policy.MaxResults; limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for i, p := range shown {
		title := p.Title
		if title == "" {
			title = "Property Listing"
		}
		address := p.Address
		if address == "" {
			address = "N/A"
		}
		fmt.Fprintf(&b, "*%d. %s*\n", i+1, title)
		fmt.Fprintf(&b, "📍 Location: %s\n", address)
		fmt.Fprintf(&b, "💰 Price: %s\n", f.formatPrice(p.Price))
		if specs := propertySpecs(p); specs != "" {
			fmt.Fprintf(&b, "🏠 Specs: %s\n", specs)
		}
		fmt.Fprintf(&b, "🔗 View: %s\n\n", p.URL)
	}

	if extra := len(props) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "And %d more.", extra)
	}
	return b.String()
}

// formatPrice renders a whole-currency amount with locale grouping, e.g. "R 1 250 000".
func (f *PropertySearchFlow) formatPrice(price float64) string {
	amount := f.printer.Sprint(number.Decimal(price, number.MaxFractionDigits(0)))
	if f.policy.CurrencyPrefix == "" {
		return amount
	}
	return f.policy.CurrencyPrefix + " " + amount
}

// propertySpecs prefers the listing's own feature line and otherwise builds "3 Bed | 2 Bath | 1 Garage".
func propertySpecs(p models.Property) string {
	if p.Specs != "" {
		return p.Specs
	}
	var parts []string
	if p.Bedrooms > 0 {
		parts = append(parts, fmt.Sprintf("%d Bed", p.Bedrooms))
	}
	if p.Bathrooms > 0 {
		parts = append(parts, fmt.Sprintf("%d Bath", p.Bathrooms))
	}
	if p.Garages > 0 {
		parts = append(parts, fmt.Sprintf("%d Garage", p.Garages))
	}
	return strings.Join(parts, " | ")
}
