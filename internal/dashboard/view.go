// Package dashboard turns a role-scoped agreement collection and an optional
// rating aggregate into display-ready groupings. Build is a pure function:
// the same inputs always yield the same View.
package dashboard

import (
	"fmt"
	"sort"

	"CreatorServices/internal/project"
	"CreatorServices/internal/reputation"

	"github.com/shopspring/decimal"
)

// Section keys, in display order.
const (
	SectionPending   = "pending"
	SectionActive    = "active"
	SectionCompleted = "completed"
	SectionRejected  = "rejected"
)

// Action names a follow-up the viewer may take on a card.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionComplete Action = "mark_completed"
	ActionRate     Action = "rate"
)

// Card is one agreement ready for display.
type Card struct {
	ID           uint64   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Counterparty string   `json:"counterparty"`
	Address      string   `json:"counterparty_address"`
	Amount       string   `json:"amount"`
	Deadline     string   `json:"deadline,omitempty"`
	State        string   `json:"state"`
	Actions      []Action `json:"actions,omitempty"`
}

// Section groups the cards of one bucket.
type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Count int    `json:"count"`
	Empty string `json:"empty,omitempty"`
	Cards []Card `json:"cards"`
}

// RatingSummary renders an aggregate. Average is "N/A" without ratings.
type RatingSummary struct {
	Provider string `json:"provider"`
	Average  string `json:"average"`
	Count    uint64 `json:"count"`
	Label    string `json:"label"`
}

// View is the whole dashboard of one account in one role.
type View struct {
	Role     string         `json:"role"`
	Account  string         `json:"account"`
	Network  string         `json:"network"`
	Currency string         `json:"currency"`
	Scanned  uint64         `json:"scanned"`
	Sections []Section      `json:"sections"`
	Skipped  []uint64       `json:"skipped,omitempty"`
	Rating   *RatingSummary `json:"rating,omitempty"`
}

// Section returns the section with key, or an empty one.
func (v View) Section(key string) Section {
	for _, s := range v.Sections {
		if s.Key == key {
			return s
		}
	}
	return Section{Key: key}
}

// Build derives the dashboard. currency overrides the bucket currency when
// set; agg may be nil.
func Build(role project.Role, buckets project.Buckets, agg *reputation.Aggregate, currency string) View {
	if currency == "" {
		currency = buckets.Currency
	}
	view := View{
		Role:     string(role),
		Account:  ShortenAddress(buckets.Account.Hex(), 4),
		Network:  buckets.Network,
		Currency: currency,
		Scanned:  buckets.Total,
	}
	groups := []struct {
		key, title string
		list       []project.Agreement
	}{
		{SectionPending, pendingTitle(role), buckets.Pending},
		{SectionActive, "Active Projects", buckets.Active},
		{SectionCompleted, "Completed Projects", buckets.Completed},
		{SectionRejected, "Rejected Projects", buckets.Rejected},
	}
	for _, g := range groups {
		cards := make([]Card, 0, len(g.list))
		for _, a := range sortedByID(g.list) {
			cards = append(cards, card(role, a, currency))
		}
		section := Section{Key: g.key, Title: g.title, Count: len(cards), Cards: cards}
		if len(cards) == 0 {
			section.Empty = emptyText(role, g.key)
		}
		view.Sections = append(view.Sections, section)
	}
	for _, s := range buckets.Skipped {
		view.Skipped = append(view.Skipped, s.ID)
	}
	sort.Slice(view.Skipped, func(i, j int) bool { return view.Skipped[i] < view.Skipped[j] })
	if agg != nil {
		summary := Summarize(*agg)
		view.Rating = &summary
	}
	return view
}

func sortedByID(list []project.Agreement) []project.Agreement {
	out := append([]project.Agreement(nil), list...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func card(role project.Role, a project.Agreement, currency string) Card {
	counterparty := a.Provider
	if role == project.RoleProvider {
		counterparty = a.Client
	}
	c := Card{
		ID:           a.ID,
		Title:        a.Title,
		Description:  a.Description,
		Counterparty: ShortenAddress(counterparty.Hex(), 4),
		Address:      counterparty.Hex(),
		Amount:       FormatAmount(a.Amount, currency),
		State:        string(a.State),
		Actions:      actions(role, a.State),
	}
	if c.Title == "" {
		c.Title = fmt.Sprintf("Project #%d", a.ID)
	}
	if a.Deadline != nil {
		c.Deadline = a.Deadline.UTC().Format("2006-01-02")
	}
	return c
}

func actions(role project.Role, state project.State) []Action {
	switch {
	case role == project.RoleProvider && state == project.StateProposed:
		return []Action{ActionAccept, ActionReject}
	case role == project.RoleProvider && (state == project.StateInProgress || state == project.StateAccepted):
		return []Action{ActionComplete}
	case state == project.StateCompleted:
		return []Action{ActionRate}
	}
	return nil
}

func pendingTitle(role project.Role) string {
	if role == project.RoleProvider {
		return "Pending Approvals"
	}
	return "Pending Projects"
}

func emptyText(role project.Role, key string) string {
	switch key {
	case SectionPending:
		if role == project.RoleProvider {
			return "No pending projects to approve."
		}
		return "No projects awaiting approval."
	case SectionActive:
		return "No active projects."
	case SectionCompleted:
		return "No completed projects yet."
	default:
		return "No rejected projects."
	}
}

// FormatAmount renders an amount with four decimals and the currency symbol.
func FormatAmount(amount decimal.Decimal, currency string) string {
	s := amount.StringFixed(4)
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// ShortenAddress keeps the 0x prefix, the first chars and the last chars of
// an address.
func ShortenAddress(address string, chars int) string {
	if chars <= 0 {
		chars = 4
	}
	if len(address) <= 2*chars+2 {
		return address
	}
	return address[:chars+2] + "..." + address[len(address)-chars:]
}

// Summarize renders a rating aggregate.
func Summarize(agg reputation.Aggregate) RatingSummary {
	summary := RatingSummary{Provider: ShortenAddress(agg.Provider.Hex(), 4), Count: agg.Count}
	if agg.Average == nil || agg.Count == 0 {
		summary.Average = "N/A"
		summary.Label = "No reviews yet"
		return summary
	}
	summary.Average = agg.Average.StringFixed(1)
	noun := "reviews"
	if agg.Count == 1 {
		noun = "review"
	}
	summary.Label = fmt.Sprintf("%s average from %d %s", summary.Average, agg.Count, noun)
	return summary
}
