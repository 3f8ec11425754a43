package dashboard

import (
	"reflect"
	"testing"
	"time"

	"CreatorServices/internal/project"
	"CreatorServices/internal/reputation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	client   = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	provider = common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
)

func agreement(id uint64, state project.State, amount string) project.Agreement {
	return project.Agreement{
		ID:       id,
		Network:  "devnet",
		Client:   client,
		Provider: provider,
		Amount:   decimal.RequireFromString(amount),
		Currency: "ETH",
		State:    state,
	}
}

func sampleBuckets() project.Buckets {
	deadline := time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC)
	late := agreement(7, project.StateProposed, "0.5")
	late.Title = "Logo"
	late.Deadline = &deadline
	return project.Buckets{
		Account:   provider,
		Role:      project.RoleProvider,
		Network:   "devnet",
		Currency:  "ETH",
		Total:     9,
		Pending:   []project.Agreement{late, agreement(2, project.StateProposed, "1")},
		Active:    []project.Agreement{agreement(4, project.StateInProgress, "2.123456")},
		Completed: []project.Agreement{agreement(5, project.StateCompleted, "5")},
		Skipped:   []project.Skipped{{ID: 8, Reason: "reverted"}, {ID: 3, Reason: "unmapped"}},
	}
}

func TestBuildGroupsAndFormats(t *testing.T) {
	view := Build(project.RoleProvider, sampleBuckets(), nil, "")

	if view.Account != ShortenAddress(provider.Hex(), 4) {
		t.Fatalf("account = %q", view.Account)
	}
	if view.Currency != "ETH" || view.Scanned != 9 || view.Rating != nil {
		t.Fatalf("unexpected header %+v", view)
	}
	keys := make([]string, 0, len(view.Sections))
	for _, s := range view.Sections {
		keys = append(keys, s.Key)
	}
	if !reflect.DeepEqual(keys, []string{SectionPending, SectionActive, SectionCompleted, SectionRejected}) {
		t.Fatalf("section order = %v", keys)
	}

	pending := view.Section(SectionPending)
	if pending.Count != 2 || pending.Cards[0].ID != 2 || pending.Cards[1].ID != 7 {
		t.Fatalf("pending cards not sorted by id: %+v", pending.Cards)
	}
	if pending.Title != "Pending Approvals" {
		t.Fatalf("provider pending title = %q", pending.Title)
	}
	first, logo := pending.Cards[0], pending.Cards[1]
	if first.Title != "Project #2" || first.Amount != "1.0000 ETH" {
		t.Fatalf("unexpected card %+v", first)
	}
	if logo.Title != "Logo" || logo.Deadline != "2027-03-01" || logo.Amount != "0.5000 ETH" {
		t.Fatalf("unexpected card %+v", logo)
	}
	if logo.Address != client.Hex() || logo.Counterparty != ShortenAddress(client.Hex(), 4) {
		t.Fatalf("provider view should show the client: %+v", logo)
	}
	if !reflect.DeepEqual(logo.Actions, []Action{ActionAccept, ActionReject}) {
		t.Fatalf("pending actions = %v", logo.Actions)
	}

	active := view.Section(SectionActive).Cards[0]
	if active.Amount != "2.1235 ETH" || !reflect.DeepEqual(active.Actions, []Action{ActionComplete}) {
		t.Fatalf("unexpected active card %+v", active)
	}
	if got := view.Section(SectionCompleted).Cards[0].Actions; !reflect.DeepEqual(got, []Action{ActionRate}) {
		t.Fatalf("completed actions = %v", got)
	}
	rejected := view.Section(SectionRejected)
	if rejected.Count != 0 || rejected.Empty == "" || rejected.Cards == nil {
		t.Fatalf("empty section should carry a message and no cards: %+v", rejected)
	}
	if !reflect.DeepEqual(view.Skipped, []uint64{3, 8}) {
		t.Fatalf("skipped = %v", view.Skipped)
	}
}

func TestBuildClientRole(t *testing.T) {
	buckets := sampleBuckets()
	buckets.Account, buckets.Role = client, project.RoleClient
	view := Build(project.RoleClient, buckets, nil, "SepoliaETH")

	card := view.Section(SectionPending).Cards[0]
	if card.Address != provider.Hex() || card.Actions != nil {
		t.Fatalf("client view should show the provider without actions: %+v", card)
	}
	if card.Amount != "1.0000 SepoliaETH" || view.Currency != "SepoliaETH" {
		t.Fatalf("currency override not applied: %+v", card)
	}
	if view.Section(SectionPending).Title != "Pending Projects" {
		t.Fatalf("client pending title = %q", view.Section(SectionPending).Title)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	avg := decimal.RequireFromString("4.5")
	agg := &reputation.Aggregate{Provider: provider, Average: &avg, Total: 9, Count: 2}
	buckets := sampleBuckets()
	first := Build(project.RoleProvider, buckets, agg, "")
	second := Build(project.RoleProvider, buckets, agg, "")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Build is not deterministic")
	}
	if buckets.Pending[0].ID != 7 {
		t.Fatalf("Build must not reorder its input")
	}
}

func TestSummarize(t *testing.T) {
	none := Summarize(reputation.Aggregate{Provider: provider})
	if none.Average != "N/A" || none.Label != "No reviews yet" || none.Count != 0 {
		t.Fatalf("unexpected empty summary %+v", none)
	}

	avg := decimal.RequireFromString("4.6667")
	rated := Summarize(reputation.Aggregate{Provider: provider, Average: &avg, Total: 14, Count: 3})
	if rated.Average != "4.7" || rated.Label != "4.7 average from 3 reviews" {
		t.Fatalf("unexpected summary %+v", rated)
	}

	one := decimal.NewFromInt(1)
	single := Summarize(reputation.Aggregate{Provider: provider, Average: &one, Total: 1, Count: 1})
	if single.Average != "1.0" || single.Label != "1.0 average from 1 review" {
		t.Fatalf("minimum score must not look like no ratings: %+v", single)
	}
}

func TestShortenAddress(t *testing.T) {
	tests := []struct {
		in    string
		chars int
		want  string
	}{
		{"0x1234567890abcdef1234567890abcdef12345678", 4, "0x1234...5678"},
		{"0x1234567890abcdef1234567890abcdef12345678", 6, "0x123456...345678"},
		{"0x1234567890abcdef1234567890abcdef12345678", 0, "0x1234...5678"},
		{"0x1234", 4, "0x1234"},
		{"", 4, ""},
	}
	for _, tc := range tests {
		if got := ShortenAddress(tc.in, tc.chars); got != tc.want {
			t.Fatalf("ShortenAddress(%q, %d) = %q, want %q", tc.in, tc.chars, got, tc.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount(decimal.Zero, "ETH"); got != "0.0000 ETH" {
		t.Fatalf("zero = %q", got)
	}
	if got := FormatAmount(decimal.RequireFromString("12.34565"), ""); got != "12.3457" {
		t.Fatalf("rounded = %q", got)
	}
}
