package project_test

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/events"
	"CreatorServices/internal/funds"
	"CreatorServices/internal/ledger"
	"CreatorServices/internal/ledger/ledgertest"
	"CreatorServices/internal/project"
	"CreatorServices/internal/storage/mysql"
	"CreatorServices/internal/wallet"
	"CreatorServices/internal/web3"
	"CreatorServices/internal/web3/provider"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

type fixture struct {
	chain    *ledgertest.Chain
	registry *provider.Registry
	keyring  *wallet.Keyring
	coord    *project.Coordinator
	bus      *events.MemoryBus
	journal  *mysql.FileJournal

	client   common.Address
	provider common.Address
	stranger common.Address
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func ether(v string) *big.Int {
	amount, err := ledger.ToBaseUnits(decimal.RequireFromString(v), 18)
	if err != nil {
		panic(err)
	}
	return amount
}

func newFixture(t *testing.T, supported []string, opts ...ledgertest.Option) *fixture {
	t.Helper()
	chain := ledgertest.New(opts...)
	name := chain.Network().Name
	registry, err := provider.NewStaticRegistry(map[string]web3.Client{name: chain}, name, supported)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	keyring, _ := wallet.NewKeyring()
	f := &fixture{
		chain:    chain,
		registry: registry,
		keyring:  keyring,
		bus:      events.NewMemoryBus(16),
		client:   keyring.Add(newKey(t)),
		provider: keyring.Add(newKey(t)),
		stranger: keyring.Add(newKey(t)),
	}
	f.journal, err = mysql.NewFileJournal(t.TempDir())
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	router := ledger.NewRouter(registry, ledger.Config{ConfirmTimeout: time.Second})
	f.coord, err = project.NewCoordinator(context.Background(), router, funds.NewGuard(registry), keyring,
		project.WithScanConcurrency(3),
		project.WithJournal(f.journal),
		project.WithPublisher(f.bus))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	return f
}

func (f *fixture) create(t *testing.T, client, provider common.Address, amount string) uint64 {
	t.Helper()
	receipt, err := f.coord.CreateAgreement(context.Background(), project.CreateRequest{
		Client:   client,
		Provider: provider,
		Amount:   decimal.RequireFromString(amount),
		Title:    "Illustration",
	})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	return receipt.AgreementID
}

func TestAgreementLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("10"))
	stream, cancel := f.bus.Subscribe()
	defer cancel()

	deadline := time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)
	receipt, err := f.coord.CreateAgreement(ctx, project.CreateRequest{
		Client:      f.client,
		Provider:    f.provider,
		Amount:      decimal.RequireFromString("5.0"),
		Title:       "Album cover",
		Description: "Two concepts",
		Deadline:    &deadline,
	})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	if receipt.State != project.StateProposed || receipt.TxHash == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	got, err := f.coord.GetAgreement(ctx, receipt.AgreementID)
	if err != nil {
		t.Fatalf("get agreement: %v", err)
	}
	if got.State != project.StateProposed || got.Client != f.client || got.Provider != f.provider {
		t.Fatalf("unexpected agreement %+v", got)
	}
	if !got.Amount.Equal(decimal.NewFromInt(5)) || got.Currency != "ETH" {
		t.Fatalf("amount not preserved: %s %s", got.Amount, got.Currency)
	}
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Fatalf("deadline not preserved: %v", got.Deadline)
	}

	accepted, err := f.coord.RespondToProposal(ctx, f.provider, receipt.AgreementID, true)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.State != project.StateInProgress {
		t.Fatalf("accepted agreement should be in progress, got %s", accepted.State)
	}
	if got, _ := f.coord.GetAgreement(ctx, receipt.AgreementID); got.State != project.StateInProgress {
		t.Fatalf("ledger view after accept = %s", got.State)
	}

	completed, err := f.coord.MarkCompleted(ctx, f.provider, receipt.AgreementID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.State != project.StateCompleted {
		t.Fatalf("completed state = %s", completed.State)
	}

	var types []events.Type
	for len(types) < 3 {
		select {
		case ev := <-stream:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	want := []events.Type{events.TypeAgreementCreated, events.TypeAgreementAccepted, events.TypeAgreementCompleted}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}

	entries, err := f.journal.Recent(ctx, 10)
	if err != nil || len(entries) != 3 {
		t.Fatalf("journal entries = %+v, err = %v", entries, err)
	}
	if entries[0].Operation != mysql.OpMarkCompleted || entries[2].Amount != "5" {
		t.Fatalf("unexpected journal %+v", entries)
	}
}

func TestProjectEscrowEncoding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, ledgertest.WithEncoding("project-escrow"))
	f.chain.Fund(f.client, ether("3"))
	id := f.create(t, f.client, f.provider, "1")

	if _, err := f.coord.RespondToProposal(ctx, f.provider, id, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	got, _ := f.coord.GetAgreement(ctx, id)
	if got.State != project.StateInProgress || got.StatusCode != 1 {
		t.Fatalf("unexpected agreement %+v", got)
	}
	if _, err := f.coord.MarkCompleted(ctx, f.provider, id); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = f.coord.GetAgreement(ctx, id)
	if got.State != project.StateCompleted || got.StatusCode != 2 {
		t.Fatalf("unexpected agreement %+v", got)
	}
}

func TestCreateAgreementGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds", func(t *testing.T) {
		f := newFixture(t, nil)
		f.chain.Fund(f.client, ether("2"))
		_, err := f.coord.CreateAgreement(ctx, project.CreateRequest{Client: f.client, Provider: f.provider, Amount: decimal.RequireFromString("5.0")})
		if !xerrors.HasCode(err, xerrors.CodeInsufficientFunds) {
			t.Fatalf("expected insufficient funds, got %v", err)
		}
		if f.chain.Sent() != 0 {
			t.Fatalf("no ledger write should be attempted")
		}
	})

	t.Run("unsupported network", func(t *testing.T) {
		f := newFixture(t, []string{"sepolia"})
		f.chain.Fund(f.client, ether("10"))
		_, err := f.coord.CreateAgreement(ctx, project.CreateRequest{Client: f.client, Provider: f.provider, Amount: decimal.NewFromInt(1)})
		if !xerrors.HasCode(err, xerrors.CodeUnsupportedNetwork) {
			t.Fatalf("expected unsupported network, got %v", err)
		}
		if xerrors.HasCode(err, xerrors.CodeInsufficientFunds) || f.chain.Sent() != 0 {
			t.Fatalf("wrong network must be reported distinctly and block the write")
		}
	})

	t.Run("invalid arguments", func(t *testing.T) {
		f := newFixture(t, nil)
		f.chain.Fund(f.client, ether("10"))
		bad := []project.CreateRequest{
			{Client: f.client, Provider: f.provider, Amount: decimal.Zero},
			{Client: f.client, Provider: f.provider, Amount: decimal.NewFromInt(-1)},
			{Client: f.client, Provider: f.client, Amount: decimal.NewFromInt(1)},
			{Client: f.client, Amount: decimal.NewFromInt(1)},
			{Client: f.client, Provider: f.provider, Amount: decimal.RequireFromString("0.0000000000000000001")},
		}
		for i, req := range bad {
			if _, err := f.coord.CreateAgreement(ctx, req); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
				t.Fatalf("request %d: expected invalid argument, got %v", i, err)
			}
		}
		if f.chain.Sent() != 0 {
			t.Fatalf("no ledger write should be attempted")
		}
	})

	t.Run("unparseable confirmation", func(t *testing.T) {
		f := newFixture(t, nil)
		f.chain.Fund(f.client, ether("10"))
		f.chain.DropCreationEvents(true)
		_, err := f.coord.CreateAgreement(ctx, project.CreateRequest{Client: f.client, Provider: f.provider, Amount: decimal.NewFromInt(1)})
		if !xerrors.HasCode(err, xerrors.CodeConfirmationUnparseable) {
			t.Fatalf("expected unparseable confirmation, got %v", err)
		}
	})

	t.Run("no signing key", func(t *testing.T) {
		f := newFixture(t, nil)
		outsider := common.HexToAddress("0x00000000000000000000000000000000000000f1")
		f.chain.Fund(outsider, ether("10"))
		_, err := f.coord.CreateAgreement(ctx, project.CreateRequest{Client: outsider, Provider: f.provider, Amount: decimal.NewFromInt(1)})
		if !xerrors.HasCode(err, xerrors.CodeNotAuthorized) {
			t.Fatalf("expected not authorized, got %v", err)
		}
	})
}

func TestRespondRequiresProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("10"))
	id := f.create(t, f.client, f.provider, "1")

	for _, caller := range []common.Address{f.stranger, f.client} {
		if _, err := f.coord.RespondToProposal(ctx, caller, id, true); !xerrors.HasCode(err, xerrors.CodeNotAuthorized) {
			t.Fatalf("expected not authorized for %s, got %v", caller.Hex(), err)
		}
		if _, err := f.coord.MarkCompleted(ctx, caller, id); !xerrors.HasCode(err, xerrors.CodeNotAuthorized) {
			t.Fatalf("expected not authorized for %s, got %v", caller.Hex(), err)
		}
	}
	if got, _ := f.coord.GetAgreement(ctx, id); got.State != project.StateProposed {
		t.Fatalf("state changed to %s", got.State)
	}
	if _, err := f.coord.RespondToProposal(ctx, f.provider, 99, true); !xerrors.HasCode(err, xerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRespondOutsideProposedIsInvalid(t *testing.T) {
	ctx := context.Background()
	for _, state := range []string{"accepted", "in_progress", "rejected", "completed"} {
		t.Run(state, func(t *testing.T) {
			f := newFixture(t, nil)
			f.chain.Fund(f.client, ether("10"))
			id := f.create(t, f.client, f.provider, "1")
			f.chain.SetStatus(id, state)
			before, _ := f.coord.GetAgreement(ctx, id)
			sent := f.chain.Sent()

			for _, accept := range []bool{true, false} {
				if _, err := f.coord.RespondToProposal(ctx, f.provider, id, accept); !xerrors.HasCode(err, xerrors.CodeInvalidTransition) {
					t.Fatalf("accept=%v: expected invalid transition, got %v", accept, err)
				}
			}
			after, _ := f.coord.GetAgreement(ctx, id)
			if after.State != before.State || f.chain.Sent() != sent {
				t.Fatalf("state or ledger changed: %s -> %s", before.State, after.State)
			}
		})
	}
}

func TestRejectIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("10"))
	id := f.create(t, f.client, f.provider, "4")

	receipt, err := f.coord.RespondToProposal(ctx, f.provider, id, false)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if receipt.State != project.StateRejected {
		t.Fatalf("state = %s", receipt.State)
	}
	if _, err := f.coord.RespondToProposal(ctx, f.provider, id, true); !xerrors.HasCode(err, xerrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := f.coord.MarkCompleted(ctx, f.provider, id); !xerrors.HasCode(err, xerrors.CodeInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if got := f.chain.Balance(f.client); got.Cmp(ether("10")) != 0 {
		t.Fatalf("rejected deposit not refunded: %s", got)
	}

	view, err := f.coord.ListAgreements(ctx, f.client, project.RoleClient)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(view.Rejected) != 1 || len(view.Pending)+len(view.Active)+len(view.Completed) != 0 {
		t.Fatalf("rejected agreement should stay readable only in its own bucket: %+v", view)
	}
}

func TestMarkCompletedRequiresInProgress(t *testing.T) {
	ctx := context.Background()
	for _, state := range []string{"proposed", "rejected", "completed"} {
		t.Run(state, func(t *testing.T) {
			f := newFixture(t, nil)
			f.chain.Fund(f.client, ether("10"))
			id := f.create(t, f.client, f.provider, "1")
			f.chain.SetStatus(id, state)
			if _, err := f.coord.MarkCompleted(ctx, f.provider, id); !xerrors.HasCode(err, xerrors.CodeInvalidTransition) {
				t.Fatalf("expected invalid transition, got %v", err)
			}
		})
	}
}

func TestListAgreementsPartitionsByRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("20"))
	f.chain.Fund(f.stranger, ether("20"))

	f.create(t, f.client, f.provider, "1")
	active := f.create(t, f.client, f.provider, "2")
	done := f.create(t, f.client, f.provider, "3")
	reverse := f.create(t, f.stranger, f.client, "4")
	if _, err := f.coord.RespondToProposal(ctx, f.provider, active, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.coord.RespondToProposal(ctx, f.provider, done, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.coord.MarkCompleted(ctx, f.provider, done); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Parse from lower-case hex to exercise case-insensitive matching.
	lower := common.HexToAddress(strings.ToLower(f.client.Hex()))
	asClient, err := f.coord.ListAgreements(ctx, lower, project.RoleClient)
	if err != nil {
		t.Fatalf("list client: %v", err)
	}
	if ids(asClient.Pending) != "0" || ids(asClient.Active) != "1" || ids(asClient.Completed) != "2" {
		t.Fatalf("unexpected client view %+v", asClient)
	}
	if asClient.Total != 4 || len(asClient.Skipped) != 0 || asClient.Partial() != nil {
		t.Fatalf("unexpected totals %+v", asClient)
	}

	asProvider, err := f.coord.ListAgreements(ctx, f.client, project.RoleProvider)
	if err != nil {
		t.Fatalf("list provider: %v", err)
	}
	if asProvider.Len() != 1 || asProvider.Pending[0].ID != reverse {
		t.Fatalf("unexpected provider view %+v", asProvider)
	}

	providerView, _ := f.coord.ListAgreements(ctx, f.provider, project.RoleProvider)
	if providerView.Len() != 3 || ids(providerView.Pending) != "0" {
		t.Fatalf("unexpected provider view %+v", providerView)
	}

	if _, err := f.coord.ListAgreements(ctx, f.client, project.Role("admin")); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func ids(list []project.Agreement) string {
	parts := make([]string, 0, len(list))
	for _, a := range list {
		parts = append(parts, strconv.FormatUint(a.ID, 10))
	}
	return strings.Join(parts, ",")
}

func TestListAgreementsSkipsUnreadableRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("20"))
	for i := 0; i < 4; i++ {
		f.create(t, f.client, f.provider, "1")
	}
	f.chain.MakeUnreadable(1)
	f.chain.SetRawStatus(2, 42)

	view, err := f.coord.ListAgreements(ctx, f.client, project.RoleClient)
	if err != nil {
		t.Fatalf("scan should not fail: %v", err)
	}
	if ids(view.Pending) != "0,3" {
		t.Fatalf("readable agreements hidden: %+v", view.Pending)
	}
	if len(view.Skipped) != 2 || view.Skipped[0].ID != 1 || view.Skipped[1].ID != 2 {
		t.Fatalf("unexpected skipped %+v", view.Skipped)
	}
	if !xerrors.HasCode(view.Partial(), xerrors.CodePartialScanFailure) {
		t.Fatalf("expected partial scan failure, got %v", view.Partial())
	}
}

func TestListAgreementsUsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("20"))
	f.create(t, f.client, f.provider, "1")

	if _, err := f.coord.ListAgreements(ctx, f.client, project.RoleClient); err != nil {
		t.Fatalf("list: %v", err)
	}
	scans := f.chain.Calls(ledger.MethodGetProjectsCount)
	view, _ := f.coord.ListAgreements(ctx, f.client, project.RoleClient)
	if f.chain.Calls(ledger.MethodGetProjectsCount) != scans {
		t.Fatalf("cached view should not rescan")
	}

	// Callers cannot corrupt the cached view.
	view.Pending[0].Title = "mutated"
	again, _ := f.coord.ListAgreements(ctx, f.client, project.RoleClient)
	if again.Pending[0].Title != "Illustration" {
		t.Fatalf("cached view was mutated")
	}

	f.create(t, f.client, f.provider, "1")
	after, _ := f.coord.ListAgreements(ctx, f.client, project.RoleClient)
	if len(after.Pending) != 2 {
		t.Fatalf("confirmed write should invalidate the view: %+v", after.Pending)
	}

	f.chain.SetStatus(0, "rejected")
	stale, _ := f.coord.ListAgreements(ctx, f.client, project.RoleClient)
	if len(stale.Pending) != 2 {
		t.Fatalf("outside changes are only seen after refresh")
	}
	fresh, err := f.coord.Refresh(ctx, f.client, project.RoleClient)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(fresh.Pending) != 1 || len(fresh.Rejected) != 1 {
		t.Fatalf("refresh did not rescan: %+v", fresh)
	}
}

func TestConcurrentListAgreementsShareOneScan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("20"))
	for i := 0; i < 3; i++ {
		f.create(t, f.client, f.provider, "1")
	}
	before := f.chain.Calls(ledger.MethodGetProjectsCount)

	release := f.chain.GateReads()
	var wg sync.WaitGroup
	results := make([]project.Buckets, 6)
	errs := make([]error, 6)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.coord.ListAgreements(ctx, f.client, project.RoleClient)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	for i := range results {
		if errs[i] != nil || len(results[i].Pending) != 3 {
			t.Fatalf("caller %d: %+v, %v", i, results[i], errs[i])
		}
	}
	if got := f.chain.Calls(ledger.MethodGetProjectsCount) - before; got != 1 {
		t.Fatalf("expected one shared scan, got %d", got)
	}
}

func TestScanStartedBeforeInvalidationIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("20"))
	f.create(t, f.client, f.provider, "1")
	before := f.chain.Calls(ledger.MethodGetProjectsCount)

	release := f.chain.GateReads()
	done := make(chan project.Buckets, 1)
	go func() {
		view, _ := f.coord.ListAgreements(ctx, f.client, project.RoleClient)
		done <- view
	}()

	deadline := time.Now().Add(time.Second)
	for f.chain.Calls(ledger.MethodGetProjectsCount) == before {
		if time.Now().After(deadline) {
			t.Fatalf("scan never started")
		}
		time.Sleep(time.Millisecond)
	}
	f.coord.InvalidateAll()
	release()
	if view := <-done; len(view.Pending) != 1 {
		t.Fatalf("in-flight caller should still get its result: %+v", view)
	}

	if _, err := f.coord.ListAgreements(ctx, f.client, project.RoleClient); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := f.chain.Calls(ledger.MethodGetProjectsCount) - before; got != 2 {
		t.Fatalf("stale scan result must not populate the cache, scans = %d", got)
	}
}

func TestListAgreementsCallerCancellation(t *testing.T) {
	f := newFixture(t, nil)
	f.chain.Fund(f.client, ether("20"))
	f.create(t, f.client, f.provider, "1")

	release := f.chain.GateReads()
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.coord.ListAgreements(ctx, f.client, project.RoleClient); err == nil {
		t.Fatalf("expected context error")
	}
}

type inflatedCount struct{ ledger.EscrowService }

func (inflatedCount) Count(context.Context) (uint64, error) { return 1 << 62, nil }

type inflatedSource struct{ project.EscrowSource }

func (s inflatedSource) Escrow(ctx context.Context) (ledger.EscrowService, web3.Network, error) {
	escrow, network, err := s.EscrowSource.Escrow(ctx)
	if err != nil {
		return nil, web3.Network{}, err
	}
	return inflatedCount{escrow}, network, nil
}

func TestListAgreementsRejectsOversizedCount(t *testing.T) {
	chain := ledgertest.New()
	registry, err := provider.NewStaticRegistry(map[string]web3.Client{"devnet": chain}, "devnet", nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	keyring, _ := wallet.NewKeyring()
	router := ledger.NewRouter(registry, ledger.Config{ConfirmTimeout: time.Second})
	coord, err := project.NewCoordinator(context.Background(), inflatedSource{router}, funds.NewGuard(registry), keyring,
		project.WithMaxScan(100))
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}

	_, err = coord.ListAgreements(context.Background(), common.HexToAddress("0x01"), project.RoleClient)
	if !xerrors.HasCode(err, xerrors.CodeLedgerReadFailed) {
		t.Fatalf("expected ledger read failure, got %v", err)
	}
	if got := chain.Calls(ledger.MethodGetProject); got != 0 {
		t.Fatalf("no record must be read past the limit, got %d reads", got)
	}
}

func TestCoordinatorRequiresStatusTable(t *testing.T) {
	chain := ledgertest.New(ledgertest.WithStatusCodes(nil))
	registry, err := provider.NewStaticRegistry(map[string]web3.Client{"devnet": chain}, "devnet", nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	keyring, _ := wallet.NewKeyring()
	router := ledger.NewRouter(registry, ledger.Config{})
	_, err = project.NewCoordinator(context.Background(), router, funds.NewGuard(registry), keyring)
	if !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}
