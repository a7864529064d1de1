package prescriptions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rxoptima/rxoptima/internal/docstore"
	"github.com/rxoptima/rxoptima/internal/docstore/memstore"
	"github.com/rxoptima/rxoptima/internal/inventory"
	"github.com/rxoptima/rxoptima/internal/shared"
)

var testScope = docstore.Scope{Namespace: "rxoptima-app", Identity: "u1"}

type staticScope struct{ err error }

func (s staticScope) Scope() (docstore.Scope, error) { return testScope, s.err }

// liveView keeps both collections current the way the live subscriber does.
type liveView struct {
	mu            sync.Mutex
	items         []inventory.Item
	prescriptions []Prescription
}

func watch(t *testing.T, store docstore.Store) *liveView {
	t.Helper()
	v := &liveView{}
	ctx := context.Background()
	unsubInv, err := inventory.NewCollection(store, testScope).Subscribe(ctx, func(items []inventory.Item) {
		v.mu.Lock()
		v.items = items
		v.mu.Unlock()
	}, nil)
	require.NoError(t, err)
	unsubPres, err := NewCollection(store, testScope).Subscribe(ctx, func(list []Prescription) {
		v.mu.Lock()
		v.prescriptions = list
		v.mu.Unlock()
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		unsubInv()
		unsubPres()
	})
	return v
}

func (v *liveView) FindItem(id string) (inventory.Item, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return inventory.Find(v.items, id)
}

func (v *liveView) FindPrescription(id string) (Prescription, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, p := range v.prescriptions {
		if p.ID == id {
			return p, true
		}
	}
	return Prescription{}, false
}

func (v *liveView) Prescriptions() []Prescription {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.prescriptions
}

type recordingAlerts struct {
	alerts []inventory.LowStockAlert
}

func (a *recordingAlerts) LowStock(_ context.Context, alert inventory.LowStockAlert) error {
	a.alerts = append(a.alerts, alert)
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type fixture struct {
	store   *memstore.Store
	view    *liveView
	engine  *Engine
	notices *shared.NoticeBoard
	alerts  *recordingAlerts
	audit   *recordingAudit
}

func newFixture(t *testing.T, cfg EngineConfig) *fixture {
	t.Helper()
	store := memstore.New()
	f := &fixture{
		store:   store,
		view:    watch(t, store),
		notices: shared.NewNoticeBoard(20),
		alerts:  &recordingAlerts{},
		audit:   &recordingAudit{},
	}
	f.engine = NewEngine(store, staticScope{}, f.view, Ports{
		Audit:   f.audit,
		Alerts:  f.alerts,
		Notices: f.notices,
	}, cfg)
	return f
}

func seedItem(t *testing.T, store *memstore.Store, id, name string, stock int) {
	t.Helper()
	item := inventory.Item{
		Name:            name,
		BatchNumber:     "101",
		ExpiryDate:      time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
		QuantityInStock: stock,
		UnitPrice:       decimal.NewFromInt(25),
	}
	require.NoError(t, inventory.NewCollection(store, testScope).Replace(context.Background(), id, item))
}

func stockOf(t *testing.T, store *memstore.Store, id string) int {
	t.Helper()
	raw, ok := store.Get(testScope.Collection(inventory.CollectionName).Doc(id))
	require.True(t, ok)
	var item inventory.Item
	require.NoError(t, json.Unmarshal(raw, &item))
	return item.QuantityInStock
}

func storedPrescription(t *testing.T, store *memstore.Store, id string) Prescription {
	t.Helper()
	raw, ok := store.Get(testScope.Collection(CollectionName).Doc(id))
	require.True(t, ok)
	var p Prescription
	require.NoError(t, json.Unmarshal(raw, &p))
	return p
}

func logFor(t *testing.T, f *fixture, lines ...LineInput) Prescription {
	t.Helper()
	p, err := f.engine.Log(context.Background(), LogInput{
		PatientIdentifier: "PT-001",
		DoctorName:        "Dr. Bello",
		Items:             lines,
	})
	require.NoError(t, err)
	f.notices.Drain()
	return p
}

func TestFillRejectsWholePrescriptionWhenOneLineIsShort(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedItem(t, f.store, "A", "Amoxil", 10)
	seedItem(t, f.store, "B", "Bactrim", 1)
	p := logFor(t, f, LineInput{DrugID: "A", Quantity: 3}, LineInput{DrugID: "B", Quantity: 2})

	_, err := f.engine.Fill(context.Background(), p.ID)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "B", stockErr.DrugID)
	require.Equal(t, 2, stockErr.Required)
	require.Equal(t, 1, stockErr.Available)
	require.Equal(t, "Not enough stock for Bactrim. Required: 2, In Stock: 1", f.notices.Pop().Message)

	require.Equal(t, 10, stockOf(t, f.store, "A"))
	require.Equal(t, 1, stockOf(t, f.store, "B"))
	require.False(t, storedPrescription(t, f.store, p.ID).IsFilled)
}

func TestLogThenFill(t *testing.T) {
	f := newFixture(t, EngineConfig{LowStockThreshold: 20})
	seedItem(t, f.store, "A", "Amoxil", 10)
	seedItem(t, f.store, "B", "Bactrim", 40)
	p := logFor(t, f, LineInput{DrugID: "A", Dosage: "500mg", Quantity: 3}, LineInput{DrugID: "B", Quantity: 2})
	require.Equal(t, "Amoxil", p.Items[0].DrugName)
	require.False(t, p.IsFilled)
	require.Nil(t, p.DateFilled)

	filled, err := f.engine.Fill(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, filled.IsFilled)
	require.NotNil(t, filled.DateFilled)
	require.Equal(t, "Prescription filled successfully!", f.notices.Pop().Message)

	require.Equal(t, 7, stockOf(t, f.store, "A"))
	require.Equal(t, 38, stockOf(t, f.store, "B"))
	stored := storedPrescription(t, f.store, p.ID)
	require.True(t, stored.IsFilled)
	require.NotNil(t, stored.DateFilled)

	require.Len(t, f.alerts.alerts, 1)
	require.Equal(t, "A", f.alerts.alerts[0].DrugID)
	require.Equal(t, EngineName, f.alerts.alerts[0].Source)
	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "prescription:fill", f.audit.logs[0].Action)

	_, err = f.engine.Fill(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 7, stockOf(t, f.store, "A"))
}

func TestFillAggregatesRepeatedDrug(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedItem(t, f.store, "A", "Amoxil", 5)
	p := logFor(t, f, LineInput{DrugID: "A", Quantity: 3}, LineInput{DrugID: "A", Quantity: 3})

	_, err := f.engine.Fill(context.Background(), p.ID)
	var stockErr *shared.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, 6, stockErr.Required)
	require.Equal(t, 5, stockOf(t, f.store, "A"))
}

func TestFillMissingDrugAndPrescription(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedItem(t, f.store, "A", "Amoxil", 5)
	p := logFor(t, f, LineInput{DrugID: "A", Quantity: 1})
	require.NoError(t, f.store.Delete(context.Background(), testScope.Collection(inventory.CollectionName).Doc("A")))

	_, err := f.engine.Fill(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, "Item Amoxil (ID: A) not found in inventory.", f.notices.Pop().Message)

	_, err = f.engine.Fill(context.Background(), "nope")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFillCommitFailureChangesNothing(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedItem(t, f.store, "A", "Amoxil", 5)
	p := logFor(t, f, LineInput{DrugID: "A", Quantity: 2})

	f.store.FailNextCommit(errors.New("deadline exceeded"))
	_, err := f.engine.Fill(context.Background(), p.ID)
	require.ErrorIs(t, err, shared.ErrCommitFailed)
	require.Equal(t, "Error filling prescription: deadline exceeded", f.notices.Pop().Message)
	require.Equal(t, 5, stockOf(t, f.store, "A"))
	require.False(t, storedPrescription(t, f.store, p.ID).IsFilled)
}

func TestStrictFillDetectsStockChangedUnderneath(t *testing.T) {
	f := newFixture(t, EngineConfig{StrictStock: true})
	seedItem(t, f.store, "A", "Amoxil", 5)
	p := logFor(t, f, LineInput{DrugID: "A", Quantity: 2})

	// Serve a stale inventory snapshot to the engine.
	stale := &staleView{liveView: f.view, item: inventory.Item{ID: "A", Name: "Amoxil", QuantityInStock: 9}}
	f.engine.snapshots = stale

	_, err := f.engine.Fill(context.Background(), p.ID)
	require.ErrorIs(t, err, docstore.ErrPrecondition)
	require.Equal(t, 5, stockOf(t, f.store, "A"))
}

type staleView struct {
	*liveView
	item inventory.Item
}

func (s *staleView) FindItem(id string) (inventory.Item, bool) {
	if id == s.item.ID {
		return s.item, true
	}
	return s.liveView.FindItem(id)
}

type stalePrescriptionView struct {
	*liveView
	prescription Prescription
}

func (s *stalePrescriptionView) FindPrescription(id string) (Prescription, bool) {
	if id == s.prescription.ID {
		return s.prescription, true
	}
	return s.liveView.FindPrescription(id)
}

func TestFillNeverRefillsUnderStaleSnapshot(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedItem(t, f.store, "A", "Amoxil", 5)
	p := logFor(t, f, LineInput{DrugID: "A", Quantity: 2})

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return first }
	_, err := f.engine.Fill(context.Background(), p.ID)
	require.NoError(t, err)
	f.notices.Drain()

	// The snapshot still shows the prescription as unfilled.
	f.engine.snapshots = &stalePrescriptionView{liveView: f.view, prescription: p}
	f.engine.now = func() time.Time { return first.Add(time.Hour) }
	_, err = f.engine.Fill(context.Background(), p.ID)
	require.ErrorIs(t, err, docstore.ErrPrecondition)

	stored := storedPrescription(t, f.store, p.ID)
	require.True(t, stored.IsFilled)
	require.NotNil(t, stored.DateFilled)
	require.True(t, first.Equal(*stored.DateFilled))
	require.Equal(t, 3, stockOf(t, f.store, "A"))
}

func TestLogValidation(t *testing.T) {
	f := newFixture(t, EngineConfig{})

	_, err := f.engine.Log(context.Background(), LogInput{PatientIdentifier: "PT-1", Items: []LineInput{{DrugID: "A"}}})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, "Please fill all required fields.", f.notices.Pop().Message)

	_, err = f.engine.Log(context.Background(), LogInput{PatientIdentifier: "PT-1", DoctorName: "Dr. A", Items: []LineInput{{DrugID: " "}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.engine.Log(context.Background(), LogInput{PatientIdentifier: "PT-1", DoctorName: "Dr. A", Items: []LineInput{{DrugID: "A", Quantity: -2}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	require.Equal(t, 0, f.store.Count(testScope.Collection(CollectionName)))

	p, err := f.engine.Log(context.Background(), LogInput{PatientIdentifier: "PT-1", DoctorName: "Dr. A", Items: []LineInput{{DrugID: "ghost"}}})
	require.NoError(t, err)
	require.Equal(t, UnknownDrug, p.Items[0].DrugName)
	require.Equal(t, 1, p.Items[0].Quantity)
}

func TestClampLineQuantity(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	seedItem(t, f.store, "A", "Amoxil", 4)

	require.Equal(t, 4, f.engine.ClampLineQuantity("A", 9))
	require.Equal(t, "Only 4 of Amoxil in stock.", f.notices.Pop().Message)
	require.Equal(t, 1, f.engine.ClampLineQuantity("A", 0))
	require.Equal(t, 3, f.engine.ClampLineQuantity("A", 3))
	require.Equal(t, 7, f.engine.ClampLineQuantity("unknown", 7))
}

func TestOperationsRequireSession(t *testing.T) {
	f := newFixture(t, EngineConfig{})
	f.engine.scopes = staticScope{err: shared.NoSession()}

	_, err := f.engine.Log(context.Background(), LogInput{})
	require.ErrorIs(t, err, shared.ErrAuth)
	require.Equal(t, "Authentication error. Please refresh.", f.notices.Pop().Message)
	_, err = f.engine.Fill(context.Background(), "x")
	require.ErrorIs(t, err, shared.ErrAuth)
}
