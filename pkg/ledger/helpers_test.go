package ledger

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arti-ci/sygfp-ledger/pkg/audit"
	"github.com/arti-ci/sygfp-ledger/pkg/authz"
	"github.com/arti-ci/sygfp-ledger/pkg/cache"
	"github.com/arti-ci/sygfp-ledger/pkg/logging"
	"github.com/arti-ci/sygfp-ledger/pkg/sequence"
	"github.com/arti-ci/sygfp-ledger/pkg/txn"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

// testingT is satisfied by *testing.T and by GinkgoT().
type testingT interface {
	require.TestingT
	Helper()
	Cleanup(func())
}

const testExercice = 2025

func newTestDB(t testingT) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fixture struct {
	db     *gorm.DB
	svc    *Service
	audit  *audit.Store
	cache  *cache.LRUCache
	engine *workflow.Engine
}

func newFixture(t testingT, mutate ...func(*Options)) *fixture {
	t.Helper()
	return newFixtureOn(t, newTestDB(t), mutate...)
}

func newFixtureOn(t testingT, db *gorm.DB, mutate ...func(*Options)) *fixture {
	t.Helper()

	steps := workflow.NewVisaStore(db)
	require.NoError(t, steps.AutoMigrate())
	auditStore := audit.NewStore(db)
	require.NoError(t, auditStore.AutoMigrate())
	numbers := sequence.NewIssuer(db)
	require.NoError(t, numbers.AutoMigrate())
	require.NoError(t, AutoMigrate(db))

	nop := logging.NewNop()
	engine := workflow.NewEngine(workflow.DefaultRegistry(), authz.NewRoleAuthorizer(nil), steps, nop)
	lru := cache.NewLRUCache(100, time.Minute)
	opts := Options{
		Engine:  engine,
		Runner:  txn.NewRunner(db, &txn.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Timeout: 5 * time.Second}, nop, nil),
		Numbers: numbers,
		Audit:   auditStore,
		Cache:   lru,
		Logger:  nop,
	}
	for _, m := range mutate {
		m(&opts)
	}
	svc, err := NewService(opts)
	require.NoError(t, err)
	return &fixture{db: db, svc: svc, audit: auditStore, cache: lru, engine: engine}
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func as(roles ...string) workflow.Actor {
	return workflow.Actor{ID: "user-" + roles[0], Roles: roles}
}

var (
	saf = as("SAF")
	ctx = context.Background()
)

func (f *fixture) line(t testingT, code string, dotation int64) *BudgetLineRecord {
	t.Helper()
	l, err := f.svc.Ledger.CreateLine(ctx, CreateLineInput{
		Code: code, Label: "Ligne " + code, Exercice: testExercice, DotationInitiale: d(dotation), Actor: as("CB"),
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) reload(t testingT, id string) *BudgetLineRecord {
	t.Helper()
	l, err := f.svc.Ledger.GetLine(ctx, id)
	require.NoError(t, err)
	return l
}

func commitmentInput(lineID string, amount int64) CreateInput {
	return CreateInput{
		ParentID:    lineID,
		Amount:      d(amount),
		Beneficiary: "SODECI",
		Purpose:     "Fourniture de matériel informatique",
		Documents:   DefaultCommitmentDocuments,
		Actor:       saf,
	}
}

func verificationInput(commitmentID string, amount int64) CreateInput {
	return CreateInput{
		ParentID:  commitmentID,
		Amount:    d(amount),
		Documents: DefaultVerificationDocuments,
		Actor:     saf,
	}
}

func paymentOrderInput(verificationID string, amount int64) CreateInput {
	return CreateInput{ParentID: verificationID, Amount: d(amount), PaymentMode: PaymentTransfer, Actor: saf}
}

func settlementInput(poID string, amount int64) CreateInput {
	return CreateInput{ParentID: poID, Amount: d(amount), PaymentMode: PaymentTransfer, PaymentReference: "VIR-0001", Actor: as("AC")}
}

// approve validates every remaining step of an entity, each time as the
// role the step requires.
func approve[T any, PT EntityPtr[T]](t testingT, c *Chain[T, PT], id string) PT {
	t.Helper()
	for {
		e, err := c.Get(ctx, id)
		require.NoError(t, err)
		b := e.Base()
		if b.Status != workflow.StatusSubmitted && b.Status != workflow.StatusInProgress {
			return e
		}
		step, ok := b.Plan.Step(b.CurrentStep)
		require.True(t, ok)
		_, _, err = c.Advance(ctx, id, workflow.Decision{Kind: workflow.EventValidate, Step: b.CurrentStep}, as(step.Role))
		require.NoError(t, err)
	}
}

// validated creates, submits and approves an entity.
func validated[T any, PT EntityPtr[T]](t testingT, c *Chain[T, PT], in CreateInput) PT {
	t.Helper()
	e, err := c.Create(ctx, in)
	require.NoError(t, err)
	_, err = c.Submit(ctx, e.Base().ID, in.Actor)
	require.NoError(t, err)
	e = approve(t, c, e.Base().ID)
	require.Equal(t, workflow.StatusValidated, e.Base().Status, e.Base().RejectReason)
	return e
}

// submitted creates and submits an entity.
func submitted[T any, PT EntityPtr[T]](t testingT, c *Chain[T, PT], in CreateInput) PT {
	t.Helper()
	e, err := c.Create(ctx, in)
	require.NoError(t, err)
	e, err = c.Submit(ctx, e.Base().ID, in.Actor)
	require.NoError(t, err)
	return e
}

func approveTransfer(t testingT, tr *Transfers, id string) (*CreditTransferRecord, workflow.Outcome) {
	t.Helper()
	var out workflow.Outcome
	for {
		rec, err := tr.Get(ctx, id)
		require.NoError(t, err)
		if rec.Status != workflow.StatusSubmitted && rec.Status != workflow.StatusInProgress {
			return rec, out
		}
		step, ok := rec.Plan.Step(rec.CurrentStep)
		require.True(t, ok)
		_, out, err = tr.Advance(ctx, id, workflow.Decision{Kind: workflow.EventValidate, Step: rec.CurrentStep}, as(step.Role))
		require.NoError(t, err)
	}
}

func (f *fixture) events(t testingT, entityID, action string) []audit.EventRecord {
	t.Helper()
	var out []audit.EventRecord
	q := f.db.Where("entity_id = ?", entityID)
	if action != "" {
		q = q.Where("action = ?", action)
	}
	require.NoError(t, q.Order("created_at ASC").Find(&out).Error)
	return out
}

// withCommitmentSteps replaces the commitment workflow of the fixture.
func withCommitmentSteps(steps ...workflow.StepConfig) func(*Options) {
	return func(o *Options) {
		defs := workflow.DefaultDefinitions()
		for i := range defs {
			if defs[i].Stage == workflow.StageCommitment {
				defs[i].Steps = steps
			}
		}
		reg, err := workflow.NewRegistry(defs, nil)
		if err != nil {
			panic(err)
		}
		o.Engine = workflow.NewEngine(reg, authz.NewRoleAuthorizer(nil), o.Engine.Steps(), logging.NewNop())
	}
}
