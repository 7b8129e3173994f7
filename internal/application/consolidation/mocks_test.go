package consolidation

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/erp/shipmerge/internal/domain/consolidation"
)

// MockMergeClaimStore is a mock implementation of MergeClaimStore
type MockMergeClaimStore struct {
	mock.Mock
}

func (m *MockMergeClaimStore) Claim(ctx context.Context, heldOrderID, triggerOrderID string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, heldOrderID, triggerOrderID, ttl)
	return args.String(0), args.Error(1)
}

// MockOutcomePublisher is a mock implementation of OutcomePublisher
type MockOutcomePublisher struct {
	mock.Mock
}

func (m *MockOutcomePublisher) Publish(ctx context.Context, record OutcomeRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

var (
	testAccumulate = []string{"Consolidated Shipping"}
	testExpress    = []string{"Express Shipping"}
)

func testMethods() *domain.MethodClassifier {
	return domain.NewMethodClassifier(testAccumulate, testExpress)
}

// instantPoller never sleeps and records the waits it was asked for
func instantPoller(waits *[]time.Duration) *Poller {
	return NewPoller(DefaultPollSchedule, WithWaitFunc(func(ctx context.Context, d time.Duration) error {
		if waits != nil {
			*waits = append(*waits, d)
		}
		return ctx.Err()
	}))
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func newTestClassifier(gw domain.Gateway, logger *zap.Logger) *PaidOrderClassifier {
	return NewPaidOrderClassifier(PaidOrderClassifierConfig{
		Gateway: gw,
		Methods: testMethods(),
		Poller:  instantPoller(nil),
		Logger:  logger,
	})
}

func newTestOrchestrator(gw domain.Gateway, claims MergeClaimStore, logger *zap.Logger) *MergeOrchestrator {
	return NewMergeOrchestrator(MergeOrchestratorConfig{
		Gateway: gw,
		Methods: testMethods(),
		Claims:  claims,
		Logger:  logger,
	})
}

func openUnit(id string) domain.FulfillmentUnit {
	return domain.FulfillmentUnit{ID: id, Status: domain.UnitStatusOpen}
}

func heldUnit(id string) domain.FulfillmentUnit {
	return domain.FulfillmentUnit{ID: id, Status: domain.UnitStatusOnHold, OnHold: true}
}
