package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	mockadapter "github.com/subflow/billing-service/internal/adapters/mock"
	"github.com/subflow/billing-service/internal/domain"
	"github.com/subflow/billing-service/internal/domain/ports"
)

type MockDBPort struct {
	mock.Mock
}

func (m *MockDBPort) GetDB() *pgxpool.Pool {
	return nil
}

func (m *MockDBPort) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

func (m *MockDBPort) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type MockSubscriptionRepository struct {
	mock.Mock
}

func (m *MockSubscriptionRepository) Create(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Subscription, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) Update(ctx context.Context, tx ports.DBTX, sub *domain.Subscription) error {
	args := m.Called(ctx, tx, sub)
	return args.Error(0)
}

func (m *MockSubscriptionRepository) ListByUser(ctx context.Context, db ports.DBTX, userID string) ([]*domain.Subscription, error) {
	args := m.Called(ctx, db, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

func (m *MockSubscriptionRepository) ListDueForBilling(ctx context.Context, db ports.DBTX, dueDate time.Time, limit int32) ([]*domain.Subscription, error) {
	args := m.Called(ctx, db, dueDate, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Subscription), args.Error(1)
}

type MockProductRepository struct {
	mock.Mock
}

func (m *MockProductRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.Product, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

type MockPaymentAttemptRepository struct {
	mock.Mock
}

func (m *MockPaymentAttemptRepository) Create(ctx context.Context, tx ports.DBTX, attempt *domain.PaymentAttempt) error {
	args := m.Called(ctx, tx, attempt)
	return args.Error(0)
}

func (m *MockPaymentAttemptRepository) Update(ctx context.Context, tx ports.DBTX, attempt *domain.PaymentAttempt) error {
	args := m.Called(ctx, tx, attempt)
	return args.Error(0)
}

func (m *MockPaymentAttemptRepository) GetByID(ctx context.Context, db ports.DBTX, id string) (*domain.PaymentAttempt, error) {
	args := m.Called(ctx, db, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PaymentAttempt), args.Error(1)
}

func (m *MockPaymentAttemptRepository) ListBySubscription(ctx context.Context, db ports.DBTX, subscriptionID string, limit int32) ([]*domain.PaymentAttempt, error) {
	args := m.Called(ctx, db, subscriptionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PaymentAttempt), args.Error(1)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...ports.Field)  {}
func (noopLogger) Error(string, ...ports.Field) {}
func (noopLogger) Warn(string, ...ports.Field)  {}
func (noopLogger) Debug(string, ...ports.Field) {}

type fixture struct {
	service  *Service
	subRepo  *MockSubscriptionRepository
	products *MockProductRepository
	attempts *MockPaymentAttemptRepository
	gateway  *mockadapter.PaymentGateway
	queue    *mockadapter.TaskQueue
}

func newFixture() *fixture {
	f := &fixture{
		subRepo:  new(MockSubscriptionRepository),
		products: new(MockProductRepository),
		attempts: new(MockPaymentAttemptRepository),
		gateway:  mockadapter.NewPaymentGateway(),
		queue:    mockadapter.NewTaskQueue(),
	}
	f.service = NewService(
		new(MockDBPort), f.subRepo, f.products, f.attempts, f.gateway, f.queue, noopLogger{},
	)
	return f
}

func monthlyProduct() *domain.Product {
	return &domain.Product{
		ID:        "prod-1",
		Name:      "Pro Plan",
		Price:     decimal.NewFromInt(100),
		CycleType: domain.CycleMonthly,
	}
}

func activeSub() *domain.Subscription {
	return &domain.Subscription{
		ID:              "sub-1",
		UserID:          "user-1",
		ProductID:       "prod-1",
		Status:          domain.SubscriptionStatusActive,
		BillingCycle:    domain.CycleMonthly,
		StartDate:       time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
		NextBillingDate: time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateSubscription(t *testing.T) {
	f := newFixture()
	start := time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC)

	f.products.On("GetByID", mock.Anything, mock.Anything, "prod-1").Return(monthlyProduct(), nil)
	f.subRepo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	sub, err := f.service.CreateSubscription(context.Background(), CreateSubscriptionRequest{
		UserID:      "user-1",
		ProductID:   "prod-1",
		StartDate:   start,
		FreePeriods: 2,
		CouponCode:  "WELCOME",
	})

	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
	// Cycle defaults from the product; month-end start clamps
	assert.Equal(t, domain.CycleMonthly, sub.BillingCycle)
	assert.Equal(t, time.Date(2026, time.April, 30, 0, 0, 0, 0, time.UTC), sub.NextBillingDate)
	assert.Equal(t, 2, sub.RemainingDiscountPeriods)
	assert.Equal(t, "WELCOME", sub.AppliedCouponCode)
	f.subRepo.AssertExpectations(t)
}

func TestCreateSubscriptionExplicitCycleOverridesProduct(t *testing.T) {
	f := newFixture()
	start := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	f.products.On("GetByID", mock.Anything, mock.Anything, "prod-1").Return(monthlyProduct(), nil)
	f.subRepo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	sub, err := f.service.CreateSubscription(context.Background(), CreateSubscriptionRequest{
		UserID:    "user-1",
		ProductID: "prod-1",
		CycleType: domain.CycleYearly,
		StartDate: start,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.CycleYearly, sub.BillingCycle)
	assert.Equal(t, time.Date(2027, time.March, 1, 0, 0, 0, 0, time.UTC), sub.NextBillingDate)
}

func TestCreateSubscriptionRejectsUnknownCycle(t *testing.T) {
	f := newFixture()

	f.products.On("GetByID", mock.Anything, mock.Anything, "prod-1").Return(monthlyProduct(), nil)

	_, err := f.service.CreateSubscription(context.Background(), CreateSubscriptionRequest{
		UserID:    "user-1",
		ProductID: "prod-1",
		CycleType: domain.BillingCycle("daily"),
	})

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeUnsupportedCycleType, domain.GetErrorCode(err))
	f.subRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestActivateSubscription(t *testing.T) {
	f := newFixture()
	sub := activeSub()
	sub.Status = domain.SubscriptionStatusPending

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	got, err := f.service.ActivateSubscription(context.Background(), "sub-1")

	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	f.subRepo.AssertExpectations(t)
}

func TestCancelSubscription(t *testing.T) {
	f := newFixture()
	sub := activeSub()

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	got, err := f.service.CancelSubscription(context.Background(), "sub-1")

	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, got.Status)
	assert.NotNil(t, got.EndDate)
}

func TestChangeBillingCycleRejectsDowngrade(t *testing.T) {
	f := newFixture()
	sub := activeSub()
	sub.BillingCycle = domain.CycleYearly

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)

	_, err := f.service.ChangeBillingCycle(context.Background(), "sub-1", domain.CycleMonthly)

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeInvalidPlanChange, domain.GetErrorCode(err))
	f.subRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestPlanConversionQuotesUpgradeFee(t *testing.T) {
	f := newFixture()
	sub := activeSub()

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)
	f.products.On("GetByID", mock.Anything, mock.Anything, "prod-1").Return(monthlyProduct(), nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	quote, err := f.service.RequestPlanConversion(context.Background(), "sub-1", domain.CycleYearly)

	require.NoError(t, err)
	// Eleven additional months at the 100/month price
	assert.True(t, quote.FeeAdjustment.Equal(decimal.NewFromInt(1100)), "got %s", quote.FeeAdjustment)
	require.NotNil(t, quote.Subscription.PendingConversion)
	assert.Equal(t, domain.CycleYearly, quote.Subscription.PendingConversion.NewCycle)
	// The live cycle is untouched until the next billing pass
	assert.Equal(t, domain.CycleMonthly, quote.Subscription.BillingCycle)
}

func TestRequestPlanConversionQuotesDowngradeCredit(t *testing.T) {
	f := newFixture()
	sub := activeSub()
	sub.BillingCycle = domain.CycleYearly

	yearlyProduct := &domain.Product{
		ID:        "prod-1",
		Name:      "Pro Plan Annual",
		Price:     decimal.NewFromInt(1200),
		CycleType: domain.CycleYearly,
	}

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)
	f.products.On("GetByID", mock.Anything, mock.Anything, "prod-1").Return(yearlyProduct, nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	quote, err := f.service.RequestPlanConversion(context.Background(), "sub-1", domain.CycleMonthly)

	require.NoError(t, err)
	// 1200/year normalizes to 100/month; dropping eleven months credits 1100
	assert.True(t, quote.FeeAdjustment.Equal(decimal.NewFromInt(-1100)), "got %s", quote.FeeAdjustment)
}

func TestRequestPlanConversionRejectsSecondRequest(t *testing.T) {
	f := newFixture()
	sub := activeSub()
	sub.PendingConversion = &domain.PendingConversion{
		NewCycle:    domain.CycleYearly,
		RequestedAt: time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC),
	}

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)
	f.products.On("GetByID", mock.Anything, mock.Anything, "prod-1").Return(monthlyProduct(), nil)

	_, err := f.service.RequestPlanConversion(context.Background(), "sub-1", domain.CycleQuarterly)

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeConversionPending, domain.GetErrorCode(err))
	f.subRepo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything)
}

func TestPublishDueBillingTasks(t *testing.T) {
	f := newFixture()
	asOf := time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC)

	due := []*domain.Subscription{activeSub(), activeSub()}
	due[1].ID = "sub-2"

	f.subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, asOf, int32(100)).Return(due, nil)

	published, err := f.service.PublishDueBillingTasks(context.Background(), asOf, 100)

	require.NoError(t, err)
	assert.Equal(t, 2, published)

	tasks := f.queue.Published()
	require.Len(t, tasks, 2)
	assert.Equal(t, "sub-1", tasks[0].Task.SubscriptionID)
	assert.Equal(t, "sub-2", tasks[1].Task.SubscriptionID)
	assert.Equal(t, domain.TaskTypeBilling, tasks[0].Task.TaskType)
	assert.Equal(t, time.Duration(0), tasks[0].Delay)
}

func TestPublishDueBillingTasksEmptyBatch(t *testing.T) {
	f := newFixture()
	asOf := time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC)

	f.subRepo.On("ListDueForBilling", mock.Anything, mock.Anything, asOf, int32(50)).
		Return([]*domain.Subscription{}, nil)

	published, err := f.service.PublishDueBillingTasks(context.Background(), asOf, 50)

	require.NoError(t, err)
	assert.Equal(t, 0, published)
	assert.Empty(t, f.queue.Published())
}

func TestRefundLastPayment(t *testing.T) {
	f := newFixture()
	sub := activeSub()

	history := []*domain.PaymentAttempt{
		{ID: "att-3", Status: domain.AttemptStatusFailed},
		{ID: "att-2", Status: domain.AttemptStatusSuccess, TransactionID: "txn-42", Amount: decimal.NewFromInt(100)},
		{ID: "att-1", Status: domain.AttemptStatusSuccess, TransactionID: "txn-41", Amount: decimal.NewFromInt(100)},
	}

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)
	f.attempts.On("ListBySubscription", mock.Anything, mock.Anything, "sub-1", int32(20)).Return(history, nil)
	f.subRepo.On("Update", mock.Anything, mock.Anything, sub).Return(nil)

	got, err := f.service.RefundLastPayment(context.Background(), "sub-1", "customer request")

	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, got.Status)

	refunds := f.gateway.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, "txn-42", refunds[0].TransactionID)
	assert.True(t, refunds[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "customer request", refunds[0].Reason)
}

func TestRefundLastPaymentWithoutSettledCharge(t *testing.T) {
	f := newFixture()
	sub := activeSub()

	history := []*domain.PaymentAttempt{
		{ID: "att-1", Status: domain.AttemptStatusFailed},
	}

	f.subRepo.On("GetByID", mock.Anything, mock.Anything, "sub-1").Return(sub, nil)
	f.attempts.On("ListBySubscription", mock.Anything, mock.Anything, "sub-1", int32(20)).Return(history, nil)

	_, err := f.service.RefundLastPayment(context.Background(), "sub-1", "customer request")

	require.Error(t, err)
	assert.Equal(t, domain.ErrorCodeAttemptNotFound, domain.GetErrorCode(err))
	assert.Empty(t, f.gateway.Refunds())
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}
