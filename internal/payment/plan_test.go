package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"backend/internal/credits"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupPaymentTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:payment_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&RechargePlan{},
		&PaymentOrder{},
		&credits.CreditAccount{},
		&credits.CreditTransaction{},
	))
	return db
}

func TestPlanService_Quote(t *testing.T) {
	db := setupPaymentTestDB(t)
	svc := NewPlanService(db)
	ctx := context.Background()

	// 两个相邻档位，超出上限的金额无档位可用
	_, err := svc.CreatePlan(ctx, &CreatePlanRequest{MinAmount: 1, MaxAmount: 100, CreditRate: 100})
	require.NoError(t, err)
	_, err = svc.CreatePlan(ctx, &CreatePlanRequest{MinAmount: 101, MaxAmount: 1000, CreditRate: 250, Bonus: 5000})
	require.NoError(t, err)

	t.Run("基础档位无赠送", func(t *testing.T) {
		quote, err := svc.Quote(ctx, 50)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), quote.Credits)
		assert.Equal(t, int64(0), quote.Bonus)
		assert.Equal(t, int64(5000), quote.Total)
	})

	t.Run("高档位含赠送", func(t *testing.T) {
		quote, err := svc.Quote(ctx, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), quote.Total)

		quote, err = svc.Quote(ctx, 200)
		require.NoError(t, err)
		assert.Equal(t, int64(50000), quote.Credits)
		assert.Equal(t, int64(5000), quote.Bonus)
		assert.Equal(t, int64(55000), quote.Total)
	})

	t.Run("区间边界为闭区间", func(t *testing.T) {
		quote, err := svc.Quote(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(100), quote.Total)

		quote, err = svc.Quote(ctx, 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(255000), quote.Total)
	})

	t.Run("超出所有档位报错", func(t *testing.T) {
		_, err := svc.Quote(ctx, 1001)
		assert.ErrorIs(t, err, ErrNoApplicablePlan)
	})

	t.Run("非正金额报错", func(t *testing.T) {
		_, err := svc.Quote(ctx, 0)
		assert.ErrorIs(t, err, ErrNoApplicablePlan)
		_, err = svc.Quote(ctx, -10)
		assert.ErrorIs(t, err, ErrNoApplicablePlan)
	})
}

func TestPlanService_CreatePlan(t *testing.T) {
	db := setupPaymentTestDB(t)
	svc := NewPlanService(db)
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, &CreatePlanRequest{MinAmount: 1, MaxAmount: 100, CreditRate: 100})
	require.NoError(t, err)

	t.Run("区间倒置被拒绝", func(t *testing.T) {
		_, err := svc.CreatePlan(ctx, &CreatePlanRequest{MinAmount: 200, MaxAmount: 100, CreditRate: 100})
		assert.ErrorIs(t, err, ErrInvalidPlanRange)
	})

	t.Run("与启用档位重叠被拒绝", func(t *testing.T) {
		_, err := svc.CreatePlan(ctx, &CreatePlanRequest{MinAmount: 50, MaxAmount: 150, CreditRate: 100})
		assert.ErrorIs(t, err, ErrPlanOverlap)

		// 仅一端接触也算重叠
		_, err = svc.CreatePlan(ctx, &CreatePlanRequest{MinAmount: 100, MaxAmount: 200, CreditRate: 100})
		assert.ErrorIs(t, err, ErrPlanOverlap)
	})

	t.Run("停用档位不参与重叠检查与报价", func(t *testing.T) {
		plans, err := svc.ListPlans(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 1)

		require.NoError(t, svc.DeactivatePlan(ctx, plans[0].ID))

		_, err = svc.Quote(ctx, 50)
		assert.ErrorIs(t, err, ErrNoApplicablePlan)

		_, err = svc.CreatePlan(ctx, &CreatePlanRequest{MinAmount: 50, MaxAmount: 150, CreditRate: 100})
		assert.NoError(t, err)
	})
}
