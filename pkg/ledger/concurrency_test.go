package ledger

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/arti-ci/sygfp-ledger/pkg/apperrors"
	"github.com/arti-ci/sygfp-ledger/pkg/workflow"
)

func TestConcurrentCommitmentsNeverOverspend(t *testing.T) {
	f := newFixture(t)
	l := f.line(t, "6011", 1_000_000)

	var reserved, refused atomic.Int32
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			c, err := f.svc.Commitments.Create(ctx, commitmentInput(l.ID, 150_000))
			if err == nil {
				_, err = f.svc.Commitments.Submit(ctx, c.ID, saf)
			}
			switch {
			case errors.Is(err, apperrors.ErrInsufficientCapacity):
				refused.Add(1)
				return nil
			case err != nil:
				return err
			}
			reserved.Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(6), reserved.Load())
	assert.Equal(t, int32(6), refused.Load())

	_, _, n, err := f.svc.Commitments.List(ctx, ListOptions{LineID: l.ID, Status: workflow.StatusSubmitted})
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	avail, err := f.svc.Ledger.Available(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, avail.Equal(d(100_000)), avail.String())
}

func TestConcurrentTransfersKeepTheTotal(t *testing.T) {
	f := newFixture(t)
	a := f.line(t, "6011", 500_000)
	b := f.line(t, "6012", 500_000)

	var ids []string
	for i := 0; i < 8; i++ {
		src, dst := a.ID, b.ID
		if i%2 == 1 {
			src, dst = dst, src
		}
		tr, err := f.svc.Transfers.Propose(ctx, proposal(src, dst, 200_000))
		require.NoError(t, err)
		ids = append(ids, tr.ID)
	}

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, _, err := f.svc.Transfers.Advance(ctx, id, workflow.Decision{Kind: workflow.EventValidate, Step: 1}, as("CB"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := f.reload(t, a.ID).DotationActuelle.Add(f.reload(t, b.ID).DotationActuelle)
	assert.True(t, total.Equal(d(1_000_000)))
	for _, id := range []string{a.ID, b.ID} {
		assert.False(t, f.reload(t, id).DotationActuelle.IsNegative())
	}
}
