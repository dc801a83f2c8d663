package controller

import (
	"context"
	"time"

	"github.com/canopy-network/dbft/bft"
	"github.com/canopy-network/dbft/lib"
	"github.com/cenkalti/backoff/v4"
)

const (
	persistMaxElapsed = 30 * time.Second // give up on a block the store keeps refusing after this long
)

// consumeBlocks() persists every agreed block and acknowledges it so the engine moves to the next height
func (c *Controller) consumeBlocks(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case agreed := <-c.Engine.Blocks():
			if err := c.persistBlock(ctx, agreed); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// the engine stays at the height; without the block it can't go on
				c.log.Errorf("Unable to persist block %d: %s", agreed.Block.Header.Index, err.Error())
				return err
			}
			if err := c.Engine.AcknowledgeBlock(agreed.Block.Header.Index); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// persistBlock() appends the block to the ledger, retrying transient store failures with exponential backoff
// Blocks that don't extend the chain are never retried
func (c *Controller) persistBlock(ctx context.Context, agreed bft.BlockAgreed) error {
	b := agreed.Block
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval, policy.MaxElapsedTime = 50*time.Millisecond, persistMaxElapsed
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.Ledger.Commit(b)
		if err == nil {
			return nil
		}
		switch err.Code() {
		case lib.CodeNonSequentialBlock, lib.CodeMismatchPrevHash, lib.CodeInvalidWitness:
			if err.Module() == lib.MainModule {
				return backoff.Permanent(err)
			}
		}
		c.log.Warnf("Persisting block %d failed (attempt %d): %s", b.Header.Index, attempt, err.Error())
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return err
	}
	c.Mempool.RemoveTransactions(lib.HexBytesToBytes(b.TxHashes)...)
	c.log.Infof("Finalized block %d at view %d with %d txs in %s", b.Header.Index, agreed.ViewNumber,
		len(b.TxHashes), agreed.RoundDuration.Round(time.Millisecond))
	return nil
}
