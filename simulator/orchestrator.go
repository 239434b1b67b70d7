package simulator

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/clydemeng/ethsim/wire"
)

// TraceTransactions runs batch and returns one TxResult per transaction,
// in order, implementing the orchestrator of spec §4.7:
//
//  1. reset the cache and the inspector's per-transaction state;
//  2. for each transaction, in order: reset the inspector, fetch the
//     caller's nonce, build a transaction env, run inspect-and-replay,
//     derive the storage diff, commit post-state if the batch is
//     stateful (otherwise discard it so the cache stays at the pre-tx
//     baseline for the next transaction — spec §4.7's crucial point),
//     and collect the inspector's output;
//  3. reset the inspector and the transaction env once more when the
//     loop ends.
//
// A transaction's own Err never stops the batch (spec §7): only
// StopOnFailure, a supplemental field not in the distilled spec, requests
// early-exit behavior.
func (c *Context) TraceTransactions(ctx context.Context, batch wire.SimulationBatch) []TxResult {
	c.cache.Reset()
	c.insp.Reset()

	results := make([]TxResult, 0, len(batch.Transactions))
	for i, tx := range batch.Transactions {
		exec, diff, out, post, err := c.runTx(ctx, tx)
		if err != nil {
			log.Debug("ethsim: transaction failed", "index", i, "err", err)
			results = append(results, TxResult{Err: err})
			if batch.StopOnFailure {
				break
			}
			continue
		}

		if batch.IsStateful {
			c.cache.Commit(post)
		}

		results = append(results, TxResult{Exec: exec, Diff: diff, Output: out})
		if batch.StopOnFailure && !exec.IsSuccess() {
			break
		}
	}

	c.insp.Reset()
	c.txEnv = TxEnv{}
	return results
}

// ExecuteBatch runs batch the same way as TraceTransactions but discards
// the storage diff and inspector output, returning only the per-tx
// ExecutionResult/error pair (spec §6 "execute_batch...discards diff and
// inspector output").
func (c *Context) ExecuteBatch(ctx context.Context, batch wire.SimulationBatch) []ExecResult {
	full := c.TraceTransactions(ctx, batch)
	out := make([]ExecResult, len(full))
	for i, r := range full {
		out[i] = ExecResult{Exec: r.Exec, Err: r.Err}
	}
	return out
}

// ExecResult is ExecuteBatch's per-transaction result.
type ExecResult struct {
	Exec ExecutionResult
	Err  error
}
