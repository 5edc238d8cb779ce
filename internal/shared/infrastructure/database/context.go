package database

import "context"

type txKey struct{}

// txState is the transaction a unit of work placed in a context. owned is
// false for nested units, which leave commit and rollback to the outermost.
type txState struct {
	tx    Transaction
	owned bool
}

func withTx(ctx context.Context, tx Transaction, owned bool) context.Context {
	return context.WithValue(ctx, txKey{}, txState{tx: tx, owned: owned})
}

func txStateFrom(ctx context.Context) (txState, bool) {
	state, ok := ctx.Value(txKey{}).(txState)
	if !ok || state.tx == nil {
		return txState{}, false
	}
	return state, true
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) Transaction {
	state, _ := txStateFrom(ctx)
	return state.tx
}

// ExecutorFromContext joins the transaction in ctx when there is one and
// falls back to conn otherwise.
func ExecutorFromContext(ctx context.Context, conn Connection) Executor {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return conn
}
