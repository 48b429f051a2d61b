package sim

import (
	"fmt"
	"io"
	"sort"

	"perpsim/internal/exchange"
)

// WriteReport prints the end-of-run ledger state. It reads a value snapshot
// of the ledger, so it is safe to call while orders are still settling.
// Rounding here is display-only; stored balances are never rounded.
func WriteReport(w io.Writer, ex *exchange.Exchange) {
	users := ex.UsersSnapshot()
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintf(w, "final mark price: %s\n", ex.MarkPrice().StringFixed(2))
	fmt.Fprintf(w, "trades executed:  %d\n", len(ex.TradeHistory()))
	fmt.Fprintln(w)

	for _, id := range ids {
		u := users[id]
		pos := u.Position
		fmt.Fprintf(w, "%s: collateral=%s equity=%s", id,
			u.Collateral.StringFixed(2), u.Equity().StringFixed(2))
		if pos.IsOpen() {
			fmt.Fprintf(w, " position=%s qty=%s entry=%s upnl=%s",
				pos.Side, pos.Quantity.String(),
				pos.EntryPrice.StringFixed(2), pos.UnrealizedPnL.StringFixed(2))
		} else {
			fmt.Fprintf(w, " position=flat")
		}
		fmt.Fprintln(w)
	}
}
