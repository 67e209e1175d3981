package diag

import (
	"encoding/json"
	"net/http"
)

// Handler serves Snapshot as JSON.
func (inv *Inventory) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rep := inv.Snapshot(ctx)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			inv.logger.Warn(ctx, "failed to encode inventory", "error", err)
		}
	}
}
