package handlers

import (
	"net/http"
)

// Handlers groups the route handlers mounted by NewRouter.
type Handlers struct {
	Process      *ProcessHandler
	Jobs         *JobsHandler
	Transactions *TransactionsHandler
	Health       *HealthHandler
}

// NewRouter mounts every endpoint on a ServeMux.
func NewRouter(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /process", h.Process.Process)
	mux.HandleFunc("POST /process/jobs", h.Process.Enqueue)
	mux.HandleFunc("GET /jobs", h.Jobs.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.Jobs.GetJob)
	mux.HandleFunc("GET /transactions", h.Transactions.ListTransactions)
	mux.HandleFunc("GET /health", h.Health.Health)

	return mux
}
