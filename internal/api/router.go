// Package api assembles the account-book HTTP server.
package api

import (
	"net/http"
	"time"

	"github.com/dvloznov/accountbook/internal/api/handlers"
	"github.com/dvloznov/accountbook/internal/api/middleware"
	"github.com/dvloznov/accountbook/internal/jobs"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of the router.
type Deps struct {
	Sessions    handlers.Sessions
	Missions    handlers.MissionService
	Publisher   jobs.Publisher
	Jobs        jobs.JobStore
	DefaultUser string
}

// NewRouter returns the API handler wrapped in the middleware chain.
func NewRouter(deps Deps, log zerolog.Logger) http.Handler {
	imports := handlers.NewImportsHandler(deps.Sessions, deps.Publisher)
	jobsHandler := handlers.NewJobsHandler(deps.Jobs)
	ledgerHandler := handlers.NewLedgerHandler(deps.Sessions)
	missionsHandler := handlers.NewMissionsHandler(deps.Missions)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	apiRouter := r.PathPrefix("/api").Subrouter()

	// Imports
	apiRouter.HandleFunc("/imports", imports.Import).Methods(http.MethodPost)
	apiRouter.HandleFunc("/imports/jobs", imports.EnqueueImport).Methods(http.MethodPost)

	// Jobs
	apiRouter.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	apiRouter.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)

	// Ledger view
	apiRouter.HandleFunc("/ledger", ledgerHandler.GetLedger).Methods(http.MethodGet)
	apiRouter.HandleFunc("/ledger/deactivate", ledgerHandler.Deactivate).Methods(http.MethodPost)
	apiRouter.HandleFunc("/ledger/entries/{id}", ledgerHandler.UpdateEntry).Methods(http.MethodPut)
	apiRouter.HandleFunc("/ledger/entries/{id}", ledgerHandler.DeleteEntry).Methods(http.MethodDelete)

	// Missions and budgets
	apiRouter.HandleFunc("/missions/complete", missionsHandler.Complete).Methods(http.MethodPost)
	apiRouter.HandleFunc("/missions/daily-draw", missionsHandler.DailyDraw).Methods(http.MethodPost)
	apiRouter.HandleFunc("/budgets", missionsHandler.SetBudget).Methods(http.MethodPost)
	apiRouter.HandleFunc("/points/redeem", missionsHandler.Redeem).Methods(http.MethodPost)

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	}).Methods(http.MethodGet)

	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.User(deps.DefaultUser)(
				middleware.Logger(log)(
					middleware.CORS(r),
				),
			),
		),
	)
}
