package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/erazemk/rdb/internal/auth"
	"github.com/erazemk/rdb/internal/model"
	"github.com/erazemk/rdb/internal/service"
)

// NewRouter creates the API router with all endpoints registered. queue may
// be nil, in which case admin rebuilds run inline.
func NewRouter(db *sql.DB, svc *service.Service, issuer *auth.Issuer, queue service.Enqueuer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, Issuer: issuer}
	usersHandler := &UsersHandler{DB: db}
	catalogHandler := &CatalogHandler{DB: db, Service: svc}
	inventoryHandler := &InventoryHandler{DB: db, Service: svc}
	buildsHandler := &BuildsHandler{DB: db, Service: svc}
	historyHandler := &HistoryHandler{DB: db, Service: svc, Jobs: queue}

	authMW := AuthMiddleware(issuer, db)
	requireAdmin := RequireRole(model.RoleAdmin)
	requireManager := RequireRole(model.RoleManager)

	anyone := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	manager := func(h http.HandlerFunc) http.Handler { return authMW(requireManager(h)) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Public.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("PUT /api/auth/password", anyone(authHandler.ChangePassword))
	mux.Handle("POST /api/auth/logout", anyone(authHandler.Logout))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("POST /api/users", admin(usersHandler.Create))
	mux.Handle("GET /api/users/{id}", admin(usersHandler.Get))
	mux.Handle("PUT /api/users/{id}", admin(usersHandler.Update))
	mux.Handle("PUT /api/users/{id}/password", admin(usersHandler.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))

	// Locations and templates: read (all roles), write (manager+).
	mux.Handle("GET /api/locations", anyone(catalogHandler.ListLocations))
	mux.Handle("POST /api/locations", manager(catalogHandler.CreateLocation))
	mux.Handle("PUT /api/locations/{id}/parent", manager(catalogHandler.MoveLocation))
	mux.Handle("GET /api/locations/{id}/history", anyone(historyHandler.SubjectHistory(model.SubjectLocation)))
	mux.Handle("GET /api/locations/{id}/mooring", anyone(catalogHandler.ListMooringParts))
	mux.Handle("POST /api/locations/{id}/mooring", manager(catalogHandler.AddMooringPart))
	mux.Handle("POST /api/locations/{id}/mooring/copy", manager(catalogHandler.CopyMooring))
	mux.Handle("GET /api/parts", anyone(catalogHandler.ListParts))
	mux.Handle("POST /api/parts", manager(catalogHandler.CreatePart))
	mux.Handle("POST /api/assemblies", manager(catalogHandler.CreateAssembly))
	mux.Handle("GET /api/assemblies/{id}/parts", anyone(catalogHandler.ListAssemblyParts))
	mux.Handle("POST /api/assemblies/{id}/parts", manager(catalogHandler.AddAssemblyPart))
	mux.Handle("POST /api/assemblies/{id}/copy", manager(catalogHandler.CopyAssembly))
	mux.Handle("POST /api/cruises", manager(catalogHandler.CreateCruise))

	// Inventory: read, notes, tests and flags (all roles); structure (manager+).
	mux.Handle("GET /api/inventory", anyone(inventoryHandler.List))
	mux.Handle("POST /api/inventory", manager(inventoryHandler.Create))
	mux.Handle("GET /api/inventory/{id}", anyone(inventoryHandler.Get))
	mux.Handle("PUT /api/inventory/{id}", manager(inventoryHandler.Update))
	mux.Handle("DELETE /api/inventory/{id}", manager(inventoryHandler.Delete))
	mux.Handle("POST /api/inventory/{id}/move", manager(inventoryHandler.Move))
	mux.Handle("PUT /api/inventory/{id}/parent", manager(inventoryHandler.SetParent))
	mux.Handle("POST /api/inventory/{id}/build", manager(inventoryHandler.AddToBuild))
	mux.Handle("POST /api/inventory/{id}/build/remove", manager(inventoryHandler.RemoveFromBuild))
	mux.Handle("POST /api/inventory/{id}/trash", manager(inventoryHandler.Trash))
	mux.Handle("POST /api/inventory/{id}/transition", manager(inventoryHandler.Transition))
	mux.Handle("PUT /api/inventory/{id}/destination", manager(inventoryHandler.Destination))
	mux.Handle("POST /api/inventory/{id}/test", anyone(inventoryHandler.Test))
	mux.Handle("PUT /api/inventory/{id}/flag", anyone(inventoryHandler.Flag))
	mux.Handle("PUT /api/inventory/{id}/image", manager(inventoryHandler.UploadImage))
	mux.Handle("GET /api/inventory/{id}/image", anyone(inventoryHandler.GetImage))
	mux.Handle("GET /api/inventory/{id}/deployments", anyone(inventoryHandler.Deployments))
	mux.Handle("GET /api/inventory/{id}/events", anyone(inventoryHandler.Events))
	mux.Handle("GET /api/inventory/{id}/history", anyone(historyHandler.SubjectHistory(model.SubjectInventory)))

	// Builds and deployments.
	mux.Handle("GET /api/builds", anyone(buildsHandler.List))
	mux.Handle("POST /api/builds", manager(buildsHandler.Create))
	mux.Handle("GET /api/builds/{id}", anyone(buildsHandler.Get))
	mux.Handle("POST /api/builds/{id}/move", manager(buildsHandler.Move))
	mux.Handle("POST /api/builds/{id}/retire", manager(buildsHandler.Retire))
	mux.Handle("POST /api/builds/{id}/deployments", manager(buildsHandler.StartDeployment))
	mux.Handle("GET /api/builds/{id}/snapshots", anyone(buildsHandler.ListSnapshots))
	mux.Handle("POST /api/builds/{id}/snapshots", manager(buildsHandler.SnapshotBuild))
	mux.Handle("GET /api/builds/{id}/history", anyone(historyHandler.SubjectHistory(model.SubjectBuild)))
	mux.Handle("GET /api/deployments/{id}", anyone(buildsHandler.GetDeployment))
	mux.Handle("POST /api/deployments/{id}/transition", manager(buildsHandler.TransitionDeployment))
	mux.Handle("POST /api/deployments/{id}/snapshots", manager(buildsHandler.SnapshotDeployment))
	mux.Handle("GET /api/deployments/{id}/history", anyone(historyHandler.SubjectHistory(model.SubjectDeployment)))
	mux.Handle("GET /api/snapshots/{id}", anyone(buildsHandler.GetSnapshot))

	// Events, notes and the action log.
	mux.Handle("POST /api/events", manager(historyHandler.CreateEvent))
	mux.Handle("GET /api/events/{id}", anyone(historyHandler.GetEvent))
	mux.Handle("POST /api/events/{id}/approve", anyone(historyHandler.ApproveEvent))
	mux.Handle("GET /api/events/{id}/history", anyone(historyHandler.SubjectHistory(model.SubjectEvent)))
	mux.Handle("POST /api/notes", anyone(historyHandler.AddNote))
	mux.Handle("GET /api/actions", anyone(historyHandler.ListActions))

	mux.Handle("POST /api/admin/rebuild/{kind}", admin(historyHandler.Rebuild))

	return LoggingMiddleware(logger)(mux)
}
