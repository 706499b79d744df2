package httpapi

import "net/http"

func registerSystemRoutes(mux *http.ServeMux, handler *Handler) {
	mux.HandleFunc("GET /healthz", handler.Healthz)
}

func registerSyncRoutes(mux *http.ServeMux, handler *Handler, token string) {
	mux.HandleFunc("GET /v1/sync/status", handler.GetSyncStatus)
	mux.HandleFunc("GET /v1/sync/dead-letters", handler.ListDeadLetters)
	mux.Handle("POST /v1/sync/trigger", RequireToken(token, http.HandlerFunc(handler.TriggerSync)))
	mux.Handle("POST /v1/sync/dead-letters/{id}/retry", RequireToken(token, http.HandlerFunc(handler.RetryDeadLetter)))
	mux.Handle("DELETE /v1/sync/dead-letters/{id}", RequireToken(token, http.HandlerFunc(handler.DismissDeadLetter)))
	mux.Handle("PUT /v1/sync/connectivity", RequireToken(token, http.HandlerFunc(handler.SetConnectivity)))
}

func registerTeamRoutes(mux *http.ServeMux, handler *Handler, token string) {
	mux.HandleFunc("GET /v1/teams", handler.ListTeams)
	mux.HandleFunc("GET /v1/teams/{teamID}", handler.GetTeam)
	mux.Handle("POST /v1/teams", RequireToken(token, http.HandlerFunc(handler.CreateTeam)))
	mux.Handle("PATCH /v1/teams/{teamID}", RequireToken(token, http.HandlerFunc(handler.UpdateTeam)))
	mux.Handle("DELETE /v1/teams/{teamID}", RequireToken(token, http.HandlerFunc(handler.DeleteTeam)))
	mux.Handle("POST /v1/teams/{teamID}/join-code", RequireToken(token, http.HandlerFunc(handler.RegenerateJoinCode)))
	mux.Handle("POST /v1/teams/join", RequireToken(token, http.HandlerFunc(handler.JoinTeam)))
}

func registerMatchRoutes(mux *http.ServeMux, handler *Handler, token string) {
	mux.HandleFunc("GET /v1/teams/{teamID}/matches", handler.ListTeamMatches)
	mux.Handle("POST /v1/matches", RequireToken(token, http.HandlerFunc(handler.CreateMatch)))
	mux.Handle("POST /v1/matches/{matchID}/score", RequireToken(token, http.HandlerFunc(handler.RecordMatchScore)))
}

func registerTournamentRoutes(mux *http.ServeMux, handler *Handler, token string) {
	mux.HandleFunc("GET /v1/tournaments", handler.ListTournaments)
	mux.Handle("POST /v1/tournaments", RequireToken(token, http.HandlerFunc(handler.CreateTournament)))
	mux.Handle("POST /v1/tournaments/{tournamentID}/teams", RequireToken(token, http.HandlerFunc(handler.AddTournamentTeam)))
}
