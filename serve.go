package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/idtoken"

	"github.com/jas-dzied/room-matcher/solver"
)

// serve runs the HTTP service: rosters and partner lists stored in
// Postgres, solving exposed per roster.
func serve(args []string) {
	flags := flag.NewFlagSet("room-matcher serve", flag.ExitOnError)
	listen := flags.String("listen", envOr("LISTEN", ":8080"), "listen address")
	flags.Parse(args)

	for _, key := range []string{"PGCONN", "CLIENT_ID", "CLIENT_SECRET", "ADMINS"} {
		if os.Getenv(key) == "" {
			log.Fatalf("%s environment variable is required", key)
		}
	}

	db, err := openDB(os.Getenv("PGCONN"))
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer db.Close()
	log.Println("connected to database")

	http.HandleFunc("POST /auth/google/callback", handleGoogleCallback)
	http.HandleFunc("GET /api/admin/check", handleAdminCheck)
	http.HandleFunc("GET /api/rosters", handleListRosters(db))
	http.HandleFunc("POST /api/rosters", handleCreateRoster(db))
	http.HandleFunc("DELETE /api/rosters/{rosterID}", handleDeleteRoster(db))
	http.HandleFunc("GET /api/rosters/{rosterID}/people", handleListPeople(db))
	http.HandleFunc("POST /api/rosters/{rosterID}/people", handleAddPerson(db))
	http.HandleFunc("DELETE /api/rosters/{rosterID}/people/{personID}", handleDeletePerson(db))
	http.HandleFunc("PUT /api/rosters/{rosterID}/people/{personID}/preferences", handleSetPreferences(db))
	http.HandleFunc("POST /api/rosters/{rosterID}/solve", handleSolve(db))
	http.Handle("GET /metrics", metricsHandler())
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{Addr: *listen}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Println("listening on", *listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	credential := r.FormValue("credential")
	if credential == "" {
		http.Error(w, "missing credential", http.StatusBadRequest)
		return
	}

	payload, err := idtoken.Validate(context.Background(), credential, os.Getenv("CLIENT_ID"))
	if err != nil {
		log.Println("failed to validate token:", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	email, _ := payload.Claims["email"].(string)
	if email == "" {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	profile := map[string]any{
		"email":   email,
		"name":    payload.Claims["name"],
		"picture": payload.Claims["picture"],
		"token":   signEmail(email),
		"admin":   isAdmin(email),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(profile)
}

func handleAdminCheck(w http.ResponseWriter, r *http.Request) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"admin": isAdmin(email)})
}

func signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(os.Getenv("CLIENT_SECRET")))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if !hmac.Equal([]byte(signEmail(email)), []byte(token)) {
		return "", false
	}
	return email, true
}

func isAdmin(email string) bool {
	return slices.ContainsFunc(strings.Split(os.Getenv("ADMINS"), ","), func(a string) bool {
		return strings.TrimSpace(a) == email
	})
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return email, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

func handleListRosters(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireUser(w, r); !ok {
			return
		}
		rows, err := db.Query(`
			SELECT r.id, r.name, COUNT(p.id)
			FROM rosters r
			LEFT JOIN people p ON p.roster_id = r.id
			GROUP BY r.id, r.name
			ORDER BY r.id`)
		if err != nil {
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		rosters := []map[string]any{}
		for rows.Next() {
			var id int64
			var name string
			var people int
			if err := rows.Scan(&id, &name, &people); err != nil {
				http.Error(w, "scan failed", http.StatusInternalServerError)
				return
			}
			rosters = append(rosters, map[string]any{"id": id, "name": name, "people": people})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(rosters)
	}
}

func handleCreateRoster(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var id int64
		err := db.QueryRow("INSERT INTO rosters (name) VALUES ($1) RETURNING id", req.Name).Scan(&id)
		if isUniqueViolation(err) {
			http.Error(w, "roster name already exists", http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, "insert failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "name": req.Name})
	}
}

func handleDeleteRoster(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		rosterID, err := strconv.ParseInt(r.PathValue("rosterID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid roster ID", http.StatusBadRequest)
			return
		}
		res, err := db.Exec("DELETE FROM rosters WHERE id = $1", rosterID)
		if err != nil {
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			http.Error(w, "roster not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListPeople(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireUser(w, r); !ok {
			return
		}
		rosterID, err := strconv.ParseInt(r.PathValue("rosterID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid roster ID", http.StatusBadRequest)
			return
		}
		population, constraints, err := loadRoster(db, rosterID)
		if errors.Is(err, errRosterNotFound) {
			http.Error(w, "roster not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}

		people := []map[string]any{}
		for _, name := range population {
			entry := constraints[name]
			people = append(people, map[string]any{
				"name":        name,
				"preferred":   entry.Preferred,
				"unpreferred": entry.Unpreferred,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(people)
	}
}

func handleAddPerson(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		rosterID, err := strconv.ParseInt(r.PathValue("rosterID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid roster ID", http.StatusBadRequest)
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		var id int64
		err = db.QueryRow(
			"INSERT INTO people (roster_id, name) VALUES ($1, $2) RETURNING id",
			rosterID, req.Name).Scan(&id)
		if isUniqueViolation(err) {
			http.Error(w, "person already in roster", http.StatusConflict)
			return
		}
		if err != nil {
			http.Error(w, "insert failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": id, "name": req.Name})
	}
}

func handleDeletePerson(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		rosterID, err := strconv.ParseInt(r.PathValue("rosterID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid roster ID", http.StatusBadRequest)
			return
		}
		personID, err := strconv.ParseInt(r.PathValue("personID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid person ID", http.StatusBadRequest)
			return
		}

		res, err := db.Exec("DELETE FROM people WHERE id = $1 AND roster_id = $2", personID, rosterID)
		if err != nil {
			http.Error(w, "delete failed", http.StatusInternalServerError)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			http.Error(w, "person not found", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSetPreferences(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		rosterID, err := strconv.ParseInt(r.PathValue("rosterID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid roster ID", http.StatusBadRequest)
			return
		}
		personID, err := strconv.ParseInt(r.PathValue("personID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid person ID", http.StatusBadRequest)
			return
		}

		var name string
		err = db.QueryRow(
			"SELECT name FROM people WHERE id = $1 AND roster_id = $2", personID, rosterID).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "person not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}

		var req struct {
			Preferred   []string `json:"preferred"`
			Unpreferred []string `json:"unpreferred"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if slices.Contains(req.Preferred, name) || slices.Contains(req.Unpreferred, name) {
			http.Error(w, "person cannot list themselves", http.StatusBadRequest)
			return
		}

		preferred, err := resolveNames(db, rosterID, req.Preferred)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		unpreferred, err := resolveNames(db, rosterID, req.Unpreferred)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := replacePreferences(db, personID, preferred, unpreferred); err != nil {
			http.Error(w, "update failed", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSolve(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireUser(w, r); !ok {
			return
		}
		rosterID, err := strconv.ParseInt(r.PathValue("rosterID"), 10, 64)
		if err != nil {
			http.Error(w, "invalid roster ID", http.StatusBadRequest)
			return
		}

		params := solver.DefaultParams
		if v := r.URL.Query().Get("samples"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				http.Error(w, "invalid samples", http.StatusBadRequest)
				return
			}
			params.Samples = n
		}
		if v := r.URL.Query().Get("workers"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, "invalid workers", http.StatusBadRequest)
				return
			}
			params.Workers = n
		}
		seed := time.Now().UnixNano()
		if v := r.URL.Query().Get("seed"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				http.Error(w, "invalid seed", http.StatusBadRequest)
				return
			}
			seed = n
		}

		population, constraints, err := loadRoster(db, rosterID)
		if errors.Is(err, errRosterNotFound) {
			http.Error(w, "roster not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "query failed", http.StatusInternalServerError)
			return
		}
		if len(population)%2 != 0 {
			solveRequests.WithLabelValues("rejected").Inc()
			http.Error(w, fmt.Sprintf("roster has %d people; pairing needs an even count", len(population)), http.StatusBadRequest)
			return
		}

		runID := uuid.New().String()
		start := time.Now()
		best, err := solver.Best(population, constraints, params, rand.New(rand.NewSource(seed)))
		if err != nil {
			solveRequests.WithLabelValues("error").Inc()
			log.Printf("solve run %s failed: %v", runID, err)
			http.Error(w, "solve failed", http.StatusInternalServerError)
			return
		}
		elapsed := time.Since(start)

		solveRequests.WithLabelValues("ok").Inc()
		solveDuration.Observe(elapsed.Seconds())
		samplesGenerated.Add(float64(params.Samples))
		roomsAssigned.Add(float64(len(best.Pairs)))
		log.Printf("solve run %s: roster %d, %d samples in %v, preferred=%d accepted=%d unpreferred=%d",
			runID, rosterID, params.Samples, elapsed, best.Preferred, best.Accepted, best.Unpreferred)

		rooms := make([][2]string, 0, len(best.Pairs))
		for _, pair := range best.Pairs {
			a, b := pair.A, pair.B
			if b < a {
				a, b = b, a
			}
			rooms = append(rooms, [2]string{a, b})
		}
		slices.SortFunc(rooms, func(x, y [2]string) int { return strings.Compare(x[0], y[0]) })

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"run_id":      runID,
			"seed":        strconv.FormatInt(seed, 10),
			"samples":     params.Samples,
			"preferred":   best.Preferred,
			"accepted":    best.Accepted,
			"unpreferred": best.Unpreferred,
			"rooms":       rooms,
		})
	}
}
