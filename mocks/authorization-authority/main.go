package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort      = "8083"
	defaultLatencyMs = "20"
)

// GrantResponse mirrors what the public authority returns for an accepted issuer.
type GrantResponse struct {
	IssuerDID string `json:"issuerDid"`
	Granted   bool   `json:"granted"`
	GrantedAt string `json:"grantedAt"`
	ExpiresAt string `json:"expiresAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

var (
	latencyMs = getEnvInt("LATENCY_MS", defaultLatencyMs)
	// DENY_ALL=true answers 403 for every issuer, to exercise the authorization failure path.
	denyAll = getEnv("DENY_ALL", "false") == "true"
	// DENIED_ISSUERS is a comma separated list of issuer DIDs that get 403.
	deniedIssuers = splitSet(getEnv("DENIED_ISSUERS", ""))
)

func main() {
	port := getEnv("PORT", defaultPort)

	http.HandleFunc("/health", handleHealth)
	http.HandleFunc("/authorize", handleAuthorize)

	log.Printf("Mock authorization authority starting on port %s", port)
	log.Printf("Simulated latency: %dms, deny all: %t, denied issuers: %d", latencyMs, denyAll, len(deniedIssuers))

	srv := &http.Server{
		Addr:              ":" + port,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "authorization-authority",
		"version": "1.0.0",
	})
}

func handleAuthorize(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(latencyMs) * time.Millisecond)
	log.Printf("Incoming request: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)

	if r.Method != http.MethodGet {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	issuerDID := r.URL.Query().Get("issuerDid")
	if issuerDID == "" {
		sendError(w, "issuerDid is required", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(issuerDID, "did:") {
		sendError(w, "issuerDid must be a DID", http.StatusBadRequest)
		return
	}
	if denyAll || deniedIssuers[issuerDID] {
		sendError(w, "issuer is not allowed to write to customer nodes", http.StatusForbidden)
		return
	}

	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, GrantResponse{
		IssuerDID: issuerDID,
		Granted:   true,
		GrantedAt: now.Format(time.RFC3339),
		ExpiresAt: now.Add(time.Hour).Format(time.RFC3339),
	})
	log.Printf("Granted write authorization to %s", issuerDID)
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
	log.Printf("Error response: %d - %s", code, message)
}

func splitSet(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	return set
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key, defaultValue string) int {
	value := getEnv(key, defaultValue)
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %s", key, defaultValue)
		intValue, _ = strconv.Atoi(defaultValue)
	}
	return intValue
}
