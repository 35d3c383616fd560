package main

import (
	"encoding/json"
	"hash/fnv"
	"log"
	"net/http"
	"time"
)

type scoreRequest struct {
	ModelID   string    `json:"model_id"`
	Sequences [][]int32 `json:"sequences"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// score is deterministic in the token stream: hash the tokens and map into
// [0,1), so identical perturbations always get identical scores.
func score(seq []int32) float64 {
	h := fnv.New64a()
	var word [4]byte
	for _, tok := range seq {
		word[0] = byte(tok >> 24)
		word[1] = byte(tok >> 16)
		word[2] = byte(tok >> 8)
		word[3] = byte(tok)
		_, _ = h.Write(word[:])
	}
	return float64(h.Sum64()%10000) / 10000
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/score", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		scores := make([]float64, len(req.Sequences))
		for i, seq := range req.Sequences {
			scores[i] = score(seq)
		}
		writeJSON(w, scoreResponse{Scores: scores})
	})

	logger := log.New(log.Writer(), "mock-scorer ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
