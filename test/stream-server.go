package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"
)

var (
	port     = flag.Int("port", 3000, "Server port")
	interval = flag.Duration("interval", time.Second, "Delay between events")
	retryMS  = flag.Int("retry", 0, "Reconnection delay to advertise, in milliseconds (0 = none)")
)

func main() {
	flag.Parse()

	mux := http.NewServeMux()

	// Counter stream. Resumes from the Last-Event-ID header.
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		next := 1
		if last := r.Header.Get("Last-Event-ID"); last != "" {
			if n, err := strconv.Atoi(last); err == nil {
				next = n + 1
			}
		}

		if *retryMS > 0 {
			fmt.Fprintf(w, "retry: %d\n\n", *retryMS)
		}
		flusher.Flush()

		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprintf(w, "id: %d\nevent: tick\ndata: tick %d at %s\n\n",
					next, next, time.Now().Format(time.RFC3339))
				flusher.Flush()
				next++
			}
		}
	})

	// Terminal and misbehaving endpoints for exercising response handling.
	mux.HandleFunc("/no-content", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/events", http.StatusTemporaryRedirect)
	})
	mux.HandleFunc("/wrong-type", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error":"not a stream"}`)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK")
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Starting stream server on %s", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

// Usage:
// go run test/stream-server.go -port 3000 -interval 500ms -retry 1000
// go run ./cmd/evtail -url http://localhost:3000/events
