// Command webhookreceiver is a local target for testing signed webhook
// delivery. It verifies the X-Signature-256 header and pretty-prints
// each notification body.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/unibosoft/quakefeed/internal/delivery/webhook"
)

var secret string

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.StringVar(&secret, "secret", "test-secret-key", "shared webhook secret")
	flag.Parse()

	http.HandleFunc("/webhook", handleWebhook)

	log.Printf("Test webhook receiver starting on http://localhost%s/webhook", *addr)
	log.Println("Secret:", webhook.MaskSecret(secret))
	log.Println("Waiting for earthquake notifications...")
	log.Fatal(http.ListenAndServe(*addr, nil))
}

func handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get("X-Signature-256")
	if !webhook.Verify(secret, body, signature) {
		log.Println("⚠️  Invalid signature!")
	} else {
		log.Println("✓ Signature verified")
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err == nil {
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		log.Printf("\n=== Notification received at %s ===\n%s\n",
			time.Now().Format("15:04:05"), string(formatted))
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
