// Command wssubscriber connects to a running quakefeed instance and
// prints every message broadcast on the chosen group. Useful for
// watching a live feed without wiring a real consumer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:8900", "quakefeed host:port")
	group := flag.String("group", "quakes", "broadcast group to subscribe to")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "group=" + url.QueryEscape(*group)}
	fmt.Printf("connecting to %s\n", u.String())

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Println("subscribed, waiting for messages...")
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\nbye")
				return
			}
			fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			os.Exit(1)
		}

		var pretty map[string]any
		if err := json.Unmarshal(data, &pretty); err != nil {
			fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05"), data)
			continue
		}
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("\n=== Message at %s ===\n%s\n", time.Now().Format("15:04:05"), formatted)
	}
}
