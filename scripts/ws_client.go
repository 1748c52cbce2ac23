// Package main runs a demo WebSocket client: it creates a route, watches it
// over /v1/ws and triggers a discovery run so events flow.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	RouteID string          `json:"routeId,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Create a short demo route
	body := []byte(`{"filename":"demo","points":[
		{"lat":48.137,"lon":11.575},
		{"lat":48.140,"lon":11.600},
		{"lat":48.145,"lon":11.625}
	]}`)
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/routes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var sum struct {
		RouteID string `json:"routeId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sum); err != nil {
		log.Fatal(err)
	}
	if sum.RouteID == "" {
		log.Fatal("no route id returned")
	}
	log.Printf("Route ID: %s", sum.RouteID)

	// Watch the route over WebSocket
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws", RawQuery: "routeId=" + sum.RouteID}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Event))
		}
	}()

	// Trigger a discovery run; the SSE stream drives the broker.
	time.Sleep(500 * time.Millisecond)
	sse, err := http.Get(fmt.Sprintf("%s/v1/routes/%s/pois/stream?types=bakeries,water_fountains", base, sum.RouteID))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = sse.Body.Close() }()
	go func() {
		scanner := bufio.NewScanner(sse.Body)
		for scanner.Scan() {
			if line := scanner.Text(); line != "" {
				log.Printf("SSE <- %s", line)
			}
		}
	}()

	select {
	case <-time.After(60 * time.Second):
	case <-done:
	}
}
