// Package main runs a demo WebSocket client for optimization session events.
package main

import (
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

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	routeID := "demo-1"
	if len(os.Args) > 1 {
		routeID = os.Args[1]
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Start an optimization; a failed attempt still returns the session id in the problem body.
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/routes/"+routeID+"/optimize", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", "t_demo")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		ID        string `json:"id"`
		SessionID string `json:"sessionId"`
		State     string `json:"state"`
		Kind      string `json:"kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	id := out.ID
	if id == "" {
		id = out.SessionID
	}
	if id == "" {
		log.Fatalf("no session (status %d, kind %q)", resp.StatusCode, out.Kind)
	}
	log.Printf("Session %s: status %d state=%q kind=%q", id, resp.StatusCode, out.State, out.Kind)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/sessions/" + id + "/ws"}
	hdr := http.Header{}
	hdr.Set("X-Tenant-Id", "t_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var e event
			if err := c.ReadJSON(&e); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %v", e.Type, e.Data)
		}
	}()

	// Reject the candidate so a transition arrives over the socket.
	time.Sleep(500 * time.Millisecond)
	decReq, _ := http.NewRequest(http.MethodPost, base+"/v1/sessions/"+id+"/decision", bytes.NewReader([]byte(`{"action":"reject"}`)))
	decReq.Header.Set("Content-Type", "application/json")
	decReq.Header.Set("X-Tenant-Id", "t_demo")
	if r, err := http.DefaultClient.Do(decReq); err == nil {
		_ = r.Body.Close()
	}

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
