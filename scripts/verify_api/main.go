// Command verify_api smoke tests a running api service: it logs in, lists
// the caller's conversations and reads the history of the first one.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
)

type LoginResponse struct {
	Token string `json:"token"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type summary struct {
	Conversation struct {
		ID string `json:"id"`
	} `json:"conversation"`
	UnreadCount int `json:"unreadCount"`
}

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	flag.Parse()

	// 1. Login
	reqBody, _ := json.Marshal(map[string]string{"user_id": *userID})
	resp, err := http.Post(*apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	var loginResp LoginResponse
	err = json.NewDecoder(resp.Body).Decode(&loginResp)
	resp.Body.Close()
	if err != nil || loginResp.Token == "" {
		log.Fatalf("login failed: %v", err)
	}
	fmt.Printf("Token: %s...\n", loginResp.Token[:10])

	// 2. Conversations
	var convs []summary
	if err := get(*apiAddr+"/v1/conversations", loginResp.Token, &convs); err != nil {
		log.Fatal("Conversation request failed:", err)
	}
	log.Printf("Member of %d conversations", len(convs))
	if len(convs) == 0 {
		return
	}

	// 3. History
	first := convs[0].Conversation.ID
	log.Printf("Fetching history for %s (%d unread)...", first, convs[0].UnreadCount)
	var history json.RawMessage
	if err := get(*apiAddr+"/history?conversation_id="+url.QueryEscape(first), loginResp.Token, &history); err != nil {
		log.Fatal("History request failed:", err)
	}
	log.Printf("History: %s", string(history))
}

func get(u, token string, out any) error {
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%s: unexpected body %q", resp.Status, body)
	}
	if !env.Success {
		return fmt.Errorf("%s: %s", resp.Status, env.Error)
	}
	return json.Unmarshal(env.Data, out)
}
