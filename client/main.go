package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/dupahar-realtime/pkg/auth"
	"github.com/mahaj/dupahar-realtime/pkg/model"
)

const heartbeatEvery = 10 * time.Second

type LoginResponse struct {
	Token string `json:"token"`
}

func login(apiAddr, userID string) (string, error) {
	reqBody, _ := json.Marshal(map[string]string{"user_id": userID})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("login failed: %s", string(body))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return "", err
	}
	return loginResp.Token, nil
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws  *websocket.Conn
	mu  sync.Mutex
	ack int64
}

func (c *conn) emit(event model.EventType, data any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ack++
	frame := map[string]any{"event": event, "ack": c.ack}
	if data != nil {
		frame["data"] = data
	}
	return c.ack, c.ws.WriteJSON(frame)
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "user1", "user id")
	convID := flag.String("conversation", "general", "conversation id")
	flag.Parse()

	log.Printf("Logging in as %s...", *userID)
	token, err := login(*apiAddr, *userID)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	log.Printf("connecting to %s", u.String())
	dialer := websocket.Dialer{Subprotocols: []string{auth.SubprotocolName, token}, HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer ws.Close()
	c := &conn{ws: ws}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env model.Envelope
			if err := ws.ReadJSON(&env); err != nil {
				log.Println("read:", err)
				return
			}
			if line := render(env, *userID); line != "" {
				fmt.Printf("\r%s\n> ", line)
			}
		}
	}()

	go func() {
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if _, err := c.emit(model.EventHeartbeat, nil); err != nil {
					return
				}
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		state := &session{conversation: *convID}
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			cmd, err := state.parse(scanner.Text())
			switch {
			case err != nil:
				fmt.Printf("%v\n> ", err)
				continue
			case cmd.quit:
				interrupt <- os.Interrupt
				return
			case cmd.event == "":
				fmt.Print("> ")
				continue
			}
			if _, err := c.emit(cmd.event, cmd.data); err != nil {
				log.Println("write:", err)
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
		c.mu.Lock()
		err := ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
