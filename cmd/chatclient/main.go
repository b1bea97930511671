// Command chatclient is a terminal client for the realtime gateway. It joins
// as a user, optionally sets an activity, sends each stdin line to a peer
// and prints every event the server pushes.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"music-stream/backend/pkg/jwt"
	pkgws "music-stream/backend/pkg/ws"

	"github.com/gorilla/websocket"
)

func main() {
	wsURL := flag.String("url", "ws://localhost:5000/ws", "gateway websocket URL")
	token := flag.String("token", os.Getenv("CHAT_TOKEN"), "bearer token for the socket")
	secret := flag.String("secret", "", "mint a development token with this JWT secret instead of -token")
	userID := flag.String("user", "", "user id to join as")
	peer := flag.String("to", "", "user id that stdin lines are sent to")
	activity := flag.String("activity", "", "activity to announce after joining")
	flag.Parse()

	if *userID == "" {
		fmt.Println("chatclient usage:")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if *secret != "" {
		minted, err := jwt.NewService(*secret, 24*time.Hour, "").GenerateToken(jwt.Identity{UserID: *userID})
		if err != nil {
			log.Fatalf("Error minting token: %v", err)
		}
		*token = minted
	}

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("Invalid URL: %v", err)
	}

	log.Println("Connecting to", u.String())
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			log.Fatalf("Error connecting to WebSocket: %v (HTTP %d)", err, resp.StatusCode)
		}
		log.Fatalf("Error connecting to WebSocket: %v", err)
	}
	defer conn.Close()

	if err := send(conn, pkgws.EventUserConnected, *userID); err != nil {
		log.Fatalf("Error joining: %v", err)
	}
	if *activity != "" {
		if err := send(conn, pkgws.EventUpdateActivity, pkgws.ActivityUpdate{UserID: *userID, Activity: *activity}); err != nil {
			log.Fatalf("Error setting activity: %v", err)
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				log.Printf("WebSocket read error: %v", err)
				return
			}
			printEvent(frame)
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-done:
			return
		case line := <-lines:
			if *peer == "" || line == "" {
				continue
			}
			req := pkgws.SendMessageRequest{SenderID: *userID, ReceiverID: *peer, Content: line}
			if err := send(conn, pkgws.EventSendMessage, req); err != nil {
				log.Printf("Error sending message: %v", err)
				return
			}
		case <-interrupt:
			log.Println("Interrupt received, shutting down...")
			err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				log.Printf("Error during closing websocket: %v", err)
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

func send(conn *websocket.Conn, eventType string, data any) error {
	frame, err := pkgws.Encode(eventType, data)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func printEvent(frame []byte) {
	var env pkgws.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		log.Printf("Unreadable frame: %s", frame)
		return
	}

	switch env.Type {
	case pkgws.EventReceiveMessage, pkgws.EventMessageSent:
		var msg pkgws.ChatMessage
		if err := json.Unmarshal(env.Data, &msg); err == nil {
			fmt.Printf("[%s] %s -> %s: %s\n", msg.CreatedAt.Local().Format(time.Kitchen), msg.SenderID, msg.ReceiverID, msg.Content)
			return
		}
	}
	fmt.Printf("%s %s\n", env.Type, env.Data)
}
