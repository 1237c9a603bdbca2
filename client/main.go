// Command client connects to the relay, sends a message and an upload, then
// prints whatever the relay pushes back.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slog"
)

var opts struct {
	URL      string
	File     string
	Wait     time.Duration
	Messages int
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	app := &cli.App{
		Name:  "client",
		Usage: "exercise a running relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "url",
				Usage:       "WebSocket URL of the relay",
				Value:       "ws://localhost:3001",
				EnvVars:     []string{"WS_URL"},
				Destination: &opts.URL,
			},
			&cli.StringFlag{
				Name:        "file",
				Usage:       "file to upload, a short text file is generated if not set",
				Destination: &opts.File,
			},
			&cli.DurationFlag{
				Name:        "wait",
				Usage:       "how long to wait for responses",
				Value:       10 * time.Second,
				Destination: &opts.Wait,
			},
			&cli.IntFlag{
				Name:        "messages",
				Usage:       "stop after this many responses",
				Value:       2,
				Destination: &opts.Messages,
			},
		},
		Action: func(c *cli.Context) error {
			upload, err := newUpload(opts.File)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, opts.Wait)
			defer cancel()
			return run(ctx, log, opts.URL, upload, opts.Messages)
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Error("Client failed", slog.Any("error", err))
		os.Exit(1)
	}
}

type sendMessageRequest struct {
	Action string      `json:"action"`
	Data   messageData `json:"data"`
}

type messageData struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type uploadRequest struct {
	Action      string `json:"action"`
	Data        string `json:"data"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

func newUpload(fileName string) (uploadRequest, error) {
	if fileName == "" {
		return uploadRequest{
			Action:      "upload",
			Data:        base64.StdEncoding.EncodeToString([]byte("This is a test file content for WebSocket streaming upload.")),
			FileName:    "test-file.txt",
			ContentType: "text/plain",
		}, nil
	}
	b, err := os.ReadFile(fileName)
	if err != nil {
		return uploadRequest{}, fmt.Errorf("client: failed to read %s: %w", fileName, err)
	}
	return uploadRequest{
		Action:   "upload",
		Data:     base64.StdEncoding.EncodeToString(b),
		FileName: filepath.Base(fileName),
	}, nil
}

func run(ctx context.Context, log *slog.Logger, url string, upload uploadRequest, messages int) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("client: failed to connect to %s: %w", url, err)
	}
	defer conn.Close()
	log.Info("Connected", slog.String("url", url))

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	err = conn.WriteJSON(sendMessageRequest{
		Action: "sendMessage",
		Data: messageData{
			Message:   "Hello from test client!",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("client: failed to send message: %w", err)
	}
	if err = conn.WriteJSON(upload); err != nil {
		return fmt.Errorf("client: failed to send upload: %w", err)
	}
	log.Info("Sent message and upload", slog.String("fileName", upload.FileName))

	for i := 0; i < messages; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("client: failed to read response: %w", err)
		}
		var msg map[string]any
		if err = json.Unmarshal(data, &msg); err != nil {
			log.Info("Received raw message", slog.String("data", string(data)))
			continue
		}
		log.Info("Received message", slog.Any("message", msg))
	}
	return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
