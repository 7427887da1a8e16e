package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-kit/kit/endpoint"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/pkg/chat"
	"github.com/xhad/gitagpt/server"
)

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Chat in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "thread",
				Usage: "Continue an existing thread",
			},
			&cli.StringFlag{
				Name:  "nats",
				Usage: "Talk to a running server over NATS instead of a local backend",
			},
		},
		Action: runChat,
	}
}

// turnFunc runs one turn, streaming chunks to onChunk when it can.
type turnFunc func(ctx context.Context, req chat.ChatRequest, onChunk func(string) error) (chat.ChatResponse, error)

func runChat(ctx context.Context, cmd *cli.Command) error {
	cfg := configFrom(ctx)
	log := zap.L()

	var turn turnFunc
	if natsURL := cmd.String("nats"); natsURL != "" {
		nc, err := nats.Connect(natsURL, nats.Name("GitaGPT Chat"))
		if err != nil {
			return err
		}
		defer nc.Drain()

		turn = remoteTurn(server.NATSChatEndpoint(nc, cfg.Server.NATSSubject+".chat"))
	} else {
		spinner := getSpinner(" Loading models...")
		b, err := newBackend(ctx, cfg, log)
		spinner.Finish()
		if err != nil {
			return err
		}
		defer b.Close()

		turn = b.svc.ChatStream
	}

	return repl(ctx, turn, cmd.String("thread"))
}

func remoteTurn(ep endpoint.Endpoint) turnFunc {
	return func(ctx context.Context, req chat.ChatRequest, onChunk func(string) error) (chat.ChatResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		resp, err := ep(ctx, req)
		if err != nil {
			return chat.ChatResponse{Reply: chat.FallbackReply, ThreadID: req.ThreadID, Status: chat.StatusError}, err
		}

		out, ok := resp.(chat.ChatResponse)
		if !ok {
			return chat.ChatResponse{}, fmt.Errorf("invalid response type")
		}
		if out.Reply != "" {
			onChunk(out.Reply)
		}
		return out, nil
	}
}

func repl(ctx context.Context, turn turnFunc, threadID string) error {
	color.Cyan("\nChat with Śrī Kṛṣṇa (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()
	sourcesLine := color.New(color.FgYellow).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := scanner.Text()
		if strings.ToLower(strings.TrimSpace(query)) == "exit" {
			break
		}

		fmt.Print("\n")
		assistantPrompt("Kṛṣṇa: ")

		responseSpinner := getSpinner(" Contemplating...")
		firstChunk := true

		resp, err := turn(ctx, chat.ChatRequest{Message: query, ThreadID: threadID}, func(chunk string) error {
			if firstChunk {
				responseSpinner.Finish()
				responseSpinner.Clear()
				firstChunk = false
			}
			fmt.Print(chunk)
			return nil
		})

		if firstChunk {
			responseSpinner.Finish()
			responseSpinner.Clear()
			fmt.Print(resp.Reply)
		}
		fmt.Print("\n")

		if err != nil && resp.Status == chat.StatusError {
			color.Red("Error: %v", err)
		}

		if resp.ThreadID != "" {
			threadID = resp.ThreadID
		}
		if len(resp.Sources) > 0 {
			sourcesLine("Sources: %s\n", strings.Join(resp.Sources, ", "))
		}
	}

	return scanner.Err()
}
