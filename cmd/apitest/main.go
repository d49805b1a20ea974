// Package main implements a CLI smoke test against a running gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/vqhuy/metergate/internal/auth"
)

func main() {
	gatewayURL := flag.String("gateway", "http://localhost:8080", "Base URL of the gateway")
	token := flag.String("token", "", "Gateway bearer token (minted locally from -secret when empty)")
	secret := flag.String("secret", "", "Token secret used to mint a local token when -token is empty")
	email := flag.String("email", "apitest@example.com", "Email claim for a locally minted token")
	model := flag.String("model", "gpt-4o-mini", "Model to request")
	prompt := flag.String("prompt", "Say hello in five words.", "The prompt to send through the gateway")
	listModels := flag.Bool("list-models", false, "List the gateway's model catalog and exit")
	flag.Parse()

	bearer := *token
	if bearer == "" {
		if *secret == "" {
			*secret = os.Getenv("TOKEN_SECRET")
		}
		if *secret == "" {
			log.Fatal("either -token or -secret (or TOKEN_SECRET) is required")
		}
		minted, err := auth.Mint(*email, *secret)
		if err != nil {
			log.Fatal("failed to mint token", "err", err)
		}
		bearer = minted
		log.Info("minted local token", "email", *email)
	}

	cfg := openai.DefaultConfig(bearer)
	cfg.BaseURL = strings.TrimRight(*gatewayURL, "/") + "/openai/v1"
	client := openai.NewClientWithConfig(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if *listModels {
		models, err := client.ListModels(ctx)
		if err != nil {
			log.Fatal("list models failed", "err", err)
		}
		for _, m := range models.Models {
			fmt.Println(m.ID)
		}
		return
	}

	fmt.Printf("Gateway: %s\n", cfg.BaseURL)
	fmt.Printf("Model:   %s\n", *model)
	fmt.Printf("Prompt:  %s\n", *prompt)
	fmt.Println("----------------------------")

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: *model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: *prompt},
		},
	})
	if err != nil {
		log.Fatal("chat completion failed", "err", err)
	}

	if len(resp.Choices) == 0 {
		log.Fatal("response has no choices")
	}
	fmt.Println(resp.Choices[0].Message.Content)
	fmt.Println("----------------------------")
	fmt.Printf("Tokens: %d prompt, %d completion\n", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
}
