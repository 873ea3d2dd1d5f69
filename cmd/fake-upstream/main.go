// Command fake-upstream serves an OpenAI-compatible /v1/chat/completions
// endpoint for local development. Token usage is derived from the request so
// quotas move realistically.
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// roughly four characters per token
func estimateTokens(s string) int {
	return len(s)/4 + 1
}

func main() {
	addr := flag.String("addr", ":3001", "listen address")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.POST("/v1/chat/completions", func(c *gin.Context) {
		var req chatRequest
		if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
			return
		}

		prompt := 0
		var last string
		for _, m := range req.Messages {
			prompt += estimateTokens(m.Content)
			last = m.Content
		}

		reply := "echo: " + strings.TrimSpace(last)
		completion := min(estimateTokens(reply), max(req.MaxTokens, 1))

		log.Info().
			Str("model", req.Model).
			Int("prompt_tokens", prompt).
			Int("completion_tokens", completion).
			Msg("Received completion request")

		c.JSON(http.StatusOK, gin.H{
			"model": req.Model,
			"choices": []gin.H{{
				"index":   0,
				"message": message{Role: "assistant", Content: reply},
			}},
			"usage": gin.H{
				"prompt_tokens":     prompt,
				"completion_tokens": completion,
				"total_tokens":      prompt + completion,
			},
		})
	})

	log.Info().Str("addr", *addr).Msg("Fake upstream starting")
	if err := r.Run(*addr); err != nil {
		log.Fatal().Err(err).Msg("Fake upstream failed")
	}
}
