package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/logging"
	"github.com/health-companion/server/internal/tui/app"
	"github.com/health-companion/server/internal/tui/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:3000/ws", "WebSocket URL of the health companion server")
	logPath := flag.String("log", "", "Write debug logs to this file")
	flag.Parse()

	logger := zap.NewNop()
	if *logPath != "" {
		l, err := logging.NewFile(*logPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer logger.Sync()

	// Derive HTTP base URL from WebSocket URL.
	httpBase := deriveHTTPBase(*wsURL)

	ws := client.NewWSClient(*wsURL, logger.Named("ws"))
	defer ws.Close()
	httpClient := client.NewHTTPClient(httpBase)

	m := app.New(ws, httpClient, logger)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:3000"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
