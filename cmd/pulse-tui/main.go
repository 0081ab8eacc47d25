package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/stream-pulse/pulse/internal/logging"
	"github.com/stream-pulse/pulse/internal/tui/app"
	"github.com/stream-pulse/pulse/internal/tui/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the pulse server")
	token := flag.String("token", os.Getenv("PULSE_AUTH_TOKEN"), "Auth token (defaults to $PULSE_AUTH_TOKEN)")
	filter := flag.String("filter", "", "Initial filter pattern")
	logFile := flag.String("log-file", "", "Write client logs to this file")
	logLevel := flag.String("log-level", "info", "Client log level")
	flag.Parse()

	log := logging.Nop()
	if *logFile != "" {
		l, err := logging.NewFile(*logFile, *logLevel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer l.Sync()
		log = l
	}

	httpBase := deriveHTTPBase(*wsURL)

	ws := client.NewWSClient(*wsURL, *token, log)
	httpClient := client.NewHTTPClient(httpBase, *token)

	style := "light"
	if lipgloss.HasDarkBackground() {
		style = "dark"
	}
	m := app.New(ws, httpClient, app.Options{HelpStyle: style, Filter: *filter})
	p := tea.NewProgram(m, tea.WithAltScreen())

	log.Infow("tui starting", "url", *wsURL, "http", httpBase)
	if _, err := p.Run(); err != nil {
		log.Errorw("tui exited", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws → http://host:port
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
