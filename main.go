package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fabfab/kb-chat/api"
	"github.com/fabfab/kb-chat/chat"
	"github.com/fabfab/kb-chat/config"
	"github.com/fabfab/kb-chat/database"
	"github.com/fabfab/kb-chat/extract"
	"github.com/fabfab/kb-chat/knowledge"
	"github.com/fabfab/kb-chat/llm"
	"github.com/fabfab/kb-chat/suggest"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "chat":
		chatCmd(cfg, logger, os.Args[2:])
	case "extract":
		extractCmd(cfg, logger, os.Args[2:])
	default:
		logger.Printf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serveCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.HTTPAddr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse serve flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var persister knowledge.Persister
	if cfg.PostgresDSN != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("postgres connection: %v", err)
		}
		defer pool.Close()

		if err := database.EnsureKnowledgeSchema(ctx, pool); err != nil {
			logger.Fatalf("ensure schema: %v", err)
		}
		persister = knowledge.NewPostgresPersister(pool)
		logger.Println("knowledge base persistence enabled")
	}

	store, err := knowledge.NewStore(ctx, extract.New(), persister, logger)
	if err != nil {
		logger.Fatalf("knowledge store setup: %v", err)
	}

	client := newClientOrDegrade(ctx, cfg, logger)
	fetcher := suggest.NewFetcher(client, cfg.RequestTimeout, logger)
	session := chat.NewSession(store, client, fetcher, cfg.RequestTimeout, logger)

	server := api.New(cfg, store, session, fetcher, logger)
	httpServer := &http.Server{
		Addr:    *addr,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown: %v", err)
		}
	}()

	logger.Printf("listening on %s (provider %s)", *addr, cfg.LLM.Provider)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server: %v", err)
	}
}

func chatCmd(cfg config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("chat", flag.ExitOnError)
	question := flags.String("question", "", "question to ask")
	urls := flags.String("urls", "", "comma-separated list of grounding urls")
	docs := flags.String("docs", "", "comma-separated list of .docx/.pdf files to ground on")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse chat flags: %v", err)
	}

	if strings.TrimSpace(*question) == "" {
		logger.Fatal("a question is required (--question)")
	}
	if !cfg.CredentialConfigured() {
		logger.Fatalf("no API key configured for provider %s", cfg.LLM.Provider)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := knowledge.NewStore(ctx, extract.New(), nil, logger)
	if err != nil {
		logger.Fatalf("knowledge store setup: %v", err)
	}
	groupID := store.ActiveGroupID()

	for _, raw := range splitList(*urls) {
		if err := store.AddURL(ctx, groupID, raw); err != nil {
			logger.Fatalf("add url %q: %v", raw, err)
		}
	}
	for _, path := range splitList(*docs) {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Fatalf("read %s: %v", path, err)
		}
		if _, err := store.AddDocument(ctx, groupID, path, data); err != nil {
			logger.Fatalf("add document %s: %v", path, err)
		}
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		logger.Fatalf("llm setup: %v", err)
	}

	session := chat.NewSession(store, client, nil, cfg.RequestTimeout, logger)
	if err := session.Send(ctx, *question); err != nil {
		logger.Fatalf("chat failed: %v", err)
	}

	messages := session.Messages()
	last := messages[len(messages)-1]
	fmt.Println(last.Text)
	if len(last.URLContext) > 0 {
		fmt.Println()
		fmt.Println("Retrieved URLs:")
		for _, item := range last.URLContext {
			fmt.Printf("- %s (%s)\n", item.RetrievedURL, item.RetrievalStatus)
		}
	}
}

func extractCmd(_ config.Config, logger *log.Logger, args []string) {
	flags := flag.NewFlagSet("extract", flag.ExitOnError)
	file := flags.String("file", "", "path to a .docx or .pdf file")
	if err := flags.Parse(args); err != nil {
		logger.Fatalf("parse extract flags: %v", err)
	}
	if *file == "" {
		logger.Fatal("a file is required (--file)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data, err := os.ReadFile(*file)
	if err != nil {
		logger.Fatalf("read %s: %v", *file, err)
	}

	text, err := extract.New().Extract(ctx, *file, data)
	if err != nil {
		logger.Fatalf("extract %s: %v", *file, err)
	}

	fmt.Println(text)
}

// newClientOrDegrade builds the generation client; a missing credential
// yields a nil client and a degraded (chat disabled) server instead of a
// startup failure.
func newClientOrDegrade(ctx context.Context, cfg config.Config, logger *log.Logger) llm.Client {
	if !cfg.CredentialConfigured() {
		logger.Printf("no API key configured for provider %s; chat and suggestions disabled", cfg.LLM.Provider)
		return nil
	}

	client, err := llm.NewClient(ctx, cfg)
	if err != nil {
		logger.Printf("llm setup failed (%v); chat and suggestions disabled", err)
		return nil
	}
	return client
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printUsage() {
	fmt.Println("Usage: kb-chat <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the HTTP server with the browser chat UI")
	fmt.Println("  chat     Ask a one-shot question grounded on --urls/--docs")
	fmt.Println("  extract  Print the plain text extracted from a .docx or .pdf file")
}
