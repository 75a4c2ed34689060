package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/statute-rag/api"
	"github.com/fabfab/statute-rag/chat"
	"github.com/fabfab/statute-rag/config"
	"github.com/fabfab/statute-rag/database"
	"github.com/fabfab/statute-rag/embeddings"
	"github.com/fabfab/statute-rag/ingestion"
	"github.com/fabfab/statute-rag/llm"
	"github.com/fabfab/statute-rag/sessions"
	"github.com/fabfab/statute-rag/statute"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "statute-rag",
		Short: "Question answering over a structured statute",
		Long: `statute-rag recovers the Part/Section/Article structure of a statute,
stores size-bounded chunks with their embeddings in Postgres and the
hierarchy in Neo4j, and answers questions from complete articles.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(clearCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	if strings.EqualFold(level, "debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// runtime holds the configuration and connections shared by the commands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	driver neo4j.DriverWithContext
}

func setup(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("neo4j connection: %w", err)
	}
	return &runtime{cfg: cfg, logger: logger, pool: pool, driver: driver}, nil
}

func (rt *runtime) close(ctx context.Context) {
	if err := rt.driver.Close(ctx); err != nil {
		rt.logger.Warn("close neo4j driver", zap.Error(err))
	}
	rt.pool.Close()
	_ = rt.logger.Sync()
}

func (rt *runtime) chatService() (*chat.Service, error) {
	embedder, err := embeddings.NewEmbedder(rt.cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	llmClient, err := llm.NewClient(rt.cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	vectorStore := chat.NewPostgresVectorStore(rt.pool)
	graphStore := chat.NewNeo4jGraphStore(rt.driver)
	reconstructor := statute.NewReconstructor(vectorStore, rt.cfg.Markers, rt.logger.Named("reconstruct"))
	return chat.NewService(vectorStore, graphStore, embedder, llmClient, reconstructor, chat.Options{
		LawName:      rt.cfg.LawName,
		HistoryLimit: rt.cfg.HistoryLimit,
	}, rt.logger.Named("chat")), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ingestCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Structure, embed and store the statute source file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			if file == "" {
				file = rt.cfg.SourceFile
			}

			embedder, err := embeddings.NewEmbedder(rt.cfg)
			if err != nil {
				return fmt.Errorf("embedder setup: %w", err)
			}

			var footer ingestion.FooterNormalizer = ingestion.PassthroughFooter{}
			if llmClient, err := llm.NewClient(rt.cfg); err != nil {
				rt.logger.Warn("llm unavailable, footer metadata will not be extracted", zap.Error(err))
			} else {
				footer = ingestion.NewLLMFooterNormalizer(llmClient, rt.logger.Named("footer"))
			}

			preparer, err := ingestion.NewPreparer(rt.cfg.Markers, rt.cfg.MaxChunkSize, footer, rt.logger.Named("prepare"))
			if err != nil {
				return err
			}
			svc := ingestion.NewService(rt.pool, rt.driver, embedder, preparer, ingestion.Options{
				LawName:   rt.cfg.LawName,
				Dimension: rt.cfg.Embeddings.Dimension,
			}, rt.logger.Named("ingest"))

			rt.logger.Info("ingesting statute",
				zap.String("file", file),
				zap.String("embeddings", rt.cfg.Embeddings.Provider+"/"+rt.cfg.Embeddings.Model),
			)
			result, err := svc.IngestFile(ctx, file)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			if result.Skipped {
				fmt.Printf("%s is unchanged (document %s)\n", file, result.DocumentID)
				return nil
			}
			fmt.Printf("ingested %s: %d chunks (document %s)\n", file, result.Chunks, result.DocumentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the statute PDF, DOCX, HTML or text file (defaults to SOURCE_FILE)")
	return cmd
}

func chatCmd() *cobra.Command {
	var (
		question string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about the ingested statute",
		Long:  "Answers --question once, or starts an interactive conversation when no question is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			svc, err := rt.chatService()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = rt.cfg.RetrievalLimit
			}
			cfg := chat.Config{SimilarityLimit: limit}

			if strings.TrimSpace(question) != "" {
				resp, err := svc.Chat(ctx, question, cfg)
				if err != nil {
					return fmt.Errorf("chat failed: %w", err)
				}
				printResponse(resp)
				return nil
			}

			var history []llm.Message
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				case "clear":
					history = nil
					fmt.Println("history cleared")
					continue
				}
				resp, updated, err := svc.ChatStream(ctx, line, cfg, history, func(piece string) error {
					fmt.Print(piece)
					return nil
				})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					rt.logger.Error("chat failed", zap.Error(err))
					continue
				}
				fmt.Println()
				printSources(resp.Sources)
				history = updated
			}
		},
	}
	cmd.Flags().StringVar(&question, "question", "", "question to ask")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of chunks to retrieve (defaults to RETRIEVAL_LIMIT)")
	return cmd
}

func printResponse(resp chat.Response) {
	fmt.Println(resp.Answer)
	printSources(resp.Sources)
}

func printSources(sources []chat.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for idx, src := range sources {
		label := src.Part
		if src.Section != "" {
			label += " / " + src.Section
			if src.SectionTitle != "" {
				label += " (" + src.SectionTitle + ")"
			}
		}
		if src.ArticleNumber != "" {
			label += " / Стаття " + src.ArticleNumber
		}
		if label == "" {
			label = "footer"
		}
		fmt.Printf("%d. %s [%.3f]\n", idx+1, label, src.Score)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			if addr == "" {
				addr = rt.cfg.HTTPAddr
			}
			svc, err := rt.chatService()
			if err != nil {
				return err
			}

			store := sessions.NewStore(rt.cfg.SessionTTL, rt.logger.Named("sessions"))
			if rt.cfg.SessionTTL > 0 {
				go store.Run(ctx, rt.cfg.SessionTTL/4)
			}

			srv := &http.Server{
				Addr: addr,
				Handler: api.New(svc, store, api.Options{
					RetrievalLimit: rt.cfg.RetrievalLimit,
				}, rt.logger.Named("api")),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info("http server listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
			defer stop()
			rt.logger.Info("shutting down http server")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to HTTP_ADDR)")
	return cmd
}

func clearCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored statute from Postgres and Neo4j",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				fmt.Print("This will permanently delete the ingested statute from Postgres and Neo4j. Continue? [y/N]: ")
				scanner := bufio.NewScanner(os.Stdin)
				if !scanner.Scan() {
					if err := scanner.Err(); err != nil {
						return fmt.Errorf("read confirmation: %w", err)
					}
					fmt.Println("clear aborted")
					return nil
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "y" && answer != "yes" {
					fmt.Println("clear aborted")
					return nil
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			svc := ingestion.NewService(rt.pool, rt.driver, nil, nil, ingestion.Options{
				Dimension: rt.cfg.Embeddings.Dimension,
			}, rt.logger.Named("ingest"))
			if err := svc.Clear(ctx); err != nil {
				return fmt.Errorf("clear failed: %w", err)
			}
			fmt.Println("statute data removed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "skip confirmation prompt")
	return cmd
}
