package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/tmc/langchaingo/embeddings"

	"pdf-chatbot/internal/chat"
	"pdf-chatbot/internal/chromemdb"
	"pdf-chatbot/internal/config"
	"pdf-chatbot/internal/db"
	"pdf-chatbot/internal/embedding"
	"pdf-chatbot/internal/helper"
	"pdf-chatbot/internal/llmservice"
	"pdf-chatbot/internal/parser"
	"pdf-chatbot/internal/rag"
	"pdf-chatbot/internal/retrieval"
	"pdf-chatbot/internal/smalltalk"
	"pdf-chatbot/internal/vectorstore"
)

const (
	configFilePath = "configs/config.yaml"
	pingTimeout    = 30 * time.Second
)

type flags struct {
	configPath  string
	docs        string
	persist     string
	rebuild     bool
	embedModel  string
	llmModel    string
	tone        string
	sources     bool
	store       string
	exportPath  string
	importPath  string
	verbose     bool
	printConfig bool
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	f := parseFlags(fs, os.Args[1:])

	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	applyFlags(fs, f, cfg)
	setLogLevel(cfg.Log.Level, f.verbose)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}
	if f.printConfig {
		helper.PrettyPrint(cfg.Redacted())
		return
	}
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, f); err != nil {
		stop()
		log.Fatal().Err(err).Msg("Chatbot stopped")
	}
}

func parseFlags(fs *pflag.FlagSet, args []string) *flags {
	f := &flags{}
	fs.StringVar(&f.configPath, "config", configFilePath, "Optional YAML config file")
	fs.StringVar(&f.docs, "docs", "docs", "Folder with PDF files")
	fs.StringVar(&f.persist, "persist", "chroma_db", "Vector index directory")
	fs.BoolVar(&f.rebuild, "rebuild", false, "Force rebuild the vector index from the documents")
	fs.StringVar(&f.embedModel, "embed_model", "nomic-embed-text", "Embedding model")
	fs.StringVar(&f.llmModel, "llm_model", "llama3", "LLM model")
	fs.StringVar(&f.tone, "tone", smalltalk.ToneFriendly, "Small talk tone: friendly, formal or playful")
	fs.BoolVar(&f.sources, "sources", false, "Print the source pages of each answer")
	fs.StringVar(&f.store, "store", config.StoreChromem, "Vector store: chromem or pgvector")
	fs.StringVar(&f.exportPath, "export", "", "Write a snapshot of the chromem index to this file")
	fs.StringVar(&f.importPath, "import", "", "Load the chromem index from a snapshot file")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Enable debug logging")
	fs.BoolVar(&f.printConfig, "print-config", false, "Print the effective config and exit")
	_ = fs.Parse(args)
	return f
}

// applyFlags lets flags given on the command line win over the config file.
func applyFlags(fs *pflag.FlagSet, f *flags, cfg *config.Config) {
	if fs.Changed("docs") {
		cfg.DocsDir = f.docs
	}
	if fs.Changed("persist") {
		cfg.PersistDir = f.persist
	}
	if fs.Changed("embed_model") {
		cfg.EmbedLLM.Model = f.embedModel
	}
	if fs.Changed("llm_model") {
		cfg.InferenceLLM.Model = f.llmModel
	}
	if fs.Changed("tone") {
		cfg.Chat.Tone = f.tone
	}
	if fs.Changed("sources") {
		cfg.Chat.ShowSources = f.sources
	}
	if fs.Changed("store") {
		cfg.VectorStore.Type = f.store
	}
}

func setLogLevel(level string, verbose bool) {
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func run(ctx context.Context, cfg *config.Config, f *flags) error {
	log.Info().Str("dir", cfg.DocsDir).Msg("Loading & splitting documents")
	chunks, err := parser.LoadAndSplitPDFs(cfg.DocsDir, cfg)
	if err != nil {
		return err
	}
	log.Info().Int("chunks", len(chunks)).Msg("Documents loaded")

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return err
	}

	idx, closeIdx, err := openIndex(ctx, cfg, embedder, f.importPath)
	if err != nil {
		return err
	}
	defer closeIdx()

	res, err := vectorstore.BuildOrLoad(ctx, idx, chunks, vectorstore.Options{
		PersistDir:   cfg.PersistDir,
		EmbedModel:   cfg.EmbedLLM.Model,
		ForceRebuild: f.rebuild,
	})
	if err != nil {
		return err
	}
	log.Info().Bool("rebuilt", res.Rebuilt).Int("chunks", res.Count).Msg("Vector index ready")

	if f.exportPath != "" {
		m, ok := idx.(*chromemdb.VectorDBManager)
		if !ok {
			log.Warn().Str("store", cfg.VectorStore.Type).Msg("Export is only supported for the chromem store")
		} else if err := m.Export(ctx, f.exportPath); err != nil {
			return err
		} else {
			log.Info().Str("file", f.exportPath).Msg("Exported vector index")
		}
	}

	llm, err := llmservice.NewLLM(&cfg.InferenceLLM)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	if err := llmservice.Ping(pingCtx, llm); err != nil {
		log.Warn().Err(err).Str("model", cfg.InferenceLLM.Model).Msg("LLM is not reachable yet, questions may fail")
	}
	cancel()

	retriever := retrieval.BuildMultiQueryCompressedRetriever(idx, llm, cfg.RAG)
	session := chat.NewSession(rag.NewRAG(llm, retriever, cfg), os.Stdin, os.Stdout, chat.Options{
		Tone:        cfg.Chat.Tone,
		ExitWords:   cfg.Chat.ExitWords,
		ShowSources: cfg.Chat.ShowSources,
		EmbedModel:  cfg.EmbedLLM.Model,
		LLMModel:    cfg.InferenceLLM.Model,
	})
	return session.Run(ctx)
}

// openIndex opens the configured vector store. The returned func releases it.
func openIndex(ctx context.Context, cfg *config.Config, embedder embeddings.Embedder, importPath string) (vectorstore.Index, func(), error) {
	switch cfg.VectorStore.Type {
	case config.StorePGVector:
		if importPath != "" {
			log.Warn().Msg("Import is only supported for the chromem store")
		}
		store, err := db.NewStore(ctx, &cfg.Database, embedder)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("Using PostgreSQL vector store")
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close database")
			}
		}, nil
	default:
		m, err := chromemdb.NewVectorDBManager(cfg.PersistDir, cfg.RAG.CollectionName, false, cfg.RAG.EncryptionKey, embedder)
		if err != nil {
			return nil, nil, err
		}
		if importPath != "" {
			if err := m.Import(ctx, importPath); err != nil {
				return nil, nil, err
			}
			// the manifest described the replaced index
			if err := vectorstore.RemoveManifest(cfg.PersistDir); err != nil {
				return nil, nil, err
			}
			log.Info().Str("file", importPath).Msg("Imported vector index")
		}
		log.Info().Str("dir", cfg.PersistDir).Msg("Using persistent chromem index")
		return m, func() {}, nil
	}
}
