package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"

	"github.com/pavelanni/examgen/internal/generator"
	"github.com/pavelanni/examgen/internal/grader"
	"github.com/pavelanni/examgen/internal/handler"
	appI18n "github.com/pavelanni/examgen/internal/i18n"
	"github.com/pavelanni/examgen/internal/llm"
	"github.com/pavelanni/examgen/internal/model"
	"github.com/pavelanni/examgen/internal/retry"
	"github.com/pavelanni/examgen/internal/service"
	"github.com/pavelanni/examgen/internal/store"
	"github.com/pavelanni/examgen/internal/validator"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "examgen",
		Short:        "Generate exams from lesson markdown and grade submissions",
		SilenceUsage: true,
	}
	root.AddCommand(generateCmd(), gradeCmd(), showCmd(), exportCmd(), serveCmd(), compareCmd(), importCmd())
	return root
}

// commonFlags registers flags shared by every command: logging, tracing,
// storage and LLM provider settings.
func commonFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.Bool("trace", false, "Print OpenTelemetry spans to stdout")
	f.StringP("lang", "l", "en", "Message language (en, ru)")

	f.String("store", "sqlite", "Storage backend (sqlite, file, mongo)")
	f.String("db", "examgen.db", "SQLite database path")
	f.String("data-dir", "exams", "Directory for the file store")
	f.String("mongo-uri", "mongodb://localhost:27017/examgen", "MongoDB connection URI")

	f.String("provider", llm.ProviderLocal, "Default LLM provider (openai, yandex, anthropic, gemini, local)")
	f.String("model", "", "Default model name for the provider")
	f.String("openai-key", "", "OpenAI API key")
	f.String("openai-url", "", "OpenAI-compatible API base URL")
	f.String("yandex-key", "", "Yandex Cloud API key")
	f.String("yandex-folder", "", "Yandex Cloud folder ID")
	f.String("yandex-endpoint", llm.DefaultYandexEndpoint, "YandexGPT API base URL")
	f.String("anthropic-key", "", "Anthropic API key")
	f.String("anthropic-url", "", "Anthropic API base URL")
	f.String("gemini-key", "", "Gemini API key")
	f.Float64("llm-rate", 0, "Maximum LLM calls per second (0 = unlimited)")
	f.Bool("stub-fallback", false, "Use the local stub when provider credentials are missing")

	f.Int("concurrency", generator.DefaultConcurrency, "LLM calls in flight")
	f.Int("max-attempts", 3, "Attempts per LLM call, including the first")
	f.Duration("llm-timeout", retry.DefaultTimeout, "Timeout per LLM call")
	f.Int("max-rounds", 3, "Repair rounds after the first draft")
	f.String("selection", string(generator.SelectRoundRobin), "Section selection (round_robin, weighted)")
	f.String("focus", "", "Only draw questions from sections matching this query")
	f.Int("top-k", 5, "Sections kept when --focus is set")
	f.String("retriever", "term", "Section retriever for --focus (term, embedding)")
	f.Float64("duplicate-threshold", validator.DefaultDuplicateThreshold, "Stem similarity treated as duplicate")
	f.Float64("grounding-threshold", validator.DefaultGroundingThreshold, "Minimum share of question terms found in the source")
	f.Bool("duplicates-hard", false, "Reject duplicate questions instead of reporting them")
	f.Bool("partial-credit", true, "Award partial credit on multiple-choice questions")
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [lesson.md]",
		Short: "Build an exam from a markdown lesson and store it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runGenerate,
	}
	f := cmd.Flags()
	commonFlags(f)
	generationFlags(f)
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func generationFlags(f *pflag.FlagSet) {
	f.Int("single", 0, "Number of single-choice questions")
	f.Int("multiple", 0, "Number of multiple-choice questions")
	f.Int("open", 0, "Number of open-ended questions")
	f.Float64("single-ratio", 0, "Share of single-choice questions")
	f.Float64("multiple-ratio", 0, "Share of multiple-choice questions")
	f.Float64("open-ratio", 0, "Share of open-ended questions")
	f.IntP("total", "n", 0, "Total questions when ratios drive (default 20)")
	f.StringP("difficulty", "d", "", "Difficulty (easy, medium, hard, mixed)")
	f.String("language", "", "Question language (en, ru); defaults to --lang")
	f.Int64("seed", 0, "Seed for a reproducible exam")
	f.String("prompt-variant", string(model.PromptDefault), "Prompt variant (default, grounded, concise)")
	f.Bool("strict", false, "Reject weakly grounded questions")
	f.String("config", "", "JSON or YAML file with a generation config; flags override it")
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [lesson.md]",
		Short: "Build one exam per prompt variant and compare quality and grounding",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCompare,
	}
	f := cmd.Flags()
	commonFlags(f)
	generationFlags(f)
	f.StringSlice("variants", nil, "Prompt variants to compare (default: all)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <exam.json>",
		Short: "Validate and store an exam authored elsewhere",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	commonFlags(cmd.Flags())
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade <answers.json>",
		Short: "Grade a submission against a stored exam",
		Args:  cobra.ExactArgs(1),
		RunE:  runGrade,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.String("exam-id", "", "Exam to grade against (overrides exam_id in the answers file)")
	f.Int("consistency-runs", 0, "Grade this many times without storing and report score agreement")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [exam-id]",
		Short: "List stored exams or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runShow,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.Bool("quality", false, "Print question quality scores instead of the exam")
	f.Bool("grades", false, "Print recorded grades instead of the exam")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <exam-id>",
		Short: "Export an exam with its grades as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringP("format", "f", store.FormatJSON, "Output format (json, yaml)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// setupTracing installs a stdout span exporter when --trace is set. The
// returned function flushes pending spans.
func setupTracing(v *viper.Viper) (func(context.Context) error, error) {
	if !v.GetBool("trace") {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXAMGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("examgen")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/examgen")
	v.AddConfigPath("/etc/examgen")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// app is what every command needs once flags are read.
type app struct {
	v        *viper.Viper
	svc      *service.Service
	store    store.Store
	shutdown func(context.Context) error
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		slog.Warn("flush traces", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

func setup(cmd *cobra.Command) (*app, error) {
	v := viperForCmd(cmd)
	setupLogging(v)

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	shutdown, err := setupTracing(v)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cmd.Context(), v)
	if err != nil {
		return nil, err
	}

	llmCfg := llm.Config{
		Provider:          v.GetString("provider"),
		Model:             v.GetString("model"),
		OpenAIKey:         v.GetString("openai-key"),
		OpenAIURL:         v.GetString("openai-url"),
		YandexKey:         v.GetString("yandex-key"),
		YandexFolder:      v.GetString("yandex-folder"),
		YandexEndpoint:    v.GetString("yandex-endpoint"),
		AnthropicKey:      v.GetString("anthropic-key"),
		AnthropicURL:      v.GetString("anthropic-url"),
		GeminiKey:         v.GetString("gemini-key"),
		RatePerSecond:     v.GetFloat64("llm-rate"),
		AllowStubFallback: v.GetBool("stub-fallback"),
	}
	gw, err := llm.New(llmCfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create LLM gateway: %w", err)
	}
	if p, ok := gw.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(cmd.Context()); err != nil {
			slog.Warn("LLM health check failed", "gateway", gw.Name(), "error", err)
		}
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = v.GetInt("max-attempts")
	policy.Timeout = v.GetDuration("llm-timeout")

	var retriever generator.Retriever = generator.TermRetriever{}
	if v.GetString("retriever") == "embedding" {
		retriever = generator.EmbeddingRetriever{Gateway: gw}
	}

	gradeOpts := grader.DefaultOptions()
	gradeOpts.PartialCredit = v.GetBool("partial-credit")
	gradeOpts.Concurrency = v.GetInt("concurrency")

	maxRounds := v.GetInt("max-rounds")
	if maxRounds == 0 {
		maxRounds = -1
	}

	svc := service.New(st, gw, service.Config{
		LLM: llmCfg,
		Generator: generator.Options{
			Concurrency: v.GetInt("concurrency"),
			Policy:      policy,
			Selection:   generator.Selection(v.GetString("selection")),
			Retriever:   retriever,
			Focus:       v.GetString("focus"),
			TopK:        v.GetInt("top-k"),
		},
		Validator: validator.Options{
			DuplicateThreshold: v.GetFloat64("duplicate-threshold"),
			GroundingThreshold: v.GetFloat64("grounding-threshold"),
			DuplicatesHard:     v.GetBool("duplicates-hard"),
		},
		MaxRounds: maxRounds,
		Grader:    gradeOpts,
	})
	return &app{v: v, svc: svc, store: st, shutdown: shutdown}, nil
}

func openStore(ctx context.Context, v *viper.Viper) (store.Store, error) {
	switch backend := strings.ToLower(v.GetString("store")); backend {
	case "", "sqlite":
		s, err := store.NewSQLite(v.GetString("db"))
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return s, nil
	case "file":
		return store.NewFileStore(v.GetString("data-dir"))
	case "mongo":
		return store.NewMongo(ctx, v.GetString("mongo-uri"))
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	v := a.v

	markdown, err := readLesson(args)
	if err != nil {
		return err
	}
	cfg, err := generationConfig(cmd, v)
	if err != nil {
		return err
	}

	exam, err := a.svc.Generate(cmd.Context(), markdown, cfg)
	if err != nil {
		return err
	}

	loc := appI18n.NewLocalizer(v.GetString("lang"))
	ctx := appI18n.WithLocalizer(cmd.Context(), loc)
	fmt.Fprintln(os.Stderr, appI18n.Tp(ctx, appI18n.MsgQuestionsProduced, len(exam.Questions)))
	for _, w := range exam.ValidationSummary.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w)
	}
	return writeOutput(v.GetString("output"), func(w io.Writer) error {
		return encodeJSON(w, exam)
	})
}

// readLesson reads the markdown named by args, or stdin when args is empty
// or "-".
func readLesson(args []string) (string, error) {
	var src io.Reader = os.Stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("open lesson: %w", err)
		}
		defer f.Close()
		src = f
	}
	markdown, err := io.ReadAll(src)
	if err != nil {
		return "", fmt.Errorf("read lesson: %w", err)
	}
	return string(markdown), nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	markdown, err := readLesson(args)
	if err != nil {
		return err
	}
	cfg, err := generationConfig(cmd, a.v)
	if err != nil {
		return err
	}
	var variants []model.PromptVariant
	for _, name := range a.v.GetStringSlice("variants") {
		variants = append(variants, model.PromptVariant(strings.TrimSpace(name)))
	}

	report, err := a.svc.CompareVariants(cmd.Context(), markdown, cfg, variants)
	if err != nil {
		return err
	}
	for _, r := range report.Variants {
		if r.Error != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Variant, r.Error)
			continue
		}
		fmt.Fprintf(os.Stderr, "%s: %d questions, quality %.2f, grounded %.2f\n",
			r.Variant, r.Questions, r.Quality.Overall, r.GroundedRatio)
	}
	return writeOutput(a.v.GetString("output"), func(w io.Writer) error {
		return encodeJSON(w, report)
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read exam: %w", err)
	}
	var exam model.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		return fmt.Errorf("decode exam: %w", err)
	}
	stored, err := a.svc.Import(cmd.Context(), &exam)
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%d questions\n", stored.ExamID, len(stored.Questions))
	return nil
}

// generationConfig reads --config, then applies every flag the user set.
func generationConfig(cmd *cobra.Command, v *viper.Viper) (model.GenerationConfig, error) {
	var cfg model.GenerationConfig
	if path := v.GetString("config"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := decodeConfig(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	changed := cmd.Flags().Changed
	intFlag := func(name string, dst **int) {
		if changed(name) {
			*dst = model.Ptr(v.GetInt(name))
		}
	}
	ratioFlag := func(name string, dst **float64) {
		if changed(name) {
			*dst = model.Ptr(v.GetFloat64(name))
		}
	}
	intFlag("single", &cfg.SingleChoiceCount)
	intFlag("multiple", &cfg.MultipleChoiceCount)
	intFlag("open", &cfg.OpenEndedCount)
	ratioFlag("single-ratio", &cfg.SingleChoiceRatio)
	ratioFlag("multiple-ratio", &cfg.MultipleChoiceRatio)
	ratioFlag("open-ratio", &cfg.OpenEndedRatio)
	if changed("total") {
		cfg.TotalQuestions = v.GetInt("total")
	}
	if changed("difficulty") {
		cfg.Difficulty = model.Difficulty(v.GetString("difficulty"))
	}
	if changed("language") {
		cfg.Language = v.GetString("language")
	} else if cfg.Language == "" {
		cfg.Language = v.GetString("lang")
	}
	if changed("seed") {
		cfg.Seed = model.Ptr(v.GetInt64("seed"))
	}
	if changed("prompt-variant") || cfg.PromptVariant == "" {
		cfg.PromptVariant = model.PromptVariant(v.GetString("prompt-variant"))
	}
	if changed("strict") {
		cfg.Strict = v.GetBool("strict")
	}
	return cfg, nil
}

func decodeConfig(path string, data []byte, cfg *model.GenerationConfig) error {
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		// Round-trip through JSON so YAML keys match the JSON field names.
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		var err error
		if data, err = json.Marshal(doc); err != nil {
			return err
		}
	}
	return json.Unmarshal(data, cfg)
}

func runGrade(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	v := a.v

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read answers: %w", err)
	}
	req, err := parseAnswers(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}
	if id := v.GetString("exam-id"); id != "" {
		req.ExamID = id
	}

	if runs := v.GetInt("consistency-runs"); runs > 0 {
		report, err := a.svc.Consistency(cmd.Context(), req, runs)
		if err != nil {
			return err
		}
		return writeOutput(v.GetString("output"), func(w io.Writer) error {
			return encodeJSON(w, report)
		})
	}

	resp, err := a.svc.Grade(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, grader.FormatSummary(resp.Summary))
	return writeOutput(v.GetString("output"), func(w io.Writer) error {
		return encodeJSON(w, resp)
	})
}

// parseAnswers accepts either a full grade request or a bare answer list.
func parseAnswers(data []byte) (model.GradeRequest, error) {
	var req model.GradeRequest
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		err := json.Unmarshal(data, &req.Answers)
		return req, err
	}
	err := json.Unmarshal(data, &req)
	return req, err
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if len(args) == 0 {
		exams, err := a.svc.Exams(ctx)
		if err != nil {
			return err
		}
		for _, e := range exams {
			fmt.Printf("%s\t%s\t%d questions\t%s\n", e.ExamID, e.CreatedAt.Format(time.RFC3339), e.NumQuestions, e.Title)
		}
		return nil
	}

	id := args[0]
	var out any
	switch {
	case a.v.GetBool("quality"):
		out, err = a.svc.Quality(ctx, id)
	case a.v.GetBool("grades"):
		out, err = a.svc.Grades(ctx, id)
	default:
		out, err = a.svc.Exam(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		loc := appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(a.v.GetString("lang")))
		return errors.New(appI18n.Td(loc, appI18n.MsgExamNotFound, map[string]any{"ID": id}))
	}
	if err != nil {
		return err
	}
	return encodeJSON(os.Stdout, out)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	exp, err := a.svc.Export(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("export %s: %w", args[0], err)
	}
	return writeOutput(a.v.GetString("output"), func(w io.Writer) error {
		return store.WriteExport(w, exp, a.v.GetString("format"))
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	v := a.v
	lang := v.GetString("lang")

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	handler.New(a.svc).Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"provider", v.GetString("provider"),
		"model", v.GetString("model"),
		"store", v.GetString("store"),
		"lang", lang,
	)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" || path == "-" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
