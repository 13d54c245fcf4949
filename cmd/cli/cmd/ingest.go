package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"templr/internal/blob"
	"templr/internal/ingest"
	"templr/internal/render"
	"templr/internal/schema"
	"templr/internal/store"
	"templr/internal/store/memory"
	"templr/pkg/api"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Process a file locally without a controller",
	Long: `Run the ingestion pipeline in-process against templates read from a YAML
file. Records live only for the duration of the command; the results and
failed-rows CSVs are written to --out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		schemaFile, _ := cmd.Flags().GetString("schemas")
		slugs, _ := cmd.Flags().GetStringSlice("template")
		outDir, _ := cmd.Flags().GetString("out")
		domain, _ := cmd.Flags().GetString("domain")
		threshold, _ := cmd.Flags().GetFloat64("failure-threshold")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if schemaFile == "" {
			return fmt.Errorf("--schemas is required")
		}
		if len(slugs) == 0 {
			return fmt.Errorf("at least one --template is required")
		}

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if verbose {
			logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
		}

		res, err := runLocal(cmd.Context(), localRun{
			path:       args[0],
			schemaFile: schemaFile,
			slugs:      slugs,
			outDir:     outDir,
			domain:     domain,
			threshold:  threshold,
			logger:     logger,
		})
		if err != nil {
			return err
		}

		printStatus(cmd, jobResponse(res.job))
		for _, path := range res.saved {
			cmd.Printf("Saved %s\n", path)
		}

		if res.job.Status == store.JobStatusFailed {
			return fmt.Errorf("job failed")
		}
		return nil
	},
}

type localRun struct {
	path       string
	schemaFile string
	slugs      []string
	outDir     string
	domain     string
	threshold  float64
	logger     *slog.Logger
}

type localResult struct {
	job   *store.Job
	saved []string
}

// runLocal processes one file on an in-memory store, staging under a
// temporary directory, and copies the artifacts into run.outDir.
func runLocal(ctx context.Context, run localRun) (*localResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	schemas, err := schema.LoadFile(run.schemaFile)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "templr-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	blobs, err := blob.NewLocal(workDir)
	if err != nil {
		return nil, err
	}

	owner := uuid.New()
	mem := memory.New()
	for i := range schemas {
		schemas[i].OwnerID = owner
		if err := mem.PutSchema(ctx, &schemas[i]); err != nil {
			return nil, err
		}
	}

	engine := ingest.New(ingest.Config{
		Domain:           run.domain,
		FailureThreshold: run.threshold,
	}, ingest.Deps{
		Store:    mem,
		Blobs:    blobs,
		Renderer: render.NewPongo(),
		Logger:   run.logger,
	})
	pool := ingest.NewPool(1, engine.Process, run.logger)
	engine.UseDispatcher(pool)

	file, err := os.Open(run.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", run.path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", run.path, err)
	}

	submitted, err := engine.Submit(ctx, ingest.SubmitRequest{
		OwnerID:     owner,
		Filename:    filepath.Base(run.path),
		Content:     file,
		Size:        info.Size(),
		SchemaSlugs: run.slugs,
	})
	if err != nil {
		return nil, err
	}
	pool.Wait()

	job, err := engine.GetJob(ctx, submitted.ID, owner)
	if err != nil {
		return nil, err
	}

	res := &localResult{job: job}
	if job.ResultArtifactRef == nil && job.FailureArtifactRef == nil {
		return res, nil
	}
	if err := os.MkdirAll(run.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", run.outDir, err)
	}
	for _, kind := range []ingest.ArtifactKind{ingest.ArtifactResults, ingest.ArtifactFailures} {
		path, err := saveArtifact(ctx, engine, job, kind, run.outDir)
		if err != nil {
			return nil, err
		}
		if path != "" {
			res.saved = append(res.saved, path)
		}
	}
	return res, nil
}

// saveArtifact copies a job artifact into dir. Missing artifacts are skipped.
func saveArtifact(ctx context.Context, engine *ingest.Engine, job *store.Job, kind ingest.ArtifactKind, dir string) (string, error) {
	artifact, err := engine.OpenArtifact(ctx, job.ID, job.OwnerID, kind)
	if errors.Is(err, ingest.ErrArtifactNotFound) || errors.Is(err, ingest.ErrArtifactNotReady) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer artifact.Body.Close()

	path := filepath.Join(dir, artifact.Filename)
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := io.Copy(out, artifact.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, out.Close()
}

func jobResponse(job *store.Job) api.JobResponse {
	return api.JobResponse{
		ID:            job.ID.String(),
		Filename:      job.Filename,
		Status:        string(job.Status),
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		TemplateSlugs: job.SchemaSlugs,
		HasResults:    job.ResultArtifactRef != nil,
		HasFailures:   job.FailureArtifactRef != nil,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().String("schemas", "", "YAML file with template definitions")
	ingestCmd.Flags().StringSliceP("template", "T", nil, "Template slug (repeatable, order matters)")
	ingestCmd.Flags().StringP("out", "o", ".", "Directory for the results and failed-rows CSVs")
	ingestCmd.Flags().String("domain", "http://localhost:6161", "Base URL used in result links")
	ingestCmd.Flags().Float64("failure-threshold", ingest.DefaultFailureThreshold, "Fraction of rows allowed to fail")
	ingestCmd.Flags().BoolP("verbose", "v", false, "Log pipeline progress to stderr")
}
