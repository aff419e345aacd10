// Package batch encodes many independent token streams concurrently. Files
// never share mutable state: the model options are a read-only snapshot and
// the only shared authority is the nonce ledger, and that only in
// deterministic nonce mode.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"quenyan.dev/qyn1/cidutil"
	"quenyan.dev/qyn1/envelope"
	"quenyan.dev/qyn1/morpheme"
	"quenyan.dev/qyn1/noncedb"
	"quenyan.dev/qyn1/qyn1"
)

var log = commonlog.GetLogger("qyn1.batch")

// Job is one source file's token stream plus its identity metadata. The
// entropy coding knobs come from the encoder snapshot, not the job.
type Job struct {
	Name     string
	Tokens   []morpheme.Token
	Payloads []qyn1.Payload

	SourceLanguage        string
	SourceLanguageVersion string
	SourceHash            string
	Timestamp             string
	Author                string
	License               string
}

// Result is one encoded package.
type Result struct {
	Name    string
	Package []byte
	CID     string
}

// Encoder runs jobs through a bounded worker pool.
type Encoder struct {
	// Workers bounds concurrent encodes. Zero or negative means one
	// worker per job.
	Workers int

	// Options is the shared snapshot of entropy coding settings. Per-job
	// identity fields on it are ignored.
	Options qyn1.EncodeOptions

	// Keychain enables encryption when non-nil.
	Keychain *qyn1.Keychain

	// Ledger is consulted only in deterministic nonce mode, where all
	// workers must share one nonce authority.
	Ledger noncedb.Ledger
}

// EncodeAll encodes every job and returns results in job order. The first
// failure cancels the run; jobs already encoding finish their current file,
// so no partial package is ever emitted. Cancellation via ctx behaves the
// same way.
func (e *Encoder) EncodeAll(ctx context.Context, jobs []Job) ([]Result, error) {
	if e.Options.NonceMode == envelope.NonceDeterministic && e.Ledger == nil {
		return nil, errors.New("batch: deterministic nonce mode requires a shared ledger")
	}
	for i, j := range jobs {
		if j.Name == "" {
			return nil, fmt.Errorf("batch: job %d has no name", i)
		}
	}

	results := make([]Result, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}

	log.Infof("encoding %d files (workers=%d)", len(jobs), e.Workers)

	for i := range jobs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			job := jobs[i]
			data, err := qyn1.Encode(job.Tokens, job.Payloads, e.jobOptions(job), e.Keychain)
			if err != nil {
				log.Errorf("%s: %s", job.Name, err.Error())
				return fmt.Errorf("batch: %s: %w", job.Name, err)
			}
			results[i] = Result{
				Name:    job.Name,
				Package: data,
				CID:     cidutil.CIDv1RawSHA256(data),
			}
			log.Debugf("%s: %d bytes", job.Name, len(data))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Encoder) jobOptions(job Job) qyn1.EncodeOptions {
	opts := e.Options
	opts.NonceLedger = e.Ledger
	opts.SourceLanguage = job.SourceLanguage
	opts.SourceLanguageVersion = job.SourceLanguageVersion
	opts.SourceHash = job.SourceHash
	opts.Timestamp = job.Timestamp
	opts.Author = job.Author
	opts.License = job.License
	opts.SourceMap = nil
	opts.Extensions = nil
	return opts
}
